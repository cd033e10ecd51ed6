package engine

import "sync"

// poolLocks hands out one mutex per pool id. Trades against different
// pools never block each other; trades against the same pool are
// serialized for the duration of the trade protocol.
type poolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPoolLocks() *poolLocks {
	return &poolLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *poolLocks) get(poolID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.locks[poolID]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[poolID] = l
	return l
}
