package config

import (
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	ListenAddr      string
	PostgresDSN     string
	FeeRate         math.LegacyDec
	MaxRetries      int
	RetryBackoff    time.Duration
	LedgerTimeout   time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen-addr", ":8080")
	v.SetDefault("fee-rate", "0.003")
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 50*time.Millisecond)
	v.SetDefault("ledger-timeout", 3*time.Second)
	v.SetDefault("shutdown-timeout", 10*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	feeRate, err := parseFeeRate(v.GetString("fee-rate"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      v.GetString("listen-addr"),
		PostgresDSN:     v.GetString("postgres-dsn"),
		FeeRate:         feeRate,
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		LedgerTimeout:   v.GetDuration("ledger-timeout"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}

func parseFeeRate(raw string) (math.LegacyDec, error) {
	rate, err := math.LegacyNewDecFromStr(strings.TrimSpace(raw))
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("parse fee-rate %q: %w", raw, err)
	}
	if rate.IsNegative() || rate.GTE(math.LegacyOneDec()) {
		return math.LegacyDec{}, fmt.Errorf("fee-rate %s out of range [0, 1)", rate)
	}
	return rate, nil
}
