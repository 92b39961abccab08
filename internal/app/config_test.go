package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Run("fills database url and port", func(t *testing.T) {
		cfg := Config{Addr: defaultAddr}
		cfg.applyPlatformDefaults(env(map[string]string{"DATABASE_URL": "postgres://db", "PORT": "9000"}))

		assert.Equal(t, "postgres://db", cfg.DatabaseURL)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	})
	t.Run("explicit values win", func(t *testing.T) {
		cfg := Config{Addr: "127.0.0.1:1", DatabaseURL: "postgres://shop"}
		cfg.applyPlatformDefaults(env(map[string]string{"DATABASE_URL": "postgres://db", "PORT": "9000"}))

		assert.Equal(t, "postgres://shop", cfg.DatabaseURL)
		assert.Equal(t, "127.0.0.1:1", cfg.Addr)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL:  "postgres://db",
			JWTSecret:    "s",
			APIKeyPepper: "p",
			Checkout:     CheckoutConfig{TxTimeout: 5 * time.Second},
		}
	}
	ok := valid()
	require.NoError(t, ok.validate())

	for name, mutate := range map[string]func(*Config){
		"database url": func(c *Config) { c.DatabaseURL = "" },
		"jwt secret":   func(c *Config) { c.JWTSecret = "" },
		"pepper":       func(c *Config) { c.APIKeyPepper = "" },
		"tx timeout":   func(c *Config) { c.Checkout.TxTimeout = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}
