package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	req.NoError(err)
	req.Equal(DriverPostgres, cfg.StoreDriver)
	req.Equal(defaultDatabaseURL, cfg.DatabaseURL)
	req.Equal(50, cfg.MessageLimit)
	req.Equal(5*time.Second, cfg.PushTimeout)
	req.Equal(5*time.Second, cfg.ConnectRetryInterval)
	req.Equal("single", cfg.PresenceMode)
	req.Equal("0.0.0.0:3000", cfg.Addr())
	req.Equal(int64(65536), cfg.MaxBodySize)
	req.GreaterOrEqual(cfg.ShutdownTimeout, cfg.WriteTimeout)
}

func TestLoad_Env_File_And_Overrides(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), ".env")
	req.NoError(os.WriteFile(path, []byte("STORE_DRIVER=badger\nMESSAGE_LIMIT=20\nPUSH_TIMEOUT=2s\n"), 0o600))
	t.Setenv("MESSAGE_LIMIT", "10")
	t.Setenv("PRESENCE_MODE", "multi")
	t.Cleanup(func() {
		_ = os.Unsetenv("STORE_DRIVER")
		_ = os.Unsetenv("PUSH_TIMEOUT")
	})

	cfg, err := Load(path)
	req.NoError(err)
	req.Equal(DriverBadger, cfg.StoreDriver)
	req.Equal(10, cfg.MessageLimit)
	req.Equal(2*time.Second, cfg.PushTimeout)
	req.Equal("multi", cfg.PresenceMode)
}

func TestValidate(t *testing.T) {
	valid := Config{
		StoreDriver:          DriverPostgres,
		PresenceMode:         "single",
		Port:                 3000,
		MessageLimit:         50,
		PushTimeout:          time.Second,
		ConnectRetryInterval: time.Second,
		WriteTimeout:         15 * time.Second,
		ShutdownTimeout:      20 * time.Second,
	}

	tests := []struct {
		description string
		modify      func(c *Config)
		wantErr     bool
	}{
		{"Should accept a complete configuration", func(c *Config) {}, false},
		{"Should reject an unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, true},
		{"Should reject an unknown presence mode", func(c *Config) { c.PresenceMode = "broadcast" }, true},
		{"Should reject a port out of range", func(c *Config) { c.Port = 70000 }, true},
		{"Should reject a zero message limit", func(c *Config) { c.MessageLimit = 0 }, true},
		{"Should reject a zero push timeout", func(c *Config) { c.PushTimeout = 0 }, true},
		{"Should reject a negative body size", func(c *Config) { c.MaxBodySize = -1 }, true},
		{"Should reject a shutdown shorter than the write timeout", func(c *Config) { c.ShutdownTimeout = 10 * time.Second }, true},
		{"Should accept a shutdown equal to the write timeout", func(c *Config) { c.ShutdownTimeout = c.WriteTimeout }, false},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
