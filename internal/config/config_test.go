package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SandboxBackend != DefaultSandboxBackend {
		t.Errorf("SandboxBackend = %q", cfg.SandboxBackend)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver = %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseDSN == "" {
		t.Error("sqlite driver should default to an on-disk DSN")
	}
	if !strings.HasSuffix(cfg.DatabaseDSN, "webforge.db") {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.ReconnectTimeout != 15*time.Second {
		t.Errorf("ReconnectTimeout = %v", cfg.ReconnectTimeout)
	}
	if cfg.DevServerPort != 5173 {
		t.Errorf("DevServerPort = %d", cfg.DevServerPort)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WEBFORGE_LISTEN_ADDR", ":9090")
	t.Setenv("WEBFORGE_SANDBOX_BACKEND", "mock")
	t.Setenv("WEBFORGE_RECONNECT_TIMEOUT", "3s")
	t.Setenv("WEBFORGE_DEV_SERVER_PORT", "3000")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SandboxBackend != "mock" {
		t.Errorf("SandboxBackend = %q", cfg.SandboxBackend)
	}
	if cfg.ReconnectTimeout != 3*time.Second {
		t.Errorf("ReconnectTimeout = %v", cfg.ReconnectTimeout)
	}
	if cfg.DevServerPort != 3000 {
		t.Errorf("DevServerPort = %d", cfg.DevServerPort)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("WEBFORGE_DEV_SERVER_PORT", "not-a-port")
	t.Setenv("WEBFORGE_RECONNECT_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DevServerPort != DefaultDevServerPort {
		t.Errorf("DevServerPort = %d, want default", cfg.DevServerPort)
	}
	if cfg.ReconnectTimeout != DefaultReconnectTimeout {
		t.Errorf("ReconnectTimeout = %v, want default", cfg.ReconnectTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SandboxBackend: "docker",
			DatabaseDriver: "sqlite",
			DevServerPort:  5173,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"docker backend", func(c *Config) {}, false},
		{"mock backend", func(c *Config) { c.SandboxBackend = "mock" }, false},
		{"unknown backend", func(c *Config) { c.SandboxBackend = "firecracker" }, true},
		{"cloud without api base", func(c *Config) {
			c.SandboxBackend = "cloud"
			c.CloudAPIKey = "key"
		}, true},
		{"cloud without api key", func(c *Config) {
			c.SandboxBackend = "cloud"
			c.CloudAPIBase = "https://api.example.dev"
		}, true},
		{"cloud fully configured", func(c *Config) {
			c.SandboxBackend = "cloud"
			c.CloudAPIBase = "https://api.example.dev"
			c.CloudAPIKey = "key"
		}, false},
		{"postgres without dsn", func(c *Config) { c.DatabaseDriver = "postgres" }, true},
		{"postgres with dsn", func(c *Config) {
			c.DatabaseDriver = "postgres"
			c.DatabaseDSN = "host=localhost user=webforge dbname=webforge"
		}, false},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, true},
		{"port out of range", func(c *Config) { c.DevServerPort = 70000 }, true},
		{"zero port", func(c *Config) { c.DevServerPort = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
