// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Defaults for optional settings. Each is a literal fallback, not a layered
// defaulting scheme; explicit environment values always win.
const (
	DefaultListenAddr       = ":8080"
	DefaultDatabaseDriver   = "sqlite"
	DefaultSandboxBackend   = "docker"
	DefaultDockerImage      = "node:22-bookworm"
	DefaultWorkDir          = "/home/user/app"
	DefaultDevServerPort    = 5173
	DefaultDevServerCommand = "npm run dev"
	DefaultStartupDelay     = 7 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultFileOpTimeout    = 30 * time.Second
	DefaultReconnectTimeout = 15 * time.Second
	DefaultCreateWait       = 30 * time.Second
	DefaultSweepInterval    = 5 * time.Minute
	DefaultInactivityLimit  = 45 * time.Minute
	DefaultCloudDomain      = "sandboxes.dev"
	DefaultCloudTemplate    = "webforge-vite"
)

// Config holds all server configuration.
type Config struct {
	ListenAddr string

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	// Sandbox backend selection, resolved once at startup.
	SandboxBackend string // "cloud", "docker", or "mock"

	// Cloud backend
	CloudAPIBase  string
	CloudAPIKey   string
	CloudTemplate string
	CloudDomain   string

	// Docker backend
	DockerImage string

	// Sandbox runtime
	WorkDir          string
	DevServerPort    int
	DevServerCommand string
	StartupDelay     time.Duration
	IdleTimeout      time.Duration // remote session idle timeout
	FileOpTimeout    time.Duration

	// Manager
	ReconnectTimeout  time.Duration
	CreateWaitTimeout time.Duration
	SweepInterval     time.Duration
	InactivityTimeout time.Duration

	LogLevel string
}

// Load reads configuration from the environment, after loading a .env file
// if one is present (real environment variables win over .env entries).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:        getEnv("WEBFORGE_LISTEN_ADDR", DefaultListenAddr),
		DatabaseDriver:    getEnv("WEBFORGE_DB_DRIVER", DefaultDatabaseDriver),
		DatabaseDSN:       getEnv("WEBFORGE_DB_DSN", ""),
		SandboxBackend:    getEnv("WEBFORGE_SANDBOX_BACKEND", DefaultSandboxBackend),
		CloudAPIBase:      getEnv("WEBFORGE_CLOUD_API_BASE", ""),
		CloudAPIKey:       getEnv("WEBFORGE_CLOUD_API_KEY", ""),
		CloudTemplate:     getEnv("WEBFORGE_CLOUD_TEMPLATE", DefaultCloudTemplate),
		CloudDomain:       getEnv("WEBFORGE_CLOUD_DOMAIN", DefaultCloudDomain),
		DockerImage:       getEnv("WEBFORGE_DOCKER_IMAGE", DefaultDockerImage),
		WorkDir:           getEnv("WEBFORGE_WORKDIR", DefaultWorkDir),
		DevServerPort:     getEnvInt("WEBFORGE_DEV_SERVER_PORT", DefaultDevServerPort),
		DevServerCommand:  getEnv("WEBFORGE_DEV_SERVER_COMMAND", DefaultDevServerCommand),
		StartupDelay:      getEnvDuration("WEBFORGE_STARTUP_DELAY", DefaultStartupDelay),
		IdleTimeout:       getEnvDuration("WEBFORGE_IDLE_TIMEOUT", DefaultIdleTimeout),
		FileOpTimeout:     getEnvDuration("WEBFORGE_FILE_OP_TIMEOUT", DefaultFileOpTimeout),
		ReconnectTimeout:  getEnvDuration("WEBFORGE_RECONNECT_TIMEOUT", DefaultReconnectTimeout),
		CreateWaitTimeout: getEnvDuration("WEBFORGE_CREATE_WAIT_TIMEOUT", DefaultCreateWait),
		SweepInterval:     getEnvDuration("WEBFORGE_SWEEP_INTERVAL", DefaultSweepInterval),
		InactivityTimeout: getEnvDuration("WEBFORGE_INACTIVITY_TIMEOUT", DefaultInactivityLimit),
		LogLevel:          getEnv("WEBFORGE_LOG_LEVEL", "info"),
	}

	if cfg.DatabaseDSN == "" && cfg.DatabaseDriver == "sqlite" {
		cfg.DatabaseDSN = filepath.Join(xdg.DataHome, "webforge", "webforge.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configurations that cannot work.
func (c *Config) Validate() error {
	switch c.SandboxBackend {
	case "cloud":
		if c.CloudAPIBase == "" {
			return fmt.Errorf("WEBFORGE_CLOUD_API_BASE is required for the cloud backend")
		}
		if c.CloudAPIKey == "" {
			return fmt.Errorf("WEBFORGE_CLOUD_API_KEY is required for the cloud backend")
		}
	case "docker", "mock":
	default:
		return fmt.Errorf("unknown sandbox backend %q (want cloud, docker, or mock)", c.SandboxBackend)
	}

	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("WEBFORGE_DB_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q (want sqlite or postgres)", c.DatabaseDriver)
	}

	if c.DevServerPort <= 0 || c.DevServerPort > 65535 {
		return fmt.Errorf("invalid dev server port %d", c.DevServerPort)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
