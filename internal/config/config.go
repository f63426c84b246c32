package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Supported job database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Env files consulted by Load, highest priority first.
var defaultEnvFiles = []string{".env", "/etc/oni-admin/admin.env"}

// Config holds all configuration for the oni-admin service.
type Config struct {
	Port     int
	Bind     string
	BasePath string // Optional: mount prefix such as /api/admin

	JobDBDriver string
	JobDBDSN    string
	StateDir    string // Job logs and history

	BatchStorage     string
	ManageBin        string
	ManagePython     string // Optional: interpreter for ManageBin
	ManageMinVersion string // Optional: refuse to start below this version

	ExecSettle     time.Duration // 0 waits for the executor to finish
	RecoverOnStart bool

	ArchiveDSN string // Optional: MySQL DSN, enables page_count
	RedisAddr  string // Optional: enables the shared admission lock
	LockTTL    time.Duration

	// InstanceID tags the jobs this daemon admits; startup recovery only
	// reclaims jobs carrying it. Must be stable across restarts and unique
	// among daemons sharing a job database.
	InstanceID string
}

// Load reads configuration with the following precedence order:
//  1. OS environment variables (highest priority)
//  2. .env file in current working directory (if present)
//  3. /etc/oni-admin/admin.env (if present)
//  4. Default values (lowest priority)
func Load() (*Config, error) {
	return load(defaultEnvFiles)
}

// load applies envFiles in priority order. A file never overrides a key that
// is already set, so earlier files win over later ones.
func load(envFiles []string) (*Config, error) {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadEnvFile(path); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:             getEnvInt("ADMIN_PORT", 2580),
		Bind:             getEnvString("ADMIN_BIND", "127.0.0.1"),
		BasePath:         normalizeBasePath(os.Getenv("ADMIN_BASE_PATH")),
		JobDBDriver:      strings.ToLower(getEnvString("JOB_DB_DRIVER", DriverSQLite)),
		JobDBDSN:         os.Getenv("JOB_DB_DSN"),
		StateDir:         getEnvString("STATE_DIR", "/var/lib/oni-admin"),
		BatchStorage:     getEnvString("BATCH_STORAGE", "/opt/openoni/data/batches"),
		ManageBin:        getEnvString("MANAGE_BIN", "/opt/openoni/manage.py"),
		ManagePython:     os.Getenv("MANAGE_PYTHON"),
		ManageMinVersion: os.Getenv("MANAGE_MIN_VERSION"),
		ExecSettle:       time.Duration(getEnvInt("EXEC_SETTLE_SECONDS", 0)) * time.Second,
		RecoverOnStart:   getEnvBool("RECOVER_ON_START", true),
		ArchiveDSN:       os.Getenv("ARCHIVE_DSN"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		LockTTL:          time.Duration(getEnvInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		InstanceID:       strings.TrimSpace(os.Getenv("INSTANCE_ID")),
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID(cfg.Port)
	}

	if cfg.JobDBDSN == "" && cfg.JobDBDriver == DriverSQLite {
		cfg.JobDBDSN = filepath.Join(cfg.StateDir, "jobs.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and required combinations.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("ADMIN_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.JobDBDriver != DriverSQLite && c.JobDBDriver != DriverPostgres {
		return fmt.Errorf("JOB_DB_DRIVER must be 'sqlite' or 'postgres', got '%s'", c.JobDBDriver)
	}
	if c.JobDBDSN == "" {
		return fmt.Errorf("JOB_DB_DSN is required for the %s driver", c.JobDBDriver)
	}
	if c.ExecSettle < 0 {
		return fmt.Errorf("EXEC_SETTLE_SECONDS must not be negative, got %d", int(c.ExecSettle/time.Second))
	}
	if c.LockTTL < time.Second {
		return fmt.Errorf("LOCK_TTL_SECONDS must be at least 1, got %d", int(c.LockTTL/time.Second))
	}
	if c.ManageBin == "" {
		return fmt.Errorf("MANAGE_BIN is required")
	}
	return nil
}

// defaultInstanceID is <hostname>:<port>, which differs between daemons
// on one host as long as they listen on different ports.
func defaultInstanceID(port int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// normalizeBasePath returns "" or a path with a leading and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an integer or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool returns the environment variable as a boolean or a default.
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
