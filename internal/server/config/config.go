package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

type Config struct {
	Port              string        `toml:"port"`
	ServicePrefix     string        `toml:"service_prefix"`
	DataDir           string        `toml:"data_dir"`
	DatabaseURL       string        `toml:"database_url"`
	DBMaxConns        int           `toml:"db_max_conns"`
	StoragePath       string        `toml:"storage_path"`
	WorkDir           string        `toml:"work_dir"`
	MaxUploadSize     string        `toml:"max_upload_size"`
	RateLimitRPS      float64       `toml:"rate_limit_rps"`
	RateLimitBurst    int           `toml:"rate_limit_burst"`
	TrustProxy        bool          `toml:"trust_proxy"`
	AdminAddr         string        `toml:"admin_addr"`
	AdminPasswordHash string        `toml:"admin_password_hash"`
	ReconcileInterval time.Duration `toml:"-"`
	LogLevel          string        `toml:"log_level"`
	LogFormat         string        `toml:"log_format"`

	// ReconcileMinutes mirrors ReconcileInterval in the TOML file.
	ReconcileMinutes float64 `toml:"reconcile_interval_minutes"`
}

// Defaults returns the configuration used when neither a file nor env vars are set.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Port:              "8080",
		ServicePrefix:     "/templaterepo",
		DataDir:           dataDir,
		DatabaseURL:       filepath.Join(dataDir, "data.db"),
		DBMaxConns:        4,
		StoragePath:       filepath.Join(dataDir, "repository"),
		WorkDir:           filepath.Join(os.TempDir(), "templaterepo"),
		MaxUploadSize:     "64M",
		RateLimitRPS:      10,
		RateLimitBurst:    20,
		AdminAddr:         "127.0.0.1:9981",
		ReconcileInterval: time.Hour,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load builds the configuration from the optional TOML file named by
// TEMPLATEREPO_CONFIG, then applies env var overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("TEMPLATEREPO_CONFIG"))
}

// LoadFile decodes path (when non-empty) over the defaults and applies env
// var overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
		if meta.IsDefined("reconcile_interval_minutes") {
			cfg.ReconcileInterval = time.Duration(cfg.ReconcileMinutes * float64(time.Minute))
		}
		// Paths derived from data_dir follow it unless set explicitly.
		if meta.IsDefined("data_dir") {
			if !meta.IsDefined("database_url") {
				cfg.DatabaseURL = filepath.Join(cfg.DataDir, "data.db")
			}
			if !meta.IsDefined("storage_path") {
				cfg.StoragePath = filepath.Join(cfg.DataDir, "repository")
			}
		}
	}
	applyEnv(cfg)
	cfg.ServicePrefix = normalizePrefix(cfg.ServicePrefix)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", c.ReconcileInterval)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
		cfg.DatabaseURL = filepath.Join(dir, "data.db")
		cfg.StoragePath = filepath.Join(dir, "repository")
	}
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.ServicePrefix = getEnv("SERVICE_PREFIX", cfg.ServicePrefix)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = getEnvInt("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.StoragePath = getEnv("STORAGE_PATH", cfg.StoragePath)
	cfg.WorkDir = getEnv("WORK_DIR", cfg.WorkDir)
	cfg.MaxUploadSize = getEnv("MAX_UPLOAD_SIZE", cfg.MaxUploadSize)
	cfg.RateLimitRPS = getEnvFloat64("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", cfg.TrustProxy)
	cfg.AdminAddr = getEnvAllowEmpty("ADMIN_ADDR", cfg.AdminAddr)
	cfg.AdminPasswordHash = getEnv("ADMIN_PASSWORD_HASH", cfg.AdminPasswordHash)
	cfg.ReconcileInterval = getEnvMinutes("RECONCILE_INTERVAL_MINUTES", cfg.ReconcileInterval)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
}

func defaultDataDir() string {
	if xdg.DataHome != "" {
		return filepath.Join(xdg.DataHome, "templaterepo")
	}
	return filepath.Join(".", "data")
}

func normalizePrefix(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvAllowEmpty distinguishes an unset variable from one set to "".
func getEnvAllowEmpty(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMinutes(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if minutes, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(minutes * float64(time.Minute))
		}
	}
	return fallback
}
