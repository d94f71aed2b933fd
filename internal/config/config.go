package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Configuration struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Documents DocumentsConfig `json:"documents" yaml:"documents"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Port            string        `json:"port" yaml:"port" validate:"required,numeric"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	PublicURL       string        `json:"public_url" yaml:"public_url" validate:"omitempty,url"`
}

type SecurityConfig struct {
	SessionTimeout    time.Duration `json:"session_timeout" yaml:"session_timeout"`
	PasswordMinLength int           `json:"password_min_length" yaml:"password_min_length" validate:"gte=8"`
	MaxFailedAttempts int           `json:"max_failed_attempts" yaml:"max_failed_attempts" validate:"gte=1"`
	LockoutDuration   time.Duration `json:"lockout_duration" yaml:"lockout_duration"`
	LoginAttemptLimit int           `json:"login_attempt_limit" yaml:"login_attempt_limit" validate:"gte=1"`
	CookieSecure      bool          `json:"cookie_secure" yaml:"cookie_secure"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=json console"`
}

type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN             string `json:"dsn" yaml:"dsn"`
	Host            string `json:"host" yaml:"host"`
	Port            string `json:"port" yaml:"port"`
	Username        string `json:"username" yaml:"username"`
	Password        string `json:"password" yaml:"password"`
	Name            string `json:"name" yaml:"name"`
	SSLMode         string `json:"ssl_mode" yaml:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	LogQueries      bool   `json:"log_queries" yaml:"log_queries"`
}

type StorageConfig struct {
	Backend         string `json:"backend" yaml:"backend" validate:"oneof=disk gcs memory"`
	Directory       string `json:"directory" yaml:"directory" validate:"required_if=Backend disk"`
	SigningSecret   string `json:"signing_secret" yaml:"signing_secret" validate:"required_if=Backend disk"`
	Bucket          string `json:"bucket" yaml:"bucket" validate:"required_if=Backend gcs"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	ServiceAccount  string `json:"service_account" yaml:"service_account"`
}

type DocumentsConfig struct {
	DefaultReviewIntervalMonths int           `json:"default_review_interval_months" yaml:"default_review_interval_months" validate:"gte=1"`
	DownloadURLTTL              time.Duration `json:"download_url_ttl" yaml:"download_url_ttl"`
	ProtectedKinds              []string      `json:"protected_kinds" yaml:"protected_kinds"`
	MaxUploadBytes              int64         `json:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
	DeleteConcurrency           int           `json:"delete_concurrency" yaml:"delete_concurrency" validate:"gte=1"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// placeholderSigningSecret is the well-known placeholder secret. It is
// rejected so download links are never signed with a published key.
const placeholderSigningSecret = "change-me"

var (
	config     *Configuration
	configLock sync.RWMutex
)

// LoadConfig reads a JSON or YAML file over the defaults, applies HMS_*
// environment overrides and validates the result.
func LoadConfig(filePath string) (*Configuration, error) {
	cfg := defaultConfig()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}

		switch strings.ToLower(filepath.Ext(filePath)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	configLock.Lock()
	config = cfg
	configLock.Unlock()
	return cfg, nil
}

func Validate(cfg *Configuration) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Storage.Backend == "disk" && cfg.Storage.SigningSecret == placeholderSigningSecret {
		return errors.New("invalid configuration: storage.signing_secret must be changed from the placeholder")
	}
	return nil
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = defaultConfig()
	return config
}

func defaultConfig() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Port:            "8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			PublicURL:       "http://localhost:8000",
		},
		Security: SecurityConfig{
			SessionTimeout:    24 * time.Hour,
			PasswordMinLength: 8,
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
			LoginAttemptLimit: 5,
			CookieSecure:      false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "hms",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
		Storage: StorageConfig{
			Backend:       "disk",
			Directory:     "data/files",
			SigningSecret: randomSecret(),
		},
		Documents: DocumentsConfig{
			DefaultReviewIntervalMonths: 12,
			DownloadURLTTL:              time.Hour,
			ProtectedKinds:              []string{"LAW"},
			MaxUploadBytes:              50 << 20,
			DeleteConcurrency:           4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// randomSecret gives each process its own signing key when none is
// configured. Links signed with it stop verifying after a restart.
func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("config: reading random secret: %v", err))
	}
	return hex.EncodeToString(b)
}

func applyEnv(cfg *Configuration) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("HMS_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("HMS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HMS_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("HMS_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("HMS_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("HMS_STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("HMS_STORAGE_SIGNING_SECRET"); v != "" {
		cfg.Storage.SigningSecret = v
	}
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	if config == nil {
		return
	}

	redactedConfig := *config
	redactedConfig.Database.Password = "[REDACTED]"
	redactedConfig.Database.DSN = "[REDACTED]"
	redactedConfig.Storage.SigningSecret = "[REDACTED]"

	logger.Info("Application configuration",
		zap.String("port", redactedConfig.Server.Port),
		zap.Duration("read_timeout", redactedConfig.Server.ReadTimeout),
		zap.Duration("write_timeout", redactedConfig.Server.WriteTimeout),
		zap.String("database_driver", redactedConfig.Database.Driver),
		zap.String("database_host", redactedConfig.Database.Host),
		zap.String("database_name", redactedConfig.Database.Name),
		zap.String("storage_backend", redactedConfig.Storage.Backend),
		zap.String("storage_bucket", redactedConfig.Storage.Bucket),
		zap.Int("default_review_interval_months", redactedConfig.Documents.DefaultReviewIntervalMonths),
		zap.Duration("download_url_ttl", redactedConfig.Documents.DownloadURLTTL),
		zap.Strings("protected_kinds", redactedConfig.Documents.ProtectedKinds),
	)
}
