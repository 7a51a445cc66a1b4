// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. TIDES_SERVER_PORT
const Prefix = "TIDES"

// Store backends
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Config holds all application configuration
type Config struct {
	Environment string          `split_words:"true" default:"development"`
	Server      ServerConfig    `envconfig:"SERVER"`
	Store       StoreConfig     `envconfig:"STORE"`
	Database    DatabaseConfig  `envconfig:"DB"`
	Firestore   FirestoreConfig `envconfig:"FIRESTORE"`
	NATS        NATSConfig      `envconfig:"NATS"`
	Geo         GeoConfig       `envconfig:"GEO"`
	Feed        FeedConfig      `envconfig:"FEED"`
	Tide        TideConfig      `envconfig:"TIDE"`
	Messaging   MessagingConfig `envconfig:"MESSAGING"`
	Log         LogConfig       `envconfig:"LOG"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `split_words:"true" default:"0.0.0.0"`
	Port            int           `split_words:"true" default:"8080"`
	ReadTimeout     time.Duration `split_words:"true" default:"10s"`
	WriteTimeout    time.Duration `split_words:"true" default:"10s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	CorsOrigins     []string      `split_words:"true" default:"*"`
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	Backend       string `split_words:"true" default:"memory"`
	MaxTxAttempts int    `split_words:"true" default:"5"`
}

// DatabaseConfig holds Postgres configuration
type DatabaseConfig struct {
	Host         string        `split_words:"true" default:"localhost"`
	Port         int           `split_words:"true" default:"5432"`
	User         string        `split_words:"true" default:"postgres"`
	Password     string        `split_words:"true" default:"postgres"`
	Database     string        `split_words:"true" default:"tides"`
	MaxOpenConns int           `split_words:"true" default:"25"`
	MaxIdleConns int           `split_words:"true" default:"5"`
	MaxLifetime  time.Duration `split_words:"true" default:"5m"`
	SSLMode      string        `split_words:"true" default:"disable"`
}

// FirestoreConfig holds Firestore configuration
type FirestoreConfig struct {
	ProjectID string `split_words:"true"`
}

// NATSConfig holds NATS configuration. An empty URL disables NATS.
type NATSConfig struct {
	URL            string        `split_words:"true"`
	MaxReconnects  int           `split_words:"true" default:"10"`
	ReconnectWait  time.Duration `split_words:"true" default:"1s"`
	ConnectTimeout time.Duration `split_words:"true" default:"2s"`
	ChangesPrefix  string        `split_words:"true" default:"docs"`
}

// GeoConfig holds location configuration
type GeoConfig struct {
	RadiusMeters    float64       `split_words:"true" default:"20000"`
	RefreshInterval time.Duration `split_words:"true" default:"90s"`
}

// FeedConfig holds live feed windows and limits
type FeedConfig struct {
	GeoChatWindow time.Duration `split_words:"true" default:"12h"`
	GeoChatLimit  int           `split_words:"true" default:"50"`
	TideChatLimit int           `split_words:"true" default:"100"`
}

// TideConfig holds membership configuration
type TideConfig struct {
	EventsTopic     string `split_words:"true" default:"tides"`
	MinParticipants int    `split_words:"true" default:"2"`
	MaxParticipants int    `split_words:"true" default:"10000"`
}

// MessagingConfig holds messaging configuration
type MessagingConfig struct {
	MaxTextLength int `split_words:"true" default:"250"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level   string `split_words:"true" default:"info"`
	Console bool   `split_words:"true" default:"false"`
}

// Load reads an optional .env file, then the environment
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("error loading .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment variables: %w", err)
	}

	return cfg, validate(cfg)
}

// validate checks if config is valid
func validate(cfg Config) error {
	switch cfg.Store.Backend {
	case BackendMemory, BackendPostgres:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore backend requires %s_FIRESTORE_PROJECT_ID", Prefix)
		}
	default:
		return fmt.Errorf("unsupported store backend: %q", cfg.Store.Backend)
	}

	if cfg.Geo.RadiusMeters <= 0 {
		return fmt.Errorf("geo radius must be positive")
	}
	if cfg.Geo.RefreshInterval <= 0 {
		return fmt.Errorf("location refresh interval must be positive")
	}
	if cfg.Tide.MinParticipants < 2 || cfg.Tide.MaxParticipants < cfg.Tide.MinParticipants {
		return fmt.Errorf("invalid participant bounds %d..%d", cfg.Tide.MinParticipants, cfg.Tide.MaxParticipants)
	}
	if cfg.Store.MaxTxAttempts <= 0 {
		return fmt.Errorf("transaction attempts must be positive")
	}

	return nil
}
