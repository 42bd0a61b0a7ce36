package tempgres

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the server coordinates and migration set for an ephemeral
// database. The coordinates are immutable for the lifetime of the TestDB
// created from them.
type Config struct {
	// Host is the PostgreSQL server host.
	Host string

	// Port is the PostgreSQL server port.
	Port uint16

	// User is the role used for all connections. It must be allowed to
	// CREATE DATABASE on the server.
	User string

	// Password for User. May be empty; an empty password is omitted from
	// generated URLs entirely rather than rendered as an empty segment.
	Password string

	// Migrations is the versioned migration set applied to every database
	// created from this config.
	Migrations *MigrationSet

	// MaxConns bounds connection pools handed out by TestDB.Pool and
	// TestDB.DB. Zero means the pgxpool default (greater of 4 and NumCPU).
	MaxConns int32
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("Host is required")
	}

	if c.Port == 0 {
		return fmt.Errorf("Port is required")
	}

	if c.User == "" {
		return fmt.Errorf("User is required")
	}

	if c.Migrations == nil {
		return fmt.Errorf("Migrations is required")
	}

	if c.MaxConns < 0 {
		return fmt.Errorf("MaxConns must not be negative, got %d", c.MaxConns)
	}

	return nil
}

type envCoordinates struct {
	Host     string `envconfig:"PGHOST" default:"localhost"`
	Port     uint16 `envconfig:"PGPORT" default:"5432"`
	User     string `envconfig:"PGUSER" default:"postgres"`
	Password string `envconfig:"PGPASSWORD" default:"postgres"`
}

// ConfigFromEnv builds a Config from the conventional PGHOST, PGPORT, PGUSER
// and PGPASSWORD environment variables, falling back to localhost:5432 with
// the postgres superuser. The Migrations field is left nil and must be set by
// the caller before use.
func ConfigFromEnv() (*Config, error) {
	var env envCoordinates
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return &Config{
		Host:     env.Host,
		Port:     env.Port,
		User:     env.User,
		Password: env.Password,
	}, nil
}
