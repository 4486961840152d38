// Package sqlutil validates SQL connection parameters, builds driver DSNs
// and opens retried connections for PostgreSQL, MySQL and SQLite.
package sqlutil

import (
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
)

// DBType names a supported database.
type DBType string

// Supported databases.
const (
	PostgreSQL DBType = "postgresql"
	MySQL      DBType = "mysql"
	SQLite     DBType = "sqlite"
)

// Errors returned by Validate.
var (
	ErrUnsupportedDBType = errors.New("unsupported database type")
	ErrMissingParameter  = errors.New("missing or empty connection parameter")
)

// ConnectionConfig is a database connection configuration. Database is the
// file path for SQLite.
type ConnectionConfig struct {
	Type     DBType `yaml:"type"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Validate checks the parameters required by the database type.
func (c ConnectionConfig) Validate() error {
	var required []string

	switch c.Type {
	case PostgreSQL, MySQL:
		required = []string{"host", "user", "password", "database"}
	case SQLite:
		required = []string{"database"}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDBType, c.Type)
	}

	values := map[string]string{
		"host":     c.Host,
		"user":     c.User,
		"password": c.Password,
		"database": c.Database,
	}

	for _, key := range required {
		if values[key] == "" {
			return fmt.Errorf("%w: %q for %s", ErrMissingParameter, key, c.Type)
		}
	}

	return nil
}

// DriverName returns the database/sql driver registered for the type.
func (c ConnectionConfig) DriverName() string {
	switch c.Type {
	case PostgreSQL:
		return "pgx"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	default:
		return ""
	}
}

// DSN returns the Data Source Name for the type.
func (c ConnectionConfig) DSN() string {
	switch c.Type {
	case PostgreSQL:
		port, sslMode := c.Port, c.SSLMode

		if port == "" {
			port = "5432"
		}

		if sslMode == "" {
			sslMode = "disable"
		}

		return fmt.Sprintf(
			"host=%s "+
				"user=%s "+
				"password=%s "+
				"dbname=%s "+
				"port=%s "+
				"sslmode=%s",
			c.Host,
			c.User,
			c.Password,
			c.Database,
			port,
			sslMode,
		)
	case MySQL:
		port := c.Port
		if port == "" {
			port = "3306"
		}

		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, port)
		cfg.DBName = c.Database
		cfg.ParseTime = true

		return cfg.FormatDSN()
	case SQLite:
		return c.Database
	default:
		return ""
	}
}
