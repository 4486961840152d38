// Package config loads the YAML configuration of the artifactd command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/sqlutil"
)

// Transport kinds.
const (
	TransportInMem = "inmem"
	TransportAMQP  = "amqp"
	TransportKafka = "kafka"
)

// Reader kinds. The inserter is not a reader but runs in its place.
const (
	ReaderAPI      = "api"
	ReaderSQL      = "sql"
	ReaderCSV      = "csv"
	ReaderMongo    = "mongo"
	ReaderInserter = "inserter"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the command configuration.
type Config struct {
	Log       Log       `yaml:"log"`
	Artifact  Artifact  `yaml:"artifact"`
	Transport Transport `yaml:"transport"`
	Reader    Reader    `yaml:"reader"`
	HTTP      HTTP      `yaml:"http"`
	Sentry    Sentry    `yaml:"sentry"`
}

// Log selects the logger.
type Log struct {
	Development bool   `yaml:"development"`
	Service     string `yaml:"service"`
}

// Artifact identifies the entity.
type Artifact struct {
	JID            string `yaml:"jid"`
	Password       string `yaml:"password"`
	PubSubService  string `yaml:"pubsub_service"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	AutoRegister   bool   `yaml:"auto_register"`
	VerifySecurity bool   `yaml:"verify_security"`
	ApproveAll     bool   `yaml:"approve_all"`
}

// Transport selects the messaging backend.
type Transport struct {
	Kind string `yaml:"kind"`
	// URL of the amqp broker.
	URL string `yaml:"url"`
	// Brokers of the kafka cluster.
	Brokers  []string `yaml:"brokers"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// Reader selects and configures the artifact body.
type Reader struct {
	Kind     string        `yaml:"kind"`
	Interval time.Duration `yaml:"interval"`

	API      API      `yaml:"api"`
	SQL      SQL      `yaml:"sql"`
	CSV      CSV      `yaml:"csv"`
	Mongo    Mongo    `yaml:"mongo"`
	Inserter Inserter `yaml:"inserter"`
}

// API configures the HTTP API reader.
type API struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Params  map[string]string `yaml:"params"`
	Headers map[string]string `yaml:"headers"`
}

// SQL configures the SQL reader.
type SQL struct {
	Connection sqlutil.ConnectionConfig `yaml:"connection"`
	Query      string                   `yaml:"query"`
}

// CSV configures the CSV reader.
type CSV struct {
	Path       string        `yaml:"path"`
	Columns    []string      `yaml:"columns"`
	Frequency  time.Duration `yaml:"frequency"`
	TimeColumn string        `yaml:"time_column"`
	TimeLayout string        `yaml:"time_layout"`
}

// Mongo configures the MongoDB reader.
type Mongo struct {
	URI        string         `yaml:"uri"`
	Database   string         `yaml:"database"`
	Collection string         `yaml:"collection"`
	Operation  string         `yaml:"operation"`
	Query      map[string]any `yaml:"query"`
}

// Inserter configures the context-broker inserter.
type Inserter struct {
	BrokerURL string   `yaml:"broker_url"`
	Tenant    string   `yaml:"tenant"`
	Publisher string   `yaml:"publisher"`
	Context   string   `yaml:"context"`
	Columns   []string `yaml:"columns"`
}

// HTTP configures the operational server.
type HTTP struct {
	Address string `yaml:"address"`
}

// Sentry enables error reporting when DSN is set.
type Sentry struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Load reads the file at path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Service == "" {
		c.Log.Service = "artifactd"
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportInMem
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = ":9090"
	}

	if c.Reader.API.Method == "" {
		c.Reader.API.Method = "GET"
	}

	if c.Reader.Mongo.Operation == "" {
		c.Reader.Mongo.Operation = "find"
	}

	if c.Artifact.PubSubService == "" {
		if j, err := jid.Parse(c.Artifact.JID); err == nil {
			c.Artifact.PubSubService = j.PubSubService()
		}
	}
}

// Validate checks that the selected transport and reader are fully
// configured.
func (c *Config) Validate() error {
	if _, err := jid.Parse(c.Artifact.JID); err != nil {
		return fmt.Errorf("%w: artifact.jid: %v", ErrInvalid, err)
	}

	switch c.Transport.Kind {
	case TransportInMem:
	case TransportAMQP:
		if c.Transport.URL == "" && c.Artifact.Host == "" {
			return fmt.Errorf("%w: transport.url or artifact.host is required for amqp", ErrInvalid)
		}
	case TransportKafka:
		if len(c.Transport.Brokers) == 0 {
			return fmt.Errorf("%w: transport.brokers is required for kafka", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport.Kind)
	}

	r := c.Reader

	switch r.Kind {
	case ReaderAPI:
		if r.API.URL == "" {
			return fmt.Errorf("%w: reader.api.url is required", ErrInvalid)
		}
	case ReaderSQL:
		if err := r.SQL.Connection.Validate(); err != nil {
			return fmt.Errorf("%w: reader.sql.connection: %v", ErrInvalid, err)
		}

		if r.SQL.Query == "" {
			return fmt.Errorf("%w: reader.sql.query is required", ErrInvalid)
		}
	case ReaderCSV:
		if r.CSV.Path == "" {
			return fmt.Errorf("%w: reader.csv.path is required", ErrInvalid)
		}
	case ReaderMongo:
		if r.Mongo.URI == "" || r.Mongo.Database == "" || r.Mongo.Collection == "" {
			return fmt.Errorf("%w: reader.mongo needs uri, database and collection", ErrInvalid)
		}
	case ReaderInserter:
		if r.Inserter.BrokerURL == "" || r.Inserter.Publisher == "" {
			return fmt.Errorf("%w: reader.inserter needs broker_url and publisher", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown reader %q", ErrInvalid, r.Kind)
	}

	return nil
}
