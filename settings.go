package repoctx

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Provider kinds understood by the server binary.
const (
	ProviderMemory = "memory"
	ProviderMongo  = "mongo"
	ProviderSQL    = "sql"
	ProviderREST   = "rest"
)

// Settings is the typed view over Config used by the binaries.
type Settings struct {
	Provider   ProviderSettings   `koanf:"provider"`
	Pagination PaginationSettings `koanf:"pagination"`
	HTTP       HTTPSettings       `koanf:"http"`
	Log        LogSettings        `koanf:"log"`
	Seed       SeedSettings       `koanf:"seed"`
}

type ProviderSettings struct {
	Kind  string        `koanf:"kind"`
	Mongo MongoSettings `koanf:"mongo"`
	SQL   SQLSettings   `koanf:"sql"`
	REST  RESTSettings  `koanf:"rest"`
}

type MongoSettings struct {
	URI            string        `koanf:"uri"`
	Database       string        `koanf:"database"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type SQLSettings struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

type RESTSettings struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type PaginationSettings struct {
	ItemsPerPage    int `koanf:"items_per_page"`
	MaxItemsPerPage int `koanf:"max_items_per_page"`
}

type HTTPSettings struct {
	Port            string        `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	AllowedNetworks []string      `koanf:"allowed_networks"`
}

// Addr returns the listen address, ":8080" style.
func (h HTTPSettings) Addr() string {
	port := strings.TrimSpace(h.Port)
	if port == "" {
		port = "8080"
	}
	if !strings.HasPrefix(port, ":") && !strings.Contains(port, ":") {
		port = ":" + port
	}
	return port
}

type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type SeedSettings struct {
	Application string `koanf:"application"`
	File        string `koanf:"file"`
}

// DefaultSettings serves an in-memory provider on :8080.
func DefaultSettings() map[string]any {
	return map[string]any{
		"provider": map[string]any{
			"kind": ProviderMemory,
			"mongo": map[string]any{
				"uri":             "mongodb://localhost:27017",
				"database":        "repoctx",
				"connect_timeout": "10s",
			},
			"sql": map[string]any{
				"driver":         "mysql",
				"dsn":            "",
				"max_open_conns": 10,
			},
			"rest": map[string]any{
				"base_url": "",
				"timeout":  "15s",
			},
		},
		"pagination": map[string]any{
			"items_per_page":     10,
			"max_items_per_page": 1000,
		},
		"http": map[string]any{
			"port":             "8080",
			"shutdown_timeout": "10s",
			"request_timeout":  "30s",
		},
		"log": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"seed": map[string]any{
			"application": "repoctx",
			"file":        "",
		},
	}
}

// LoadSettings layers defaults, file, environment and args, then decodes and
// validates the result. The Config is returned for ad hoc lookups.
func LoadSettings(envNamespace string, args []string) (Settings, *Config, error) {
	cfg := NewConfig()
	if err := cfg.Merge(DefaultSettings()); err != nil {
		return Settings{}, nil, err
	}
	if err := cfg.LoadSources(envNamespace, args); err != nil {
		return Settings{}, nil, err
	}
	var s Settings
	if err := cfg.Unmarshal("", &s); err != nil {
		return Settings{}, nil, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, nil, err
	}
	return s, cfg, nil
}

func (s Settings) Validate() error {
	var errs []error
	switch s.Provider.Kind {
	case ProviderMemory:
	case ProviderMongo:
		if s.Provider.Mongo.URI == "" {
			errs = append(errs, errors.New("provider.mongo.uri is required"))
		}
		if s.Provider.Mongo.Database == "" {
			errs = append(errs, errors.New("provider.mongo.database is required"))
		}
	case ProviderSQL:
		if s.Provider.SQL.DSN == "" {
			errs = append(errs, errors.New("provider.sql.dsn is required"))
		}
	case ProviderREST:
		if s.Provider.REST.BaseURL == "" {
			errs = append(errs, errors.New("provider.rest.base_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider.kind %q", s.Provider.Kind))
	}
	if s.Pagination.ItemsPerPage < 1 {
		errs = append(errs, errors.New("pagination.items_per_page must be positive"))
	}
	if limit := s.Pagination.MaxItemsPerPage; limit != 0 && limit < s.Pagination.ItemsPerPage {
		errs = append(errs, errors.New("pagination.max_items_per_page must be 0 or at least items_per_page"))
	}
	for _, cidr := range s.HTTP.AllowedNetworks {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			errs = append(errs, fmt.Errorf("http.allowed_networks: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
