package repoctx

import (
	"errors"
	"testing"
	"time"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, cfg, err := LoadSettings("REPOCTXTEST", nil)
	if err != nil {
		t.Fatalf("LoadSettings error: %v", err)
	}
	if cfg == nil {
		t.Fatal("nil config")
	}
	if s.Provider.Kind != ProviderMemory {
		t.Errorf("kind = %q, want memory", s.Provider.Kind)
	}
	if s.Pagination.ItemsPerPage != 10 {
		t.Errorf("items_per_page = %d, want 10", s.Pagination.ItemsPerPage)
	}
	if s.Pagination.MaxItemsPerPage != 1000 {
		t.Errorf("max_items_per_page = %d, want 1000", s.Pagination.MaxItemsPerPage)
	}
	if s.Provider.Mongo.ConnectTimeout != 10*time.Second {
		t.Errorf("connect_timeout = %v", s.Provider.Mongo.ConnectTimeout)
	}
	if s.HTTP.Addr() != ":8080" {
		t.Errorf("Addr() = %q", s.HTTP.Addr())
	}
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REPOCTXTEST_PROVIDER_KIND", "sql")
	t.Setenv("REPOCTXTEST_PROVIDER_SQL_DSN", "user:pass@/db")
	t.Setenv("REPOCTXTEST_PROVIDER_SQL_MAX_OPEN_CONNS", "4")

	s, _, err := LoadSettings("REPOCTXTEST", nil)
	if err != nil {
		t.Fatalf("LoadSettings error: %v", err)
	}
	if s.Provider.Kind != ProviderSQL || s.Provider.SQL.DSN != "user:pass@/db" {
		t.Errorf("provider = %+v", s.Provider)
	}
	if s.Provider.SQL.MaxOpenConns != 4 {
		t.Errorf("max_open_conns = %d, want 4", s.Provider.SQL.MaxOpenConns)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Settings)
		expectErr bool
	}{
		{name: "memory", mutate: func(*Settings) {}},
		{name: "unknownKind", mutate: func(s *Settings) { s.Provider.Kind = "redis" }, expectErr: true},
		{name: "restWithoutURL", mutate: func(s *Settings) { s.Provider.Kind = ProviderREST }, expectErr: true},
		{name: "sqlWithoutDSN", mutate: func(s *Settings) { s.Provider.Kind = ProviderSQL }, expectErr: true},
		{name: "mongoWithoutURI", mutate: func(s *Settings) {
			s.Provider.Kind = ProviderMongo
			s.Provider.Mongo.Database = "app"
		}, expectErr: true},
		{name: "zeroPageSize", mutate: func(s *Settings) { s.Pagination.ItemsPerPage = 0 }, expectErr: true},
		{name: "uncappedPageSize", mutate: func(s *Settings) { s.Pagination.MaxItemsPerPage = 0 }},
		{name: "capAbovePageSize", mutate: func(s *Settings) { s.Pagination.MaxItemsPerPage = 500 }},
		{name: "capBelowPageSize", mutate: func(s *Settings) { s.Pagination.MaxItemsPerPage = 5 }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{
				Provider:   ProviderSettings{Kind: ProviderMemory},
				Pagination: PaginationSettings{ItemsPerPage: 10},
			}
			tt.mutate(&s)
			err := s.Validate()
			if tt.expectErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestHTTPAddr(t *testing.T) {
	tests := map[string]string{
		"":             ":8080",
		"9000":         ":9000",
		":9001":        ":9001",
		"127.0.0.1:80": "127.0.0.1:80",
	}
	for port, want := range tests {
		if got := (HTTPSettings{Port: port}).Addr(); got != want {
			t.Errorf("Addr(%q) = %q, want %q", port, got, want)
		}
	}
}

func TestValidateAllowedNetworks(t *testing.T) {
	s := Settings{
		Provider:   ProviderSettings{Kind: ProviderMemory},
		Pagination: PaginationSettings{ItemsPerPage: 10},
		HTTP:       HTTPSettings{AllowedNetworks: []string{"10.0.0.0/8", "bogus"}},
	}
	err := s.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	s.HTTP.AllowedNetworks = []string{"10.0.0.0/8", " 192.168.0.0/16"}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
