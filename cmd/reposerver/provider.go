package main

import (
	"context"
	"fmt"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/provider/memory"
	"github.com/aquamarinepk/repoctx/provider/mongodb"
	"github.com/aquamarinepk/repoctx/provider/rest"
	"github.com/aquamarinepk/repoctx/provider/sqldb"

	_ "github.com/go-sql-driver/mysql"
)

type closeFunc func(context.Context) error

func noClose(context.Context) error { return nil }

// buildProvider returns the provider selected by provider.kind and what
// releases it.
func buildProvider(ctx context.Context, s repoctx.Settings) (repoctx.DataProvider, closeFunc, error) {
	perPage := s.Pagination.ItemsPerPage

	switch s.Provider.Kind {
	case repoctx.ProviderMemory:
		return memory.New(memory.WithItemsPerPage(perPage)), noClose, nil

	case repoctx.ProviderMongo:
		client, err := mongodb.Connect(ctx, mongodb.Config{
			URI:            s.Provider.Mongo.URI,
			Database:       s.Provider.Mongo.Database,
			ConnectTimeout: s.Provider.Mongo.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		p, err := mongodb.New(client, mongodb.WithItemsPerPage(perPage))
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
		return p, client.Disconnect, nil

	case repoctx.ProviderSQL:
		db, err := sqldb.Open(ctx, sqldb.Config{
			Driver:       s.Provider.SQL.Driver,
			DSN:          s.Provider.SQL.DSN,
			MaxOpenConns: s.Provider.SQL.MaxOpenConns,
		})
		if err != nil {
			return nil, nil, err
		}
		p, err := sqldb.New(db, sqldb.WithItemsPerPage(perPage), sqldb.WithAutoCreate())
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return p, func(context.Context) error { return db.Close() }, nil

	case repoctx.ProviderREST:
		p, err := rest.New(rest.Config{
			BaseURL: s.Provider.REST.BaseURL,
			Timeout: s.Provider.REST.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, noClose, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown provider kind %q", repoctx.ErrInvalidConfig, s.Provider.Kind)
}
