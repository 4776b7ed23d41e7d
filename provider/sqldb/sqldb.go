// Package sqldb stores each repository in its own table holding an id column
// and a JSON document column. Queries are written for MySQL.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
	"github.com/google/uuid"
)

// Config describes the database handle Open creates.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Open creates the pool and checks it answers. The driver must be registered
// by the caller, e.g. with a blank import of github.com/go-sql-driver/mysql.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

type Option func(*Provider)

func WithItemsPerPage(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.itemsPerPage = n
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(p *Provider) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithAutoCreate creates a repository table on its first use.
func WithAutoCreate() Option {
	return func(p *Provider) {
		p.autoCreate = true
	}
}

type Provider struct {
	db           *sql.DB
	itemsPerPage int
	newID        func() string
	autoCreate   bool
	created      sync.Map
}

var _ repoctx.DataProvider = (*Provider)(nil)

func New(db *sql.DB, opts ...Option) (*Provider, error) {
	if db == nil {
		return nil, errors.New("sql db is required")
	}
	p := &Provider{
		db:           db,
		itemsPerPage: query.DefaultItemsPerPage,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// EnsureTable creates the repository table when missing.
func (p *Provider) EnsureTable(ctx context.Context, repository string) error {
	table, err := quoteTable(repository)
	if err != nil {
		return err
	}
	stmt := "CREATE TABLE IF NOT EXISTS " + table + " (id VARCHAR(64) NOT NULL PRIMARY KEY, doc JSON NOT NULL)"
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", repository, err)
	}
	p.created.Store(repository, struct{}{})
	return nil
}

func (p *Provider) Find(ctx context.Context, repository, id string, _ repoctx.Options) (repoctx.Entity, error) {
	table, err := p.table(ctx, repository)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = p.db.QueryRowContext(ctx, "SELECT doc FROM "+table+" WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", repoctx.ErrNotFound, repository, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", repository, err)
	}
	return decode(id, raw)
}

func (p *Provider) FindAll(ctx context.Context, repository string, state query.State, _ repoctx.Options) (repoctx.Result, error) {
	table, err := p.table(ctx, repository)
	if err != nil {
		return repoctx.Result{}, err
	}
	page := state.Pagination.Normalize(p.itemsPerPage)
	count, list, err := BuildSelect(table, state.Filters, state.Sorting, page)
	if err != nil {
		return repoctx.Result{}, err
	}

	var total int
	if err := p.db.QueryRowContext(ctx, count.SQL, count.Args...).Scan(&total); err != nil {
		return repoctx.Result{}, fmt.Errorf("count %s: %w", repository, err)
	}
	meta := query.Meta{Count: total, ItemsPerPage: page.ItemsPerPage, CurrentPage: page.CurrentPage}
	if page.Offset() >= total {
		return repoctx.Result{Data: []repoctx.Entity{}, Meta: meta}, nil
	}

	rows, err := p.db.QueryContext(ctx, list.SQL, list.Args...)
	if err != nil {
		return repoctx.Result{}, fmt.Errorf("list %s: %w", repository, err)
	}
	defer rows.Close()

	start, end := page.Bounds(total)
	data := make([]repoctx.Entity, 0, end-start)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return repoctx.Result{}, fmt.Errorf("scan %s: %w", repository, err)
		}
		entity, err := decode(id, raw)
		if err != nil {
			return repoctx.Result{}, err
		}
		data = append(data, entity)
	}
	if err := rows.Err(); err != nil {
		return repoctx.Result{}, fmt.Errorf("list %s: %w", repository, err)
	}

	return repoctx.Result{Data: data, Meta: meta}, nil
}

func (p *Provider) Save(ctx context.Context, repository string, entity repoctx.Entity, _ repoctx.Options) (repoctx.Entity, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", repoctx.ErrInvalidArgument)
	}
	table, err := p.table(ctx, repository)
	if err != nil {
		return nil, err
	}
	id, raw, err := p.encode(entity)
	if err != nil {
		return nil, err
	}
	if _, err := p.db.ExecContext(ctx, upsertSQL(table), id, raw); err != nil {
		return nil, fmt.Errorf("save %s: %w", repository, err)
	}
	saved := entity.Clone()
	saved[repoctx.IDKey] = id
	return saved, nil
}

// SaveAll upserts the batch in one transaction.
func (p *Provider) SaveAll(ctx context.Context, repository string, entities []repoctx.Entity, _ repoctx.Options) (err error) {
	table, err := p.table(ctx, repository)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", repository, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertSQL(table))
	if err != nil {
		return fmt.Errorf("prepare %s: %w", repository, err)
	}
	defer stmt.Close()

	for i, entity := range entities {
		if entity == nil {
			return fmt.Errorf("%w: entity at index %d is nil", repoctx.ErrInvalidArgument, i)
		}
		id, raw, err := p.encode(entity)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, raw); err != nil {
			return fmt.Errorf("save %s: %w", repository, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", repository, err)
	}
	return nil
}

func (p *Provider) Remove(ctx context.Context, repository, id string, _ repoctx.Options) error {
	table, err := p.table(ctx, repository)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove %s: %w", repository, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", repoctx.ErrNotFound, repository, id)
	}
	return nil
}

func (p *Provider) RemoveAll(ctx context.Context, repository string, ids []string, _ repoctx.Options) error {
	if len(ids) == 0 {
		return nil
	}
	table, err := p.table(ctx, repository)
	if err != nil {
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := p.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return fmt.Errorf("remove all %s: %w", repository, err)
	}
	if n, err := res.RowsAffected(); err == nil && int(n) != len(ids) {
		return fmt.Errorf("%w: removed %d of %d from %s", repoctx.ErrNotFound, n, len(ids), repository)
	}
	return nil
}

func (p *Provider) table(ctx context.Context, repository string) (string, error) {
	table, err := quoteTable(repository)
	if err != nil {
		return "", err
	}
	if p.autoCreate {
		if _, ok := p.created.Load(repository); !ok {
			if err := p.EnsureTable(ctx, repository); err != nil {
				return "", err
			}
		}
	}
	return table, nil
}

func (p *Provider) encode(entity repoctx.Entity) (string, []byte, error) {
	id := entity.ID()
	if id == "" {
		id = p.newID()
	}
	doc := entity.Clone()
	delete(doc, repoctx.IDKey)
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", nil, fmt.Errorf("encode entity %s: %w", id, err)
	}
	return id, raw, nil
}

func decode(id string, raw []byte) (repoctx.Entity, error) {
	entity := repoctx.Entity{}
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", id, err)
	}
	entity[repoctx.IDKey] = id
	return entity, nil
}

func upsertSQL(table string) string {
	return "INSERT INTO " + table + " (id, doc) VALUES (?, ?) ON DUPLICATE KEY UPDATE doc = VALUES(doc)"
}
