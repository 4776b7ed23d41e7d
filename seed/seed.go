// Package seed applies versioned, idempotent fixture loads through
// repositories and records which ones already ran.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aquamarinepk/repoctx"
)

// Seed is a versioned mutation that should run once per environment.
type Seed struct {
	ID          string
	Description string
	Run         func(ctx context.Context) error
}

// Record tracks the execution metadata for a seed.
type Record struct {
	ID          string    `json:"id"`
	Application string    `json:"application"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Tracker persists which seeds have executed.
type Tracker interface {
	HasRun(ctx context.Context, id string) (bool, error)
	MarkRun(ctx context.Context, record Record) error
}

// Apply runs the seeds in order, skipping those the tracker already holds.
func Apply(ctx context.Context, tracker Tracker, seeds []Seed, application string) error {
	if tracker == nil {
		return errors.New("seed tracker is required")
	}

	for i, s := range seeds {
		if s.ID == "" {
			return fmt.Errorf("seed at index %d missing ID", i)
		}
		if s.Run == nil {
			return fmt.Errorf("seed %s missing Run function", s.ID)
		}

		ran, err := tracker.HasRun(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("check seed %s status: %w", s.ID, err)
		}
		if ran {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.Run(ctx); err != nil {
			return fmt.Errorf("seed %s failed: %w", s.ID, err)
		}

		record := Record{
			ID:          s.ID,
			Application: application,
			Description: s.Description,
			AppliedAt:   time.Now().UTC(),
		}
		if err := tracker.MarkRun(ctx, record); err != nil {
			return fmt.Errorf("mark seed %s as complete: %w", s.ID, err)
		}
	}

	return nil
}

const defaultRepositoryName = "_seeds"

// RepositoryTracker stores seed records in a repository, so any
// DataProvider can hold them.
type RepositoryTracker struct {
	repo *repoctx.Repository
}

type TrackerOption func(*trackerConfig)

type trackerConfig struct {
	name    string
	options []repoctx.Option
}

// WithRepositoryName overrides the default "_seeds" repository.
func WithRepositoryName(name string) TrackerOption {
	return func(cfg *trackerConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.name = trimmed
		}
	}
}

func WithRepositoryOptions(opts ...repoctx.Option) TrackerOption {
	return func(cfg *trackerConfig) {
		cfg.options = append(cfg.options, opts...)
	}
}

func NewRepositoryTracker(provider repoctx.DataProvider, opts ...TrackerOption) (*RepositoryTracker, error) {
	cfg := trackerConfig{name: defaultRepositoryName}
	for _, opt := range opts {
		opt(&cfg)
	}

	repo, err := repoctx.New(repoctx.RepositoryConfig{Name: cfg.name, Provider: provider}, cfg.options...)
	if err != nil {
		return nil, fmt.Errorf("seed tracker: %w", err)
	}
	return &RepositoryTracker{repo: repo}, nil
}

func (t *RepositoryTracker) HasRun(ctx context.Context, id string) (bool, error) {
	if t == nil || t.repo == nil {
		return false, errors.New("seed tracker is not initialized")
	}

	_, err := t.repo.Find(ctx, id, nil)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repoctx.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("query seed %s: %w", id, err)
}

func (t *RepositoryTracker) MarkRun(ctx context.Context, record Record) error {
	if t == nil || t.repo == nil {
		return errors.New("seed tracker is not initialized")
	}
	if record.ID == "" {
		return errors.New("seed record ID is required")
	}

	entity := repoctx.Entity{
		repoctx.IDKey: record.ID,
		"application": record.Application,
		"description": record.Description,
		"applied_at":  record.AppliedAt.Format(time.RFC3339),
	}
	if _, err := t.repo.Save(ctx, entity, nil); err != nil {
		return fmt.Errorf("save seed record %s: %w", record.ID, err)
	}
	return nil
}

// Records lists what has been applied, oldest first.
func (t *RepositoryTracker) Records(ctx context.Context) ([]Record, error) {
	result, err := t.repo.FindAll(ctx, t.repo.CreateQuery().Sort("applied_at").Limit(1000), nil)
	if err != nil {
		return nil, fmt.Errorf("list seed records: %w", err)
	}
	return repoctx.DecodeEntities[Record](result.Data)
}

func (t *RepositoryTracker) Close() error {
	return t.repo.Close()
}

// UpsertOnce saves entity only when no entity with its id exists yet.
func UpsertOnce(ctx context.Context, repo *repoctx.Repository, entity repoctx.Entity) error {
	if repo == nil {
		return errors.New("repository is required")
	}
	if entity == nil {
		return errors.New("entity is required")
	}
	id := entity.ID()
	if id == "" {
		return errors.New("entity id is required")
	}

	_, err := repo.Find(ctx, id, nil)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, repoctx.ErrNotFound):
		return fmt.Errorf("lookup %s/%s: %w", repo.Name(), id, err)
	}
	if _, err := repo.Save(ctx, entity, nil); err != nil {
		return fmt.Errorf("insert %s/%s: %w", repo.Name(), id, err)
	}
	return nil
}
