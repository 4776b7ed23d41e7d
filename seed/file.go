package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aquamarinepk/repoctx"
	"gopkg.in/yaml.v3"
)

// File is the YAML seed document.
//
//	seeds:
//	  - id: 2024-01-users
//	    description: base users
//	    repository: users
//	    entities:
//	      - {id: "1", name: Ann}
type File struct {
	Seeds []Entry `yaml:"seeds"`
}

type Entry struct {
	ID          string           `yaml:"id"`
	Description string           `yaml:"description"`
	Repository  string           `yaml:"repository"`
	Entities    []map[string]any `yaml:"entities"`
}

func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		return f, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

func LoadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Seeds turns every entry into a Seed writing through provider. Entities
// with an id are inserted only when missing; the rest are saved in one
// batch.
func (f File) Seeds(provider repoctx.DataProvider, opts ...repoctx.Option) ([]Seed, error) {
	seeds := make([]Seed, 0, len(f.Seeds))
	for i, entry := range f.Seeds {
		if entry.ID == "" {
			return nil, fmt.Errorf("seed entry at index %d missing id", i)
		}
		if entry.Repository == "" {
			return nil, fmt.Errorf("seed %s missing repository", entry.ID)
		}
		seeds = append(seeds, Seed{
			ID:          entry.ID,
			Description: entry.Description,
			Run: func(ctx context.Context) error {
				return entry.apply(ctx, provider, opts)
			},
		})
	}
	return seeds, nil
}

func (e Entry) apply(ctx context.Context, provider repoctx.DataProvider, opts []repoctx.Option) error {
	repo, err := repoctx.New(repoctx.RepositoryConfig{Name: e.Repository, Provider: provider}, opts...)
	if err != nil {
		return err
	}
	defer repo.Close()

	var batch []repoctx.Entity
	for _, raw := range e.Entities {
		entity := repoctx.Entity(raw)
		if entity.ID() == "" {
			batch = append(batch, entity)
			continue
		}
		if err := UpsertOnce(ctx, repo, entity); err != nil {
			return err
		}
	}
	if len(batch) == 0 {
		return nil
	}
	return repo.SaveAll(ctx, batch, nil)
}
