package repoctx

import (
	"context"
	"fmt"

	"github.com/aquamarinepk/repoctx/query"
)

// DataProvider is the storage or transport a Repository delegates to. One
// provider may serve many repositories; the repository name selects the
// collection, table or endpoint.
type DataProvider interface {
	Find(ctx context.Context, repository, id string, opts Options) (Entity, error)
	FindAll(ctx context.Context, repository string, state query.State, opts Options) (Result, error)
	Save(ctx context.Context, repository string, entity Entity, opts Options) (Entity, error)
	SaveAll(ctx context.Context, repository string, entities []Entity, opts Options) error
	Remove(ctx context.Context, repository, id string, opts Options) error
	RemoveAll(ctx context.Context, repository string, ids []string, opts Options) error
}

// Providers may implement any of these to advertise reduced capability.
type (
	GetReporter    interface{ CanGet() bool }
	SaveReporter   interface{ CanSave() bool }
	RemoveReporter interface{ CanRemove() bool }
	ListReporter   interface{ CanList() bool }
)

// Capabilities describes what a provider supports.
type Capabilities struct {
	Get    bool `json:"get"`
	Save   bool `json:"save"`
	Remove bool `json:"remove"`
	List   bool `json:"list"`
}

// CapabilitiesOf answers true for every capability the provider does not
// report on.
func CapabilitiesOf(p DataProvider) Capabilities {
	caps := Capabilities{Get: true, Save: true, Remove: true, List: true}
	if r, ok := p.(GetReporter); ok {
		caps.Get = r.CanGet()
	}
	if r, ok := p.(SaveReporter); ok {
		caps.Save = r.CanSave()
	}
	if r, ok := p.(RemoveReporter); ok {
		caps.Remove = r.CanRemove()
	}
	if r, ok := p.(ListReporter); ok {
		caps.List = r.CanList()
	}
	return caps
}

// UnimplementedProvider rejects every operation with ErrNotImplemented. Embed
// it to build partial providers and override only what is supported.
type UnimplementedProvider struct{}

func (UnimplementedProvider) Find(context.Context, string, string, Options) (Entity, error) {
	return nil, notImplemented("Find")
}

func (UnimplementedProvider) FindAll(context.Context, string, query.State, Options) (Result, error) {
	return Result{}, notImplemented("FindAll")
}

func (UnimplementedProvider) Save(context.Context, string, Entity, Options) (Entity, error) {
	return nil, notImplemented("Save")
}

func (UnimplementedProvider) SaveAll(context.Context, string, []Entity, Options) error {
	return notImplemented("SaveAll")
}

func (UnimplementedProvider) Remove(context.Context, string, string, Options) error {
	return notImplemented("Remove")
}

func (UnimplementedProvider) RemoveAll(context.Context, string, []string, Options) error {
	return notImplemented("RemoveAll")
}

func (UnimplementedProvider) CanGet() bool    { return true }
func (UnimplementedProvider) CanSave() bool   { return true }
func (UnimplementedProvider) CanRemove() bool { return true }
func (UnimplementedProvider) CanList() bool   { return true }

func notImplemented(method string) error {
	return fmt.Errorf("%s() is %w", method, ErrNotImplemented)
}
