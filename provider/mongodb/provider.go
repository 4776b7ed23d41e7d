// Package mongodb maps repositories onto MongoDB collections. Entity ids are
// stored as string _id values.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

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

type Provider struct {
	client       *Client
	itemsPerPage int
	newID        func() string
}

var _ repoctx.DataProvider = (*Provider)(nil)

func New(client *Client, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("mongo client is required")
	}
	p := &Provider{
		client:       client,
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

// Ping reports whether the database is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Provider) Find(ctx context.Context, repository, id string, _ repoctx.Options) (repoctx.Entity, error) {
	res := p.client.Collection(repository).FindOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s/%s", repoctx.ErrNotFound, repository, id)
		}
		return nil, fmt.Errorf("mongo find %s: %w", repository, err)
	}
	var doc bson.M
	if err := res.Decode(&doc); err != nil {
		return nil, fmt.Errorf("mongo decode %s: %w", repository, err)
	}
	return FromDocument(doc), nil
}

func (p *Provider) FindAll(ctx context.Context, repository string, state query.State, _ repoctx.Options) (repoctx.Result, error) {
	filter, err := BuildFilter(state.Filters)
	if err != nil {
		return repoctx.Result{}, err
	}
	coll := p.client.Collection(repository)

	count, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return repoctx.Result{}, fmt.Errorf("mongo count %s: %w", repository, err)
	}

	page := state.Pagination.Normalize(p.itemsPerPage)
	meta := query.Meta{
		Count:        int(count),
		ItemsPerPage: page.ItemsPerPage,
		CurrentPage:  page.CurrentPage,
	}
	if int64(page.Offset()) >= count {
		return repoctx.Result{Data: []repoctx.Entity{}, Meta: meta}, nil
	}
	cursor, err := coll.Find(ctx, filter, BuildFindOptions(page, state.Sorting))
	if err != nil {
		return repoctx.Result{}, fmt.Errorf("mongo find %s: %w", repository, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return repoctx.Result{}, fmt.Errorf("mongo decode %s: %w", repository, err)
	}
	data := make([]repoctx.Entity, 0, len(docs))
	for _, doc := range docs {
		data = append(data, FromDocument(doc))
	}
	return repoctx.Result{Data: data, Meta: meta}, nil
}

// Save replaces the document with the same id, inserting when absent.
func (p *Provider) Save(ctx context.Context, repository string, entity repoctx.Entity, _ repoctx.Options) (repoctx.Entity, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", repoctx.ErrInvalidArgument)
	}
	doc := p.ToDocument(entity)
	opts := options.Replace().SetUpsert(true)
	if _, err := p.client.Collection(repository).ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc["_id"]}}, doc, opts); err != nil {
		return nil, fmt.Errorf("mongo save %s: %w", repository, err)
	}
	return FromDocument(doc), nil
}

// SaveAll upserts the batch in one unordered bulk write.
func (p *Provider) SaveAll(ctx context.Context, repository string, entities []repoctx.Entity, _ repoctx.Options) error {
	models := make([]mongo.WriteModel, 0, len(entities))
	for i, entity := range entities {
		if entity == nil {
			return fmt.Errorf("%w: entity at index %d is nil", repoctx.ErrInvalidArgument, i)
		}
		doc := p.ToDocument(entity)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: doc["_id"]}}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := p.client.Collection(repository).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("mongo save all %s: %w", repository, err)
	}
	return nil
}

func (p *Provider) Remove(ctx context.Context, repository, id string, _ repoctx.Options) error {
	res, err := p.client.Collection(repository).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("mongo remove %s: %w", repository, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s/%s", repoctx.ErrNotFound, repository, id)
	}
	return nil
}

// RemoveAll deletes every listed id. Fewer deletions than ids is reported as
// ErrNotFound after the existing ones are gone.
func (p *Provider) RemoveAll(ctx context.Context, repository string, ids []string, _ repoctx.Options) error {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	res, err := p.client.Collection(repository).DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("mongo remove all %s: %w", repository, err)
	}
	if int(res.DeletedCount) != len(ids) {
		return fmt.Errorf("%w: removed %d of %d from %s", repoctx.ErrNotFound, res.DeletedCount, len(ids), repository)
	}
	return nil
}

// ToDocument renames id to _id, generating one when missing.
func (p *Provider) ToDocument(entity repoctx.Entity) bson.M {
	doc := make(bson.M, len(entity))
	for k, v := range entity {
		if k == repoctx.IDKey {
			continue
		}
		doc[k] = v
	}
	id := entity.ID()
	if id == "" {
		id = p.newID()
	}
	doc["_id"] = id
	return doc
}
