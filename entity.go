package repoctx

import (
	"fmt"

	"github.com/aquamarinepk/repoctx/query"
	"github.com/go-viper/mapstructure/v2"
)

// IDKey is the entity field holding its identifier.
const IDKey = "id"

// Entity is a provider document. Values are passed through untyped.
type Entity map[string]any

// ID returns the identifier as a string, or "" when unset.
func (e Entity) ID() string {
	if e == nil {
		return ""
	}
	switch v := e[IDKey].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Options are provider specific call options, passed through untouched.
type Options map[string]any

// Result is what a provider returns for a list query.
type Result struct {
	Data []Entity   `json:"data"`
	Meta query.Meta `json:"meta"`
}

// DecodeEntity maps a document onto a struct using its json tags.
func DecodeEntity[T any](entity Entity) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return out, fmt.Errorf("entity decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(entity)); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}

// DecodeEntities maps every document onto T.
func DecodeEntities[T any](entities []Entity) ([]T, error) {
	out := make([]T, 0, len(entities))
	for i, entity := range entities {
		item, err := DecodeEntity[T](entity)
		if err != nil {
			return nil, fmt.Errorf("entity at index %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}
