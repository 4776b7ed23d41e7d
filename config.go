package repoctx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config stores configuration values keyed by dotted property paths.
type Config struct {
	mu sync.RWMutex
	k  *koanf.Koanf
}

func NewConfig() *Config {
	return &Config{k: koanf.New(".")}
}

// Set stores value under path, replacing any subtree there.
func (c *Config) Set(path string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.k.Set(normalise(path), value)
}

// Merge overlays a nested or flattened map.
func (c *Config) Merge(values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.k.Load(confmap.Provider(lowerKeys(values), "."), nil); err != nil {
		return fmt.Errorf("config: merge: %w", err)
	}
	return nil
}

// MergeYAML overlays a YAML document.
func (c *Config) MergeYAML(data []byte) error {
	var raw map[string]any
	if err := yamlv3.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: yaml: %w", err)
	}
	return c.Merge(raw)
}

// MergeYAMLFile overlays a YAML file read from disk.
func (c *Config) MergeYAMLFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := normalise(path)
	if !c.k.Exists(key) {
		return nil, false
	}
	return c.k.Get(key), true
}

// Keys lists every leaf path in order.
func (c *Config) Keys() []string {
	c.mu.RLock()
	keys := c.k.Keys()
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (c *Config) GetString(path string) (string, bool) {
	raw, ok := c.Get(path)
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func (c *Config) GetInt(path string) (int, bool, error) {
	raw, ok := c.Get(path)
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case uint64:
		return int(v), true, nil
	case float64:
		return int(v), true, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, true, err
	default:
		return 0, true, fmt.Errorf("config: cannot convert %T to int", raw)
	}
}

func (c *Config) GetBool(path string) (bool, bool, error) {
	raw, ok := c.Get(path)
	if !ok {
		return false, false, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, true, err
	default:
		return false, true, fmt.Errorf("config: cannot convert %T to bool", raw)
	}
}

func (c *Config) GetDuration(path string) (time.Duration, bool, error) {
	raw, ok := c.Get(path)
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case time.Duration:
		return v, true, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		return d, true, err
	case int:
		return time.Duration(v), true, nil
	case int64:
		return time.Duration(v), true, nil
	default:
		return 0, true, fmt.Errorf("config: cannot convert %T to duration", raw)
	}
}

func (c *Config) GetStringOrDef(path, def string) string {
	if v, ok := c.GetString(path); ok {
		return v
	}
	return def
}

func (c *Config) GetIntOrDef(path string, def int) int {
	if v, ok, err := c.GetInt(path); ok && err == nil {
		return v
	}
	return def
}

func (c *Config) GetBoolOrDef(path string, def bool) bool {
	if v, ok, err := c.GetBool(path); ok && err == nil {
		return v
	}
	return def
}

func (c *Config) GetDurationOrDef(path string, def time.Duration) time.Duration {
	if v, ok, err := c.GetDuration(path); ok && err == nil {
		return v
	}
	return def
}

// Unmarshal decodes the subtree at path (everything when empty) into target
// using koanf struct tags. Durations may be given as strings.
func (c *Config) Unmarshal(path string, target any) error {
	if target == nil {
		return fmt.Errorf("config: nil target")
	}
	c.mu.RLock()
	var raw map[string]any
	if path == "" {
		raw = c.k.Raw()
	} else {
		raw = c.k.Cut(normalise(path)).Raw()
	}
	c.mu.RUnlock()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "koanf",
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("config: decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

func normalise(path string) string {
	segments := strings.Split(path, ".")
	for i := range segments {
		segments[i] = strings.ToLower(strings.TrimSpace(segments[i]))
	}
	return strings.Join(segments, ".")
}

func lowerKeys(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if nested, ok := v.(map[string]any); ok {
			v = lowerKeys(nested)
		}
		out[normalise(k)] = v
	}
	return out
}
