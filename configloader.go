package repoctx

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
)

var defaultConfigPaths = []string{
	"repoctx.yaml",
	"repoctx.yml",
	"config.yaml",
	"config.yml",
	"config/config.yaml",
	"config/config.yml",
}

// LoadConfig builds a Config from, in order, a YAML file, environment
// variables under envNamespace and --key=value arguments. Later sources win.
func LoadConfig(envNamespace string, args []string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.LoadSources(envNamespace, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSources overlays the external sources onto the receiver. The file is
// the --config argument, then <NAMESPACE>_CONFIG, then the first default path
// that exists. Variable and argument names are matched against keys already
// present, so REPOCTX_PROVIDER_MONGO_CONNECT_TIMEOUT sets
// provider.mongo.connect_timeout once defaults are loaded; unknown names turn
// every underscore into a dot.
func (c *Config) LoadSources(envNamespace string, args []string) error {
	prefix := ""
	if envNamespace != "" {
		prefix = strings.ToUpper(strings.TrimSuffix(envNamespace, "_")) + "_"
	}
	flags := parseArgs(args)

	if path, ok := configFile(prefix, flags); ok {
		if err := c.MergeYAMLFile(path); err != nil {
			return err
		}
	}

	known := c.flatKeys()
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix != "" {
		transform := func(name string) string {
			return resolveKey(strings.ToLower(strings.TrimPrefix(name, prefix)), known)
		}
		if err := c.k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
			return fmt.Errorf("config: loading env: %w", err)
		}
	}

	if len(flags) > 0 {
		values := make(map[string]any, len(flags))
		for name, value := range flags {
			if name == "config" {
				continue
			}
			values[resolveKey(name, known)] = value
		}
		if err := c.k.Load(confmap.Provider(values, "."), nil); err != nil {
			return fmt.Errorf("config: loading args: %w", err)
		}
	}
	return nil
}

// flatKeys indexes existing keys by their underscore spelling.
func (c *Config) flatKeys() map[string]string {
	keys := c.Keys()
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[strings.ReplaceAll(key, ".", "_")] = key
	}
	return out
}

func resolveKey(name string, known map[string]string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if strings.Contains(name, ".") {
		return name
	}
	if key, ok := known[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "_", ".")
}

func configFile(prefix string, flags map[string]string) (string, bool) {
	if path := flags["config"]; path != "" {
		return path, true
	}
	if prefix != "" {
		if path := os.Getenv(prefix + "CONFIG"); path != "" {
			return path, true
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// parseArgs reads --key=value and --key value pairs. A bare --flag is "true".
func parseArgs(args []string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || len(arg) <= 2 {
			continue
		}
		key := strings.TrimPrefix(arg, "--")
		if name, value, ok := strings.Cut(key, "="); ok {
			out[name] = value
			continue
		}
		value := "true"
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			value = args[i+1]
			i++
		}
		out[key] = value
	}
	return out
}
