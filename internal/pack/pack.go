// Package pack loads action and pack metadata from a packs directory laid
// out as <base>/<pack>/actions/<action>.yaml with an optional
// <base>/<pack>/config.yaml holding the pack's static configuration and an
// optional <base>/<pack>/config.schema.yaml declaring its config keys.
package pack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deixis/actionrunner/internal/action"
	"gopkg.in/yaml.v3"
)

// Pack configuration files.
const (
	ConfigFile       = "config.yaml"
	ConfigSchemaFile = "config.schema.yaml"
)

// SchemaEntry declares one pack config key.
type SchemaEntry struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Default     any    `yaml:"default"`
	Required    bool   `yaml:"required"`
	Secret      bool   `yaml:"secret"`
}

// Loader reads pack metadata from Base.
type Loader struct {
	Base string
}

// Dir returns the absolute directory of pack, or ErrPackUnresolvable.
func (l *Loader) Dir(pack string) (string, error) {
	if pack == "" || strings.ContainsAny(pack, `/\`) || pack == "." || pack == ".." {
		return "", fmt.Errorf("pack %q: %w", pack, action.ErrPackUnresolvable)
	}
	base, err := filepath.Abs(l.Base)
	if err != nil {
		return "", fmt.Errorf("resolving packs base: %w", err)
	}
	dir := filepath.Join(base, pack)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("pack %q: %w", pack, action.ErrPackUnresolvable)
	}
	return dir, nil
}

// Action loads the descriptor for ref ("pack.action") together with the
// pack's static configuration.
func (l *Loader) Action(ref string) (*action.Descriptor, error) {
	packName, name, err := action.SplitRef(ref)
	if err != nil {
		return nil, err
	}
	dir, err := l.Dir(packName)
	if err != nil {
		return nil, err
	}

	path, err := metadataPath(dir, name)
	if err != nil {
		return nil, err
	}
	d, err := readDescriptor(path)
	if err != nil {
		return nil, err
	}
	if d.Name == "" {
		d.Name = name
	}
	if d.Pack == "" {
		d.Pack = packName
	}
	if d.Pack != packName {
		return nil, fmt.Errorf("action %s declares pack %q", ref, d.Pack)
	}
	d.PackDir = dir

	cfg, err := l.Config(packName)
	if err != nil {
		return nil, err
	}
	d.PackConfig = cfg
	return d, nil
}

// Actions lists the action references of pack, sorted.
func (l *Loader) Actions(pack string) ([]string, error) {
	dir, err := l.Dir(pack)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, "actions"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing actions of %s: %w", pack, err)
	}
	var refs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		refs = append(refs, pack+"."+strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(refs)
	return refs, nil
}

// Config reads the pack's static configuration. Keys declared in the
// schema but absent from config.yaml are added with their default, or nil,
// so datastore overrides can be resolved for them. Missing files yield an
// empty mapping.
func (l *Loader) Config(pack string) (map[string]any, error) {
	dir, err := l.Dir(pack)
	if err != nil {
		return nil, err
	}
	cfg := map[string]any{}
	if err := readYAML(filepath.Join(dir, ConfigFile), &cfg); err != nil {
		return nil, fmt.Errorf("config of pack %s: %w", pack, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}

	schema, err := l.Schema(pack)
	if err != nil {
		return nil, err
	}
	for key, entry := range schema {
		if _, ok := cfg[key]; !ok {
			cfg[key] = entry.Default
		}
	}
	return cfg, nil
}

// Schema reads the pack's config schema. A missing file yields nil.
func (l *Loader) Schema(pack string) (map[string]SchemaEntry, error) {
	dir, err := l.Dir(pack)
	if err != nil {
		return nil, err
	}
	var schema map[string]SchemaEntry
	if err := readYAML(filepath.Join(dir, ConfigSchemaFile), &schema); err != nil {
		return nil, fmt.Errorf("config schema of pack %s: %w", pack, err)
	}
	return schema, nil
}

// readYAML decodes path into v. A missing file leaves v untouched.
func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func metadataPath(dir, name string) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, "actions", name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("action %q not found in %s", name, dir)
}

func readDescriptor(path string) (*action.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	d := &action.Descriptor{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}
