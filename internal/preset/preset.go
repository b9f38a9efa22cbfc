// Package preset loads participant pools from YAML or TOML files and
// simulation scenarios from TOML.
package preset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported preset format")

// Preset is a named participant pool.
type Preset struct {
	Name         string              `yaml:"name" toml:"name"`
	Description  string              `yaml:"description" toml:"description"`
	Participants []wheel.Participant `yaml:"participants" toml:"participants"`
}

// Pool returns the preset's participants as a pool.
func (p *Preset) Pool() wheel.Pool {
	return wheel.Pool(p.Participants).Clone()
}

// normalize fills missing ids from names.
func (p *Preset) normalize() {
	for i := range p.Participants {
		if p.Participants[i].ID == "" {
			p.Participants[i].ID = NameToID(p.Participants[i].Name)
		}
	}
}

// Validate checks that the preset is named and its pool is drawable.
//
// Postcondition: Returns nil iff Name is non-empty and the pool passes
// wheel.Pool.Validate.
func (p *Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset: name must not be empty")
	}
	if err := wheel.Pool(p.Participants).Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return nil
}

// LoadFromBytes parses a preset in the given format ("yaml" or "toml").
//
// Postcondition: Returns a validated *Preset whose participants all have ids.
func LoadFromBytes(data []byte, format string) (*Preset, error) {
	var p Preset
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing preset YAML: %w", err)
		}
	case "toml":
		md, err := toml.Decode(string(data), &p)
		if err != nil {
			return nil, fmt.Errorf("parsing preset TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("preset TOML: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("format %q: %w", format, ErrUnsupportedFormat)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a preset file, choosing the format from its extension.
func Load(path string) (*Preset, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format != "yaml" && format != "yml" && format != "toml" {
		return nil, fmt.Errorf("%q: %w", path, ErrUnsupportedFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	p, err := LoadFromBytes(data, format)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return p, nil
}

// LoadDir reads every preset file in dir, keyed by preset name.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all presets or an error on the first failure or a
// duplicate name.
func LoadDir(dir string) (map[string]*Preset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading preset dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".toml":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	out := make(map[string]*Preset, len(names))
	for _, name := range names {
		p, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("preset %q defined more than once in %q", p.Name, dir)
		}
		out[p.Name] = p
	}
	return out, nil
}

// NameToID converts a display name to a stable snake_case identifier.
//
// Postcondition: result is lowercase, contains only [a-z0-9_], and is
// idempotent (NameToID(NameToID(s)) == NameToID(s)).
func NameToID(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "_")
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
