// Package manifest loads and validates the collection manifest.
//
// The manifest (skillforge.yaml at the collection root) names the
// collection and declares its categories. Every skill on disk must land in
// a declared category, and every declared category must hold at least one
// skill; the lint rules enforce both directions against this file.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yonatangross/skillforge/internal/skill"
)

// DefaultFile is the manifest file name at the collection root.
const DefaultFile = "skillforge.yaml"

var version = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Manifest describes the collection as a whole.
type Manifest struct {
	// Name is the collection name.
	Name string `yaml:"name"`

	// Version is the collection version, plain major.minor.patch.
	Version string `yaml:"version"`

	// Description is a short free-form description.
	Description string `yaml:"description"`

	// Categories declares the category set in display order.
	Categories []Category `yaml:"categories"`
}

// Category is one declared skill category.
type Category struct {
	// Name is the kebab-case directory name under skills/.
	Name string `yaml:"name"`

	// Title is the human display title.
	Title string `yaml:"title"`

	// Description says what patterns the category collects.
	Description string `yaml:"description"`
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads the manifest file name from fsys.
func Load(fsys fs.FS, name string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}
	return Parse(data)
}

// Validate checks structural rules: required fields, kebab-case category
// names, titled and described categories, no duplicates.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.New("manifest: name is required")
	}
	if m.Version == "" {
		return errors.New("manifest: version is required")
	}
	if !version.MatchString(m.Version) {
		return fmt.Errorf("manifest: version %q is not major.minor.patch", m.Version)
	}
	if len(m.Categories) == 0 {
		return errors.New("manifest: at least one category is required")
	}

	seen := make(map[string]bool, len(m.Categories))
	for _, c := range m.Categories {
		if c.Name == "" {
			return errors.New("manifest: category with empty name")
		}
		if !skill.ValidName(c.Name) {
			return fmt.Errorf("manifest: category name %q is not kebab-case", c.Name)
		}
		if c.Title == "" {
			return fmt.Errorf("manifest: category %q has no title", c.Name)
		}
		if c.Description == "" {
			return fmt.Errorf("manifest: category %q has no description", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("manifest: duplicate category %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Category returns the declared category by name.
func (m *Manifest) Category(name string) (Category, bool) {
	for _, c := range m.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// CategoryNames returns the declared category names, sorted.
func (m *Manifest) CategoryNames() []string {
	names := make([]string, 0, len(m.Categories))
	for _, c := range m.Categories {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
