// Package skillforge ships a curated collection of backend-pattern
// reference skills and the machinery to load, search, and validate it.
//
// A skill is a small self-contained Go package under skills/<category>/
// whose doc header describes the pattern (intent, trade-offs, usage) and
// carries a "Skill metadata:" block the catalog indexes. Skills are meant
// to be read and copy-adapted, by people or by coding assistants; the
// collection never executes them.
//
// The collection tree is embedded, so consumers get catalog and search
// without touching the filesystem:
//
//	cat, err := skillforge.Load()
//	if err != nil { ... }
//	for _, hit := range cat.Search("rate limit", 5) {
//		fmt.Println(hit.Skill.Name, hit.Skill.Summary)
//	}
package skillforge

import (
	"embed"
	"io/fs"

	"github.com/yonatangross/skillforge/internal/catalog"
	"github.com/yonatangross/skillforge/internal/lint"
	"github.com/yonatangross/skillforge/internal/manifest"
)

//go:embed skills skillforge.yaml
var collection embed.FS

// Files returns the embedded collection tree: the manifest at the root and
// every skill package under skills/.
func Files() fs.FS {
	return collection
}

// ManifestBytes returns the raw embedded manifest document.
func ManifestBytes() []byte {
	data, err := collection.ReadFile(manifest.DefaultFile)
	if err != nil {
		// The manifest is embedded at build time; failing to read it
		// means the binary itself is broken.
		panic(err)
	}
	return data
}

// Manifest parses the embedded manifest.
func Manifest() (*manifest.Manifest, error) {
	return manifest.Parse(ManifestBytes())
}

// Load builds the catalog from the embedded collection.
func Load(opts ...catalog.Option) (*catalog.Catalog, error) {
	return catalog.Load(collection, opts...)
}

// Lint runs the structural rule set over the embedded collection with the
// given config.
func Lint(cfg lint.Config, opts ...lint.Option) (*lint.Report, error) {
	m, err := Manifest()
	if err != nil {
		return nil, err
	}
	return lint.New(cfg, opts...).Run(collection, m)
}
