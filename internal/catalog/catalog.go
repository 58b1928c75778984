// Package catalog loads the skill collection into memory and answers
// lookup and search queries over it.
//
// The catalog is built once from a file system (the embedded collection in
// normal use, a fstest.MapFS in tests) and is immutable afterwards; all
// methods are safe for concurrent use.
package catalog

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/yonatangross/skillforge/internal/logging"
	"github.com/yonatangross/skillforge/internal/manifest"
	"github.com/yonatangross/skillforge/internal/skill"
)

// Catalog is the loaded, indexed collection.
type Catalog struct {
	manifest *manifest.Manifest
	skills   []*skill.Skill
	byName   map[string]*skill.Skill
	index    map[string]*searchDoc
	log      *zap.Logger
}

// searchDoc is the per-skill view the scorer reads: lowercased fields and
// token sets, computed once at load.
type searchDoc struct {
	nameTokens map[string]bool
	tags       map[string]bool
	category   string
	summary    string
	body       string
}

// Option configures Load.
type Option func(*options)

type options struct {
	log          *zap.Logger
	manifestFile string
}

// WithLogger routes catalog logging to log.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithManifestFile overrides the manifest file name at the collection root.
func WithManifestFile(name string) Option {
	return func(o *options) { o.manifestFile = name }
}

// Load reads the manifest and every skill package under SkillsDir from
// fsys and returns the indexed catalog.
//
// Load is strict: a skill that fails to parse, a duplicate skill name, a
// category not declared in the manifest, or a category that disagrees with
// the skill's directory all fail the load. The lint package reports the
// same conditions as findings instead of errors.
func Load(fsys fs.FS, opts ...Option) (*Catalog, error) {
	o := options{manifestFile: manifest.DefaultFile}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.Named(o.log, logging.SubsystemCatalog)

	m, err := manifest.Load(fsys, o.manifestFile)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		manifest: m,
		byName:   make(map[string]*skill.Skill),
		index:    make(map[string]*searchDoc),
		log:      log,
	}

	dirs, err := skill.Dirs(fsys)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		s, err := skill.ParseDir(fsys, dir)
		if err != nil {
			return nil, err
		}
		if prev, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate skill name %q in %s and %s", s.Name, prev.Dir, s.Dir)
		}
		if got, want := s.Category, skill.CategoryOf(dir); got != want {
			return nil, fmt.Errorf("%s: metadata category %q does not match directory %q", dir, got, want)
		}
		if _, ok := m.Category(s.Category); !ok {
			return nil, fmt.Errorf("%s: category %q is not declared in the manifest", dir, s.Category)
		}

		c.skills = append(c.skills, s)
		c.byName[s.Name] = s
		c.index[s.Name] = newSearchDoc(s)
		log.Debug("loaded skill",
			zap.String("name", s.Name),
			zap.String("category", s.Category),
			zap.Int("files", len(s.Files)))
	}

	sort.Slice(c.skills, func(i, j int) bool {
		a, b := c.skills[i], c.skills[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Name < b.Name
	})

	log.Info("catalog loaded",
		zap.Int("skills", len(c.skills)),
		zap.Int("categories", len(m.Categories)))
	return c, nil
}

// Manifest returns the collection manifest.
func (c *Catalog) Manifest() *manifest.Manifest { return c.manifest }

// Len returns the number of skills.
func (c *Catalog) Len() int { return len(c.skills) }

// List returns all skills ordered by category then name.
func (c *Catalog) List() []*skill.Skill {
	out := make([]*skill.Skill, len(c.skills))
	copy(out, c.skills)
	return out
}

// Get returns the skill with the given name.
func (c *Catalog) Get(name string) (*skill.Skill, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// ByCategory returns the skills of one category, ordered by name.
func (c *Catalog) ByCategory(category string) []*skill.Skill {
	var out []*skill.Skill
	for _, s := range c.skills {
		if s.Category == category {
			out = append(out, s)
		}
	}
	return out
}

// ByTag returns the skills carrying the given tag, ordered by category
// then name.
func (c *Catalog) ByTag(tag string) []*skill.Skill {
	var out []*skill.Skill
	for _, s := range c.skills {
		if s.HasTag(tag) {
			out = append(out, s)
		}
	}
	return out
}

// CategoryInfo pairs a declared category with its skill count.
type CategoryInfo struct {
	manifest.Category
	Count int
}

// Categories returns the declared categories in manifest order with their
// skill counts.
func (c *Catalog) Categories() []CategoryInfo {
	out := make([]CategoryInfo, 0, len(c.manifest.Categories))
	for _, mc := range c.manifest.Categories {
		out = append(out, CategoryInfo{
			Category: mc,
			Count:    len(c.ByCategory(mc.Name)),
		})
	}
	return out
}

// Stats summarizes the collection.
type Stats struct {
	Skills     int
	Categories int
	Tags       int
	ByLevel    map[string]int
}

// Stats computes collection-wide counts.
func (c *Catalog) Stats() Stats {
	tags := make(map[string]bool)
	byLevel := make(map[string]int)
	for _, s := range c.skills {
		for _, t := range s.Tags {
			tags[t] = true
		}
		byLevel[s.Level]++
	}
	return Stats{
		Skills:     len(c.skills),
		Categories: len(c.manifest.Categories),
		Tags:       len(tags),
		ByLevel:    byLevel,
	}
}

// Search weights, tuned so a name hit always outranks prose hits.
// weightNameExact is a flat bonus applied when the whole query equals the
// skill name.
const (
	weightNameExact = 5.0
	weightNameToken = 3.0
	weightTag       = 2.0
	weightCategory  = 2.0
	weightSummary   = 1.0
	weightBody      = 0.5

	// multiTermBoost rewards skills matched by several query terms over
	// skills matched strongly by one.
	multiTermBoost = 0.2
)

// Result is one search hit.
type Result struct {
	Skill *skill.Skill
	Score float64
}

// Search ranks skills against a free-text query. Results come back in
// descending score order, ties broken by name; limit <= 0 returns all
// matches.
func (c *Catalog) Search(query string, limit int) []Result {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	qnorm := strings.ToLower(strings.TrimSpace(query))
	var out []Result
	for _, s := range c.skills {
		score, matched := c.score(s, terms)
		if matched == 0 && s.Name != qnorm {
			continue
		}
		if matched > 1 {
			score *= 1 + multiTermBoost*float64(matched-1)
		}
		if s.Name == qnorm {
			score += weightNameExact
		}
		out = append(out, Result{Skill: s, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Skill.Name < out[j].Skill.Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	c.log.Debug("search",
		zap.String("query", query),
		zap.Int("hits", len(out)))
	return out
}

// score sums field weights for every term that hits the skill and reports
// how many distinct terms hit.
func (c *Catalog) score(s *skill.Skill, terms []string) (float64, int) {
	d := c.index[s.Name]
	var score float64
	var matched int
	for _, term := range terms {
		var hit float64
		if d.nameTokens[term] {
			hit += weightNameToken
		}
		if d.tags[term] {
			hit += weightTag
		}
		if d.category == term {
			hit += weightCategory
		}
		if strings.Contains(d.summary, term) {
			hit += weightSummary
		}
		if strings.Contains(d.body, term) {
			hit += weightBody
		}
		if hit > 0 {
			matched++
			score += hit
		}
	}
	return score, matched
}

func newSearchDoc(s *skill.Skill) *searchDoc {
	d := &searchDoc{
		nameTokens: make(map[string]bool),
		tags:       make(map[string]bool),
		category:   strings.ToLower(s.Category),
		summary:    strings.ToLower(s.Summary),
		body:       strings.ToLower(s.Doc),
	}
	for _, t := range tokenize(s.Name) {
		d.nameTokens[t] = true
	}
	for _, t := range s.Tags {
		d.tags[t] = true
	}
	return d
}

// tokenize lowercases s and splits it on every non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
