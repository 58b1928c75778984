// Package skill defines the skill model and parses skill packages from
// source. A skill is one self-contained Go package whose doc header plays
// the role the docstring plays in other ecosystems: a description of the
// pattern, when to use it, and a small metadata block the catalog indexes.
//
// The header convention every skill follows:
//
//	// Package cacheaside implements ... (summary sentence)
//	//
//	// ... prose: intent, use when / avoid when, key decisions ...
//	//
//	// Skill metadata:
//	//
//	//	name: cache-aside
//	//	category: caching
//	//	tags: cache, lru, stampede
//	//	level: intermediate
//	package cacheaside
//
// The metadata block is ordinary godoc (an indented verbatim section), so
// the rendered documentation and the machine-readable index never drift
// apart.
package skill

import (
	"errors"
	"fmt"
	"go/doc"
	"go/parser"
	"go/token"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ModulePath is this module's import path prefix. Skills must never import
// anything under it: each skill stands alone.
const ModulePath = "github.com/yonatangross/skillforge"

// Root is the directory under the collection root that holds skill
// packages, laid out as Root/<category>/<package>/.
const Root = "skills"

// metadataHeading introduces the metadata block inside a doc header.
const metadataHeading = "Skill metadata:"

// Levels are the accepted values for the "level" metadata key.
var Levels = []string{"beginner", "intermediate", "advanced"}

var (
	// ErrNoGoFiles is returned for a directory containing no Go source.
	ErrNoGoFiles = errors.New("no Go files in skill directory")

	// ErrNoHeader is returned when no non-test file carries a package doc
	// comment.
	ErrNoHeader = errors.New("skill has no package doc header")

	// ErrMultipleHeaders is returned when more than one file carries a
	// package doc comment; a skill keeps a single source of truth.
	ErrMultipleHeaders = errors.New("skill has package doc headers in multiple files")

	// ErrNoMetadata is returned when the doc header lacks a
	// "Skill metadata:" block.
	ErrNoMetadata = errors.New("doc header has no Skill metadata block")

	// ErrMetadata wraps every malformed-metadata error so callers can
	// classify them without matching message text.
	ErrMetadata = errors.New("invalid skill metadata")
)

var kebabCase = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Skill is one entry of the collection: a parsed, self-contained reference
// package teaching a single backend pattern.
type Skill struct {
	// Name is the unique kebab-case identifier from the metadata block,
	// e.g. "cache-aside". It is what assistants and searches key on.
	Name string

	// Category is the collection category the skill belongs to. It must
	// match the skill's parent directory and a manifest category.
	Category string

	// Tags are lowercase search keywords from the metadata block.
	Tags []string

	// Level is one of Levels; defaults to "intermediate" when omitted.
	Level string

	// Summary is the first sentence of the doc header.
	Summary string

	// Doc is the full header text with the metadata block removed.
	Doc string

	// Extra holds metadata keys beyond the well-known set, preserved so
	// downstream tooling can layer conventions without schema changes.
	Extra map[string]string

	// Package is the Go package name of the skill.
	Package string

	// Dir is the slash-separated path of the skill inside the collection
	// file system, e.g. "skills/caching/cacheaside".
	Dir string

	// ImportPath is the full import path of the skill package.
	ImportPath string

	// Files are the parsed Go files of the package, sorted by name.
	Files []File
}

// File describes one parsed Go file of a skill package.
type File struct {
	// Name is the base file name.
	Name string

	// Test reports whether the file is a _test.go file.
	Test bool

	// PackageName is the declared package (test files may use the _test
	// suffix form).
	PackageName string

	// HasHeader reports whether the file carries the package doc comment.
	HasHeader bool

	// Imports are the file's import paths.
	Imports []string
}

// HasTests reports whether any file of the skill is a test file.
func (s *Skill) HasTests() bool {
	for _, f := range s.Files {
		if f.Test {
			return true
		}
	}
	return false
}

// HasTag reports whether the skill carries the given tag.
func (s *Skill) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ValidLevel reports whether level is an accepted metadata level.
func ValidLevel(level string) bool {
	for _, l := range Levels {
		if level == l {
			return true
		}
	}
	return false
}

// ValidName reports whether name is kebab-case.
func ValidName(name string) bool {
	return kebabCase.MatchString(name)
}

// Dirs lists the Root/<category>/<package> directories of fsys, sorted.
func Dirs(fsys fs.FS) ([]string, error) {
	categories, err := fs.ReadDir(fsys, Root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", Root, err)
	}

	var dirs []string
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		catDir := Root + "/" + cat.Name()
		pkgs, err := fs.ReadDir(fsys, catDir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", catDir, err)
		}
		for _, pkg := range pkgs {
			if pkg.IsDir() {
				dirs = append(dirs, catDir+"/"+pkg.Name())
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// CategoryOf extracts the category segment from a skill directory path
// like "skills/caching/cacheaside".
func CategoryOf(dir string) string {
	parts := strings.Split(dir, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// ParseDir parses the skill package rooted at dir within fsys.
//
// All Go files are parsed in full so callers get both the header and the
// per-file import lists; a syntax error in any file fails the whole skill
// with the file position attached.
func ParseDir(fsys fs.FS, dir string) (*Skill, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read skill dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoGoFiles)
	}
	sort.Strings(names)

	s := &Skill{
		Dir:        dir,
		ImportPath: path.Join(ModulePath, dir),
	}

	fset := token.NewFileSet()
	var headerText string
	var headerFiles int

	for _, name := range names {
		full := path.Join(dir, name)
		src, err := fs.ReadFile(fsys, full)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", full, err)
		}

		parsed, err := parser.ParseFile(fset, full, src, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", full, err)
		}

		f := File{
			Name:        name,
			Test:        strings.HasSuffix(name, "_test.go"),
			PackageName: parsed.Name.Name,
			HasHeader:   parsed.Doc != nil && !strings.HasSuffix(name, "_test.go"),
		}
		for _, imp := range parsed.Imports {
			p, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				continue
			}
			f.Imports = append(f.Imports, p)
		}
		s.Files = append(s.Files, f)

		if !f.Test && s.Package == "" {
			s.Package = parsed.Name.Name
		}
		if f.HasHeader {
			headerFiles++
			headerText = parsed.Doc.Text()
		}
	}

	switch {
	case headerFiles == 0:
		return nil, fmt.Errorf("%s: %w", dir, ErrNoHeader)
	case headerFiles > 1:
		return nil, fmt.Errorf("%s: %w", dir, ErrMultipleHeaders)
	}

	meta, body, err := splitHeader(headerText)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if err := decodeMeta(meta, s); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}

	s.Doc = body
	s.Summary = doc.Synopsis(body)
	return s, nil
}

// splitHeader separates the metadata block from the prose of a doc header.
// It returns the raw key/value map and the header text without the block.
func splitHeader(text string) (map[string]string, string, error) {
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == metadataHeading {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, "", ErrNoMetadata
	}

	meta := make(map[string]string)
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		// The block is the indented section following the heading; the
		// first flush-left line ends it.
		if !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " ") {
			end = i
			break
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			return nil, "", fmt.Errorf("%w: line %q is not key: value", ErrMetadata, strings.TrimSpace(line))
		}
		key = strings.TrimSpace(key)
		if _, dup := meta[key]; dup {
			return nil, "", fmt.Errorf("%w: duplicate key %q", ErrMetadata, key)
		}
		meta[key] = strings.TrimSpace(value)
	}

	body := strings.TrimSpace(strings.Join(append(append([]string{}, lines[:start]...), lines[end:]...), "\n"))
	return meta, body, nil
}

// decodeMeta maps the raw metadata onto the skill, applying defaults and
// collecting unknown keys into Extra.
func decodeMeta(raw map[string]string, s *Skill) error {
	var out struct {
		Name     string   `mapstructure:"name"`
		Category string   `mapstructure:"category"`
		Tags     []string `mapstructure:"tags"`
		Level    string   `mapstructure:"level"`
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToSliceHookFunc(","),
		Metadata:   &md,
		Result:     &out,
	})
	if err != nil {
		return fmt.Errorf("metadata decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMetadata, err)
	}

	if out.Name == "" {
		return fmt.Errorf("%w: missing key: name", ErrMetadata)
	}
	if out.Category == "" {
		return fmt.Errorf("%w: missing key: category", ErrMetadata)
	}
	if len(out.Tags) == 0 {
		return fmt.Errorf("%w: missing key: tags", ErrMetadata)
	}
	if out.Level == "" {
		out.Level = "intermediate"
	}

	s.Name = out.Name
	s.Category = out.Category
	s.Level = out.Level
	s.Tags = make([]string, 0, len(out.Tags))
	for _, t := range out.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			s.Tags = append(s.Tags, t)
		}
	}

	if len(md.Unused) > 0 {
		s.Extra = make(map[string]string, len(md.Unused))
		for _, k := range md.Unused {
			s.Extra[k] = raw[k]
		}
	}
	return nil
}
