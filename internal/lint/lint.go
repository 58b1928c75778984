// Package lint checks the structural health of a skill collection.
//
// Where the catalog fails hard on the first bad skill, lint walks the whole
// tree and reports every problem it finds, so a contributor fixing one
// skill sees all of its defects at once. The rule set is the collection's
// definition of "well-formed": parseable source, a descriptive header, a
// complete metadata block, category agreement with the manifest, no
// imports between skills, and a test file per skill.
package lint

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/yonatangross/skillforge/internal/logging"
	"github.com/yonatangross/skillforge/internal/manifest"
	"github.com/yonatangross/skillforge/internal/skill"
)

// Rule names, one per structural check.
const (
	RuleParses     = "parses"
	RuleHeader     = "header"
	RuleMetadata   = "metadata"
	RuleCategory   = "category"
	RuleStandalone = "standalone"
	RuleTested     = "tested"
)

// Severity classifies a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one reported problem.
type Finding struct {
	// Rule is the rule name that produced the finding.
	Rule string

	// Severity is error or warning.
	Severity Severity

	// Dir is the skill directory, or empty for collection-level findings.
	Dir string

	// File is the offending file within Dir when the rule can name one.
	File string

	// Message describes the problem.
	Message string
}

// String renders a finding the way compilers render diagnostics.
func (f Finding) String() string {
	pos := f.Dir
	if f.File != "" {
		pos = pos + "/" + f.File
	}
	if pos == "" {
		pos = "collection"
	}
	return fmt.Sprintf("%s: %s: %s: %s", pos, f.Severity, f.Rule, f.Message)
}

// Config tunes the linter.
type Config struct {
	// MinSummaryLen is the minimum length of the header summary sentence.
	MinSummaryLen int

	// RequireTests makes a missing _test.go file a finding.
	RequireTests bool

	// Strict makes warnings count against Report.OK.
	Strict bool
}

// DefaultConfig returns the settings the collection itself is held to.
func DefaultConfig() Config {
	return Config{
		MinSummaryLen: 20,
		RequireTests:  true,
		Strict:        false,
	}
}

// Linter runs the rule set over a collection file system.
type Linter struct {
	cfg Config
	log *zap.Logger
}

// Option configures New.
type Option func(*Linter)

// WithLogger routes lint logging to log.
func WithLogger(log *zap.Logger) Option {
	return func(l *Linter) { l.log = log }
}

// New returns a Linter with the given config.
func New(cfg Config, opts ...Option) *Linter {
	l := &Linter{cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logging.Named(l.log, logging.SubsystemLint)
	return l
}

// Report is the outcome of one lint run.
type Report struct {
	Findings []Finding

	strict bool
}

// OK reports whether the collection is healthy: no errors, and no warnings
// when the linter ran strict.
func (r *Report) OK() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError || r.strict {
			return false
		}
	}
	return true
}

// Errors returns the error-severity findings.
func (r *Report) Errors() []Finding {
	return r.filter(SeverityError)
}

// Warnings returns the warning-severity findings.
func (r *Report) Warnings() []Finding {
	return r.filter(SeverityWarning)
}

func (r *Report) filter(sev Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// String renders every finding, one per line.
func (r *Report) String() string {
	if len(r.Findings) == 0 {
		return "ok"
	}
	lines := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}

// Run lints the collection in fsys against the declared manifest. The
// returned error covers only filesystem-level failures; every structural
// problem lands in the report instead.
func (l *Linter) Run(fsys fs.FS, m *manifest.Manifest) (*Report, error) {
	dirs, err := skill.Dirs(fsys)
	if err != nil {
		return nil, err
	}

	r := &Report{strict: l.cfg.Strict}
	byName := make(map[string]string) // skill name -> first dir seen
	byCategory := make(map[string]int)

	for _, dir := range dirs {
		s, err := skill.ParseDir(fsys, dir)
		if err != nil {
			r.add(parseFinding(dir, err))
			continue
		}

		l.checkHeader(r, s)
		l.checkMetadata(r, s, byName)
		l.checkCategory(r, s, m)
		l.checkStandalone(r, s)
		l.checkTested(r, s)
		byCategory[s.Category]++
	}

	if m != nil {
		for _, c := range m.Categories {
			if byCategory[c.Name] == 0 {
				r.add(Finding{
					Rule:     RuleCategory,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("manifest category %q has no skills", c.Name),
				})
			}
		}
	}

	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Dir != b.Dir {
			return a.Dir < b.Dir
		}
		return a.Rule < b.Rule
	})

	l.log.Info("lint finished",
		zap.Int("skills", len(dirs)),
		zap.Int("errors", len(r.Errors())),
		zap.Int("warnings", len(r.Warnings())))
	return r, nil
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// parseFinding maps a ParseDir failure onto the rule that owns it.
func parseFinding(dir string, err error) Finding {
	rule := RuleParses
	switch {
	case errors.Is(err, skill.ErrNoHeader), errors.Is(err, skill.ErrMultipleHeaders):
		rule = RuleHeader
	case errors.Is(err, skill.ErrNoMetadata), errors.Is(err, skill.ErrMetadata):
		rule = RuleMetadata
	}
	return Finding{
		Rule:     rule,
		Severity: SeverityError,
		Dir:      dir,
		Message:  err.Error(),
	}
}

func (l *Linter) checkHeader(r *Report, s *skill.Skill) {
	want := "Package " + s.Package + " "
	if !strings.HasPrefix(s.Doc, want) {
		r.add(Finding{
			Rule:     RuleHeader,
			Severity: SeverityError,
			Dir:      s.Dir,
			Message:  fmt.Sprintf("doc comment must begin %q", want),
		})
		return
	}
	if len(s.Summary) < l.cfg.MinSummaryLen {
		r.add(Finding{
			Rule:     RuleHeader,
			Severity: SeverityWarning,
			Dir:      s.Dir,
			Message:  fmt.Sprintf("summary %q is shorter than %d characters", s.Summary, l.cfg.MinSummaryLen),
		})
	}
}

func (l *Linter) checkMetadata(r *Report, s *skill.Skill, byName map[string]string) {
	if !skill.ValidName(s.Name) {
		r.add(Finding{
			Rule:     RuleMetadata,
			Severity: SeverityError,
			Dir:      s.Dir,
			Message:  fmt.Sprintf("name %q is not kebab-case", s.Name),
		})
	}
	if prev, dup := byName[s.Name]; dup {
		r.add(Finding{
			Rule:     RuleMetadata,
			Severity: SeverityError,
			Dir:      s.Dir,
			Message:  fmt.Sprintf("name %q already used by %s", s.Name, prev),
		})
	} else {
		byName[s.Name] = s.Dir
	}
	if !skill.ValidLevel(s.Level) {
		r.add(Finding{
			Rule:     RuleMetadata,
			Severity: SeverityWarning,
			Dir:      s.Dir,
			Message:  fmt.Sprintf("level %q is not one of %v", s.Level, skill.Levels),
		})
	}
}

func (l *Linter) checkCategory(r *Report, s *skill.Skill, m *manifest.Manifest) {
	if dirCat := skill.CategoryOf(s.Dir); s.Category != dirCat {
		r.add(Finding{
			Rule:     RuleCategory,
			Severity: SeverityError,
			Dir:      s.Dir,
			Message:  fmt.Sprintf("metadata category %q does not match directory %q", s.Category, dirCat),
		})
	}
	if m == nil {
		return
	}
	if _, ok := m.Category(s.Category); !ok {
		r.add(Finding{
			Rule:     RuleCategory,
			Severity: SeverityError,
			Dir:      s.Dir,
			Message:  fmt.Sprintf("category %q is not declared in the manifest", s.Category),
		})
	}
}

func (l *Linter) checkStandalone(r *Report, s *skill.Skill) {
	for _, f := range s.Files {
		for _, imp := range f.Imports {
			if imp == s.ImportPath {
				// An external test package importing its own skill is
				// not a cross-skill dependency.
				continue
			}
			if imp == skill.ModulePath || strings.HasPrefix(imp, skill.ModulePath+"/") {
				r.add(Finding{
					Rule:     RuleStandalone,
					Severity: SeverityError,
					Dir:      s.Dir,
					File:     f.Name,
					Message:  fmt.Sprintf("imports %s; skills must stand alone", imp),
				})
			}
		}
	}
}

func (l *Linter) checkTested(r *Report, s *skill.Skill) {
	if !l.cfg.RequireTests {
		return
	}
	if !s.HasTests() {
		r.add(Finding{
			Rule:     RuleTested,
			Severity: SeverityError,
			Dir:      s.Dir,
			Message:  "no _test.go file",
		})
	}
}
