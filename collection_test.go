package skillforge

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yonatangross/skillforge/internal/lint"
)

// TestCollectionLint holds the shipped collection to its own rules. Every
// skill must parse, carry a descriptive header and metadata, sit in a
// declared category, import nothing from this module, and ship tests.
func TestCollectionLint(t *testing.T) {
	report, err := Lint(lint.DefaultConfig())
	require.NoError(t, err)
	if !report.OK() {
		t.Fatalf("collection fails its own lint:\n%s", report)
	}
	if len(report.Findings) != 0 {
		t.Errorf("collection has findings:\n%s", report)
	}
}

func TestLoad(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	stats := cat.Stats()
	if got, want := stats.Skills, 32; got != want {
		t.Errorf("skill count = %d, want %d", got, want)
	}
	if got, want := stats.Categories, 16; got != want {
		t.Errorf("category count = %d, want %d", got, want)
	}

	for _, ci := range cat.Categories() {
		if ci.Count == 0 {
			t.Errorf("category %s is empty", ci.Name)
		}
	}
}

func TestAnchorSkills(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	anchors := []struct {
		name     string
		category string
	}{
		{"cache-aside", "caching"},
		{"token-bucket", "ratelimit"},
		{"circuit-breaker", "resilience"},
		{"event-store", "eventsourcing"},
		{"saga-orchestrator", "saga"},
		{"jwt-auth", "auth"},
		{"transactional-outbox", "messaging"},
		{"worker-pool", "scheduling"},
		{"config-hot-reload", "config"},
		{"blob-store", "storage"},
		{"idempotency-keys", "idempotency"},
		{"golden-files", "testing"},
	}
	for _, a := range anchors {
		s, ok := cat.Get(a.name)
		if !ok {
			t.Errorf("skill %q missing", a.name)
			continue
		}
		if s.Category != a.category {
			t.Errorf("%s category = %q, want %q", a.name, s.Category, a.category)
		}
		if !strings.HasPrefix(s.Summary, "Package ") {
			t.Errorf("%s summary does not follow godoc form: %q", a.name, s.Summary)
		}
	}
}

func TestSearchEmbedded(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	hits := cat.Search("rate limit", 5)
	require.NotEmpty(t, hits, "rate limit query must hit the ratelimit skills")
	if got := hits[0].Skill.Category; got != "ratelimit" {
		t.Errorf("top hit category = %q, want ratelimit (hit %s)", got, hits[0].Skill.Name)
	}

	hits = cat.Search("transactional-outbox", 1)
	require.Len(t, hits, 1)
	if got, want := hits[0].Skill.Name, "transactional-outbox"; got != want {
		t.Errorf("exact-name query hit %q, want %q", got, want)
	}
}

func TestManifestEmbedded(t *testing.T) {
	m, err := Manifest()
	require.NoError(t, err)
	if got, want := m.Name, "skillforge"; got != want {
		t.Errorf("manifest name = %q, want %q", got, want)
	}
	require.Len(t, m.Categories, 16)
	require.NotEmpty(t, ManifestBytes())
}

func TestFilesTree(t *testing.T) {
	entries, err := fs.ReadDir(Files(), "skills")
	require.NoError(t, err)
	require.Len(t, entries, 16, "one directory per category")
}
