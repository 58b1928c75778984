// Package golden compares test output against files under testdata and
// rewrites them on demand.
//
// Large rendered output, reports, generated code, JSON payloads, does
// not belong in string literals inside tests. A golden file keeps the
// expected bytes next to the test where a reviewer can read them and a
// diff shows exactly what changed. The -update flag closes the loop:
// when output changes on purpose, rerun the tests with -update and
// commit the rewritten files, so the review shows the output change
// itself rather than an edited literal.
//
// Mismatches are reported with a go-cmp diff rather than two full
// dumps, because a reviewer needs the three changed lines, not six
// hundred unchanged ones.
//
// Skill metadata:
//
//	name: golden-files
//	category: testing
//	tags: golden, testdata, go-cmp, update-flag
//	level: beginner
package golden

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var update = flag.Bool("update", false, "rewrite golden files with current test output")

// Update reports whether this run rewrites golden files.
func Update() bool { return *update }

// Path locates name under the package's testdata directory.
func Path(name string) string { return filepath.Join("testdata", name) }

// Assert compares got against the golden file name, rewriting it when
// -update is set.
func Assert(t *testing.T, name string, got []byte) {
	t.Helper()
	path := Path(name)

	if *update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("prepare %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			t.Fatalf("rewrite %s: %v", path, err)
		}
		t.Logf("rewrote %s (%d bytes)", path, len(got))
		return
	}

	want, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v (create it with -update)", path, err)
	}
	if diff := cmp.Diff(string(want), string(got)); diff != "" {
		t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
	}
}

// AssertString is Assert for text output.
func AssertString(t *testing.T, name, got string) {
	t.Helper()
	Assert(t, name, []byte(got))
}

// AssertJSON renders v as indented JSON and compares it against the
// golden file name. Indented form keeps the committed file reviewable.
func AssertJSON(t *testing.T, name string, v any) {
	t.Helper()
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal for %s: %v", name, err)
	}
	Assert(t, name, append(out, '\n'))
}
