// Package fuzzseeds runs property checks over randomized inputs without
// giving up reproducibility.
//
// Unseeded randomness in tests produces failures nobody can replay,
// which is worse than no fuzzing at all. Each derives every input from
// an explicit seed: the default corpus is fixed, so CI is
// deterministic, and when a property fails the harness names the seed
// so the exact input can be replayed with one environment variable.
// Pinned turns those formerly failing seeds into a permanent regression
// corpus, the same way a fixed bug earns a unit test.
//
// The property receives a gofuzz Fuzzer already bound to the seed and
// configures it per check, with NilChance and NumElements, before
// filling values.
//
// Skill metadata:
//
//	name: fuzz-seeds
//	category: testing
//	tags: gofuzz, property-testing, seeds, reproducibility
//	level: intermediate
package fuzzseeds

import (
	"os"
	"strconv"
	"testing"

	fuzz "github.com/google/gofuzz"
)

// EnvSeed replays a single seed: FUZZSEED=42 go test -run TestX.
const EnvSeed = "FUZZSEED"

// baseSeed keeps the default corpus identical on every run.
const baseSeed = 1

// Each checks property against count seeded fuzzers. On failure it
// reports the seed to replay. With EnvSeed set it runs exactly that
// seed.
func Each(t *testing.T, count int, property func(f *fuzz.Fuzzer)) {
	t.Helper()

	if raw := os.Getenv(EnvSeed); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			t.Fatalf("%s=%q is not an integer seed", EnvSeed, raw)
		}
		t.Logf("replaying single seed %d", seed)
		property(fuzz.NewWithSeed(seed))
		return
	}

	for i := 0; i < count; i++ {
		seed := int64(baseSeed + i)
		property(fuzz.NewWithSeed(seed))
		if t.Failed() {
			t.Fatalf("property failed at seed %d; replay with %s=%d", seed, EnvSeed, seed)
		}
	}
}

// Pinned checks property against seeds that once exposed bugs, so a
// regression reopens the original report instead of hiding behind new
// randomness.
func Pinned(t *testing.T, property func(f *fuzz.Fuzzer), seeds ...int64) {
	t.Helper()

	for _, seed := range seeds {
		property(fuzz.NewWithSeed(seed))
		if t.Failed() {
			t.Fatalf("pinned seed %d regressed", seed)
		}
	}
}
