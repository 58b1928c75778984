// Package hotreload implements a watched config file with validate-then-
// swap semantics.
//
// The invariant that matters: a broken edit must never take down a
// running service. Every change is loaded and validated off to the side,
// and only a config that passes completely replaces the live one, by
// swapping an atomic pointer. Readers call Config and get an immutable
// snapshot; they never see a half-written file, a half-applied struct,
// or a torn read. A rejected edit is counted and reported through the
// OnError hook while the last good config stays live.
//
// Two filesystem realities shape the watcher. Editors and atomic writers
// replace files by renaming a temp file over them, which changes the
// inode, so the watch goes on the parent directory with events filtered
// by name. And saves arrive as bursts of events, so reloads are
// debounced rather than fired per event. Unknown YAML keys are rejected
// too; a typoed key otherwise silently configures nothing.
//
// Skill metadata:
//
//	name: config-hot-reload
//	category: config
//	tags: config, fsnotify, yaml, hot-reload, atomic-swap
//	level: advanced
package hotreload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration carried in the watched file.
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	RateLimit int             `yaml:"rate_limit"`
	Features  map[string]bool `yaml:"features"`
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate rejects configs that must not go live.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("hotreload: listen is required")
	}
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("hotreload: unknown log_level %q", c.LogLevel)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("hotreload: rate_limit must be positive, got %d", c.RateLimit)
	}
	return nil
}

// Load reads, decodes and validates one config file. Unknown keys are
// errors.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hotreload: open: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("hotreload: decode %s: %w", filepath.Base(path), err)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Option configures a Watcher.
type Option func(*Watcher)

// OnSwap registers a hook called after each successful swap.
func OnSwap(fn func(old, new *Config)) Option {
	return func(w *Watcher) { w.onSwap = fn }
}

// OnError registers a hook for rejected reloads and watch errors.
func OnError(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// Debounce overrides the burst-coalescing window.
func Debounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// Watcher holds the live config and keeps it fresh from disk.
type Watcher struct {
	path     string
	file     string
	debounce time.Duration

	current atomic.Pointer[Config]
	onSwap  func(old, new *Config)
	onError func(error)

	reloads  atomic.Int64
	rejected atomic.Int64
}

// New loads path once, eagerly; a service must not start on a config it
// has never successfully read.
func New(path string, opts ...Option) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		file:     filepath.Base(path),
		debounce: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current.Store(cfg)
	return w, nil
}

// Config returns the live snapshot. Treat it as read-only; reloads
// replace the pointer, never mutate the struct.
func (w *Watcher) Config() *Config { return w.current.Load() }

// Reloads counts successful swaps.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Rejected counts reloads refused by validation or read errors.
func (w *Watcher) Rejected() int64 { return w.rejected.Load() }

// Run watches the file until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hotreload: watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory, not the file: atomic saves replace the
	// inode and a file watch would go quietly dead.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("hotreload: watch %s: %w", filepath.Dir(w.path), err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != w.file || ev.Op == fsnotify.Chmod {
				continue
			}
			reload = time.After(w.debounce)

		case <-reload:
			reload = nil
			w.apply()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.report(err)
		}
	}
}

func (w *Watcher) apply() {
	cfg, err := Load(w.path)
	if err != nil {
		w.rejected.Add(1)
		w.report(fmt.Errorf("keeping last good config: %w", err))
		return
	}
	old := w.current.Swap(cfg)
	w.reloads.Add(1)
	if w.onSwap != nil {
		w.onSwap(old, cfg)
	}
}

func (w *Watcher) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
