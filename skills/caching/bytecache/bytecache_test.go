package bytecache

import (
	"bytes"
	"fmt"
	"testing"
)

func TestSetGet(t *testing.T) {
	c := New(32 << 20)

	c.Set([]byte("row:1"), []byte("alice"))
	got, ok := c.Get([]byte("row:1"))
	if !ok {
		t.Fatal("stored key missed")
	}
	if !bytes.Equal(got, []byte("alice")) {
		t.Errorf("Get = %q, want %q", got, "alice")
	}

	if _, ok := c.Get([]byte("row:2")); ok {
		t.Error("absent key reported as hit")
	}
}

func TestEmptyValueIsNotAMiss(t *testing.T) {
	c := New(32 << 20)
	c.Set([]byte("tombstone"), nil)

	got, ok := c.Get([]byte("tombstone"))
	if !ok {
		t.Fatal("stored empty value reported as miss")
	}
	if len(got) != 0 {
		t.Errorf("Get = %q, want empty", got)
	}
}

func TestGetAppend_ReusesBuffer(t *testing.T) {
	c := New(32 << 20)
	c.Set([]byte("k"), []byte("value"))

	scratch := make([]byte, 0, 64)
	got, ok := c.GetAppend(scratch, []byte("k"))
	if !ok {
		t.Fatal("miss")
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Errorf("GetAppend = %q", got)
	}
	if &got[0] != &scratch[:1][0] {
		t.Error("GetAppend did not reuse the scratch buffer capacity")
	}
}

func TestDelete(t *testing.T) {
	c := New(32 << 20)
	c.Set([]byte("k"), []byte("v"))
	c.Delete([]byte("k"))
	if _, ok := c.Get([]byte("k")); ok {
		t.Error("deleted key still present")
	}
}

func TestSnapshot(t *testing.T) {
	c := New(32 << 20)
	c.Set([]byte("a"), []byte("1"))

	c.Get([]byte("a"))
	c.Get([]byte("a"))
	c.Get([]byte("missing"))

	s := c.Snapshot()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 2/1", s.Hits, s.Misses)
	}
	if got, want := s.HitRate(), 2.0/3.0; got < want-0.001 || got > want+0.001 {
		t.Errorf("HitRate = %v, want ~%v", got, want)
	}
	if s.Entries == 0 {
		t.Error("Entries = 0 after a Set")
	}

	if got := (Stats{}).HitRate(); got != 0 {
		t.Errorf("zero-value HitRate = %v, want 0", got)
	}
}

func TestReset(t *testing.T) {
	c := New(32 << 20)
	for i := 0; i < 10; i++ {
		c.Set([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}
	c.Reset()
	if _, ok := c.Get([]byte("k0")); ok {
		t.Error("entry survived Reset")
	}
}
