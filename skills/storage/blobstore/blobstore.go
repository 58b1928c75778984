// Package blobstore implements a content-addressed blob store on an
// afero filesystem.
//
// Content addressing means a blob's name is the SHA-256 of its bytes.
// That buys two properties for free: writing the same content twice
// stores it once, and any blob can be verified against its own name, so
// silent corruption is detectable instead of invisible. Objects are
// sharded into two-character prefix directories because directories
// with hundreds of thousands of entries make every list and backup
// crawl.
//
// Writes are atomic. A blob streams into a temp file named by a fresh
// xid while being hashed, and only a rename publishes it under its
// digest. A reader can therefore never observe a partial blob, and a
// crash mid-write leaves nothing but an orphan in tmp. Taking afero.Fs
// instead of touching the disk directly keeps the store rootable under
// any directory and testable against an in-memory filesystem.
//
// Skill metadata:
//
//	name: blob-store
//	category: storage
//	tags: afero, content-addressed, sha256, atomic-write, xid
//	level: intermediate
package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/rs/xid"
	"github.com/spf13/afero"
)

const (
	objectsDir = "objects"
	tmpDir     = "tmp"
)

var (
	// ErrNotFound reports a digest with no stored blob.
	ErrNotFound = errors.New("blobstore: blob not found")
	// ErrCorrupt reports stored bytes that no longer match their digest.
	ErrCorrupt = errors.New("blobstore: blob corrupt")
)

// Digest is the SHA-256 identity of a blob. The zero Digest is the hash
// of nothing and never names a stored blob.
type Digest struct {
	sum [sha256.Size]byte
}

func (d Digest) String() string {
	return "sha256:" + hex.EncodeToString(d.sum[:])
}

// ParseDigest parses the "sha256:<hex>" form produced by String.
func ParseDigest(s string) (Digest, error) {
	rest, ok := strings.CutPrefix(s, "sha256:")
	if !ok {
		return Digest{}, fmt.Errorf("blobstore: digest %q lacks sha256: prefix", s)
	}
	raw, err := hex.DecodeString(rest)
	if err != nil || len(raw) != sha256.Size {
		return Digest{}, fmt.Errorf("blobstore: digest %q is not %d hex bytes", s, sha256.Size)
	}
	var d Digest
	copy(d.sum[:], raw)
	return d, nil
}

// Store holds blobs under objects/<aa>/<rest> with aa the first digest
// byte in hex.
type Store struct {
	fs afero.Fs
}

// New prepares the store layout on fs.
func New(fs afero.Fs) (*Store, error) {
	if fs == nil {
		return nil, errors.New("blobstore: fs is required")
	}
	for _, dir := range []string{objectsDir, tmpDir} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("blobstore: prepare %s: %w", dir, err)
		}
	}
	return &Store{fs: fs}, nil
}

// Put streams r into the store and returns the digest now naming it.
// Storing content that is already present is a no-op that still returns
// the digest, so Put is idempotent.
func (s *Store) Put(r io.Reader) (Digest, int64, error) {
	tmp := path.Join(tmpDir, xid.New().String())
	f, err := s.fs.Create(tmp)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("blobstore: create temp: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(tmp)
		return Digest{}, 0, fmt.Errorf("blobstore: write temp: %w", err)
	}

	var d Digest
	copy(d.sum[:], h.Sum(nil))

	dst := s.objectPath(d)
	if ok, _ := afero.Exists(s.fs, dst); ok {
		s.fs.Remove(tmp)
		return d, n, nil
	}
	if err := s.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		s.fs.Remove(tmp)
		return Digest{}, 0, fmt.Errorf("blobstore: shard dir: %w", err)
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		s.fs.Remove(tmp)
		return Digest{}, 0, fmt.Errorf("blobstore: publish %s: %w", d, err)
	}
	return d, n, nil
}

// PutBytes is Put for in-memory content.
func (s *Store) PutBytes(p []byte) (Digest, error) {
	d, _, err := s.Put(bytes.NewReader(p))
	return d, err
}

// Get opens the blob named by d. The caller closes the reader.
func (s *Store) Get(d Digest) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.objectPath(d))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, d)
		}
		return nil, fmt.Errorf("blobstore: open %s: %w", d, err)
	}
	return f, nil
}

// Has reports whether d is stored.
func (s *Store) Has(d Digest) bool {
	ok, _ := afero.Exists(s.fs, s.objectPath(d))
	return ok
}

// Delete removes the blob named by d.
func (s *Store) Delete(d Digest) error {
	err := s.fs.Remove(s.objectPath(d))
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, d)
	}
	return err
}

// Scrub rehashes every stored blob and returns the digests whose bytes
// no longer match. A healthy store returns an empty slice.
func (s *Store) Scrub() ([]Digest, error) {
	var corrupt []Digest
	err := afero.Walk(s.fs, objectsDir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		want, perr := digestFromPath(p)
		if perr != nil {
			// A foreign file in the object tree is corruption too.
			corrupt = append(corrupt, Digest{})
			return nil
		}
		got, herr := s.hashFile(p)
		if herr != nil {
			return herr
		}
		if got != want {
			corrupt = append(corrupt, want)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: scrub: %w", err)
	}
	return corrupt, nil
}

func (s *Store) hashFile(p string) (Digest, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d.sum[:], h.Sum(nil))
	return d, nil
}

func (s *Store) objectPath(d Digest) string {
	hx := hex.EncodeToString(d.sum[:])
	return path.Join(objectsDir, hx[:2], hx[2:])
}

func digestFromPath(p string) (Digest, error) {
	shard := path.Base(path.Dir(p))
	rest := path.Base(p)
	return ParseDigest("sha256:" + shard + rest)
}
