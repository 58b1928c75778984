package passwords

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashVerify(t *testing.T) {
	h, err := HashWithCost("correct horse battery staple", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(h, "correct horse battery staple"); err != nil {
		t.Errorf("Verify(correct password) = %v", err)
	}
	if err := Verify(h, "Tr0ub4dor&3"); !errors.Is(err, ErrMismatch) {
		t.Errorf("Verify(wrong password) = %v, want ErrMismatch", err)
	}
}

func TestHash_SaltedPerCall(t *testing.T) {
	a, err := HashWithCost("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashWithCost("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical")
	}
	if err := Verify(b, "hunter2"); err != nil {
		t.Errorf("second hash does not verify: %v", err)
	}
}

func TestHash_DefaultCost(t *testing.T) {
	if testing.Short() {
		t.Skip("default cost hashing is slow")
	}
	h, err := Hash("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	cost, err := bcrypt.Cost([]byte(h))
	if err != nil {
		t.Fatal(err)
	}
	if cost != DefaultCost {
		t.Errorf("stored cost = %d, want %d", cost, DefaultCost)
	}
}

func TestHash_Validation(t *testing.T) {
	if _, err := Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Hash(empty) = %v, want ErrEmptyPassword", err)
	}
	if _, err := HashWithCost("pwd", bcrypt.MaxCost+1); err == nil {
		t.Error("HashWithCost accepted an out-of-range cost")
	}
	if _, err := HashWithCost(strings.Repeat("a", 73), bcrypt.MinCost); err == nil {
		t.Error("HashWithCost accepted a password over bcrypt's 72-byte limit")
	}
	if err := Verify("$2a$04$whatever", ""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Verify(empty) = %v, want ErrEmptyPassword", err)
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	err := Verify("not-a-bcrypt-hash", "hunter2")
	if err == nil {
		t.Fatal("Verify accepted a malformed hash")
	}
	if errors.Is(err, ErrMismatch) {
		t.Error("malformed hash misreported as a mismatch")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, err := HashWithCost("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if !NeedsRehash(weak, DefaultCost) {
		t.Error("hash below the target cost reported as fine")
	}
	if NeedsRehash(weak, bcrypt.MinCost) {
		t.Error("hash at the target cost reported as stale")
	}
	if !NeedsRehash("garbage", DefaultCost) {
		t.Error("unreadable hash reported as fine")
	}
}
