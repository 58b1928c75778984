// Package passwords implements password storage with bcrypt.
//
// The contract is simple and absolute: the plaintext password exists only
// for the duration of a Hash or Verify call, and only the hash is ever
// stored. bcrypt salts every hash itself, so two users with the same
// password store different values and rainbow tables buy nothing.
//
// The tunable that matters is cost, the work factor that makes each guess
// expensive. It is baked into the stored hash, which enables the upgrade
// pattern this package centers on: when hardware gets faster, raise the
// target cost, and on each successful login check NeedsRehash and replace
// the stored hash with a stronger one. No migration, no forced resets;
// stale hashes age out as users log in.
//
// Skill metadata:
//
//	name: password-hashing
//	category: auth
//	tags: password, bcrypt, hashing, credentials, rehash
//	level: beginner
package passwords

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the work factor used by Hash. It is deliberately above
// bcrypt's own default; revisit it when typical hardware catches up.
const DefaultCost = 12

var (
	// ErrMismatch reports a password that does not match the hash.
	ErrMismatch = errors.New("passwords: password mismatch")

	// ErrEmptyPassword reports an empty password, which is never valid
	// input for hashing or verification.
	ErrEmptyPassword = errors.New("passwords: empty password")
)

// Hash returns the bcrypt hash of password at DefaultCost.
func Hash(password string) (string, error) {
	return HashWithCost(password, DefaultCost)
}

// HashWithCost returns the bcrypt hash of password at the given cost.
// The cost must lie within bcrypt's supported range; bcrypt itself also
// rejects passwords longer than 72 bytes.
func HashWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", fmt.Errorf("passwords: cost %d outside [%d, %d]",
			cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("passwords: hash: %w", err)
	}
	return string(h), nil
}

// Verify compares password against the stored hash. A wrong password
// reports ErrMismatch; a malformed hash reports the underlying error.
// The comparison takes the same time whether it fails early or late.
func Verify(hash, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return fmt.Errorf("passwords: verify: %w", err)
	}
}

// NeedsRehash reports whether the stored hash was produced at a cost
// below target and should be replaced after the next successful Verify.
// An unreadable hash also reports true.
func NeedsRehash(hash string, target int) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < target
}
