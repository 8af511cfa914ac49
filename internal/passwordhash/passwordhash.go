// Package passwordhash hashes and verifies account passwords with bcrypt.
package passwordhash

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordLength is the longest password bcrypt accepts without truncation.
const MaxPasswordLength = 72

// ErrPasswordTooLong is returned by Hash for passwords bcrypt would silently truncate.
var ErrPasswordTooLong = errors.New("password is longer than 72 bytes")

// Hasher produces and checks bcrypt hashes with a fixed cost.
type Hasher struct {
	cost      int
	dummyHash []byte
}

const dummyPassword = "sinkgate-dummy-password"

// New returns a Hasher. The cost must be within bcrypt's supported range.
func New(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf(
			"in internal/passwordhash/passwordhash.go/New(): cost %d is out of range [%d, %d]",
			cost,
			bcrypt.MinCost,
			bcrypt.MaxCost,
		)
	}

	dummyHash, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/passwordhash/passwordhash.go/New(): error while `bcrypt.GenerateFromPassword()` calling: %w",
			err,
		)
	}

	return &Hasher{cost: cost, dummyHash: dummyHash}, nil
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf(
			"in internal/passwordhash/passwordhash.go/Hash(): error while `bcrypt.GenerateFromPassword()` calling: %w",
			err,
		)
	}

	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed hash never matches.
func (h *Hasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy spends the same time as Verify against a real hash,
// so a login for an unknown username is not distinguishable by latency.
func (h *Hasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}
