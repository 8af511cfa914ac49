// Package user defines the credential record persisted by the credential stores
// and read back by the authenticator.
package user

import "time"

// User is a single account. A record is created once, at signup,
// and never mutated afterwards.
type User struct {
	// Username is the case-sensitive unique key of the record.
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the password. It is never
	// serialized to clients.
	PasswordHash string `json:"-"`

	// DisplayName is a human-readable label, not unique.
	DisplayName string `json:"display_name"`

	// FilePath is the relative namespace path derived from Username at creation.
	FilePath string `json:"file_path"`

	CreatedAt time.Time `json:"created_at"`
}
