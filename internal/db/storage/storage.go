// Package storage declares the credential store contract shared by the
// postgres, JSON file and in-memory adapters.
package storage

import (
	"context"

	"github.com/patric-chuzhbe/sinkgate/internal/user"
)

// BeforeCommitFunc runs while a username is claimed but not yet visible to readers.
// Returning an error abandons the insert.
type BeforeCommitFunc func(ctx context.Context) error

type Storage interface {
	FindByUsername(ctx context.Context, username string) (*user.User, bool, error)

	// InsertIfAbsent persists usr unless its username is already claimed,
	// in which case it returns models.ErrUsernameTaken.
	InsertIfAbsent(ctx context.Context, usr *user.User, beforeCommit BeforeCommitFunc) error

	GetNumberOfUsers(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error

	Close() error
}
