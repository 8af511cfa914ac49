// Package mockstorage provides a testify-based mock implementation
// of the credential store used by the service and router packages.
package mockstorage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/sinkgate/internal/db/storage"
	"github.com/patric-chuzhbe/sinkgate/internal/user"
)

// StorageMock is a testify mock of storage.Storage.
type StorageMock struct {
	mock.Mock

	// OnGetNumberOfUsers is an optional function field that can be assigned
	// to define custom mock behavior for GetNumberOfUsers in tests.
	//
	// If set, GetNumberOfUsers will delegate to this function instead of
	// using testify's generic mock handler.
	OnGetNumberOfUsers func(ctx context.Context) (int64, error)
}

var _ storage.Storage = (*StorageMock)(nil)

// Ping mocks the store health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// FindByUsername mocks the user lookup.
func (m *StorageMock) FindByUsername(ctx context.Context, username string) (*user.User, bool, error) {
	args := m.Called(ctx, username)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Bool(1), args.Error(2)
}

// InsertIfAbsent mocks the atomic insert. Expectations match on (ctx, usr) only.
// When the expectation returns nil
// and beforeCommit is set, beforeCommit runs and its error is returned,
// the way a real store would abandon the insert.
func (m *StorageMock) InsertIfAbsent(ctx context.Context, usr *user.User, beforeCommit storage.BeforeCommitFunc) error {
	args := m.Called(ctx, usr)
	if err := args.Error(0); err != nil {
		return err
	}
	if beforeCommit != nil {
		return beforeCommit(ctx)
	}
	return nil
}

// Close mocks closing the storage and releasing resources.
func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// GetNumberOfUsers returns the number of users as defined by the mock.
//
// If OnGetNumberOfUsers is non-nil, it will be called to produce the result.
// Otherwise, the method returns 0 and no error by default.
func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfUsers != nil {
		return m.OnGetNumberOfUsers(ctx)
	}
	return 0, nil
}
