// Package memorystorage is the JSON store without a backing file. Records live
// only as long as the process.
package memorystorage

import (
	"context"

	"github.com/patric-chuzhbe/sinkgate/internal/db/jsondb"
)

type MemoryStorage struct {
	*jsondb.JSONDB
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: jsondb.NewWithCache("", jsondb.NewCache()),
	}, nil
}

func (theStorage *MemoryStorage) Close() error {
	return nil
}

func (theStorage *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}
