// Package jsondb is a credential store kept in memory and persisted to a JSON file.
package jsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/patric-chuzhbe/sinkgate/internal/db/storage"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
	"github.com/patric-chuzhbe/sinkgate/internal/user"
)

type JSONDB struct {
	fileName string
	Cache    CacheStruct

	mu      sync.RWMutex
	pending map[string]struct{}
}

// CacheStruct is the on-disk shape of the database.
type CacheStruct struct {
	Users map[string]*persistedUser
}

// persistedUser mirrors user.User but keeps the password hash, which user.User hides from JSON.
type persistedUser struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	DisplayName  string    `json:"display_name"`
	FilePath     string    `json:"file_path"`
	CreatedAt    time.Time `json:"created_at"`
}

func toPersisted(usr *user.User) *persistedUser {
	return &persistedUser{
		Username:     usr.Username,
		PasswordHash: usr.PasswordHash,
		DisplayName:  usr.DisplayName,
		FilePath:     usr.FilePath,
		CreatedAt:    usr.CreatedAt,
	}
}

func (p *persistedUser) toUser() *user.User {
	return &user.User{
		Username:     p.Username,
		PasswordHash: p.PasswordHash,
		DisplayName:  p.DisplayName,
		FilePath:     p.FilePath,
		CreatedAt:    p.CreatedAt,
	}
}

// NewCache returns an empty cache.
func NewCache() CacheStruct {
	return CacheStruct{Users: map[string]*persistedUser{}}
}

func initDBFile(fileName string) error {
	return writeToJSONFile(fileName, NewCache())
}

func writeToJSONFile(fileName string, cache interface{}) error {
	jsonData, err := json.MarshalIndent(cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	tmpName := fileName + ".tmp"
	file, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}

	_, err = file.Write(jsonData)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("error writing to file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing file: %w", err)
	}

	return os.Rename(tmpName, fileName)
}

func parseJSONFile(fileName string, cacheMap *CacheStruct) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	err = decoder.Decode(cacheMap)
	if err != nil {
		return err
	}

	if cacheMap.Users == nil {
		cacheMap.Users = map[string]*persistedUser{}
	}
	for username, usr := range cacheMap.Users {
		if usr == nil {
			delete(cacheMap.Users, username)
		}
	}

	return nil
}

// New opens fileName, creating an empty database there if it does not exist.
func New(fileName string) (*JSONDB, error) {
	db := NewWithCache(fileName, CacheStruct{})

	err := parseJSONFile(db.fileName, &db.Cache)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf(
				"in internal/db/jsondb/jsondb.go/New(): error while `parseJSONFile()` calling: %w",
				err,
			)
		}
		err := initDBFile(fileName)
		if err != nil {
			return nil, err
		}
		err = parseJSONFile(db.fileName, &db.Cache)
		if err != nil {
			return nil, err
		}
	}

	return db, nil
}

// NewWithCache builds a JSONDB around an existing cache. An empty fileName disables persistence.
func NewWithCache(fileName string, cache CacheStruct) *JSONDB {
	return &JSONDB{
		fileName: fileName,
		Cache:    cache,
		pending:  map[string]struct{}{},
	}
}

func (db *JSONDB) Ping(ctx context.Context) error {
	return nil
}

func (db *JSONDB) FindByUsername(ctx context.Context, username string) (*user.User, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	found, ok := db.Cache.Users[username]
	if !ok {
		return nil, false, nil
	}

	return found.toUser(), true, nil
}

// InsertIfAbsent claims the username, runs beforeCommit outside the lock and then
// publishes the record. A claimed but unpublished username is invisible to
// FindByUsername and rejects concurrent inserts.
func (db *JSONDB) InsertIfAbsent(ctx context.Context, usr *user.User, beforeCommit storage.BeforeCommitFunc) error {
	db.mu.Lock()
	if _, exists := db.Cache.Users[usr.Username]; exists {
		db.mu.Unlock()
		return models.ErrUsernameTaken
	}
	if _, claimed := db.pending[usr.Username]; claimed {
		db.mu.Unlock()
		return models.ErrUsernameTaken
	}
	db.pending[usr.Username] = struct{}{}
	db.mu.Unlock()

	release := func() {
		db.mu.Lock()
		delete(db.pending, usr.Username)
		db.mu.Unlock()
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			release()
			return err
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.pending, usr.Username)

	db.Cache.Users[usr.Username] = toPersisted(usr)
	if err := db.flush(); err != nil {
		delete(db.Cache.Users, usr.Username)
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	return nil
}

func (db *JSONDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Users)), nil
}

// flush must be called with db.mu held.
func (db *JSONDB) flush() error {
	if db.fileName == "" {
		return nil
	}

	return writeToJSONFile(db.fileName, db.Cache)
}

func (db *JSONDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.flush()
}
