// Package postgresdb provides a PostgreSQL-based implementation of the credential store.
// Username uniqueness is enforced by the primary key of the users table, so a
// concurrent duplicate signup is rejected by the insert itself.
package postgresdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/patric-chuzhbe/sinkgate/internal/db/storage"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
	"github.com/patric-chuzhbe/sinkgate/internal/user"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// PostgresDB is a PostgreSQL-backed credential store.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type initOptions struct {
	DBPreReset bool
}

// New establishes a connection to the PostgreSQL database,
// runs the embedded schema migrations, and returns a configured PostgresDB instance.
// Optionally accepts initialization options, such as WithDBPreReset.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := newWithDB(database, connectionTimeout)

	if options.DBPreReset {
		if err := result.resetDB(ctx); err != nil {
			return nil,
				fmt.Errorf(
					"in internal/db/postgresdb/postgresdb.go/New(): error while `result.resetDB()` calling: %w",
					err,
				)
		}
	}

	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.UpContext(ctx, result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.UpContext()` calling: %w",
				err,
			)
	}

	return result, nil
}

func newWithDB(database *sql.DB, connectionTimeout time.Duration) *PostgresDB {
	return &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}
}

// FindByUsername fetches the user with exactly this username.
func (db *PostgresDB) FindByUsername(ctx context.Context, username string) (*user.User, bool, error) {
	return db.findByUsername(ctx, username, db.database)
}

func (db *PostgresDB) findByUsername(ctx context.Context, username string, database queryer) (*user.User, bool, error) {
	row := database.QueryRowContext(
		ctx,
		`
			SELECT username, password_hash, display_name, file_path, created_at
				FROM users
				WHERE username = $1
		`,
		username,
	)

	usr := &user.User{}
	err := row.Scan(&usr.Username, &usr.PasswordHash, &usr.DisplayName, &usr.FilePath, &usr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	return usr, true, nil
}

// InsertIfAbsent inserts usr inside a transaction. The row lock taken by the insert is held
// while beforeCommit runs, so a concurrent insert of the same username waits for this
// transaction and then finds the key taken.
func (db *PostgresDB) InsertIfAbsent(
	ctx context.Context,
	usr *user.User,
	beforeCommit storage.BeforeCommitFunc,
) error {
	transaction, err := db.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	inserted, err := db.insertUser(ctx, usr, transaction)
	if err != nil {
		_ = db.RollbackTransaction(transaction)
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	if !inserted {
		_ = db.RollbackTransaction(transaction)
		return models.ErrUsernameTaken
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			if err2 := db.RollbackTransaction(transaction); err2 != nil {
				return errors.Join(err, err2)
			}
			return err
		}
	}

	if err := db.CommitTransaction(transaction); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	return nil
}

func (db *PostgresDB) insertUser(ctx context.Context, usr *user.User, database executor) (bool, error) {
	createdAt := usr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := database.ExecContext(
		ctx,
		`
			INSERT INTO users (username, password_hash, display_name, file_path, created_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (username) DO NOTHING
		`,
		usr.Username,
		usr.PasswordHash,
		usr.DisplayName,
		usr.FilePath,
		createdAt,
	)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// GetNumberOfUsers returns the number of registered users.
func (db *PostgresDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	row := db.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	return count, nil
}

// CommitTransaction commits the given SQL transaction.
// Returns an error if the commit operation fails.
func (db *PostgresDB) CommitTransaction(transaction *sql.Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred while committing transaction: %v", r)
		}
	}()

	return transaction.Commit()
}

// RollbackTransaction rolls back the given SQL transaction.
func (db *PostgresDB) RollbackTransaction(transaction *sql.Tx) error {
	return transaction.Rollback()
}

// BeginTransaction starts a new SQL transaction and returns it.
// The caller is responsible for committing or rolling it back.
func (db *PostgresDB) BeginTransaction(ctx context.Context) (*sql.Tx, error) {
	return db.database.BeginTx(ctx, nil)
}

// InitOption defines a functional option for configuring database initialization.
type InitOption func(*initOptions)

// WithDBPreReset enables or disables dropping all tables before migration.
// It is meant for test setups.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

// Ping verifies connectivity with the PostgreSQL database within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the database connection and releases any associated resources.
func (db *PostgresDB) Close() error {
	err := db.database.Close()
	if err != nil {
		return err
	}

	return nil
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			DO $$
			DECLARE
				r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}
	return nil
}
