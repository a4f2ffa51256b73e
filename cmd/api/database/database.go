package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/lib/pq"
	"github.com/library-service/cmd/api/library"

	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const DefaultLockTimeout = 2 * time.Second

// SQLSTATE codes the store translates.
const (
	uniqueViolation      = "23505"
	foreignKeyViolation  = "23503"
	checkViolation       = "23514"
	lockNotAvailable     = "55P03"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db          *sql.DB
	exc         *Executor
	lockTimeout time.Duration
}

var _ library.Repository = (*Store)(nil)

type Executor struct {
	DBTX
}

type Option func(*Store)

// WithLockTimeout bounds every lock wait of a write transaction. Zero leaves the server default.
func WithLockTimeout(d time.Duration) Option {
	return func(store *Store) {
		store.lockTimeout = d
	}
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	store := &Store{
		db:          db,
		exc:         NewExc(db),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func NewExc(dbtx DBTX) *Executor {
	return &Executor{DBTX: dbtx}
}

/* Opens a transaction and returns a Store bound to it. Write transactions get a bounded lock_timeout. */
func (store *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (library.Repository, driver.Tx, error) {
	tx, err := store.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", translate(ctx, err))
	}

	readOnly := opts != nil && opts.ReadOnly
	if !readOnly && store.lockTimeout > 0 {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", store.lockTimeout.Milliseconds()))
		if err != nil {
			_ = tx.Rollback()
			return nil, nil, fmt.Errorf("setting lock timeout: %w", translate(ctx, err))
		}
	}

	txRepo := &Store{
		db:          store.db,
		exc:         NewExc(tx),
		lockTimeout: store.lockTimeout,
	}
	return txRepo, tx, nil
}

/* Connects to the database trought a connection string and returns a pointer to a valid DB object (*sql.DB). */
func ConnectDb(connStr string) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, openning: %w", err)
	}

	err = sqlDB.Ping()
	if err != nil {
		return nil, fmt.Errorf("connecting to db, pingging: %w", err)
	}

	log.Println("Successfully connected!")
	return sqlDB, nil
}

func newMigrate(store *Store, path string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(store.db, &postgres.Config{})
	if err != nil {
		return nil, err
	}
	return migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", path), "postgres", driver)
}

// MigrationUp applies every pending migration. An up-to-date schema is not an error.
func MigrationUp(store *Store, path string) error {
	m, err := newMigrate(store, path)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating up: %w", err)
	}
	return nil
}

func MigrationDown(store *Store, path string) error {
	m, err := newMigrate(store, path)
	if err != nil {
		return fmt.Errorf("migrating down: %w", err)
	}

	err = m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating down: %w", err)
	}
	return nil
}

func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

/*
Maps driver failures every statement can hit: lock waits that ran out become ErrResponseBusy
and statements canceled with the request keep the context error. Call sites translate
constraint violations themselves, since only they know which entity a constraint protects.
*/
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if pqErr, ok := pqError(err); ok {
		switch pqErr.Code {
		case lockNotAvailable, serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %w", library.ErrResponseBusy, err)
		}
	}
	return err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
