package inmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/library-service/cmd/api/library"
)

const DefaultLockTimeout = 2 * time.Second

var errReadOnlyTx = errors.New("write attempted inside a read-only transaction")

/*
InMemoryStore keeps the library in go-memdb. Readers work on snapshots and never block.
Writers are serialized: only one write transaction exists at a time, and waiting for it
longer than the lock timeout fails with library.ErrResponseBusy.
*/
type InMemoryStore struct {
	db          *memdb.MemDB
	tx          *TxWrapper
	writer      chan struct{}
	lockTimeout time.Duration
}

var _ library.Repository = (*InMemoryStore)(nil)

type Option func(*InMemoryStore)

// WithLockTimeout bounds how long a writer waits for the store. Zero waits for the context only.
func WithLockTimeout(d time.Duration) Option {
	return func(store *InMemoryStore) {
		store.lockTimeout = d
	}
}

func NewInMemoryStore(opts ...Option) (*InMemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"author": {
				Name: "author",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
				},
			},
			"genre": {
				Name: "genre",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
				},
			},
			"book": {
				Name: "book",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					"author_id": {
						Name:    "author_id",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "AuthorID"},
					},
				},
			},
			"user": {
				Name: "user",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					"token": {
						Name:    "token",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Token"},
					},
					"username": {
						Name:    "username",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Username"},
					},
				},
			},
			"loan": {
				Name: "loan",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"user_book": { // Composite index, one active loan per pair
						Name:   "user_book",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.IntFieldIndex{Field: "UserID"},
								&memdb.IntFieldIndex{Field: "BookID"},
							},
						},
					},
					"user_id": {
						Name:    "user_id",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "UserID"},
					},
					"book_id": {
						Name:    "book_id",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "BookID"},
					},
				},
			},
			"sequence": {
				Name: "sequence",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}

	errV := schema.Validate()
	if errV != nil {
		log.Println("schema validating error: ", errV)
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}

	store := &InMemoryStore{
		db:          db,
		writer:      make(chan struct{}, 1),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// -- Transactions --

func (store *InMemoryStore) BeginTx(ctx context.Context, opts *sql.TxOptions) (library.Repository, driver.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if store.tx != nil {
		return nil, nil, fmt.Errorf("beginning transaction: nested transactions are not supported")
	}

	readOnly := opts != nil && opts.ReadOnly
	txWrapper := &TxWrapper{writable: !readOnly}
	if readOnly {
		txWrapper.txn = store.db.Txn(false)
	} else {
		if err := store.acquire(ctx); err != nil {
			return nil, nil, err
		}
		txWrapper.txn = store.db.Txn(true)
		txWrapper.release = store.release
	}

	txStore := &InMemoryStore{
		db:          store.db,
		tx:          txWrapper,
		writer:      store.writer,
		lockTimeout: store.lockTimeout,
	}
	return txStore, txWrapper, nil
}

/* Takes the single writer slot, giving up with ErrResponseBusy after the lock timeout. */
func (store *InMemoryStore) acquire(ctx context.Context) error {
	select {
	case store.writer <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if store.lockTimeout > 0 {
		timer := time.NewTimer(store.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case store.writer <- struct{}{}:
		return nil
	case <-timeout:
		return fmt.Errorf("waiting %s for the store: %w", store.lockTimeout, library.ErrResponseBusy)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (store *InMemoryStore) release() {
	<-store.writer
}

type TxWrapper struct {
	txn      *memdb.Txn
	writable bool
	done     bool
	release  func()
}

func (tx *TxWrapper) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.txn.Commit()
	tx.end()
	return nil
}

func (tx *TxWrapper) Rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.txn.Abort()
	tx.end()
	return nil
}

func (tx *TxWrapper) end() {
	tx.done = true
	if tx.release != nil {
		tx.release()
	}
}

/* Runs fn on the open transaction, or on a short read snapshot when the store is not inside one. */
func (store *InMemoryStore) read(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.tx != nil {
		if store.tx.done {
			return sql.ErrTxDone
		}
		return fn(store.tx.txn)
	}

	txn := store.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

/* Runs fn on the open transaction, or on its own write transaction committed only when fn succeeds. */
func (store *InMemoryStore) write(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.tx != nil {
		if store.tx.done {
			return sql.ErrTxDone
		}
		if !store.tx.writable {
			return errReadOnlyTx
		}
		return fn(store.tx.txn)
	}

	if err := store.acquire(ctx); err != nil {
		return err
	}
	defer store.release()

	txn := store.db.Txn(true)
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

type sequence struct {
	Name string
	Last int64
}

func nextID(txn *memdb.Txn, table string) (int64, error) {
	raw, err := txn.First("sequence", "id", table)
	if err != nil {
		return 0, fmt.Errorf("reading %s sequence: %w", table, err)
	}
	seq := sequence{Name: table}
	if raw != nil {
		seq = raw.(sequence)
	}
	seq.Last++
	if err := txn.Insert("sequence", seq); err != nil {
		return 0, fmt.Errorf("advancing %s sequence: %w", table, err)
	}
	return seq.Last, nil
}
