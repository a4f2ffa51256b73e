package library

//go:generate mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Repository interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Repository, driver.Tx, error)

	CreateAuthor(ctx context.Context, a Author) (Author, error)
	GetAuthorByID(ctx context.Context, id int64) (Author, error)
	ListAuthors(ctx context.Context) ([]Author, error)
	DeleteAuthor(ctx context.Context, id int64) error

	CreateGenre(ctx context.Context, g Genre) (Genre, error)
	GetGenreByID(ctx context.Context, id int64) (Genre, error)
	ListGenres(ctx context.Context) ([]Genre, error)
	UpdateGenre(ctx context.Context, g Genre) (Genre, error)
	DeleteGenre(ctx context.Context, id int64) error

	CreateBook(ctx context.Context, b Book) (Book, error)
	GetBookByID(ctx context.Context, id int64) (Book, error)
	// LockBook reads the book and holds its row until the transaction ends.
	LockBook(ctx context.Context, id int64) (Book, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]Book, error)
	// UpdateBook stores the descriptive fields of b. AvailableCount is left untouched.
	UpdateBook(ctx context.Context, b Book) (Book, error)
	// AdjustAvailableCount adds delta to the stock. The count never goes below zero.
	AdjustAvailableCount(ctx context.Context, id int64, delta int) (Book, error)
	DeleteBook(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, u User) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
	GetUserByToken(ctx context.Context, token string) (User, error)

	// LockUserLoans serializes writers over one user's loan set until the transaction ends.
	LockUserLoans(ctx context.Context, userID int64) error
	CreateLoan(ctx context.Context, l Loan) (Loan, error)
	GetLoan(ctx context.Context, userID, bookID int64) (Loan, error)
	ListLoansByUser(ctx context.Context, userID int64) ([]Loan, error)
	CountLoansByBook(ctx context.Context, bookID int64) (int, error)
	DeleteLoan(ctx context.Context, id uuid.UUID) error
}

// Notifier is told about committed loan changes. Failures never affect the ledger.
type Notifier interface {
	LoanCreated(ctx context.Context, l Loan, b Book) error
	LoanReturned(ctx context.Context, l Loan, b Book) error
}

type Service struct {
	repo                 Repository
	ntfy                 Notifier
	notificationsTimeout time.Duration
	policy               Policy
	now                  func() time.Time
	tracerProvider       trace.TracerProvider
	meterProvider        metric.MeterProvider
	tel                  telemetry
	pending              sync.WaitGroup
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo Repository, ntfy Notifier, notificationsTimeout time.Duration, opts ...Option) *Service {
	s := &Service{
		repo:                 repo,
		ntfy:                 ntfy,
		notificationsTimeout: notificationsTimeout,
		policy:               DefaultPolicy(),
		now:                  time.Now,
		tracerProvider:       otel.GetTracerProvider(),
		meterProvider:        otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tel = newTelemetry(s.tracerProvider, s.meterProvider)
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

/* Runs fn inside a transaction. Any error rolls everything back; a canceled context is never committed. */
func (s *Service) inTx(ctx context.Context, opts *sql.TxOptions, fn func(txRepo Repository) error) error {
	txRepo, tx, err := s.repo.BeginTx(ctx, opts)
	if err != nil {
		return classify(fmt.Errorf("beginning transaction: %w", err))
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Println("rolling back transaction:", rbErr)
		}
	}()

	if err := fn(txRepo); err != nil {
		return classify(err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("committing transaction: %w", err))
	}
	committed = true
	return nil
}

/* Delivers a notification in the background with its own deadline. Errors are only logged. */
func (s *Service) notify(event string, send func(ctx context.Context) error) {
	if s.ntfy == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.notificationsTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			log.Printf("sending %s notification: %v", event, err)
		}
	}()
}

// WaitNotifications blocks until every notification already started has finished.
func (s *Service) WaitNotifications() {
	s.pending.Wait()
}
