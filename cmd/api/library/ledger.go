package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Checkout lends one copy of bookID to userID.
//
// The user's loan set is locked first and the book row second, so every writer
// takes the locks in the same order. The stock decrement and the loan insert
// commit together or not at all.
func (s *Service) Checkout(ctx context.Context, userID, bookID int64) (loan Loan, err error) {
	ctx, span := s.tel.start(ctx, "library.Checkout",
		attribute.Int64("user.id", userID),
		attribute.Int64("book.id", bookID))
	defer func() { end(span, err) }()

	var b Book
	err = s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(txRepo Repository) error {
		if err := txRepo.LockUserLoans(ctx, userID); err != nil {
			return fmt.Errorf("locking loans of user %d: %w", userID, err)
		}

		var err error
		b, err = txRepo.LockBook(ctx, bookID)
		if err != nil {
			return fmt.Errorf("locking book %d: %w", bookID, err)
		}

		userLoans, err := txRepo.ListLoansByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("listing loans of user %d: %w", userID, err)
		}

		if err := s.policy.Evaluate(userLoans, b); err != nil {
			s.tel.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", AsErrResponse(err).Reason)))
			return err
		}

		b, err = txRepo.AdjustAvailableCount(ctx, bookID, -1)
		if err != nil {
			return fmt.Errorf("taking a copy of book %d: %w", bookID, err)
		}

		issuedAt := s.now().UTC().Round(time.Millisecond)
		loan, err = txRepo.CreateLoan(ctx, Loan{
			ID:       uuid.New(),
			UserID:   userID,
			BookID:   bookID,
			IssuedAt: issuedAt,
			DueAt:    s.policy.DueAt(issuedAt),
		})
		if err != nil {
			return fmt.Errorf("creating loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return Loan{}, unwrapOutcome(err)
	}

	s.tel.checkouts.Add(ctx, 1)
	s.notify("loan created", func(ctx context.Context) error {
		return s.ntfy.LoanCreated(ctx, loan, b)
	})
	return loan, nil
}

// Return ends the active loan of bookID held by userID and puts the copy back on the shelf.
func (s *Service) Return(ctx context.Context, userID, bookID int64) (conf ReturnConfirmation, err error) {
	ctx, span := s.tel.start(ctx, "library.Return",
		attribute.Int64("user.id", userID),
		attribute.Int64("book.id", bookID))
	defer func() { end(span, err) }()

	var loan Loan
	var b Book
	err = s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(txRepo Repository) error {
		if err := txRepo.LockUserLoans(ctx, userID); err != nil {
			return fmt.Errorf("locking loans of user %d: %w", userID, err)
		}

		var err error
		loan, err = txRepo.GetLoan(ctx, userID, bookID)
		if err != nil {
			return fmt.Errorf("finding loan: %w", err)
		}

		if _, err = txRepo.LockBook(ctx, bookID); err != nil {
			return fmt.Errorf("locking book %d: %w", bookID, err)
		}

		if err = txRepo.DeleteLoan(ctx, loan.ID); err != nil {
			return fmt.Errorf("deleting loan %s: %w", loan.ID, err)
		}

		b, err = txRepo.AdjustAvailableCount(ctx, bookID, 1)
		if err != nil {
			return fmt.Errorf("putting back a copy of book %d: %w", bookID, err)
		}
		return nil
	})
	if err != nil {
		return ReturnConfirmation{}, unwrapOutcome(err)
	}

	s.tel.returns.Add(ctx, 1)
	s.notify("loan returned", func(ctx context.Context) error {
		return s.ntfy.LoanReturned(ctx, loan, b)
	})

	return ReturnConfirmation{
		LoanID:     loan.ID,
		UserID:     userID,
		BookID:     bookID,
		ReturnedAt: s.now().UTC().Round(time.Millisecond),
		Message:    ReturnedMessage,
	}, nil
}

/* Domain outcomes reach the caller as the bare ErrResponse; anything else keeps its wrapping. */
func unwrapOutcome(err error) error {
	var errResp ErrResponse
	if errors.As(err, &errResp) && errResp.Kind != KindInternal {
		return errResp
	}
	return err
}
