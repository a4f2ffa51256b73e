package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// ActiveLoansForUser renders the books currently held by userID, ordered by book id.
// All reads share one snapshot, so a loan is never shown without the stock change it caused.
func (s *Service) ActiveLoansForUser(ctx context.Context, userID int64) (details []BookDetail, err error) {
	ctx, span := s.tel.start(ctx, "library.ActiveLoansForUser", attribute.Int64("user.id", userID))
	defer func() { end(span, err) }()

	err = s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(txRepo Repository) error {
		var err error
		details, err = activeLoanDetails(ctx, txRepo, userID)
		return err
	})
	if err != nil {
		return nil, unwrapOutcome(err)
	}
	return details, nil
}

// UserLoans is ActiveLoansForUser on behalf of a privileged caller, for any existing user.
func (s *Service) UserLoans(ctx context.Context, caller Identity, userID int64) ([]BookDetail, error) {
	if !caller.Privileged && caller.UserID != userID {
		return nil, ErrResponseForbidden
	}

	var details []BookDetail
	err := s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(txRepo Repository) error {
		if _, err := txRepo.GetUserByID(ctx, userID); err != nil {
			return fmt.Errorf("finding user %d: %w", userID, err)
		}
		var err error
		details, err = activeLoanDetails(ctx, txRepo, userID)
		return err
	})
	if err != nil {
		return nil, unwrapOutcome(err)
	}
	return details, nil
}

func activeLoanDetails(ctx context.Context, repo Repository, userID int64) ([]BookDetail, error) {
	loans, err := repo.ListLoansByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing loans of user %d: %w", userID, err)
	}

	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].BookID < loans[j].BookID
	})

	details := make([]BookDetail, 0, len(loans))
	for _, l := range loans {
		b, err := repo.GetBookByID(ctx, l.BookID)
		if err != nil {
			return nil, fmt.Errorf("resolving book %d of loan %s: %w", l.BookID, l.ID, err)
		}
		d, err := bookDetail(ctx, repo, b)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

/* Joins a book with its author name and genre titles. A genre id that no longer resolves becomes UnknownGenre. */
func bookDetail(ctx context.Context, repo Repository, b Book) (BookDetail, error) {
	author, err := repo.GetAuthorByID(ctx, b.AuthorID)
	if err != nil {
		return BookDetail{}, fmt.Errorf("resolving author %d of book %d: %w", b.AuthorID, b.ID, err)
	}

	genres := make([]string, 0, len(b.GenreIDs))
	for _, id := range b.GenreIDs {
		g, err := repo.GetGenreByID(ctx, id)
		switch {
		case errors.Is(err, ErrResponseGenreNotFound):
			genres = append(genres, UnknownGenre)
		case err != nil:
			return BookDetail{}, fmt.Errorf("resolving genre %d of book %d: %w", id, b.ID, err)
		default:
			genres = append(genres, g.Title)
		}
	}

	return BookDetail{
		ID:             b.ID,
		Title:          b.Title,
		Description:    b.Description,
		AuthorID:       b.AuthorID,
		AuthorName:     author.FullName,
		ReleaseDate:    b.ReleaseDate,
		AvailableCount: b.AvailableCount,
		Genres:         genres,
	}, nil
}
