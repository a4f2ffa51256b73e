package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/library"
)

const (
	usernameConstraint = "users_username_key"
	loanBookConstraint = "loans_book_id_fkey"

	// userLoansLockClass is the first advisory lock key of LockUserLoans.
	userLoansLockClass int32 = 0x4c4f414e
)

// -- Users --

func (store *Store) CreateUser(ctx context.Context, u library.User) (library.User, error) {
	sqlStatement := `
	INSERT INTO users (username, is_superuser, token, created_at)
	VALUES ($1, $2, $3, $4)
	RETURNING id, username, is_superuser, token, created_at`
	var created library.User
	err := store.exc.QueryRowContext(ctx, sqlStatement, u.Username, u.IsSuperuser, u.Token, u.CreatedAt).
		Scan(&created.ID, &created.Username, &created.IsSuperuser, &created.Token, &created.CreatedAt)
	if err != nil {
		if pqErr, ok := pqError(err); ok && pqErr.Code == uniqueViolation && pqErr.Constraint == usernameConstraint {
			return library.User{}, fmt.Errorf("storing user on db: %w", library.ErrResponseUsernameTaken)
		}
		return library.User{}, fmt.Errorf("storing user on db: %w", translate(ctx, err))
	}
	return created, nil
}

func (store *Store) GetUserByID(ctx context.Context, id int64) (library.User, error) {
	return store.firstUser(ctx, "id", id)
}

func (store *Store) GetUserByToken(ctx context.Context, token string) (library.User, error) {
	return store.firstUser(ctx, "token", token)
}

func (store *Store) firstUser(ctx context.Context, column string, arg any) (library.User, error) {
	sqlStatement := `SELECT id, username, is_superuser, token, created_at
	FROM users
	WHERE ` + column + ` = $1;`
	var u library.User
	err := store.exc.QueryRowContext(ctx, sqlStatement, arg).
		Scan(&u.ID, &u.Username, &u.IsSuperuser, &u.Token, &u.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.User{}, fmt.Errorf("searching user by %s: %w", column, library.ErrResponseUserNotFound)
		default:
			return library.User{}, fmt.Errorf("searching user by %s: %w", column, translate(ctx, err))
		}
	}
	return u, nil
}

// -- Loans --

/* Takes a transaction scoped advisory lock on (userLoansLockClass, user id), serializing writers of one user's loans.
The two-key form keeps these locks apart from single-key ones such as the migration lock. Ids past the int4
range fold onto a shared key, which only serializes more. */
func (store *Store) LockUserLoans(ctx context.Context, userID int64) error {
	_, err := store.exc.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, ($2::bigint % 2147483648)::int4);`, userLoansLockClass, userID)
	if err != nil {
		return fmt.Errorf("locking loans of user %d: %w", userID, translate(ctx, err))
	}
	return nil
}

/* Stores a new loan. The (user_id, book_id) unique constraint is the last word on duplicates. */
func (store *Store) CreateLoan(ctx context.Context, l library.Loan) (library.Loan, error) {
	sqlStatement := `
	INSERT INTO loans (id, user_id, book_id, issued_at, due_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, user_id, book_id, issued_at, due_at`
	var created library.Loan
	err := store.exc.QueryRowContext(ctx, sqlStatement, l.ID, l.UserID, l.BookID, l.IssuedAt, l.DueAt).
		Scan(&created.ID, &created.UserID, &created.BookID, &created.IssuedAt, &created.DueAt)
	if err != nil {
		if pqErr, ok := pqError(err); ok {
			switch {
			case pqErr.Code == uniqueViolation:
				return library.Loan{}, fmt.Errorf("storing loan on db: %w", library.ErrResponseLoanConflict)
			case pqErr.Code == foreignKeyViolation && pqErr.Constraint == loanBookConstraint:
				return library.Loan{}, fmt.Errorf("storing loan on db: %w", library.ErrResponseBookNotFound)
			case pqErr.Code == foreignKeyViolation:
				return library.Loan{}, fmt.Errorf("storing loan on db: %w", library.ErrResponseUserNotFound)
			}
		}
		return library.Loan{}, fmt.Errorf("storing loan on db: %w", translate(ctx, err))
	}
	return created, nil
}

func (store *Store) GetLoan(ctx context.Context, userID, bookID int64) (library.Loan, error) {
	sqlStatement := `SELECT id, user_id, book_id, issued_at, due_at
	FROM loans
	WHERE user_id = $1 AND book_id = $2;`
	var l library.Loan
	err := store.exc.QueryRowContext(ctx, sqlStatement, userID, bookID).
		Scan(&l.ID, &l.UserID, &l.BookID, &l.IssuedAt, &l.DueAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Loan{}, fmt.Errorf("searching loan: %w", library.ErrResponseLoanNotFound)
		default:
			return library.Loan{}, fmt.Errorf("searching loan: %w", translate(ctx, err))
		}
	}
	return l, nil
}

func (store *Store) ListLoansByUser(ctx context.Context, userID int64) ([]library.Loan, error) {
	sqlStatement := `SELECT id, user_id, book_id, issued_at, due_at
	FROM loans
	WHERE user_id = $1
	ORDER BY book_id ASC;`
	rows, err := store.exc.QueryContext(ctx, sqlStatement, userID)
	if err != nil {
		return nil, fmt.Errorf("listing loans from db: %w", translate(ctx, err))
	}
	defer rows.Close()

	loans := []library.Loan{}
	for rows.Next() {
		var l library.Loan
		if err := rows.Scan(&l.ID, &l.UserID, &l.BookID, &l.IssuedAt, &l.DueAt); err != nil {
			return nil, fmt.Errorf("listing loans from db: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing loans from db: %w", translate(ctx, err))
	}
	return loans, nil
}

func (store *Store) CountLoansByBook(ctx context.Context, bookID int64) (int, error) {
	var count int
	err := store.exc.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans WHERE book_id = $1;`, bookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting loans from db: %w", translate(ctx, err))
	}
	return count, nil
}

func (store *Store) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	res, err := store.exc.ExecContext(ctx, `DELETE FROM loans WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("deleting loan from db: %w", translate(ctx, err))
	}
	return affectedOne(res, library.ErrResponseLoanNotFound, "deleting loan from db")
}
