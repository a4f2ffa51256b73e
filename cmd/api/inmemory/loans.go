package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/library-service/cmd/api/library"
)

type AdaptedLoan struct {
	ID       string
	UserID   int64
	BookID   int64
	IssuedAt time.Time
	DueAt    time.Time
}

func adaptLoanIdToString(l library.Loan) AdaptedLoan {
	return AdaptedLoan{
		ID:       l.ID.String(),
		UserID:   l.UserID,
		BookID:   l.BookID,
		IssuedAt: l.IssuedAt,
		DueAt:    l.DueAt,
	}
}

func adaptLoanIdToUUID(l AdaptedLoan) library.Loan {
	return library.Loan{
		ID:       uuid.MustParse(l.ID),
		UserID:   l.UserID,
		BookID:   l.BookID,
		IssuedAt: l.IssuedAt,
		DueAt:    l.DueAt,
	}
}

// -- Users --

func (store *InMemoryStore) CreateUser(ctx context.Context, u library.User) (library.User, error) {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		taken, err := txn.First("user", "username", u.Username)
		if err != nil {
			return err
		}
		if taken != nil {
			return library.ErrResponseUsernameTaken
		}
		issued, err := txn.First("user", "token", u.Token)
		if err != nil {
			return err
		}
		if issued != nil {
			return fmt.Errorf("token already issued")
		}

		id, err := nextID(txn, "user")
		if err != nil {
			return err
		}
		u.ID = id
		return txn.Insert("user", u)
	})
	if err != nil {
		return library.User{}, fmt.Errorf("storing user on db: %w", err)
	}
	return u, nil
}

func (store *InMemoryStore) GetUserByID(ctx context.Context, id int64) (library.User, error) {
	return store.firstUser(ctx, "id", id)
}

func (store *InMemoryStore) GetUserByToken(ctx context.Context, token string) (library.User, error) {
	return store.firstUser(ctx, "token", token)
}

func (store *InMemoryStore) firstUser(ctx context.Context, index string, arg any) (library.User, error) {
	var u library.User
	err := store.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("user", index, arg)
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseUserNotFound
		}
		u = raw.(library.User)
		return nil
	})
	if err != nil {
		return library.User{}, fmt.Errorf("searching user by %s: %w", index, err)
	}
	return u, nil
}

// -- Loans --

// LockUserLoans only checks that the caller may write. The single writer slot already serializes users.
func (store *InMemoryStore) LockUserLoans(ctx context.Context, userID int64) error {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		return nil
	})
	if err != nil {
		return fmt.Errorf("locking loans of user %d: %w", userID, err)
	}
	return nil
}

func (store *InMemoryStore) CreateLoan(ctx context.Context, l library.Loan) (library.Loan, error) {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		if _, err := firstBook(txn, l.BookID); err != nil {
			return err
		}
		user, err := txn.First("user", "id", l.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return library.ErrResponseUserNotFound
		}

		existing, err := txn.First("loan", "user_book", l.UserID, l.BookID)
		if err != nil {
			return err
		}
		if existing != nil {
			return library.ErrResponseLoanConflict
		}
		return txn.Insert("loan", adaptLoanIdToString(l))
	})
	if err != nil {
		return library.Loan{}, fmt.Errorf("storing loan on db: %w", err)
	}
	return l, nil
}

func (store *InMemoryStore) GetLoan(ctx context.Context, userID, bookID int64) (library.Loan, error) {
	var l library.Loan
	err := store.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("loan", "user_book", userID, bookID)
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseLoanNotFound
		}
		l = adaptLoanIdToUUID(raw.(AdaptedLoan))
		return nil
	})
	if err != nil {
		return library.Loan{}, fmt.Errorf("searching loan: %w", err)
	}
	return l, nil
}

func (store *InMemoryStore) ListLoansByUser(ctx context.Context, userID int64) ([]library.Loan, error) {
	loans := []library.Loan{}
	err := store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get("loan", "user_id", userID)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			loans = append(loans, adaptLoanIdToUUID(obj.(AdaptedLoan)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing loans from db: %w", err)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].BookID < loans[j].BookID })
	return loans, nil
}

func (store *InMemoryStore) CountLoansByBook(ctx context.Context, bookID int64) (int, error) {
	count := 0
	err := store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get("loan", "book_id", bookID)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting loans from db: %w", err)
	}
	return count, nil
}

func (store *InMemoryStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("loan", "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseLoanNotFound
		}
		return txn.Delete("loan", raw)
	})
	if err != nil {
		return fmt.Errorf("deleting loan from db: %w", err)
	}
	return nil
}
