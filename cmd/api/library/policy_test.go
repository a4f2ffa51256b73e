package library_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/library"
	"github.com/matryer/is"
)

func loansFor(userID int64, bookIDs ...int64) []library.Loan {
	loans := make([]library.Loan, 0, len(bookIDs))
	for _, id := range bookIDs {
		loans = append(loans, library.Loan{ID: uuid.New(), UserID: userID, BookID: id})
	}
	return loans
}

func TestPolicyEvaluate(t *testing.T) {
	p := library.DefaultPolicy()

	tests := []struct {
		name      string
		userLoans []library.Loan
		book      library.Book
		want      error
	}{
		{
			name: "allows a first loan",
			book: library.Book{ID: 7, AvailableCount: 1},
		},
		{
			name:      "allows the loan that reaches the limit",
			userLoans: loansFor(1, 1, 2, 3, 4),
			book:      library.Book{ID: 7, AvailableCount: 3},
		},
		{
			name:      "refuses one loan over the limit",
			userLoans: loansFor(1, 1, 2, 3, 4, 5),
			book:      library.Book{ID: 7, AvailableCount: 3},
			want:      library.ErrResponseLoanLimitReached,
		},
		{
			name:      "refuses a second loan of the same book",
			userLoans: loansFor(1, 7),
			book:      library.Book{ID: 7, AvailableCount: 3},
			want:      library.ErrResponseDuplicateLoan,
		},
		{
			name: "refuses a book without stock",
			book: library.Book{ID: 7, AvailableCount: 0},
			want: library.ErrResponseNoCopiesAvailable,
		},
		{
			name: "treats a negative count as no stock",
			book: library.Book{ID: 7, AvailableCount: -1},
			want: library.ErrResponseNoCopiesAvailable,
		},
		{
			name:      "reports the duplicate before the missing stock",
			userLoans: loansFor(1, 7),
			book:      library.Book{ID: 7, AvailableCount: 0},
			want:      library.ErrResponseDuplicateLoan,
		},
		{
			name:      "reports the missing stock before the limit",
			userLoans: loansFor(1, 1, 2, 3, 4, 5),
			book:      library.Book{ID: 7, AvailableCount: 0},
			want:      library.ErrResponseNoCopiesAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(p.Evaluate(tt.userLoans, tt.book), tt.want)
		})
	}

	t.Run("honors a custom limit", func(t *testing.T) {
		is := is.New(t)
		p := library.Policy{MaxActiveLoans: 1, LoanPeriod: time.Hour}
		is.NoErr(p.Evaluate(nil, library.Book{ID: 1, AvailableCount: 1}))
		is.Equal(p.Evaluate(loansFor(1, 2), library.Book{ID: 1, AvailableCount: 1}), library.ErrResponseLoanLimitReached)
	})

	t.Run("violations are policy violations", func(t *testing.T) {
		is := is.New(t)
		err := p.Evaluate(loansFor(1, 7), library.Book{ID: 7, AvailableCount: 1})
		is.Equal(library.KindOf(err), library.KindPolicyViolation)
	})
}

func TestPolicyDueAt(t *testing.T) {
	is := is.New(t)
	issuedAt := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	is.Equal(library.DefaultPolicy().DueAt(issuedAt), issuedAt.Add(14*24*time.Hour))
}
