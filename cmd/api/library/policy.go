package library

import "time"

const (
	DefaultMaxActiveLoans = 5
	DefaultLoanPeriod     = 14 * 24 * time.Hour
)

// Policy holds the rules that gate a Checkout. It has no side effects.
type Policy struct {
	MaxActiveLoans int
	LoanPeriod     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxActiveLoans: DefaultMaxActiveLoans,
		LoanPeriod:     DefaultLoanPeriod,
	}
}

// Evaluate decides whether the user holding userLoans may take a copy of b.
// The duplicate rule is checked first, then stock, then the per-user limit.
func (p Policy) Evaluate(userLoans []Loan, b Book) error {
	for _, l := range userLoans {
		if l.BookID == b.ID {
			return ErrResponseDuplicateLoan
		}
	}
	if b.AvailableCount <= 0 {
		return ErrResponseNoCopiesAvailable
	}
	if len(userLoans) >= p.MaxActiveLoans {
		return ErrResponseLoanLimitReached
	}
	return nil
}

func (p Policy) DueAt(issuedAt time.Time) time.Time {
	return issuedAt.Add(p.LoanPeriod)
}
