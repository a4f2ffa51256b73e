package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/library-service/cmd/api/library"
)

// SessionCookie carries the caller's token.
const SessionCookie = "bonds_library"

type identityKey struct{}

/* Resolves the caller from the session cookie or a bearer token and stores the identity in the request context. */
func (h *LibraryHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.libraryService.ResolveIdentity(r.Context(), sessionToken(r))
		if err != nil {
			handleError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFrom(r.Context())
		if !ok {
			handleError(w, library.ErrResponseUnauthenticated)
			return
		}
		if !identity.Privileged {
			handleError(w, library.ErrResponseForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if found {
		return strings.TrimSpace(token)
	}
	return ""
}

func identityFrom(ctx context.Context) (library.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(library.Identity)
	return identity, ok
}

type LoanEntry struct {
	BookID int64 `json:"book_id"`
}

const loanDateLayout = "02-Jan-2006"

type LoanResponse struct {
	ID           string `json:"id"`
	BookID       int64  `json:"book_id"`
	UserID       int64  `json:"user_id"`
	DateOfIssue  string `json:"date_of_issue"`
	DateOfReturn string `json:"date_of_return"`
}

type ReturnResponse struct {
	Message string `json:"message"`
}

/* Validates the entry, then lends the book to the caller. */
func (h *LibraryHandler) checkout(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		handleError(w, library.ErrResponseUnauthenticated)
		return
	}

	var entry LoanEntry
	if !decodeEntry(w, r, &entry) {
		return
	}
	if entry.BookID <= 0 {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseLoanEntryBlankFields)
		return
	}

	var loan library.Loan
	err := library.Retry(r.Context(), func(ctx context.Context) error {
		var err error
		loan, err = h.libraryService.Checkout(ctx, identity.UserID, entry.BookID)
		return err
	}, h.retryOpts...)
	if err != nil {
		handleError(w, err)
		return
	}

	responseJSON(w, http.StatusCreated, LoanResponse{
		ID:           loan.ID.String(),
		BookID:       loan.BookID,
		UserID:       loan.UserID,
		DateOfIssue:  loan.IssuedAt.Format(loanDateLayout),
		DateOfReturn: loan.DueAt.Format(loanDateLayout),
	})
}

/* Returns the caller's copy of the book. Only the caller's own loans can be returned. */
func (h *LibraryHandler) returnBook(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		handleError(w, library.ErrResponseUnauthenticated)
		return
	}

	var entry LoanEntry
	if !decodeEntry(w, r, &entry) {
		return
	}
	if entry.BookID <= 0 {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseLoanEntryBlankFields)
		return
	}

	var conf library.ReturnConfirmation
	err := library.Retry(r.Context(), func(ctx context.Context) error {
		var err error
		conf, err = h.libraryService.Return(ctx, identity.UserID, entry.BookID)
		return err
	}, h.retryOpts...)
	if err != nil {
		handleError(w, err)
		return
	}

	responseJSON(w, http.StatusOK, ReturnResponse{Message: conf.Message})
}

/* Lists the books the caller holds. */
func (h *LibraryHandler) onHands(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		handleError(w, library.ErrResponseUnauthenticated)
		return
	}

	details, err := h.libraryService.ActiveLoansForUser(r.Context(), identity.UserID)
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, booksToResponse(details))
}

/* Lists the books held by any user. Privileged callers only, or the user itself. */
func (h *LibraryHandler) userLoans(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		handleError(w, library.ErrResponseUnauthenticated)
		return
	}
	userID, ok := isolateId(w, r)
	if !ok {
		return
	}

	details, err := h.libraryService.UserLoans(r.Context(), identity, userID)
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, booksToResponse(details))
}
