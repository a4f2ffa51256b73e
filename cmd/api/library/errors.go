package library

import (
	"context"
	"errors"
	"fmt"
)

// Kind groups errors by how the caller should react to them.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindPolicyViolation Kind = "policy_violation"
	KindConflict        Kind = "conflict"
	KindBusy            Kind = "busy"
	KindInvalidInput    Kind = "invalid_input"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindInternal        Kind = "internal"
)

type ErrResponse struct {
	Code    int    `json:"error_code"`
	Kind    Kind   `json:"error_kind"`
	Reason  string `json:"error_reason"`
	Message string `json:"error_message"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

var ErrResponseEntryInvalidJSON = ErrResponse{100, KindInvalidInput, "invalid_json", "invalid json request"}
var ErrResponseIdInvalidFormat = ErrResponse{101, KindInvalidInput, "invalid_id", "the id must be a positive integer."}
var ErrResponseBookEntryBlankFields = ErrResponse{102, KindInvalidInput, "invalid_book", "title (up to 100 chars), description (up to 250 chars), author_id and a non-negative count must be filled correctly."}
var ErrResponseAuthorEntryBlankFields = ErrResponse{103, KindInvalidInput, "invalid_author", "full_name must be filled correctly."}
var ErrResponseGenreEntryBlankFields = ErrResponse{104, KindInvalidInput, "invalid_genre", "title must be filled correctly."}
var ErrResponseUserEntryBlankFields = ErrResponse{105, KindInvalidInput, "invalid_user", "username must be filled with up to 50 chars."}
var ErrResponseLoanEntryBlankFields = ErrResponse{106, KindInvalidInput, "invalid_loan", "field book_id must be filled correctly."}

var ErrResponseBookNotFound = ErrResponse{110, KindNotFound, "book_not_found", "book not found"}
var ErrResponseAuthorNotFound = ErrResponse{111, KindNotFound, "author_not_found", "author not found"}
var ErrResponseGenreNotFound = ErrResponse{112, KindNotFound, "genre_not_found", "genre not found"}
var ErrResponseUserNotFound = ErrResponse{113, KindNotFound, "user_not_found", "user not found"}
var ErrResponseLoanNotFound = ErrResponse{114, KindNotFound, "loan_not_found", "loan not found"}

var ErrResponseLoanLimitReached = ErrResponse{120, KindPolicyViolation, "loan_limit_reached", "loan limit reached"}
var ErrResponseDuplicateLoan = ErrResponse{121, KindPolicyViolation, "duplicate_loan", "duplicate loan"}
var ErrResponseNoCopiesAvailable = ErrResponse{122, KindPolicyViolation, "no_copies_available", "no copies available"}

var ErrResponseLoanConflict = ErrResponse{130, KindConflict, "duplicate_loan_race", "duplicate loan"}
var ErrResponseBookOnLoan = ErrResponse{131, KindConflict, "book_has_active_loans", "book has active loans"}
var ErrResponseAuthorHasBooks = ErrResponse{132, KindConflict, "author_has_books", "author has books"}
var ErrResponseUsernameTaken = ErrResponse{133, KindConflict, "username_taken", "username is already taken"}

var ErrResponseBusy = ErrResponse{140, KindBusy, "busy", "the record is locked by another request, retry later"}

var ErrResponseUnauthenticated = ErrResponse{150, KindUnauthenticated, "unauthenticated", "Not authenticated"}
var ErrResponseForbidden = ErrResponse{151, KindForbidden, "forbidden", "the user doesn't have enough privileges"}

var ErrResponseFromRepository = ErrResponse{160, KindInternal, "repository_failure", "error from repository"}

// KindOf reports the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var errResp ErrResponse
	if errors.As(err, &errResp) {
		return errResp.Kind
	}
	return KindInternal
}

// AsErrResponse returns the ErrResponse carried by err, or ErrResponseFromRepository.
func AsErrResponse(err error) ErrResponse {
	var errResp ErrResponse
	if errors.As(err, &errResp) {
		return errResp
	}
	return ErrResponseFromRepository
}

/* Keeps taxonomy errors and context errors as they are and marks anything else as a repository failure. */
func classify(err error) error {
	if err == nil {
		return nil
	}
	var errResp ErrResponse
	if errors.As(err, &errResp) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrResponseFromRepository, err)
}
