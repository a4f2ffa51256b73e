package library

import "context"

// ServiceAPI is what the transport layer needs from the Service.
type ServiceAPI interface {
	Checkout(ctx context.Context, userID, bookID int64) (Loan, error)
	Return(ctx context.Context, userID, bookID int64) (ReturnConfirmation, error)
	ActiveLoansForUser(ctx context.Context, userID int64) ([]BookDetail, error)
	UserLoans(ctx context.Context, caller Identity, userID int64) ([]BookDetail, error)

	CreateAuthor(ctx context.Context, a Author) (Author, error)
	GetAuthor(ctx context.Context, id int64) (Author, error)
	ListAuthors(ctx context.Context) ([]Author, error)
	DeleteAuthor(ctx context.Context, id int64) error

	CreateGenre(ctx context.Context, g Genre) (Genre, error)
	GetGenre(ctx context.Context, id int64) (Genre, error)
	ListGenres(ctx context.Context) ([]Genre, error)
	UpdateGenre(ctx context.Context, id int64, title string) (Genre, error)
	DeleteGenre(ctx context.Context, id int64) error

	CreateBook(ctx context.Context, b Book) (BookDetail, error)
	GetBook(ctx context.Context, id int64) (BookDetail, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]BookDetail, error)
	UpdateBook(ctx context.Context, id int64, patch BookPatch) (BookDetail, error)
	DeleteBook(ctx context.Context, id int64) error

	RegisterUser(ctx context.Context, username string) (User, error)
	ResolveIdentity(ctx context.Context, token string) (Identity, error)
}

var _ ServiceAPI = (*Service)(nil)
