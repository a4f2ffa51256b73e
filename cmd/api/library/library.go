package library

import (
	"time"

	"github.com/google/uuid"
)

// UnknownGenre replaces the title of a genre id that no longer resolves.
const UnknownGenre = "unknown genre"

// ReturnedMessage confirms a successful Return.
const ReturnedMessage = "The book has been returned to the library"

type Author struct {
	ID        int64
	FullName  string
	Biography string
	DateBirth time.Time
}

type Genre struct {
	ID    int64
	Title string
}

// Book is a catalog entry. AvailableCount is the number of copies on the shelf;
// it moves through Checkout (-1), Return (+1) and a restock in UpdateBook.
type Book struct {
	ID             int64
	Title          string
	Description    string
	ReleaseDate    time.Time
	AuthorID       int64
	GenreIDs       []int64
	AvailableCount int
}

// BookPatch lists the fields UpdateBook changes. Nil fields keep their value,
// an empty non-nil GenreIDs clears the genres.
// AvailableCount is the new number of copies on the shelf.
type BookPatch struct {
	Title          *string
	Description    *string
	ReleaseDate    *time.Time
	AuthorID       *int64
	GenreIDs       []int64
	AvailableCount *int
}

// Loan is an active checkout. The row exists exactly as long as the copy is out.
type Loan struct {
	ID       uuid.UUID
	UserID   int64
	BookID   int64
	IssuedAt time.Time
	DueAt    time.Time
}

type User struct {
	ID          int64
	Username    string
	IsSuperuser bool
	Token       string
	CreatedAt   time.Time
}

// Identity is what the caller's token resolves to.
type Identity struct {
	UserID     int64
	Privileged bool
}

// BookDetail is the denormalized projection of a book with its author and genre titles.
type BookDetail struct {
	ID             int64
	Title          string
	Description    string
	AuthorID       int64
	AuthorName     string
	ReleaseDate    time.Time
	AvailableCount int
	Genres         []string
}

type ReturnConfirmation struct {
	LoanID     uuid.UUID
	UserID     int64
	BookID     int64
	ReturnedAt time.Time
	Message    string
}

// BookFilter narrows ListBooks. Empty fields match everything.
type BookFilter struct {
	Title  string
	Author string
}
