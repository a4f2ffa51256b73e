package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/library-service/cmd/api/library"
)

type AdaptedBook struct {
	ID             int64
	Title          string
	Description    string
	ReleaseDate    time.Time
	AuthorID       int64
	GenreIDs       []int64
	AvailableCount int
}

func adaptBook(b library.Book) AdaptedBook {
	return AdaptedBook{
		ID:             b.ID,
		Title:          b.Title,
		Description:    b.Description,
		ReleaseDate:    b.ReleaseDate,
		AuthorID:       b.AuthorID,
		GenreIDs:       append([]int64{}, b.GenreIDs...),
		AvailableCount: b.AvailableCount,
	}
}

func (b AdaptedBook) toBook() library.Book {
	return library.Book{
		ID:             b.ID,
		Title:          b.Title,
		Description:    b.Description,
		ReleaseDate:    b.ReleaseDate,
		AuthorID:       b.AuthorID,
		GenreIDs:       append([]int64{}, b.GenreIDs...),
		AvailableCount: b.AvailableCount,
	}
}

// -- Authors --

func (store *InMemoryStore) CreateAuthor(ctx context.Context, a library.Author) (library.Author, error) {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		id, err := nextID(txn, "author")
		if err != nil {
			return err
		}
		a.ID = id
		return txn.Insert("author", a)
	})
	if err != nil {
		return library.Author{}, fmt.Errorf("storing author on db: %w", err)
	}
	return a, nil
}

func (store *InMemoryStore) GetAuthorByID(ctx context.Context, id int64) (library.Author, error) {
	var a library.Author
	err := store.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("author", "id", id)
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseAuthorNotFound
		}
		a = raw.(library.Author)
		return nil
	})
	if err != nil {
		return library.Author{}, fmt.Errorf("searching author by ID: %w", err)
	}
	return a, nil
}

func (store *InMemoryStore) ListAuthors(ctx context.Context) ([]library.Author, error) {
	authors := []library.Author{}
	err := store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get("author", "id")
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			authors = append(authors, obj.(library.Author))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", err)
	}
	sort.Slice(authors, func(i, j int) bool { return authors[i].ID < authors[j].ID })
	return authors, nil
}

func (store *InMemoryStore) DeleteAuthor(ctx context.Context, id int64) error {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("author", "id", id)
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseAuthorNotFound
		}
		book, err := txn.First("book", "author_id", id)
		if err != nil {
			return err
		}
		if book != nil {
			return library.ErrResponseAuthorHasBooks
		}
		return txn.Delete("author", raw)
	})
	if err != nil {
		return fmt.Errorf("deleting author from db: %w", err)
	}
	return nil
}

// -- Genres --

func (store *InMemoryStore) CreateGenre(ctx context.Context, g library.Genre) (library.Genre, error) {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		id, err := nextID(txn, "genre")
		if err != nil {
			return err
		}
		g.ID = id
		return txn.Insert("genre", g)
	})
	if err != nil {
		return library.Genre{}, fmt.Errorf("storing genre on db: %w", err)
	}
	return g, nil
}

func (store *InMemoryStore) GetGenreByID(ctx context.Context, id int64) (library.Genre, error) {
	var g library.Genre
	err := store.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("genre", "id", id)
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseGenreNotFound
		}
		g = raw.(library.Genre)
		return nil
	})
	if err != nil {
		return library.Genre{}, fmt.Errorf("searching genre by ID: %w", err)
	}
	return g, nil
}

func (store *InMemoryStore) ListGenres(ctx context.Context) ([]library.Genre, error) {
	genres := []library.Genre{}
	err := store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get("genre", "id")
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			genres = append(genres, obj.(library.Genre))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing genres from db: %w", err)
	}
	sort.Slice(genres, func(i, j int) bool { return genres[i].ID < genres[j].ID })
	return genres, nil
}

func (store *InMemoryStore) UpdateGenre(ctx context.Context, g library.Genre) (library.Genre, error) {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("genre", "id", g.ID)
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseGenreNotFound
		}
		return txn.Insert("genre", g)
	})
	if err != nil {
		return library.Genre{}, fmt.Errorf("updating genre on db: %w", err)
	}
	return g, nil
}

// DeleteGenre leaves the id in every book that lists it.
func (store *InMemoryStore) DeleteGenre(ctx context.Context, id int64) error {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First("genre", "id", id)
		if err != nil {
			return err
		}
		if raw == nil {
			return library.ErrResponseGenreNotFound
		}
		return txn.Delete("genre", raw)
	})
	if err != nil {
		return fmt.Errorf("deleting genre from db: %w", err)
	}
	return nil
}

// -- Books --

func (store *InMemoryStore) CreateBook(ctx context.Context, b library.Book) (library.Book, error) {
	if b.AvailableCount < 0 {
		return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseBookEntryBlankFields)
	}

	var created AdaptedBook
	err := store.write(ctx, func(txn *memdb.Txn) error {
		author, err := txn.First("author", "id", b.AuthorID)
		if err != nil {
			return err
		}
		if author == nil {
			return library.ErrResponseAuthorNotFound
		}

		id, err := nextID(txn, "book")
		if err != nil {
			return err
		}
		b.ID = id
		created = adaptBook(b)
		return txn.Insert("book", created)
	})
	if err != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	return created.toBook(), nil
}

func (store *InMemoryStore) GetBookByID(ctx context.Context, id int64) (library.Book, error) {
	var found AdaptedBook
	err := store.read(ctx, func(txn *memdb.Txn) error {
		var err error
		found, err = firstBook(txn, id)
		return err
	})
	if err != nil {
		return library.Book{}, fmt.Errorf("searching book by ID: %w", err)
	}
	return found.toBook(), nil
}

// LockBook reads the book. Writers already hold the whole store, so no row lock is needed.
func (store *InMemoryStore) LockBook(ctx context.Context, id int64) (library.Book, error) {
	var found AdaptedBook
	err := store.write(ctx, func(txn *memdb.Txn) error {
		var err error
		found, err = firstBook(txn, id)
		return err
	})
	if err != nil {
		return library.Book{}, fmt.Errorf("locking book: %w", err)
	}
	return found.toBook(), nil
}

/* Returns the books matching the filter, ordered by id. Matching is a case-insensitive substring search. */
func (store *InMemoryStore) ListBooks(ctx context.Context, filter library.BookFilter) ([]library.Book, error) {
	title := strings.ToLower(filter.Title)
	authorName := strings.ToLower(filter.Author)

	books := []library.Book{}
	err := store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get("book", "id")
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			b := obj.(AdaptedBook)
			if title != "" && !strings.Contains(strings.ToLower(b.Title), title) {
				continue
			}
			if authorName != "" {
				raw, err := txn.First("author", "id", b.AuthorID)
				if err != nil {
					return err
				}
				if raw == nil || !strings.Contains(strings.ToLower(raw.(library.Author).FullName), authorName) {
					continue
				}
			}
			books = append(books, b.toBook())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

// UpdateBook replaces everything but the available count, which only AdjustAvailableCount moves.
func (store *InMemoryStore) UpdateBook(ctx context.Context, b library.Book) (library.Book, error) {
	var updated AdaptedBook
	err := store.write(ctx, func(txn *memdb.Txn) error {
		current, err := firstBook(txn, b.ID)
		if err != nil {
			return err
		}
		author, err := txn.First("author", "id", b.AuthorID)
		if err != nil {
			return err
		}
		if author == nil {
			return library.ErrResponseAuthorNotFound
		}

		b.AvailableCount = current.AvailableCount
		updated = adaptBook(b)
		return txn.Insert("book", updated)
	})
	if err != nil {
		return library.Book{}, fmt.Errorf("updating book on db: %w", err)
	}
	return updated.toBook(), nil
}

// AdjustAvailableCount refuses any change that would leave the count negative.
func (store *InMemoryStore) AdjustAvailableCount(ctx context.Context, id int64, delta int) (library.Book, error) {
	var updated AdaptedBook
	err := store.write(ctx, func(txn *memdb.Txn) error {
		b, err := firstBook(txn, id)
		if err != nil {
			return err
		}
		if b.AvailableCount+delta < 0 {
			return library.ErrResponseNoCopiesAvailable
		}
		b.AvailableCount += delta
		updated = b
		return txn.Insert("book", b)
	})
	if err != nil {
		return library.Book{}, fmt.Errorf("adjusting available count on db: %w", err)
	}
	return updated.toBook(), nil
}

func (store *InMemoryStore) DeleteBook(ctx context.Context, id int64) error {
	err := store.write(ctx, func(txn *memdb.Txn) error {
		b, err := firstBook(txn, id)
		if err != nil {
			return err
		}
		loan, err := txn.First("loan", "book_id", id)
		if err != nil {
			return err
		}
		if loan != nil {
			return library.ErrResponseBookOnLoan
		}
		return txn.Delete("book", b)
	})
	if err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	return nil
}

func firstBook(txn *memdb.Txn, id int64) (AdaptedBook, error) {
	raw, err := txn.First("book", "id", id)
	if err != nil {
		return AdaptedBook{}, err
	}
	if raw == nil {
		return AdaptedBook{}, library.ErrResponseBookNotFound
	}
	return raw.(AdaptedBook), nil
}
