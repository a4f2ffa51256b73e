package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"
	"github.com/library-service/cmd/api/library"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
)

const bookColumns = `id, title, description, release_date, author_id, genre_ids, available_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (library.Book, error) {
	var b library.Book
	var releaseDate sql.NullTime
	err := row.Scan(&b.ID, &b.Title, &b.Description, &releaseDate, &b.AuthorID, pq.Array(&b.GenreIDs), &b.AvailableCount)
	if err != nil {
		return library.Book{}, err
	}
	b.ReleaseDate = releaseDate.Time
	if b.GenreIDs == nil {
		b.GenreIDs = []int64{}
	}
	return b, nil
}

func scanAuthor(row rowScanner) (library.Author, error) {
	var a library.Author
	var dateBirth sql.NullTime
	err := row.Scan(&a.ID, &a.FullName, &a.Biography, &dateBirth)
	if err != nil {
		return library.Author{}, err
	}
	a.DateBirth = dateBirth.Time
	return a, nil
}

// -- Authors --

func (store *Store) CreateAuthor(ctx context.Context, a library.Author) (library.Author, error) {
	sqlStatement := `
	INSERT INTO authors (full_name, biography, date_birth)
	VALUES ($1, $2, $3)
	RETURNING id, full_name, biography, date_birth`
	created, err := scanAuthor(store.exc.QueryRowContext(ctx, sqlStatement, a.FullName, a.Biography, nullTime(a.DateBirth)))
	if err != nil {
		return library.Author{}, fmt.Errorf("storing author on db: %w", translate(ctx, err))
	}
	return created, nil
}

func (store *Store) GetAuthorByID(ctx context.Context, id int64) (library.Author, error) {
	sqlStatement := `SELECT id, full_name, biography, date_birth
	FROM authors
	WHERE id = $1;`
	a, err := scanAuthor(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Author{}, fmt.Errorf("searching author by ID: %w", library.ErrResponseAuthorNotFound)
		default:
			return library.Author{}, fmt.Errorf("searching author by ID: %w", translate(ctx, err))
		}
	}
	return a, nil
}

func (store *Store) ListAuthors(ctx context.Context) ([]library.Author, error) {
	rows, err := store.exc.QueryContext(ctx, `SELECT id, full_name, biography, date_birth FROM authors ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", translate(ctx, err))
	}
	defer rows.Close()

	authors := []library.Author{}
	for rows.Next() {
		a, err := scanAuthor(rows)
		if err != nil {
			return nil, fmt.Errorf("listing authors from db: %w", err)
		}
		authors = append(authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", translate(ctx, err))
	}
	return authors, nil
}

/* Deletes the author. The books foreign key is RESTRICT, so an author with books is refused. */
func (store *Store) DeleteAuthor(ctx context.Context, id int64) error {
	res, err := store.exc.ExecContext(ctx, `DELETE FROM authors WHERE id = $1;`, id)
	if err != nil {
		if pqErr, ok := pqError(err); ok && pqErr.Code == foreignKeyViolation {
			return fmt.Errorf("deleting author from db: %w", library.ErrResponseAuthorHasBooks)
		}
		return fmt.Errorf("deleting author from db: %w", translate(ctx, err))
	}
	return affectedOne(res, library.ErrResponseAuthorNotFound, "deleting author from db")
}

// -- Genres --

func (store *Store) CreateGenre(ctx context.Context, g library.Genre) (library.Genre, error) {
	sqlStatement := `
	INSERT INTO genres (title)
	VALUES ($1)
	RETURNING id, title`
	var created library.Genre
	err := store.exc.QueryRowContext(ctx, sqlStatement, g.Title).Scan(&created.ID, &created.Title)
	if err != nil {
		return library.Genre{}, fmt.Errorf("storing genre on db: %w", translate(ctx, err))
	}
	return created, nil
}

func (store *Store) GetGenreByID(ctx context.Context, id int64) (library.Genre, error) {
	var g library.Genre
	err := store.exc.QueryRowContext(ctx, `SELECT id, title FROM genres WHERE id = $1;`, id).Scan(&g.ID, &g.Title)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Genre{}, fmt.Errorf("searching genre by ID: %w", library.ErrResponseGenreNotFound)
		default:
			return library.Genre{}, fmt.Errorf("searching genre by ID: %w", translate(ctx, err))
		}
	}
	return g, nil
}

func (store *Store) ListGenres(ctx context.Context) ([]library.Genre, error) {
	rows, err := store.exc.QueryContext(ctx, `SELECT id, title FROM genres ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("listing genres from db: %w", translate(ctx, err))
	}
	defer rows.Close()

	genres := []library.Genre{}
	for rows.Next() {
		var g library.Genre
		if err := rows.Scan(&g.ID, &g.Title); err != nil {
			return nil, fmt.Errorf("listing genres from db: %w", err)
		}
		genres = append(genres, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing genres from db: %w", translate(ctx, err))
	}
	return genres, nil
}

func (store *Store) UpdateGenre(ctx context.Context, g library.Genre) (library.Genre, error) {
	sqlStatement := `
	UPDATE genres
	SET title = $2
	WHERE id = $1
	RETURNING id, title`
	var updated library.Genre
	err := store.exc.QueryRowContext(ctx, sqlStatement, g.ID, g.Title).Scan(&updated.ID, &updated.Title)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Genre{}, fmt.Errorf("updating genre on db: %w", library.ErrResponseGenreNotFound)
		default:
			return library.Genre{}, fmt.Errorf("updating genre on db: %w", translate(ctx, err))
		}
	}
	return updated, nil
}

// DeleteGenre leaves dangling ids in books.genre_ids; readers render them as unknown.
func (store *Store) DeleteGenre(ctx context.Context, id int64) error {
	res, err := store.exc.ExecContext(ctx, `DELETE FROM genres WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("deleting genre from db: %w", translate(ctx, err))
	}
	return affectedOne(res, library.ErrResponseGenreNotFound, "deleting genre from db")
}

// -- Books --

func (store *Store) CreateBook(ctx context.Context, b library.Book) (library.Book, error) {
	genreIDs := b.GenreIDs
	if genreIDs == nil {
		genreIDs = []int64{}
	}

	sqlStatement := `
	INSERT INTO books (title, description, release_date, author_id, genre_ids, available_count)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + bookColumns
	created, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, b.Title, b.Description, nullTime(b.ReleaseDate), b.AuthorID, pq.Array(genreIDs), b.AvailableCount))
	if err != nil {
		if pqErr, ok := pqError(err); ok {
			switch pqErr.Code {
			case foreignKeyViolation:
				return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseAuthorNotFound)
			case checkViolation:
				return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseBookEntryBlankFields)
			}
		}
		return library.Book{}, fmt.Errorf("storing book on db: %w", translate(ctx, err))
	}
	return created, nil
}

func (store *Store) GetBookByID(ctx context.Context, id int64) (library.Book, error) {
	sqlStatement := `SELECT ` + bookColumns + `
	FROM books
	WHERE id = $1;`
	b, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Book{}, fmt.Errorf("searching book by ID: %w", library.ErrResponseBookNotFound)
		default:
			return library.Book{}, fmt.Errorf("searching book by ID: %w", translate(ctx, err))
		}
	}
	return b, nil
}

/* Reads the book with FOR UPDATE. The row stays locked until the surrounding transaction ends. */
func (store *Store) LockBook(ctx context.Context, id int64) (library.Book, error) {
	sqlStatement := `SELECT ` + bookColumns + `
	FROM books
	WHERE id = $1
	FOR UPDATE;`
	b, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Book{}, fmt.Errorf("locking book: %w", library.ErrResponseBookNotFound)
		default:
			return library.Book{}, fmt.Errorf("locking book: %w", translate(ctx, err))
		}
	}
	return b, nil
}

/* Returns filtered content of database in a list of books, ordered by id. */
func (store *Store) ListBooks(ctx context.Context, filter library.BookFilter) ([]library.Book, error) {
	query, args, err := listBooksQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	rows, err := store.exc.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", translate(ctx, err))
	}
	defer rows.Close()

	books := []library.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("listing books from db: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing books from db: %w", translate(ctx, err))
	}
	return books, nil
}

func listBooksQuery(filter library.BookFilter) (string, []any, error) {
	ds := goqu.Dialect("postgres").
		From(goqu.T("books").As("b")).
		Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		Select("b.id", "b.title", "b.description", "b.release_date", "b.author_id", "b.genre_ids", "b.available_count").
		Order(goqu.I("b.id").Asc())

	if filter.Title != "" {
		ds = ds.Where(goqu.I("b.title").ILike(containsPattern(filter.Title)))
	}
	if filter.Author != "" {
		ds = ds.Where(goqu.I("a.full_name").ILike(containsPattern(filter.Author)))
	}

	return ds.Prepared(true).ToSQL()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

/* Updates the descriptive columns of the book. available_count only moves through AdjustAvailableCount. */
func (store *Store) UpdateBook(ctx context.Context, b library.Book) (library.Book, error) {
	genreIDs := b.GenreIDs
	if genreIDs == nil {
		genreIDs = []int64{}
	}

	sqlStatement := `
	UPDATE books
	SET title = $2, description = $3, release_date = $4, author_id = $5, genre_ids = $6
	WHERE id = $1
	RETURNING ` + bookColumns
	updated, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, b.ID, b.Title, b.Description, nullTime(b.ReleaseDate), b.AuthorID, pq.Array(genreIDs)))
	if err != nil {
		if pqErr, ok := pqError(err); ok && pqErr.Code == foreignKeyViolation {
			return library.Book{}, fmt.Errorf("updating book on db: %w", library.ErrResponseAuthorNotFound)
		}
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Book{}, fmt.Errorf("updating book on db: %w", library.ErrResponseBookNotFound)
		default:
			return library.Book{}, fmt.Errorf("updating book on db: %w", translate(ctx, err))
		}
	}
	return updated, nil
}

/* Adds delta to available_count. The CHECK constraint keeps it from going negative. */
func (store *Store) AdjustAvailableCount(ctx context.Context, id int64, delta int) (library.Book, error) {
	sqlStatement := `
	UPDATE books
	SET available_count = available_count + $2
	WHERE id = $1
	RETURNING ` + bookColumns
	b, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, id, delta))
	if err != nil {
		if pqErr, ok := pqError(err); ok && pqErr.Code == checkViolation {
			return library.Book{}, fmt.Errorf("adjusting available count on db: %w", library.ErrResponseNoCopiesAvailable)
		}
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return library.Book{}, fmt.Errorf("adjusting available count on db: %w", library.ErrResponseBookNotFound)
		default:
			return library.Book{}, fmt.Errorf("adjusting available count on db: %w", translate(ctx, err))
		}
	}
	return b, nil
}

func (store *Store) DeleteBook(ctx context.Context, id int64) error {
	res, err := store.exc.ExecContext(ctx, `DELETE FROM books WHERE id = $1;`, id)
	if err != nil {
		if pqErr, ok := pqError(err); ok && pqErr.Code == foreignKeyViolation {
			return fmt.Errorf("deleting book from db: %w", library.ErrResponseBookOnLoan)
		}
		return fmt.Errorf("deleting book from db: %w", translate(ctx, err))
	}
	return affectedOne(res, library.ErrResponseBookNotFound, "deleting book from db")
}

func affectedOne(res sql.Result, notFound library.ErrResponse, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return nil
}
