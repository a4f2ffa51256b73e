package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 250
	maxFullNameLen    = 100
	maxGenreTitleLen  = 50
)

// -- Authors --

func (s *Service) CreateAuthor(ctx context.Context, a Author) (Author, error) {
	a.FullName = strings.TrimSpace(a.FullName)
	if a.FullName == "" || utf8.RuneCountInString(a.FullName) > maxFullNameLen {
		return Author{}, ErrResponseAuthorEntryBlankFields
	}
	a.ID = 0
	created, err := s.repo.CreateAuthor(ctx, a)
	if err != nil {
		return Author{}, unwrapOutcome(classify(err))
	}
	return created, nil
}

func (s *Service) GetAuthor(ctx context.Context, id int64) (Author, error) {
	a, err := s.repo.GetAuthorByID(ctx, id)
	if err != nil {
		return Author{}, unwrapOutcome(classify(err))
	}
	return a, nil
}

func (s *Service) ListAuthors(ctx context.Context) ([]Author, error) {
	authors, err := s.repo.ListAuthors(ctx)
	if err != nil {
		return nil, unwrapOutcome(classify(err))
	}
	return authors, nil
}

// DeleteAuthor refuses while any book still references the author.
func (s *Service) DeleteAuthor(ctx context.Context, id int64) error {
	return unwrapOutcome(classify(s.repo.DeleteAuthor(ctx, id)))
}

// -- Genres --

func (s *Service) CreateGenre(ctx context.Context, g Genre) (Genre, error) {
	g.Title = strings.TrimSpace(g.Title)
	if g.Title == "" || utf8.RuneCountInString(g.Title) > maxGenreTitleLen {
		return Genre{}, ErrResponseGenreEntryBlankFields
	}
	g.ID = 0
	created, err := s.repo.CreateGenre(ctx, g)
	if err != nil {
		return Genre{}, unwrapOutcome(classify(err))
	}
	return created, nil
}

func (s *Service) GetGenre(ctx context.Context, id int64) (Genre, error) {
	g, err := s.repo.GetGenreByID(ctx, id)
	if err != nil {
		return Genre{}, unwrapOutcome(classify(err))
	}
	return g, nil
}

func (s *Service) ListGenres(ctx context.Context) ([]Genre, error) {
	genres, err := s.repo.ListGenres(ctx)
	if err != nil {
		return nil, unwrapOutcome(classify(err))
	}
	return genres, nil
}

func (s *Service) UpdateGenre(ctx context.Context, id int64, title string) (Genre, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxGenreTitleLen {
		return Genre{}, ErrResponseGenreEntryBlankFields
	}
	updated, err := s.repo.UpdateGenre(ctx, Genre{ID: id, Title: title})
	if err != nil {
		return Genre{}, unwrapOutcome(classify(err))
	}
	return updated, nil
}

// DeleteGenre removes the genre. Books keep the id and render it as UnknownGenre.
func (s *Service) DeleteGenre(ctx context.Context, id int64) error {
	return unwrapOutcome(classify(s.repo.DeleteGenre(ctx, id)))
}

// -- Books --

func validBook(b Book) bool {
	title := strings.TrimSpace(b.Title)
	return title != "" &&
		utf8.RuneCountInString(title) <= maxTitleLen &&
		utf8.RuneCountInString(b.Description) <= maxDescriptionLen &&
		b.AuthorID > 0 &&
		b.AvailableCount >= 0
}

/* Validates the entry, checks that its author and genres exist and stores it with its initial stock. */
func (s *Service) CreateBook(ctx context.Context, b Book) (BookDetail, error) {
	if !validBook(b) {
		return BookDetail{}, ErrResponseBookEntryBlankFields
	}
	b.ID = 0
	b.Title = strings.TrimSpace(b.Title)
	b.GenreIDs = dedupIDs(b.GenreIDs)

	var detail BookDetail
	err := s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(txRepo Repository) error {
		if _, err := txRepo.GetAuthorByID(ctx, b.AuthorID); err != nil {
			return fmt.Errorf("checking author %d: %w", b.AuthorID, err)
		}
		for _, id := range b.GenreIDs {
			if _, err := txRepo.GetGenreByID(ctx, id); err != nil {
				return fmt.Errorf("checking genre %d: %w", id, err)
			}
		}

		created, err := txRepo.CreateBook(ctx, b)
		if err != nil {
			return fmt.Errorf("storing book: %w", err)
		}

		detail, err = bookDetail(ctx, txRepo, created)
		return err
	})
	if err != nil {
		return BookDetail{}, unwrapOutcome(err)
	}
	return detail, nil
}

func (s *Service) GetBook(ctx context.Context, id int64) (BookDetail, error) {
	var detail BookDetail
	err := s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(txRepo Repository) error {
		b, err := txRepo.GetBookByID(ctx, id)
		if err != nil {
			return fmt.Errorf("searching book %d: %w", id, err)
		}
		detail, err = bookDetail(ctx, txRepo, b)
		return err
	})
	if err != nil {
		return BookDetail{}, unwrapOutcome(err)
	}
	return detail, nil
}

// ListBooks returns the matching books ordered by id.
func (s *Service) ListBooks(ctx context.Context, filter BookFilter) ([]BookDetail, error) {
	filter.Title = strings.TrimSpace(filter.Title)
	filter.Author = strings.TrimSpace(filter.Author)

	var details []BookDetail
	err := s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(txRepo Repository) error {
		books, err := txRepo.ListBooks(ctx, filter)
		if err != nil {
			return fmt.Errorf("listing books: %w", err)
		}
		details = make([]BookDetail, 0, len(books))
		for _, b := range books {
			d, err := bookDetail(ctx, txRepo, b)
			if err != nil {
				return err
			}
			details = append(details, d)
		}
		return nil
	})
	if err != nil {
		return nil, unwrapOutcome(err)
	}
	return details, nil
}

// UpdateBook applies patch to the book under its row lock.
//
// A new AvailableCount is a restock: the difference to the current shelf count
// goes through AdjustAvailableCount, so copies out on loan stay accounted for.
func (s *Service) UpdateBook(ctx context.Context, id int64, patch BookPatch) (BookDetail, error) {
	var detail BookDetail
	err := s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(txRepo Repository) error {
		current, err := txRepo.LockBook(ctx, id)
		if err != nil {
			return fmt.Errorf("locking book %d: %w", id, err)
		}

		b := patch.apply(current)
		if !validBook(b) {
			return ErrResponseBookEntryBlankFields
		}
		b.Title = strings.TrimSpace(b.Title)
		b.GenreIDs = dedupIDs(b.GenreIDs)

		if patch.AuthorID != nil {
			if _, err := txRepo.GetAuthorByID(ctx, b.AuthorID); err != nil {
				return fmt.Errorf("checking author %d: %w", b.AuthorID, err)
			}
		}
		if patch.GenreIDs != nil {
			for _, genreID := range b.GenreIDs {
				if _, err := txRepo.GetGenreByID(ctx, genreID); err != nil {
					return fmt.Errorf("checking genre %d: %w", genreID, err)
				}
			}
		}

		updated, err := txRepo.UpdateBook(ctx, b)
		if err != nil {
			return fmt.Errorf("updating book %d: %w", id, err)
		}

		if delta := b.AvailableCount - current.AvailableCount; delta != 0 {
			updated, err = txRepo.AdjustAvailableCount(ctx, id, delta)
			if err != nil {
				return fmt.Errorf("restocking book %d: %w", id, err)
			}
		}

		detail, err = bookDetail(ctx, txRepo, updated)
		return err
	})
	if err != nil {
		return BookDetail{}, unwrapOutcome(err)
	}
	return detail, nil
}

func (p BookPatch) apply(b Book) Book {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.ReleaseDate != nil {
		b.ReleaseDate = *p.ReleaseDate
	}
	if p.AuthorID != nil {
		b.AuthorID = *p.AuthorID
	}
	if p.GenreIDs != nil {
		b.GenreIDs = append([]int64{}, p.GenreIDs...)
	}
	if p.AvailableCount != nil {
		b.AvailableCount = *p.AvailableCount
	}
	return b
}

// DeleteBook removes a book from the catalog. A book with active loans cannot be deleted.
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	err := s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(txRepo Repository) error {
		if _, err := txRepo.LockBook(ctx, id); err != nil {
			return fmt.Errorf("locking book %d: %w", id, err)
		}

		count, err := txRepo.CountLoansByBook(ctx, id)
		if err != nil {
			return fmt.Errorf("counting loans of book %d: %w", id, err)
		}
		if count > 0 {
			return ErrResponseBookOnLoan
		}

		if err := txRepo.DeleteBook(ctx, id); err != nil {
			return fmt.Errorf("deleting book %d: %w", id, err)
		}
		return nil
	})
	return unwrapOutcome(err)
}

func dedupIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
