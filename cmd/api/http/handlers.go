package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/library-service/cmd/api/library"
)

const dateLayout = time.DateOnly

type LibraryHandler struct {
	libraryService library.ServiceAPI
	retryOpts      []library.RetryOption
}

func NewLibraryHandler(libraryService library.ServiceAPI, retryOpts ...library.RetryOption) *LibraryHandler {
	return &LibraryHandler{libraryService: libraryService, retryOpts: retryOpts}
}

// -- Authors --

type AuthorEntry struct {
	FullName  string `json:"full_name"`
	Biography string `json:"biography"`
	DateBirth string `json:"date_birth"`
}

type AuthorResponse struct {
	ID        int64  `json:"id"`
	FullName  string `json:"full_name"`
	Biography string `json:"biography"`
	DateBirth string `json:"date_birth,omitempty"`
}

func (h *LibraryHandler) createAuthor(w http.ResponseWriter, r *http.Request) {
	var entry AuthorEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	dateBirth, err := parseDate(entry.DateBirth)
	if err != nil {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseAuthorEntryBlankFields)
		return
	}

	created, err := h.libraryService.CreateAuthor(r.Context(), library.Author{
		FullName:  entry.FullName,
		Biography: entry.Biography,
		DateBirth: dateBirth,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusCreated, authorToResponse(created))
}

func (h *LibraryHandler) getAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	a, err := h.libraryService.GetAuthor(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, authorToResponse(a))
}

func (h *LibraryHandler) listAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.libraryService.ListAuthors(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	results := make([]AuthorResponse, 0, len(authors))
	for _, a := range authors {
		results = append(results, authorToResponse(a))
	}
	responseJSON(w, http.StatusOK, results)
}

func (h *LibraryHandler) deleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	if err := h.libraryService.DeleteAuthor(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func authorToResponse(a library.Author) AuthorResponse {
	return AuthorResponse{
		ID:        a.ID,
		FullName:  a.FullName,
		Biography: a.Biography,
		DateBirth: formatDate(a.DateBirth),
	}
}

// -- Genres --

type GenreEntry struct {
	Title string `json:"title"`
}

type GenreResponse struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func (h *LibraryHandler) createGenre(w http.ResponseWriter, r *http.Request) {
	var entry GenreEntry
	if !decodeEntry(w, r, &entry) {
		return
	}
	created, err := h.libraryService.CreateGenre(r.Context(), library.Genre{Title: entry.Title})
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusCreated, GenreResponse(created))
}

func (h *LibraryHandler) getGenre(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	g, err := h.libraryService.GetGenre(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, GenreResponse(g))
}

func (h *LibraryHandler) listGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.libraryService.ListGenres(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	results := make([]GenreResponse, 0, len(genres))
	for _, g := range genres {
		results = append(results, GenreResponse(g))
	}
	responseJSON(w, http.StatusOK, results)
}

func (h *LibraryHandler) updateGenre(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	var entry GenreEntry
	if !decodeEntry(w, r, &entry) {
		return
	}
	updated, err := h.libraryService.UpdateGenre(r.Context(), id, entry.Title)
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, GenreResponse(updated))
}

func (h *LibraryHandler) deleteGenre(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	if err := h.libraryService.DeleteGenre(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- Books --

type BookEntry struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ReleaseDate string  `json:"release_date"`
	Count       *int    `json:"count"`
	AuthorID    int64   `json:"id_author"`
	GenreIDs    []int64 `json:"genres_ids"`
}

// BookPatchEntry is the body of a partial update. Absent fields are left alone.
type BookPatchEntry struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	ReleaseDate *string `json:"release_date"`
	Count       *int    `json:"count"`
	AuthorID    *int64  `json:"id_author"`
	GenreIDs    []int64 `json:"genres_ids"`
}

type BookAuthorResponse struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

type BookResponse struct {
	ID          int64              `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Author      BookAuthorResponse `json:"author"`
	ReleaseDate string             `json:"release_date,omitempty"`
	Count       int                `json:"count"`
	Genres      []string           `json:"genres"`
}

/* Validates the entry, then stores the entry as a new book. */
func (h *LibraryHandler) createBook(w http.ResponseWriter, r *http.Request) {
	var entry BookEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	releaseDate, err := parseDate(entry.ReleaseDate)
	if err != nil || entry.Count == nil {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseBookEntryBlankFields)
		return
	}

	created, err := h.libraryService.CreateBook(r.Context(), library.Book{
		Title:          entry.Title,
		Description:    entry.Description,
		ReleaseDate:    releaseDate,
		AuthorID:       entry.AuthorID,
		GenreIDs:       entry.GenreIDs,
		AvailableCount: *entry.Count,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusCreated, bookToResponse(created))
}

func (h *LibraryHandler) getBook(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	d, err := h.libraryService.GetBook(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, bookToResponse(d))
}

/* Returns the stored books, optionally filtered by title and author name. */
func (h *LibraryHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	details, err := h.libraryService.ListBooks(r.Context(), library.BookFilter{
		Title:  query.Get("title"),
		Author: query.Get("author"),
	})
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, booksToResponse(details))
}

/* Replaces every field of the book. The entry must be as complete as on creation. */
func (h *LibraryHandler) replaceBook(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	var entry BookEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	releaseDate, err := parseDate(entry.ReleaseDate)
	if err != nil || entry.Count == nil {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseBookEntryBlankFields)
		return
	}
	genreIDs := entry.GenreIDs
	if genreIDs == nil {
		genreIDs = []int64{}
	}

	h.updateBook(w, r, id, library.BookPatch{
		Title:          &entry.Title,
		Description:    &entry.Description,
		ReleaseDate:    &releaseDate,
		AuthorID:       &entry.AuthorID,
		GenreIDs:       genreIDs,
		AvailableCount: entry.Count,
	})
}

func (h *LibraryHandler) patchBook(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	var entry BookPatchEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	patch := library.BookPatch{
		Title:          entry.Title,
		Description:    entry.Description,
		AuthorID:       entry.AuthorID,
		GenreIDs:       entry.GenreIDs,
		AvailableCount: entry.Count,
	}
	if entry.ReleaseDate != nil {
		releaseDate, err := parseDate(*entry.ReleaseDate)
		if err != nil {
			responseJSON(w, http.StatusBadRequest, library.ErrResponseBookEntryBlankFields)
			return
		}
		patch.ReleaseDate = &releaseDate
	}

	h.updateBook(w, r, id, patch)
}

func (h *LibraryHandler) updateBook(w http.ResponseWriter, r *http.Request, id int64, patch library.BookPatch) {
	d, err := h.libraryService.UpdateBook(r.Context(), id, patch)
	if err != nil {
		handleError(w, err)
		return
	}
	responseJSON(w, http.StatusOK, bookToResponse(d))
}

func (h *LibraryHandler) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}
	if err := h.libraryService.DeleteBook(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*Copy the fields of a book detail to an http layer struct with json tags*/
func bookToResponse(d library.BookDetail) BookResponse {
	genres := d.Genres
	if genres == nil {
		genres = []string{}
	}
	return BookResponse{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Author:      BookAuthorResponse{ID: d.AuthorID, FullName: d.AuthorName},
		ReleaseDate: formatDate(d.ReleaseDate),
		Count:       d.AvailableCount,
		Genres:      genres,
	}
}

func booksToResponse(details []library.BookDetail) []BookResponse {
	results := make([]BookResponse, 0, len(details))
	for _, d := range details {
		results = append(results, bookToResponse(d))
	}
	return results
}

// -- Users --

type UserEntry struct {
	Username string `json:"username"`
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

/* Registers a user and hands its session token back, also as the session cookie. */
func (h *LibraryHandler) registerUser(w http.ResponseWriter, r *http.Request) {
	var entry UserEntry
	if !decodeEntry(w, r, &entry) {
		return
	}
	u, err := h.libraryService.RegisterUser(r.Context(), entry.Username)
	if err != nil {
		handleError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    u.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	responseJSON(w, http.StatusCreated, UserResponse{ID: u.ID, Username: u.Username, Token: u.Token})
}

// -- Helpers --

/* Reads the JSON body into entry. Writes the error response and returns false when it can't. */
func decodeEntry(w http.ResponseWriter, r *http.Request, entry any) bool {
	err := json.NewDecoder(r.Body).Decode(entry)
	if err != nil {
		log.Println(err)
		errR := library.ErrResponseEntryInvalidJSON
		errR.Message = errR.Message + ": " + err.Error()
		responseJSON(w, http.StatusBadRequest, errR)
		return false
	}
	return true
}

/* Isolates the ID from the URL. */
func isolateId(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseIdInvalidFormat)
		return 0, false
	}
	return id, true
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

/*Maps an error kind to its HTTP status. */
func statusFor(kind library.Kind) int {
	switch kind {
	case library.KindNotFound:
		return http.StatusNotFound
	case library.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case library.KindConflict:
		return http.StatusConflict
	case library.KindBusy:
		return http.StatusServiceUnavailable
	case library.KindInvalidInput:
		return http.StatusBadRequest
	case library.KindUnauthenticated:
		return http.StatusUnauthorized
	case library.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

/* Writes the error response. Internal failures are logged and never echoed to the client. */
func handleError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Println(err)
		w.Header().Set("Retry-After", "1")
		responseJSON(w, http.StatusServiceUnavailable, library.ErrResponseBusy)
		return
	}

	errResp := library.AsErrResponse(err)
	status := statusFor(errResp.Kind)
	if status == http.StatusInternalServerError {
		log.Println(err)
		errResp = library.ErrResponseFromRepository
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	responseJSON(w, status, errResp)
}

/*Writes a JSON response into a http.ResponseWriter. */
func responseJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		log.Println(err)
	}
}
