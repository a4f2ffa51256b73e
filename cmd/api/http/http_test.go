package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	libraryhttp "github.com/library-service/cmd/api/http"
	httpmock "github.com/library-service/cmd/api/http/mocks"
	"github.com/library-service/cmd/api/library"
	"github.com/matryer/is"
	"go.uber.org/mock/gomock"
)

const (
	readerToken = "reader-token"
	adminToken  = "admin-token"
)

var (
	reader = library.Identity{UserID: 7}
	admin  = library.Identity{UserID: 1, Privileged: true}
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*http.Server, *httpmock.MockServiceAPI) {
	ctrl := gomock.NewController(t)
	mockAPI := httpmock.NewMockServiceAPI(ctrl)
	handler := libraryhttp.NewLibraryHandler(mockAPI, library.WithRetryDelay(0), library.WithRetryJitter(0))
	server := libraryhttp.NewServer(libraryhttp.ServerConfig{Port: 8080}, handler)

	mockAPI.EXPECT().ResolveIdentity(gomock.Any(), readerToken).Return(reader, nil).AnyTimes()
	mockAPI.EXPECT().ResolveIdentity(gomock.Any(), adminToken).Return(admin, nil).AnyTimes()
	mockAPI.EXPECT().ResolveIdentity(gomock.Any(), "").Return(library.Identity{}, library.ErrResponseUnauthenticated).AnyTimes()
	return server, mockAPI
}

// newRequest builds a request carrying token as the session cookie.
func newRequest(method, target, body, token string) *http.Request {
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		request.AddCookie(&http.Cookie{Name: libraryhttp.SessionCookie, Value: token})
	}
	return request
}

func serve(server *http.Server, request *http.Request) (*http.Response, string) {
	response := httptest.NewRecorder()
	server.Handler.ServeHTTP(response, request)
	body, _ := io.ReadAll(response.Result().Body)
	return response.Result(), string(body)
}

func errorJSON(errResp library.ErrResponse) string {
	b, _ := json.Marshal(errResp)
	return string(b) + "\n"
}

func TestPing(t *testing.T) {
	is := is.New(t)
	server, _ := newTestServer(t)

	response, _ := serve(server, newRequest(http.MethodGet, "/ping", "", ""))
	is.Equal(response.StatusCode, http.StatusNoContent)
}

func TestRegisterUser(t *testing.T) {
	t.Run("registers a user and sets the session cookie", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().RegisterUser(gomock.Any(), "reader").Return(library.User{ID: 7, Username: "reader", Token: readerToken}, nil)

		response, body := serve(server, newRequest(http.MethodPost, "/users", `{"username":"reader"}`, ""))
		is.Equal(response.StatusCode, http.StatusCreated)
		is.Equal(body, `{"id":7,"username":"reader","token":"reader-token"}`+"\n")

		cookies := response.Cookies()
		is.Equal(len(cookies), 1)
		is.Equal(cookies[0].Name, libraryhttp.SessionCookie)
		is.Equal(cookies[0].Value, readerToken)
	})

	t.Run("a taken username is a conflict", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().RegisterUser(gomock.Any(), "reader").Return(library.User{}, library.ErrResponseUsernameTaken)

		response, body := serve(server, newRequest(http.MethodPost, "/users", `{"username":"reader"}`, ""))
		is.Equal(response.StatusCode, http.StatusConflict)
		is.Equal(body, errorJSON(library.ErrResponseUsernameTaken))
	})
}

func TestCreateBook(t *testing.T) {
	bookToCreate := `{
		"title": "Dune",
		"description": "Spice",
		"release_date": "1965-08-01",
		"count": 2,
		"id_author": 3,
		"genres_ids": [4]
	}`

	t.Run("creates a book for a privileged caller", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().CreateBook(gomock.Any(), library.Book{
			Title:          "Dune",
			Description:    "Spice",
			ReleaseDate:    time.Date(1965, time.August, 1, 0, 0, 0, 0, time.UTC),
			AuthorID:       3,
			GenreIDs:       []int64{4},
			AvailableCount: 2,
		}).Return(library.BookDetail{
			ID:             10,
			Title:          "Dune",
			Description:    "Spice",
			AuthorID:       3,
			AuthorName:     "Frank Herbert",
			ReleaseDate:    time.Date(1965, time.August, 1, 0, 0, 0, 0, time.UTC),
			AvailableCount: 2,
			Genres:         []string{"Science Fiction"},
		}, nil)

		response, body := serve(server, newRequest(http.MethodPost, "/books", bookToCreate, adminToken))
		is.Equal(response.StatusCode, http.StatusCreated)
		is.Equal(body, `{"id":10,"title":"Dune","description":"Spice","author":{"id":3,"full_name":"Frank Herbert"},"release_date":"1965-08-01","count":2,"genres":["Science Fiction"]}`+"\n")
	})

	t.Run("anonymous callers are unauthenticated", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, body := serve(server, newRequest(http.MethodPost, "/books", bookToCreate, ""))
		is.Equal(response.StatusCode, http.StatusUnauthorized)
		is.Equal(body, errorJSON(library.ErrResponseUnauthenticated))
	})

	t.Run("regular users are forbidden", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, body := serve(server, newRequest(http.MethodPost, "/books", bookToCreate, readerToken))
		is.Equal(response.StatusCode, http.StatusForbidden)
		is.Equal(body, errorJSON(library.ErrResponseForbidden))
	})

	t.Run("expected invalid json error", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, body := serve(server, newRequest(http.MethodPost, "/books", `{"title": "Dune" "count": 1}`, adminToken))
		is.Equal(response.StatusCode, http.StatusBadRequest)
		is.True(strings.Contains(body, `"error_code":100`))
		is.True(strings.Contains(body, `"error_message":"invalid json request: invalid character`))
	})

	t.Run("a missing count is a blank field", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, body := serve(server, newRequest(http.MethodPost, "/books", `{"title":"Dune","id_author":3}`, adminToken))
		is.Equal(response.StatusCode, http.StatusBadRequest)
		is.Equal(body, errorJSON(library.ErrResponseBookEntryBlankFields))
	})
}

func TestListBooks(t *testing.T) {
	t.Run("passes the filters and renders the books", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().ListBooks(gomock.Any(), library.BookFilter{Title: "dune", Author: "herbert"}).Return([]library.BookDetail{
			{ID: 10, Title: "Dune", AuthorID: 3, AuthorName: "Frank Herbert", AvailableCount: 1},
		}, nil)

		response, body := serve(server, newRequest(http.MethodGet, "/books?title=dune&author=herbert", "", adminToken))
		is.Equal(response.StatusCode, http.StatusOK)
		is.Equal(body, `[{"id":10,"title":"Dune","description":"","author":{"id":3,"full_name":"Frank Herbert"},"count":1,"genres":[]}]`+"\n")
	})

	t.Run("an empty catalog is an empty list", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().ListBooks(gomock.Any(), library.BookFilter{}).Return(nil, nil)

		response, body := serve(server, newRequest(http.MethodGet, "/books", "", adminToken))
		is.Equal(response.StatusCode, http.StatusOK)
		is.Equal(body, "[]\n")
	})

	t.Run("only privileged callers browse the catalog", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		for _, target := range []string{"/books", "/books/10", "/authors", "/authors/3", "/genres", "/genres/1"} {
			response, _ := serve(server, newRequest(http.MethodGet, target, "", ""))
			is.Equal(response.StatusCode, http.StatusUnauthorized)

			response, body := serve(server, newRequest(http.MethodGet, target, "", readerToken))
			is.Equal(response.StatusCode, http.StatusForbidden)
			is.Equal(body, errorJSON(library.ErrResponseForbidden))
		}
	})

	t.Run("internal failures are not leaked", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().ListBooks(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("%w: %w", library.ErrResponseFromRepository, errors.New("pq: password authentication failed")))

		response, body := serve(server, newRequest(http.MethodGet, "/books", "", adminToken))
		is.Equal(response.StatusCode, http.StatusInternalServerError)
		is.Equal(body, errorJSON(library.ErrResponseFromRepository))
	})
}

func TestUpdateBook(t *testing.T) {
	updated := library.BookDetail{
		ID:             10,
		Title:          "Dune",
		AuthorID:       3,
		AuthorName:     "Frank Herbert",
		AvailableCount: 5,
		Genres:         []string{},
	}
	updatedJSON := `{"id":10,"title":"Dune","description":"","author":{"id":3,"full_name":"Frank Herbert"},"count":5,"genres":[]}` + "\n"

	t.Run("a put replaces every field", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		title, description, authorID, count := "Dune", "", int64(3), 5
		releaseDate := time.Date(1965, time.August, 1, 0, 0, 0, 0, time.UTC)
		mockAPI.EXPECT().UpdateBook(gomock.Any(), int64(10), library.BookPatch{
			Title:          &title,
			Description:    &description,
			ReleaseDate:    &releaseDate,
			AuthorID:       &authorID,
			GenreIDs:       []int64{},
			AvailableCount: &count,
		}).Return(updated, nil)

		response, body := serve(server, newRequest(http.MethodPut, "/books/10", `{"title":"Dune","release_date":"1965-08-01","count":5,"id_author":3}`, adminToken))
		is.Equal(response.StatusCode, http.StatusOK)
		is.Equal(body, updatedJSON)
	})

	t.Run("a put without count is a blank field", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, body := serve(server, newRequest(http.MethodPut, "/books/10", `{"title":"Dune","id_author":3}`, adminToken))
		is.Equal(response.StatusCode, http.StatusBadRequest)
		is.Equal(body, errorJSON(library.ErrResponseBookEntryBlankFields))
	})

	t.Run("a patch sends only the given fields", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		count := 5
		mockAPI.EXPECT().UpdateBook(gomock.Any(), int64(10), library.BookPatch{AvailableCount: &count}).Return(updated, nil)

		response, body := serve(server, newRequest(http.MethodPatch, "/books/10", `{"count":5}`, adminToken))
		is.Equal(response.StatusCode, http.StatusOK)
		is.Equal(body, updatedJSON)
	})

	t.Run("a patch with a malformed date is a blank field", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, _ := serve(server, newRequest(http.MethodPatch, "/books/10", `{"release_date":"01/08/1965"}`, adminToken))
		is.Equal(response.StatusCode, http.StatusBadRequest)
	})

	t.Run("an unknown author is not found", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().UpdateBook(gomock.Any(), int64(10), gomock.Any()).Return(library.BookDetail{}, library.ErrResponseAuthorNotFound)

		response, body := serve(server, newRequest(http.MethodPatch, "/books/10", `{"id_author":99}`, adminToken))
		is.Equal(response.StatusCode, http.StatusNotFound)
		is.Equal(body, errorJSON(library.ErrResponseAuthorNotFound))
	})

	t.Run("regular users are forbidden", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, _ := serve(server, newRequest(http.MethodPatch, "/books/10", `{"count":5}`, readerToken))
		is.Equal(response.StatusCode, http.StatusForbidden)
	})
}

func TestCheckout(t *testing.T) {
	issuedAt := time.Date(2024, time.May, 2, 10, 30, 0, 0, time.UTC)
	loan := library.Loan{
		ID:       uuid.MustParse("7f1c5e52-52f7-4a5a-9f83-3c0f9b0b7d11"),
		UserID:   reader.UserID,
		BookID:   10,
		IssuedAt: issuedAt,
		DueAt:    issuedAt.Add(14 * 24 * time.Hour),
	}

	t.Run("lends the book to the caller", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().Checkout(gomock.Any(), reader.UserID, int64(10)).Return(loan, nil)

		response, body := serve(server, newRequest(http.MethodPost, "/library/receiving", `{"book_id":10}`, readerToken))
		is.Equal(response.StatusCode, http.StatusCreated)
		is.Equal(body, `{"id":"7f1c5e52-52f7-4a5a-9f83-3c0f9b0b7d11","book_id":10,"user_id":7,"date_of_issue":"02-May-2024","date_of_return":"16-May-2024"}`+"\n")
	})

	t.Run("accepts a bearer token", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().Checkout(gomock.Any(), reader.UserID, int64(10)).Return(loan, nil)

		request := newRequest(http.MethodPost, "/library/receiving", `{"book_id":10}`, "")
		request.Header.Set("Authorization", "Bearer "+readerToken)
		response, _ := serve(server, request)
		is.Equal(response.StatusCode, http.StatusCreated)
	})

	t.Run("policy violations are unprocessable", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().Checkout(gomock.Any(), reader.UserID, int64(10)).Return(library.Loan{}, library.ErrResponseLoanLimitReached)

		response, body := serve(server, newRequest(http.MethodPost, "/library/receiving", `{"book_id":10}`, readerToken))
		is.Equal(response.StatusCode, http.StatusUnprocessableEntity)
		is.Equal(body, `{"error_code":120,"error_kind":"policy_violation","error_reason":"loan_limit_reached","error_message":"loan limit reached"}`+"\n")
	})

	t.Run("retries while the book is busy", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		gomock.InOrder(
			mockAPI.EXPECT().Checkout(gomock.Any(), reader.UserID, int64(10)).Return(library.Loan{}, library.ErrResponseBusy),
			mockAPI.EXPECT().Checkout(gomock.Any(), reader.UserID, int64(10)).Return(loan, nil),
		)

		response, _ := serve(server, newRequest(http.MethodPost, "/library/receiving", `{"book_id":10}`, readerToken))
		is.Equal(response.StatusCode, http.StatusCreated)
	})

	t.Run("asks to come back later when the book stays busy", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().Checkout(gomock.Any(), reader.UserID, int64(10)).Return(library.Loan{}, library.ErrResponseBusy).Times(4)

		response, body := serve(server, newRequest(http.MethodPost, "/library/receiving", `{"book_id":10}`, readerToken))
		is.Equal(response.StatusCode, http.StatusServiceUnavailable)
		is.Equal(response.Header.Get("Retry-After"), "1")
		is.Equal(body, errorJSON(library.ErrResponseBusy))
	})

	t.Run("a lost race is a conflict after one retry", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().Checkout(gomock.Any(), reader.UserID, int64(10)).Return(library.Loan{}, library.ErrResponseLoanConflict).Times(2)

		response, body := serve(server, newRequest(http.MethodPost, "/library/receiving", `{"book_id":10}`, readerToken))
		is.Equal(response.StatusCode, http.StatusConflict)
		is.Equal(body, errorJSON(library.ErrResponseLoanConflict))
	})

	t.Run("a missing book id is a blank field", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, body := serve(server, newRequest(http.MethodPost, "/library/receiving", `{}`, readerToken))
		is.Equal(response.StatusCode, http.StatusBadRequest)
		is.Equal(body, errorJSON(library.ErrResponseLoanEntryBlankFields))
	})

	t.Run("anonymous callers cannot borrow", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, _ := serve(server, newRequest(http.MethodPost, "/library/receiving", `{"book_id":10}`, ""))
		is.Equal(response.StatusCode, http.StatusUnauthorized)
	})
}

func TestReturnBook(t *testing.T) {
	t.Run("confirms the return", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().Return(gomock.Any(), reader.UserID, int64(10)).Return(library.ReturnConfirmation{
			LoanID:  uuid.New(),
			UserID:  reader.UserID,
			BookID:  10,
			Message: library.ReturnedMessage,
		}, nil)

		response, body := serve(server, newRequest(http.MethodPost, "/library/return", `{"book_id":10}`, readerToken))
		is.Equal(response.StatusCode, http.StatusOK)
		is.Equal(body, `{"message":"The book has been returned to the library"}`+"\n")
	})

	t.Run("an unknown loan is not found", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().Return(gomock.Any(), reader.UserID, int64(10)).Return(library.ReturnConfirmation{}, library.ErrResponseLoanNotFound)

		response, body := serve(server, newRequest(http.MethodPost, "/library/return", `{"book_id":10}`, readerToken))
		is.Equal(response.StatusCode, http.StatusNotFound)
		is.Equal(body, errorJSON(library.ErrResponseLoanNotFound))
	})
}

func TestOnHands(t *testing.T) {
	t.Run("lists the caller's books", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().ActiveLoansForUser(gomock.Any(), reader.UserID).Return([]library.BookDetail{
			{ID: 10, Title: "Dune", AuthorID: 3, AuthorName: "Frank Herbert", AvailableCount: 0, Genres: []string{library.UnknownGenre}},
		}, nil)

		response, body := serve(server, newRequest(http.MethodGet, "/library/on-hands", "", readerToken))
		is.Equal(response.StatusCode, http.StatusOK)
		is.Equal(body, `[{"id":10,"title":"Dune","description":"","author":{"id":3,"full_name":"Frank Herbert"},"count":0,"genres":["unknown genre"]}]`+"\n")
	})

	t.Run("a privileged caller reads another user's books", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().UserLoans(gomock.Any(), admin, int64(7)).Return([]library.BookDetail{}, nil)

		response, body := serve(server, newRequest(http.MethodGet, "/library/7", "", adminToken))
		is.Equal(response.StatusCode, http.StatusOK)
		is.Equal(body, "[]\n")
	})

	t.Run("a regular caller is forbidden from other users", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().UserLoans(gomock.Any(), reader, int64(8)).Return(nil, library.ErrResponseForbidden)

		response, _ := serve(server, newRequest(http.MethodGet, "/library/8", "", readerToken))
		is.Equal(response.StatusCode, http.StatusForbidden)
	})

	t.Run("a malformed user id is a bad request", func(t *testing.T) {
		is := is.New(t)
		server, _ := newTestServer(t)

		response, body := serve(server, newRequest(http.MethodGet, "/library/abc", "", adminToken))
		is.Equal(response.StatusCode, http.StatusBadRequest)
		is.Equal(body, errorJSON(library.ErrResponseIdInvalidFormat))
	})
}

func TestAuthors(t *testing.T) {
	t.Run("creates an author", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().CreateAuthor(gomock.Any(), library.Author{
			FullName:  "Frank Herbert",
			DateBirth: time.Date(1920, time.October, 8, 0, 0, 0, 0, time.UTC),
		}).Return(library.Author{ID: 3, FullName: "Frank Herbert", DateBirth: time.Date(1920, time.October, 8, 0, 0, 0, 0, time.UTC)}, nil)

		response, body := serve(server, newRequest(http.MethodPost, "/authors", `{"full_name":"Frank Herbert","date_birth":"1920-10-08"}`, adminToken))
		is.Equal(response.StatusCode, http.StatusCreated)
		is.Equal(body, `{"id":3,"full_name":"Frank Herbert","biography":"","date_birth":"1920-10-08"}`+"\n")
	})

	t.Run("an author with books is a conflict", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().DeleteAuthor(gomock.Any(), int64(3)).Return(library.ErrResponseAuthorHasBooks)

		response, _ := serve(server, newRequest(http.MethodDelete, "/authors/3", "", adminToken))
		is.Equal(response.StatusCode, http.StatusConflict)
	})

	t.Run("an unknown author is not found", func(t *testing.T) {
		is := is.New(t)
		server, mockAPI := newTestServer(t)

		mockAPI.EXPECT().GetAuthor(gomock.Any(), int64(3)).Return(library.Author{}, library.ErrResponseAuthorNotFound)

		response, _ := serve(server, newRequest(http.MethodGet, "/authors/3", "", adminToken))
		is.Equal(response.StatusCode, http.StatusNotFound)
	})
}

func TestGenres(t *testing.T) {
	is := is.New(t)
	server, mockAPI := newTestServer(t)

	mockAPI.EXPECT().ListGenres(gomock.Any()).Return([]library.Genre{{ID: 1, Title: "Poetry"}}, nil)
	mockAPI.EXPECT().DeleteGenre(gomock.Any(), int64(1)).Return(nil)

	response, body := serve(server, newRequest(http.MethodGet, "/genres", "", adminToken))
	is.Equal(response.StatusCode, http.StatusOK)
	is.Equal(body, `[{"id":1,"title":"Poetry"}]`+"\n")

	mockAPI.EXPECT().UpdateGenre(gomock.Any(), int64(1), "Verse").Return(library.Genre{ID: 1, Title: "Verse"}, nil)
	response, body = serve(server, newRequest(http.MethodPut, "/genres/1", `{"title":"Verse"}`, adminToken))
	is.Equal(response.StatusCode, http.StatusOK)
	is.Equal(body, `{"id":1,"title":"Verse"}`+"\n")

	response, _ = serve(server, newRequest(http.MethodDelete, "/genres/1", "", adminToken))
	is.Equal(response.StatusCode, http.StatusNoContent)
}
