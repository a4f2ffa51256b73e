package http

//go:generate mockgen -source=../library/api.go -destination=mocks/mock_service_api.go -package=mocks

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const DefaultRequestTimeout = 5 * time.Second

type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
}

func NewServer(config ServerConfig, h *LibraryHandler) *http.Server {
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/ping", ping)
	r.Post("/users", h.registerUser)

	// The catalog is managed and browsed by privileged users only.
	r.Route("/authors", func(r chi.Router) {
		r.Use(h.authenticate, requirePrivileged)
		r.Get("/", h.listAuthors)
		r.Post("/", h.createAuthor)
		r.Get("/{id}", h.getAuthor)
		r.Delete("/{id}", h.deleteAuthor)
	})

	r.Route("/genres", func(r chi.Router) {
		r.Use(h.authenticate, requirePrivileged)
		r.Get("/", h.listGenres)
		r.Post("/", h.createGenre)
		r.Get("/{id}", h.getGenre)
		r.Put("/{id}", h.updateGenre)
		r.Delete("/{id}", h.deleteGenre)
	})

	r.Route("/books", func(r chi.Router) {
		r.Use(h.authenticate, requirePrivileged)
		r.Get("/", h.listBooks)
		r.Post("/", h.createBook)
		r.Get("/{id}", h.getBook)
		r.Put("/{id}", h.replaceBook)
		r.Patch("/{id}", h.patchBook)
		r.Delete("/{id}", h.deleteBook)
	})

	r.Route("/library", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/receiving", h.checkout)
		r.Post("/return", h.returnBook)
		r.Get("/on-hands", h.onHands)
		r.Get("/{id}", h.userLoans)
	})

	server := http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           r,
		ReadHeaderTimeout: requestTimeout,
	}
	return &server
}

/* Tests the http server connection.  */
func ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
