package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/book-catalog/internal/middleware"
	"github.com/iliyamo/book-catalog/internal/model"
	"github.com/iliyamo/book-catalog/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxTextLen      = 255
)

// BookStore is the persistence the book handlers need.
type BookStore interface {
	Create(ctx context.Context, b *model.Book) error
	GetByIDAndOwner(ctx context.Context, id, userID uint64) (*model.Book, error)
	List(ctx context.Context, f repository.BookFilter) ([]model.Book, error)
	Update(ctx context.Context, b *model.Book) error
	Delete(ctx context.Context, id, userID uint64, isAdmin bool) (uint64, error)
}

// BookHandler serves /api/books. Every route requires JWTAuth.
type BookHandler struct {
	Books BookStore
}

func NewBookHandler(books BookStore) *BookHandler { return &BookHandler{Books: books} }

type bookReq struct {
	ID     uint64   `json:"id"`
	Title  string   `json:"title"`
	Author string   `json:"author"`
	Price  *float64 `json:"price"`
}

func (r *bookReq) validate() string {
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	switch {
	case r.Title == "":
		return "title is required"
	case r.Author == "":
		return "author is required"
	case len(r.Title) > maxTextLen || len(r.Author) > maxTextLen:
		return "title and author must be at most 255 characters"
	case r.Price == nil:
		return "price is required"
	case *r.Price < 0:
		return "price must not be negative"
	}
	return ""
}

// List returns the caller's books. Query: author, sort, page, size.
func (h *BookHandler) List(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	f := repository.BookFilter{
		UserID: id.UserID,
		Author: c.QueryParam("author"),
		Sort:   strings.ToLower(strings.TrimSpace(c.QueryParam("sort"))),
		Page:   1,
		Size:   defaultPageSize,
	}
	if !repository.ValidBookSort(f.Sort) {
		return badRequest(c, "sort must be one of price_asc, price_desc, title_asc, title_desc")
	}
	if s := c.QueryParam("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return badRequest(c, "page must be a positive integer")
		}
		f.Page = n
	}
	if s := c.QueryParam("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageSize {
			return badRequest(c, "size must be between 1 and 100")
		}
		f.Size = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	books, err := h.Books.List(ctx, f)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, books)
}

// Get returns one book owned by the caller; anyone else's book is a 404.
func (h *BookHandler) Get(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookID, err := parseID(c)
	if err != nil {
		return badRequest(c, "invalid id")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	b, err := h.Books.GetByIDAndOwner(ctx, bookID, id.UserID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Create adds a book owned by the caller.
func (h *BookHandler) Create(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req bookReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	b := &model.Book{UserID: id.UserID, Title: req.Title, Author: req.Author, Price: *req.Price}
	if err := h.Books.Create(ctx, b); err != nil {
		return writeServiceError(c, err)
	}
	// reload for the store-assigned timestamps
	created, err := h.Books.GetByIDAndOwner(ctx, b.ID, id.UserID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// Update replaces a book owned by the caller. The body id must match the path.
func (h *BookHandler) Update(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookID, err := parseID(c)
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req bookReq
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.ID != bookID {
		return badRequest(c, "id in body does not match path")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	err = h.Books.Update(ctx, &model.Book{ID: bookID, UserID: id.UserID, Title: req.Title, Author: req.Author, Price: *req.Price})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete removes a book. Admins may delete any book; others only their own.
func (h *BookHandler) Delete(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookID, err := parseID(c)
	if err != nil {
		return badRequest(c, "invalid id")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	owner, err := h.Books.Delete(ctx, bookID, id.UserID, id.IsAdmin())
	if err != nil {
		return writeServiceError(c, err)
	}
	if owner != id.UserID {
		middleware.InvalidateCacheFor(c, owner)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}
