package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/book-catalog/internal/database"
	"github.com/iliyamo/book-catalog/internal/model"
)

const bookColumns = "id, user_id, title, author, price, created_at, updated_at"

// Sort orders accepted by BookRepo.List.
const (
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortTitleAsc  = "title_asc"
	SortTitleDesc = "title_desc"
)

var bookOrderBy = map[string]string{
	SortPriceAsc:  "price ASC, id ASC",
	SortPriceDesc: "price DESC, id ASC",
	SortTitleAsc:  "title ASC, id ASC",
	SortTitleDesc: "title DESC, id ASC",
}

// ValidBookSort reports whether s is empty or a known sort order.
func ValidBookSort(s string) bool {
	if s == "" {
		return true
	}
	_, ok := bookOrderBy[s]
	return ok
}

// BookFilter narrows BookRepo.List. UserID is mandatory; Page starts at 1.
type BookFilter struct {
	UserID uint64
	Author string // substring match, optional
	Sort   string
	Page   int
	Size   int
}

// BookRepo provides CRUD on the 'books' table scoped to an owner.
type BookRepo struct{ DB database.DBTX }

func NewBookRepo(db database.DBTX) *BookRepo { return &BookRepo{DB: db} }

// Create inserts b for its owner and fills in ID.
func (r *BookRepo) Create(ctx context.Context, b *model.Book) error {
	const op = "repository.BookRepo.Create"

	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO books (user_id, title, author, price) VALUES (?,?,?,?)",
		b.UserID, b.Title, b.Author, b.Price)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b.ID = uint64(id)
	return nil
}

// GetByIDAndOwner returns the book only if userID owns it; otherwise ErrNotFound.
func (r *BookRepo) GetByIDAndOwner(ctx context.Context, id, userID uint64) (*model.Book, error) {
	const op = "repository.BookRepo.GetByIDAndOwner"

	var b model.Book
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+bookColumns+" FROM books WHERE id=? AND user_id=? LIMIT 1", id, userID).
		Scan(&b.ID, &b.UserID, &b.Title, &b.Author, &b.Price, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &b, nil
}

// List returns one page of the owner's books.
func (r *BookRepo) List(ctx context.Context, f BookFilter) ([]model.Book, error) {
	const op = "repository.BookRepo.List"

	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if a := strings.TrimSpace(f.Author); a != "" {
		where = append(where, "author LIKE ?")
		args = append(args, "%"+escapeLike(a)+"%")
	}
	order, ok := bookOrderBy[f.Sort]
	if !ok {
		order = "id ASC"
	}
	page, size := f.Page, f.Size
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	args = append(args, size, (page-1)*size)

	q := "SELECT " + bookColumns + " FROM books WHERE " + strings.Join(where, " AND ") +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	books := make([]model.Book, 0, size)
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.Author, &b.Price, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return books, nil
}

// Update rewrites title, author and price of a book owned by b.UserID.
// Returns ErrNotFound when the book is missing or owned by someone else.
func (r *BookRepo) Update(ctx context.Context, b *model.Book) error {
	const op = "repository.BookRepo.Update"

	res, err := r.DB.ExecContext(ctx,
		"UPDATE books SET title=?, author=?, price=? WHERE id=? AND user_id=?",
		b.Title, b.Author, b.Price, b.ID, b.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a book and returns its owner. Owners may delete their own
// books; admins may delete any book. A book owned by another user yields
// ErrForbidden for non-admins.
func (r *BookRepo) Delete(ctx context.Context, id, userID uint64, isAdmin bool) (uint64, error) {
	const op = "repository.BookRepo.Delete"

	var owner uint64
	err := r.DB.QueryRowContext(ctx, "SELECT user_id FROM books WHERE id=? LIMIT 1", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if owner != userID && !isAdmin {
		return 0, ErrForbidden
	}
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM books WHERE id=?", id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return owner, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
