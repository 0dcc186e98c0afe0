package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/service"
	"github.com/manojkumarsharma/bookstore/store"
)

type BooksHandler struct {
	Base
	Books BookCatalog
	// Files owns uploaded covers; nil disables cover cleanup.
	Files service.FileStore
	// ISBN prefills the admin form; nil disables the lookup endpoint.
	ISBN ISBNLookup
}

// BookCatalog is BookStore plus the title check used before writes.
type BookCatalog interface {
	BookStore
	TitleTaken(ctx context.Context, title string, exclude primitive.ObjectID) (bool, error)
}

func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := store.BookQueryFromValues(r.URL.Query())
	books, total, err := h.Books.ListBooks(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Page(w, books, respond.NewPagination(q.Page, q.Limit, total))
}

// Highlight serves one of the storefront shelves (featured, bestsellers, ...).
func (h *BooksHandler) Highlight(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := h.Books.HighlightBooks(r.Context(), kind)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respond.OK(w, books)
	}
}

func (h *BooksHandler) BySlug(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.BookBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if book == nil {
		h.fail(w, r, apperr.NotFound("Book not found"))
		return
	}
	respond.OK(w, book)
}

func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	book, err := h.Books.BookByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if book == nil {
		h.fail(w, r, apperr.NotFound("Book not found"))
		return
	}
	respond.OK(w, book)
}

// applyInput copies in onto b and checks the result against the catalog rules.
func (h *BooksHandler) applyInput(in *models.BookInput, b *models.Book) error {
	if bad := in.Apply(b); len(bad) > 0 {
		return apperr.Validation("Invalid number for: "+strings.Join(bad, ", "), bad...)
	}
	b.Normalize()
	if bad := b.Validate(h.now()); len(bad) > 0 {
		return apperr.Validation("Validation failed: invalid "+strings.Join(bad, ", "), bad...)
	}
	return nil
}

func (h *BooksHandler) checkTitle(ctx context.Context, title string, exclude primitive.ObjectID) error {
	taken, err := h.Books.TitleTaken(ctx, title, exclude)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Validation("A book with this title already exists", "title")
	}
	return nil
}

func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in models.BookInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if m := in.Missing(); len(m) > 0 {
		h.fail(w, r, apperr.Validation("All required fields must be provided. Missing: "+strings.Join(m, ", "), m...))
		return
	}
	book := &models.Book{}
	if err := h.applyInput(&in, book); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.checkTitle(r.Context(), book.Title, primitive.NilObjectID); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Books.CreateBook(r.Context(), book); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.WithFields(logrus.Fields{"book_id": book.ID.Hex(), "slug": book.Slug}).Info("book created")
	respond.Created(w, "Book created successfully", book)
}

func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in models.BookInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	book, err := h.Books.BookByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if book == nil {
		h.fail(w, r, apperr.NotFound("Book not found"))
		return
	}
	oldCover := book.CoverImage
	reslug := in.TitleChanged(book)
	if err := h.applyInput(&in, book); err != nil {
		h.fail(w, r, err)
		return
	}
	if reslug {
		if err := h.checkTitle(r.Context(), book.Title, book.ID); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if err := h.Books.UpdateBook(r.Context(), book, reslug); err != nil {
		h.fail(w, r, err)
		return
	}
	if oldCover != book.CoverImage {
		h.removeCover(r, oldCover)
	}
	respond.Message(w, "Book updated successfully", book)
}

func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	book, err := h.Books.DeleteBook(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if book == nil {
		h.fail(w, r, apperr.NotFound("Book not found"))
		return
	}
	h.removeCover(r, book.CoverImage)
	h.Log.WithField("book_id", id.Hex()).Info("book deleted")
	respond.Message(w, "Book deleted successfully", book)
}

// removeCover deletes an uploaded cover we host. Covers on other hosts are left alone.
func (h *BooksHandler) removeCover(r *http.Request, cover string) {
	if h.Files == nil || cover == "" {
		return
	}
	// disk uploads are served by this host; bucket URLs are checked by the store itself
	if _, local := h.Files.(*service.LocalStore); local {
		u, err := url.Parse(cover)
		if err != nil || (u.Host != "" && u.Host != r.Host) {
			return
		}
	}
	dir, name, ok := h.Files.Resolve(cover)
	if !ok {
		return
	}
	err := h.Files.Remove(r.Context(), dir, name)
	if err != nil && !errors.Is(err, service.ErrFileNotFound) {
		h.Log.WithError(err).WithField("cover", cover).Warn("could not remove cover image")
	}
}

func (h *BooksHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Books.BookStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, stats)
}

var isbnShape = regexp.MustCompile(`^(\d{9}[\dX]|\d{13})$`)

// Lookup prefills a new book from its ISBN.
func (h *BooksHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if h.ISBN == nil {
		h.fail(w, r, apperr.New(http.StatusServiceUnavailable, "ISBN lookup is not configured"))
		return
	}
	isbn := strings.ToUpper(strings.ReplaceAll(chi.URLParam(r, "isbn"), "-", ""))
	if !isbnShape.MatchString(isbn) {
		h.fail(w, r, apperr.Validation("Invalid ISBN", "isbn"))
		return
	}
	draft, err := h.ISBN.Lookup(r.Context(), isbn)
	if errors.Is(err, service.ErrISBNNotFound) {
		h.fail(w, r, apperr.NotFound(fmt.Sprintf("No book found for ISBN %s", isbn)))
		return
	}
	if err != nil {
		h.fail(w, r, apperr.Wrap(http.StatusBadGateway, "ISBN lookup failed", err))
		return
	}
	respond.OK(w, draft)
}
