// Package wishlist maintains each user's ordered, ISBN-unique set of books.
package wishlist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/isbn"
	"github.com/maltedev/uniscrape/internal/keylock"
	"github.com/maltedev/uniscrape/internal/models"
)

const source = "wishlist"

// Store is the slice of the persistence layer the service needs.
type Store interface {
	Wishlist(ctx context.Context, userID string) ([]models.Book, error)
	SaveWishlist(ctx context.Context, userID string, books []models.Book) error
}

type Service struct {
	store  Store
	locks  *keylock.Locks
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		locks:  keylock.New(),
		logger: logger.With("component", "wishlist"),
	}
}

func (s *Service) Get(ctx context.Context, userID string) ([]models.Book, error) {
	books, err := s.store.Wishlist(ctx, userID)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindStorage, source, "read wishlist")
	}
	return books, nil
}

func (s *Service) GetBook(ctx context.Context, userID, id string) (models.Book, error) {
	books, err := s.Get(ctx, userID)
	if err != nil {
		return models.Book{}, err
	}
	if i := indexOf(books, id); i >= 0 {
		return books[i], nil
	}
	return models.Book{}, apperr.New(apperr.KindWishlistNotFound, source, fmt.Sprintf("book %s is not on the wishlist", id))
}

// Add appends book. A duplicate ISBN fails and leaves the wishlist as it was.
// Real ISBNs are stored in canonical form so hyphenated and bare spellings of
// one book collide; synthetic ids are kept as given. A negative price other
// than PriceUnknown is stored as PriceUnknown.
func (s *Service) Add(ctx context.Context, userID string, book models.Book) ([]models.Book, error) {
	if book.ISBN == "" {
		return nil, apperr.New(apperr.KindInvalidIdentifier, source, "book has no ISBN")
	}
	book.ISBN = canonical(book.ISBN)
	if book.Price < 0 && book.Price != models.PriceUnknown {
		book.Price = models.PriceUnknown
	}
	return s.update(ctx, userID, func(books []models.Book) ([]models.Book, error) {
		if indexOf(books, book.ISBN) >= 0 {
			return nil, apperr.New(apperr.KindWishlistConflict, source, fmt.Sprintf("book %s is already on the wishlist", book.ISBN))
		}
		return append(books, book), nil
	})
}

func (s *Service) Remove(ctx context.Context, userID, id string) ([]models.Book, error) {
	return s.update(ctx, userID, func(books []models.Book) ([]models.Book, error) {
		i := indexOf(books, id)
		if i < 0 {
			return nil, apperr.New(apperr.KindWishlistNotFound, source, fmt.Sprintf("book %s is not on the wishlist", id))
		}
		return append(books[:i:i], books[i+1:]...), nil
	})
}

// ReplaceBooks overwrites the entries whose ISBN matches one in fresh and
// leaves every other entry untouched. Books no longer on the list are
// ignored. It returns how many entries were replaced.
func (s *Service) ReplaceBooks(ctx context.Context, userID string, fresh []models.Book) (int, error) {
	replaced := 0
	_, err := s.update(ctx, userID, func(books []models.Book) ([]models.Book, error) {
		for _, b := range fresh {
			if i := indexOf(books, b.ISBN); i >= 0 {
				b.ISBN = books[i].ISBN
				books[i] = b
				replaced++
			}
		}
		return books, nil
	})
	if err != nil {
		return 0, err
	}
	return replaced, nil
}

func (s *Service) update(ctx context.Context, userID string, mutate func([]models.Book) ([]models.Book, error)) ([]models.Book, error) {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "wait for wishlist lock", err)
	}
	defer unlock()

	books, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, err := mutate(books)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveWishlist(ctx, userID, next); err != nil {
		return nil, apperr.Ensure(err, apperr.KindStorage, source, "save wishlist")
	}
	s.logger.Debug("wishlist saved", "user_id", userID, "books", len(next))
	return next, nil
}

func indexOf(books []models.Book, id string) int {
	key := canonical(id)
	for i, b := range books {
		if canonical(b.ISBN) == key {
			return i
		}
	}
	return -1
}

func canonical(id string) string {
	if c, err := isbn.Validate(id); err == nil {
		return c
	}
	return id
}
