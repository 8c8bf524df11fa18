package wishlist

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/models"
	"github.com/maltedev/uniscrape/internal/store"
)

type failingStore struct {
	store.Store
	saveErr error
}

func (f *failingStore) SaveWishlist(context.Context, string, []models.Book) error {
	return f.saveErr
}

func newService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem, err := store.NewMemory("")
	require.NoError(t, err)
	return NewService(mem, nil), mem
}

func book(isbn string, price float64) models.Book {
	return models.Book{ISBN: isbn, Title: "Book " + isbn, Price: price}
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	books, err := svc.Add(ctx, "u1", book("A", 100))
	require.NoError(t, err)
	assert.Len(t, books, 1)

	_, err = svc.Add(ctx, "u1", book("B", 200))
	require.NoError(t, err)

	all, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, isbns(all))

	got, err := svc.GetBook(ctx, "u1", "B")
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.Price)

	_, err = svc.GetBook(ctx, "u1", "Z")
	assert.True(t, apperr.Is(err, apperr.KindWishlistNotFound))
}

func TestAddDuplicateLeavesWishlistUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Add(ctx, "u1", book("A", 100))
	require.NoError(t, err)

	_, err = svc.Add(ctx, "u1", book("A", 50))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindWishlistConflict))

	all, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 100.0, all[0].Price)
}

func TestAddTreatsISBNSpellingsAsOneBook(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	books, err := svc.Add(ctx, "u1", book("0-13-468599-7", 100))
	require.NoError(t, err)
	assert.Equal(t, []string{"0134685997"}, isbns(books))

	_, err = svc.Add(ctx, "u1", book("0134685997", 90))
	assert.True(t, apperr.Is(err, apperr.KindWishlistConflict))

	got, err := svc.GetBook(ctx, "u1", "ISBN 0-13-468599-7")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Price)

	n, err := svc.ReplaceBooks(ctx, "u1", []models.Book{book("0 13 468599 7", 80)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = svc.GetBook(ctx, "u1", "0134685997")
	require.NoError(t, err)
	assert.Equal(t, "0134685997", got.ISBN)
	assert.Equal(t, 80.0, got.Price)

	books, err = svc.Remove(ctx, "u1", "0-13-468599-7")
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestAddKeepsSyntheticIDsAsGiven(t *testing.T) {
	svc, _ := newService(t)
	books, err := svc.Add(context.Background(), "u1", book("EBAY-ITEM-ID123", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"EBAY-ITEM-ID123"}, isbns(books))
}

func TestAddNormalizesNegativePrice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	books, err := svc.Add(ctx, "u1", book("9780132350884", -42))
	require.NoError(t, err)
	assert.Equal(t, models.PriceUnknown, books[0].Price)

	books, err = svc.Add(ctx, "u1", book("B", models.PriceUnknown))
	require.NoError(t, err)
	assert.Equal(t, models.PriceUnknown, books[1].Price)
}

func TestAddWithoutISBN(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Add(context.Background(), "u1", models.Book{Title: "nameless"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidIdentifier))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	for _, id := range []string{"A", "B", "C"} {
		_, err := svc.Add(ctx, "u1", book(id, 1))
		require.NoError(t, err)
	}

	books, err := svc.Remove(ctx, "u1", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, isbns(books))

	_, err = svc.Remove(ctx, "u1", "B")
	assert.True(t, apperr.Is(err, apperr.KindWishlistNotFound))
}

func TestReplaceBooks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Add(ctx, "u1", book("X", 5000))
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u1", book("Y", 3000))
	require.NoError(t, err)

	n, err := svc.ReplaceBooks(ctx, "u1", []models.Book{book("X", 4000), book("gone", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 4000.0, all[0].Price)
	assert.Equal(t, 3000.0, all[1].Price)
}

func TestUsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Add(ctx, "u1", book("A", 1))
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u2", book("A", 2))
	require.NoError(t, err)

	u2, err := svc.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, u2[0].Price)
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	var wg sync.WaitGroup
	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Add(ctx, "u1", book(id, 1))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	all, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, isbns(all))
}

func TestStorageFailure(t *testing.T) {
	mem, err := store.NewMemory("")
	require.NoError(t, err)
	svc := NewService(&failingStore{Store: mem, saveErr: errors.New("disk full")}, nil)

	_, err = svc.Add(context.Background(), "u1", book("A", 1))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
}

func isbns(books []models.Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.ISBN)
	}
	return out
}
