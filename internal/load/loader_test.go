package load

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/clock"
	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/index/memory"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

func opener(store *memory.Store) index.Opener {
	return func(context.Context) (index.Store, error) { return store, nil }
}

func sampleDocs() []review.Document {
	day := "2024-03-01"
	return []review.Document{
		{IDReview: "r1", UserName: "Alice", UserReview: "Super", UserRating: 5, DateReview: &day, EnterpriseURL: "shop.example"},
		{IDReview: "r2", UserName: "Bob", UserReview: "Bof", UserRating: 2, EnterpriseURL: "shop.example"},
	}
}

func TestLoadIsIdempotentAndKeepsCreatedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	clk := clock.NewManual(time.Date(2024, 3, 10, 9, 0, 0, 500, time.UTC))
	loader, err := New(Config{Open: opener(store), Index: "reviews", Clock: clk}, zap.NewNop())
	require.NoError(t, err)

	res, err := loader.Load(ctx, sampleDocs())
	require.NoError(t, err)
	require.Equal(t, Result{Submitted: 2, Succeeded: 2}, res)

	first, ok, err := store.Get(ctx, "reviews", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, first.CreatedAt)
	require.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), first.CreatedAt.UTC())
	require.Equal(t, first.CreatedAt.UTC(), first.UpdatedAt.UTC())

	clk.Advance(time.Hour)
	docs := sampleDocs()
	docs[0].UserReview = "Super produit"
	res, err = loader.Load(ctx, docs)
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)

	count, err := store.Count(ctx, "reviews")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	second, _, err := store.Get(ctx, "reviews", "r1")
	require.NoError(t, err)
	require.Equal(t, first.CreatedAt.UTC(), second.CreatedAt.UTC())
	require.Equal(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), second.UpdatedAt.UTC())
	require.Equal(t, "Super produit", second.UserReview)
}

func TestLoadSkipsDocumentsWithoutID(t *testing.T) {
	t.Parallel()

	store := memory.New()
	loader, err := New(Config{Open: opener(store), Index: "reviews"}, zap.NewNop())
	require.NoError(t, err)

	docs := append(sampleDocs(), review.Document{UserReview: "orphan"})
	res, err := loader.Load(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 2, res.Submitted)
	require.Equal(t, 2, res.Succeeded)
}

func TestLoadStoreUnavailable(t *testing.T) {
	t.Parallel()

	store := memory.New()
	store.SetPingError(errors.New("connection refused"))
	loader, err := New(Config{Open: opener(store), Index: "reviews"}, zap.NewNop())
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), sampleDocs())
	require.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Count(context.Background(), "reviews")
	require.ErrorIs(t, err, index.ErrIndexNotFound)
}

func TestLoadOpenFailure(t *testing.T) {
	t.Parallel()

	open := func(context.Context) (index.Store, error) { return nil, errors.New("dial tcp: refused") }
	loader, err := New(Config{Open: open, Index: "reviews"}, zap.NewNop())
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), sampleDocs())
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestLoadStrictMappingRejectsPerDocument(t *testing.T) {
	t.Parallel()

	narrow := review.DefaultMapping()
	delete(narrow.Fields, "date_review")

	store := memory.New()
	loader, err := New(Config{Open: opener(store), Index: "reviews", Mapping: narrow}, zap.NewNop())
	require.NoError(t, err)

	res, err := loader.Load(context.Background(), sampleDocs())
	require.NoError(t, err)
	require.Equal(t, 2, res.Submitted)
	require.Equal(t, 0, res.Succeeded)
	require.Equal(t, 2, res.Failed())
	require.Contains(t, res.Errors[0].Reason, "date_review")
}

func TestLoadEmptyStillEnsuresIndex(t *testing.T) {
	t.Parallel()

	store := memory.New()
	loader, err := New(Config{Open: opener(store), Index: "reviews"}, zap.NewNop())
	require.NoError(t, err)

	res, err := loader.Load(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, res.Submitted)

	count, err := store.Count(context.Background(), "reviews")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Index: "reviews"}, nil)
	require.Error(t, err)
	_, err = New(Config{Open: opener(memory.New())}, nil)
	require.Error(t, err)
}
