package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/clock"
	"github.com/JakeFAU/review-pipeline/internal/review"
	"github.com/JakeFAU/review-pipeline/internal/storage/memory"
)

func newTestStore(t *testing.T, mirror Mirror) *Store {
	t.Helper()
	s, err := New(Config{Dir: filepath.Join(t.TempDir(), "data"), Mirror: mirror, MirrorPrefix: "runs"}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func fixedClock(ts string) func() time.Time {
	return func() time.Time {
		t, err := time.ParseInLocation(timestampLayout, ts, time.UTC)
		if err != nil {
			panic(err)
		}
		return t
	}
}

func TestNewRejectsBadDirectory(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{Dir: file}, nil)
	require.Error(t, err)
}

func TestSaveAndLoadDocumentsRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	s.now = fixedClock("20240301_101500")

	day := "2024-03-01"
	docs := []review.Document{
		{IDReview: "r1", UserReview: "Très bien <b>", DateReview: &day, UserRating: 5, PercentageFiveStar: 20},
		{IDReview: "r2", UserReview: review.Unavailable, UserReviewLength: 12},
	}
	path, err := s.SaveDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.Dir(), "reviews_20240301_101500.jsonl"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "<b>")

	loaded, loadedPath, err := s.LoadLatestDocuments()
	require.NoError(t, err)
	require.Equal(t, path, loadedPath)
	require.Equal(t, docs, loaded)
}

func TestSaveAndLoadBatches(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	s.now = fixedClock("20240301_101500")

	batches := []review.RawReviewBatch{{
		EntityURL: "shop.example",
		Entity:    review.EntityInfo{Name: "Shop", TrustScore: review.Number("4.5")},
		Reviews:   []review.RawReview{{ID: "r1", Rating: review.Number(`"5"`)}},
	}}
	_, err := s.SaveBatches(context.Background(), batches)
	require.NoError(t, err)

	loaded, _, err := s.LoadLatestBatches()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "Shop", loaded[0].Entity.Name)
	require.Equal(t, "4.5", string(loaded[0].Entity.TrustScore))
	require.Equal(t, `"5"`, string(loaded[0].Reviews[0].Rating))
}

func TestLatestPrefersNameTimestampOverModTime(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	older := filepath.Join(s.Dir(), "reviews_20240101_000000.jsonl")
	newer := filepath.Join(s.Dir(), "reviews_20240201_000000.jsonl")
	require.NoError(t, os.WriteFile(older, []byte("{}\n"), 0o600))
	require.NoError(t, os.WriteFile(newer, []byte("{}\n"), 0o600))

	// touch the older file last
	now := time.Now()
	require.NoError(t, os.Chtimes(newer, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(older, now, now))

	info, err := s.Latest(DocumentsPrefix, DocumentsExt)
	require.NoError(t, err)
	require.Equal(t, newer, info.Path)
}

func TestLatestBreaksTiesWithModTime(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	named := filepath.Join(s.Dir(), "reviews_20240101_000000.jsonl")
	manual := filepath.Join(s.Dir(), "reviews_manual.jsonl")
	require.NoError(t, os.WriteFile(named, []byte("{}\n"), 0o600))
	require.NoError(t, os.WriteFile(manual, []byte("{}\n"), 0o600))

	stamp := fixedClock("20240101_000000")()
	require.NoError(t, os.Chtimes(manual, stamp, stamp))
	require.NoError(t, os.Chtimes(named, stamp.Add(-time.Minute), stamp.Add(-time.Minute)))

	info, err := s.Latest(DocumentsPrefix, DocumentsExt)
	require.NoError(t, err)
	require.Equal(t, manual, info.Path)
}

func TestLatestReadsNameTimestampAsUTC(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	named := filepath.Join(s.Dir(), "reviews_20240101_120000.jsonl")
	manual := filepath.Join(s.Dir(), "reviews_manual.jsonl")
	require.NoError(t, os.WriteFile(named, []byte("{}\n"), 0o600))
	require.NoError(t, os.WriteFile(manual, []byte("{}\n"), 0o600))

	// the manual copy is thirty minutes older than the stamped name in UTC
	stamp := time.Date(2024, 1, 1, 11, 30, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(manual, stamp, stamp))

	info, err := s.Latest(DocumentsPrefix, DocumentsExt)
	require.NoError(t, err)
	require.Equal(t, named, info.Path)
	require.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), info.Timestamp)
	require.Equal(t, time.UTC, info.Timestamp.Location())
}

func TestSaveStampsNameInUTC(t *testing.T) {
	t.Parallel()

	east := time.FixedZone("UTC+9", 9*60*60)
	s, err := New(Config{
		Dir:   t.TempDir(),
		Clock: clock.NewManual(time.Date(2024, 3, 2, 1, 0, 0, 0, east)),
	}, zap.NewNop())
	require.NoError(t, err)

	path, err := s.SaveDocuments(context.Background(), []review.Document{{IDReview: "a"}})
	require.NoError(t, err)
	require.Equal(t, "reviews_20240301_160000.jsonl", filepath.Base(path))

	info, err := s.Latest(DocumentsPrefix, DocumentsExt)
	require.NoError(t, err)
	require.Equal(t, path, info.Path)
	require.True(t, info.Timestamp.Equal(time.Date(2024, 3, 2, 1, 0, 0, 0, east)))
}

func TestLatestIgnoresOtherKinds(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "extract_raw_20240101_000000.json"), []byte("[]"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.jsonl"), []byte(""), 0o600))

	_, err := s.Latest(DocumentsPrefix, DocumentsExt)
	require.ErrorIs(t, err, ErrNoCheckpoint)

	_, _, err = s.LoadLatestDocuments()
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestLoadDocumentsSkipsBlankLinesAndReportsBadLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.jsonl")
	require.NoError(t, os.WriteFile(good, []byte("{\"id_review\":\"a\"}\n\n{\"id_review\":\"b\"}\n"), 0o600))
	docs, err := LoadDocuments(good)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"id_review\":\"a\"}\nnot json\n"), 0o600))
	_, err = LoadDocuments(bad)
	require.ErrorContains(t, err, "line 2")
}

func TestSaveMirrorsCheckpoint(t *testing.T) {
	t.Parallel()

	mirror := memory.NewBlobStore()
	s := newTestStore(t, mirror)
	s.now = fixedClock("20240301_101500")

	_, err := s.SaveDocuments(context.Background(), []review.Document{{IDReview: "r1"}})
	require.NoError(t, err)

	data, contentType, ok := mirror.Object("runs/reviews_20240301_101500.jsonl")
	require.True(t, ok)
	require.Equal(t, "application/x-ndjson", contentType)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "r1", doc["id_review"])
}
