package elasticsearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

type fakeCluster struct {
	mu        sync.Mutex
	exists    bool
	created   []byte
	bulkLines []string
	bulkQuery string
}

func (f *fakeCluster) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.URL.Path == "/":
			_, _ = w.Write([]byte(`{"version":{"number":"8.15.0"}}`))
		case r.Method == http.MethodHead && r.URL.Path == "/reviews":
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut && r.URL.Path == "/reviews":
			f.exists = true
			f.created = body
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		case r.URL.Path == "/reviews/_bulk":
			f.bulkQuery = r.URL.RawQuery
			sc := bufio.NewScanner(bytes.NewReader(body))
			for sc.Scan() {
				f.bulkLines = append(f.bulkLines, sc.Text())
			}
			_, _ = w.Write([]byte(`{"errors":true,"items":[
				{"update":{"_id":"r1","status":201}},
				{"update":{"_id":"r2","status":400,"error":{"type":"strict_dynamic_mapping_exception","reason":"mapping set to strict"}}}
			]}`))
		case r.URL.Path == "/reviews/_count":
			_, _ = w.Write([]byte(`{"count":42}`))
		case r.URL.Path == "/missing/_count":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"}}`))
		case r.URL.Path == "/reviews/_search":
			var q map[string]any
			if err := json.Unmarshal(body, &q); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if _, sorted := q["sort"]; !sorted {
				_, _ = w.Write([]byte(`{"hits":{"hits":[{"_source":{"id_review":"a","user_rating":4}}]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"hits":{"hits":[
				{"_source":{"id_review":"c","user_rating":5}},
				{"_source":{"id_review":"b","user_rating":3}}
			]}}`))
		case r.URL.Path == "/reviews/_mapping":
			_, _ = w.Write([]byte(`{"reviews":{"mappings":{"dynamic":"strict"}}}`))
		default:
			t.Logf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestStore(t *testing.T) (*Store, *fakeCluster) {
	t.Helper()
	fake := &fakeCluster{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	store, err := New(Config{Addresses: []string{srv.URL}, Refresh: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, fake
}

func TestNewRequiresAddresses(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
}

func TestPingUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	store, err := New(Config{Addresses: []string{addr}})
	require.NoError(t, err)
	require.Error(t, store.Ping(context.Background()))
}

func TestEnsureIndexCreatesStrictMappingOnce(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t)
	ctx := context.Background()

	created, err := store.EnsureIndex(ctx, "reviews", review.DefaultMapping())
	require.NoError(t, err)
	require.True(t, created)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(fake.created, &body))
	require.Equal(t, "strict", body["mappings"]["dynamic"])
	props, ok := body["mappings"]["properties"].(map[string]any)
	require.True(t, ok)
	require.Len(t, props, len(review.DefaultMapping().Fields))
	require.Equal(t, "text", props["user_name"].(map[string]any)["type"])

	created, err = store.EnsureIndex(ctx, "reviews", review.DefaultMapping())
	require.NoError(t, err)
	require.False(t, created)
}

func TestBulkUpsertSendsUpdateWithUpsert(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t)
	ops := []index.Upsert{
		{ID: "r1", Doc: json.RawMessage(`{"id_review":"r1"}`), Insert: json.RawMessage(`{"id_review":"r1","created_at":"2024-01-01T00:00:00Z"}`)},
		{ID: "r2", Doc: json.RawMessage(`{"id_review":"r2","extra":1}`), Insert: json.RawMessage(`{"id_review":"r2","extra":1}`)},
	}

	res, err := store.BulkUpsert(context.Background(), "reviews", ops)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, []index.DocError{{ID: "r2", Reason: "strict_dynamic_mapping_exception: mapping set to strict"}}, res.Errors)

	require.Len(t, fake.bulkLines, 4)
	require.JSONEq(t, `{"update":{"_id":"r1"}}`, fake.bulkLines[0])
	require.JSONEq(t, `{"doc":{"id_review":"r1"},"upsert":{"id_review":"r1","created_at":"2024-01-01T00:00:00Z"}}`, fake.bulkLines[1])
	require.Contains(t, fake.bulkQuery, "refresh=true")
}

func TestBulkUpsertEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t)
	res, err := store.BulkUpsert(context.Background(), "reviews", nil)
	require.NoError(t, err)
	require.Zero(t, res.Succeeded)
	require.Empty(t, fake.bulkLines)
}

func TestReads(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx, "reviews")
	require.NoError(t, err)
	require.EqualValues(t, 42, count)

	_, err = store.Count(ctx, "missing")
	require.ErrorIs(t, err, index.ErrIndexNotFound)

	latest, err := store.Latest(ctx, "reviews", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "c", latest[0].IDReview)

	sample, err := store.Sample(ctx, "reviews", 200)
	require.NoError(t, err)
	require.Len(t, sample, 1)
	require.InDelta(t, 4.0, sample[0].UserRating, 0.001)

	mapping, err := store.Mapping(ctx, "reviews")
	require.NoError(t, err)
	require.Contains(t, mapping, "reviews")
}
