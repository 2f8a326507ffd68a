package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFromStars(t *testing.T) {
	t.Parallel()

	cases := map[string]Sentiment{
		"1 star":  Negative,
		"2 stars": Negative,
		"3 stars": Neutral,
		"4 STARS": Positive,
		"5 stars": Positive,
	}
	for label, want := range cases {
		got, err := FromStars(label)
		require.NoError(t, err, label)
		require.Equal(t, want, got, label)
	}

	_, err := FromStars("POSITIVE")
	require.ErrorIs(t, err, ErrUnexpectedLabel)
}

func TestPredictCleansAndClassifies(t *testing.T) {
	t.Parallel()

	var seen string
	classifier := classifierFunc(func(_ context.Context, text string) (string, error) {
		seen = text
		return "5 stars", nil
	})
	p := NewPredictor(classifier, zap.NewNop())

	got, err := p.Predict(context.Background(), "  Très   bon\tservice  ")
	require.NoError(t, err)
	require.Equal(t, Prediction{TextClean: "Très bon service", Sentiment: Positive}, got)
	require.Equal(t, "Très bon service", seen)
}

func TestPredictEmptyText(t *testing.T) {
	t.Parallel()

	called := false
	p := NewPredictor(classifierFunc(func(context.Context, string) (string, error) {
		called = true
		return "3 stars", nil
	}), nil)

	for _, input := range []string{"", "   ", "!!! ???"} {
		_, err := p.Predict(context.Background(), input)
		require.ErrorIs(t, err, ErrEmptyText, input)
	}
	require.False(t, called)
}

func TestPredictClassifierErrors(t *testing.T) {
	t.Parallel()

	p := NewPredictor(StaticClassifier{Err: errors.New("boom")}, nil)
	_, err := p.Predict(context.Background(), "bien")
	require.Error(t, err)

	p = NewPredictor(StaticClassifier{Label: "LABEL_0"}, nil)
	_, err = p.Predict(context.Background(), "bien")
	require.ErrorIs(t, err, ErrUnexpectedLabel)
}

func TestRemoteClassifierPicksBestLabel(t *testing.T) {
	t.Parallel()

	var auth string
	var input map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&input)
		_, _ = w.Write([]byte(`[[{"label":"1 star","score":0.1},{"label":"4 stars","score":0.7},{"label":"5 stars","score":0.2}]]`))
	}))
	defer srv.Close()

	c, err := NewRemoteClassifier(RemoteConfig{URL: srv.URL, Token: "secret"})
	require.NoError(t, err)

	label, err := c.Classify(context.Background(), "correct")
	require.NoError(t, err)
	require.Equal(t, "4 stars", label)
	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, "correct", input["inputs"])
}

func TestRemoteClassifierFlatResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"label":"2 stars","score":0.9}]`))
	}))
	defer srv.Close()

	c, err := NewRemoteClassifier(RemoteConfig{URL: srv.URL})
	require.NoError(t, err)
	label, err := c.Classify(context.Background(), "bof")
	require.NoError(t, err)
	require.Equal(t, "2 stars", label)
}

func TestRemoteClassifierRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"label":"3 stars","score":0.5}]`))
	}))
	defer srv.Close()

	c, err := NewRemoteClassifier(RemoteConfig{URL: srv.URL})
	require.NoError(t, err)
	label, err := c.Classify(context.Background(), "moyen")
	require.NoError(t, err)
	require.Equal(t, "3 stars", label)
	require.EqualValues(t, 2, calls.Load())
}

func TestRemoteClassifierGivesUp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewRemoteClassifier(RemoteConfig{URL: srv.URL})
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "x")
	require.ErrorIs(t, err, ErrClassifierUnavailable)
	require.EqualValues(t, maxAttempts, calls.Load())
}

func TestRemoteClassifierClientError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad token"))
	}))
	defer srv.Close()

	c, err := NewRemoteClassifier(RemoteConfig{URL: srv.URL})
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "x")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "bad token"))
}

func TestNewRemoteClassifierRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewRemoteClassifier(RemoteConfig{})
	require.Error(t, err)
}

type classifierFunc func(ctx context.Context, text string) (string, error)

func (f classifierFunc) Classify(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
