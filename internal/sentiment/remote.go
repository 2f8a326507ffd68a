package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrClassifierUnavailable is returned when the inference service keeps failing.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

const maxAttempts = 3

// RemoteConfig configures the inference client.
type RemoteConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	RPS     float64
	Client  *http.Client
}

// RemoteClassifier calls a text-classification inference endpoint that
// accepts {"inputs": text} and answers with scored labels.
type RemoteClassifier struct {
	url   string
	token string
	hc    *http.Client
	rl    *rate.Limiter
}

// NewRemoteClassifier validates the config and builds a client.
func NewRemoteClassifier(cfg RemoteConfig) (*RemoteClassifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("classifier url is required")
	}
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &RemoteClassifier{
		url:   cfg.URL,
		token: cfg.Token,
		hc:    hc,
		rl:    rate.NewLimiter(limit, 1),
	}, nil
}

type scoredLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify returns the highest-scoring label.
func (c *RemoteClassifier) Classify(ctx context.Context, text string) (string, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		label, retry, err := c.do(ctx, body)
		if err == nil {
			return label, nil
		}
		if !retry {
			return "", err
		}
		lastErr = err
		if attempt < maxAttempts-1 && !sleepCtx(ctx, backoff(attempt)) {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: %w", ErrClassifierUnavailable, lastErr)
}

func (c *RemoteClassifier) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", true, fmt.Errorf("read classifier response: %w", err)
		}
		label, err := bestLabel(raw)
		return label, false, err
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", true, fmt.Errorf("classifier status %d", resp.StatusCode)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, fmt.Errorf("classifier status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

// bestLabel accepts both [[{label,score}...]] and [{label,score}...].
func bestLabel(raw []byte) (string, error) {
	var nested [][]scoredLabel
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		return pick(nested[0])
	}
	var flat []scoredLabel
	if err := json.Unmarshal(raw, &flat); err != nil {
		return "", fmt.Errorf("decode classifier response: %w", err)
	}
	return pick(flat)
}

func pick(labels []scoredLabel) (string, error) {
	if len(labels) == 0 {
		return "", fmt.Errorf("classifier returned no labels")
	}
	best := labels[0]
	for _, l := range labels[1:] {
		if l.Score > best.Score {
			best = l
		}
	}
	return best.Label, nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(100*(1<<attempt)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// StaticClassifier always answers with Label, or with Err when set. It backs
// classifier.static_label.
type StaticClassifier struct {
	Label string
	Err   error
}

// Classify returns the configured answer.
func (s StaticClassifier) Classify(context.Context, string) (string, error) {
	return s.Label, s.Err
}
