// Package elasticsearch implements the index store on Elasticsearch.
package elasticsearch

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

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

var _ index.ReadStore = (*Store)(nil)

// Config controls the client connection.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	Timeout   time.Duration
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
	// Refresh makes bulk writes visible to search before returning.
	Refresh bool
}

// Store talks to an Elasticsearch cluster.
type Store struct {
	client    *es.Client
	transport *http.Transport
	refresh   bool
}

// New builds a client. No request is made until the first call.
func New(cfg Config) (*Store, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Store{refresh: cfg.Refresh}
	rt := cfg.Transport
	if rt == nil {
		base, _ := http.DefaultTransport.(*http.Transport)
		var tr *http.Transport
		if base != nil {
			tr = base.Clone()
		} else {
			tr = &http.Transport{}
		}
		tr.ResponseHeaderTimeout = timeout
		s.transport = tr
		rt = tr
	}
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	s.client = client
	return s, nil
}

// Ping checks the cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("ping: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the index with a strict mapping when it does not exist.
func (s *Store) EnsureIndex(ctx context.Context, name string, m review.Mapping) (bool, error) {
	res, err := s.client.Indices.Exists([]string{name}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", name, err)
	}
	drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return false, nil
	case http.StatusNotFound:
	default:
		return false, fmt.Errorf("check index %s: %s", name, res.Status())
	}

	body, err := json.Marshal(m.ElasticsearchBody())
	if err != nil {
		return false, fmt.Errorf("encode mapping: %w", err)
	}
	res, err = s.client.Indices.Create(name,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", name, err)
	}
	defer drain(res)
	if res.IsError() {
		// Another loader may have won the race.
		if res.StatusCode == http.StatusBadRequest && strings.Contains(readBody(res), "resource_already_exists_exception") {
			return false, nil
		}
		return false, fmt.Errorf("create index %s: %s", name, res.Status())
	}
	return true, nil
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// BulkUpsert submits all operations in one bulk request. Per-document
// failures are reported in the result; the call only fails when the request does.
func (s *Store) BulkUpsert(ctx context.Context, name string, ops []index.Upsert) (index.BulkResult, error) {
	if len(ops) == 0 {
		return index.BulkResult{}, nil
	}
	body, err := encodeBulk(ops)
	if err != nil {
		return index.BulkResult{}, err
	}
	opts := []func(*esapi.BulkRequest){
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(name),
	}
	if s.refresh {
		opts = append(opts, s.client.Bulk.WithRefresh("true"))
	}
	res, err := s.client.Bulk(bytes.NewReader(body), opts...)
	if err != nil {
		return index.BulkResult{}, fmt.Errorf("bulk: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return index.BulkResult{}, fmt.Errorf("bulk: %s: %s", res.Status(), readBody(res))
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return index.BulkResult{}, fmt.Errorf("decode bulk response: %w", err)
	}
	var result index.BulkResult
	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error != nil || op.Status >= http.StatusMultipleChoices {
				reason := fmt.Sprintf("status %d", op.Status)
				if op.Error != nil {
					reason = op.Error.Type + ": " + op.Error.Reason
				}
				result.Errors = append(result.Errors, index.DocError{ID: op.ID, Reason: reason})
				continue
			}
			result.Succeeded++
		}
	}
	return result, nil
}

func encodeBulk(ops []index.Upsert) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		if err := enc.Encode(map[string]any{"update": map[string]any{"_id": op.ID}}); err != nil {
			return nil, fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(map[string]json.RawMessage{"doc": op.Doc, "upsert": op.Insert}); err != nil {
			return nil, fmt.Errorf("encode bulk document %s: %w", op.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// Count returns the number of documents in the index.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	res, err := s.client.Count(s.client.Count.WithContext(ctx), s.client.Count.WithIndex(name))
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer drain(res)
	if err := responseError(res, name); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return out.Count, nil
}

// Latest returns up to size documents sorted by id_review descending.
func (s *Store) Latest(ctx context.Context, name string, size int) ([]review.Document, error) {
	return s.search(ctx, name, map[string]any{
		"size":  size,
		"query": map[string]any{"match_all": map[string]any{}},
		"sort":  []any{map[string]any{"id_review": map[string]any{"order": "desc"}}},
	})
}

// Sample returns up to size documents.
func (s *Store) Sample(ctx context.Context, name string, size int) ([]review.Document, error) {
	return s.search(ctx, name, map[string]any{
		"size":  size,
		"query": map[string]any{"match_all": map[string]any{}},
	})
}

func (s *Store) search(ctx context.Context, name string, query map[string]any) ([]review.Document, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(name),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer drain(res)
	if err := responseError(res, name); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var out struct {
		Hits struct {
			Hits []struct {
				Source review.Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}
	docs := make([]review.Document, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

// Mapping returns the live index mapping as reported by the cluster.
func (s *Store) Mapping(ctx context.Context, name string) (map[string]any, error) {
	res, err := s.client.Indices.GetMapping(
		s.client.Indices.GetMapping.WithContext(ctx),
		s.client.Indices.GetMapping.WithIndex(name),
	)
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	defer drain(res)
	if err := responseError(res, name); err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	return out, nil
}

// Close releases idle connections held by the store's own transport.
func (s *Store) Close() error {
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	return nil
}

func responseError(res *esapi.Response, name string) error {
	if !res.IsError() {
		return nil
	}
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	return errors.New(res.Status() + ": " + readBody(res))
}

func readBody(res *esapi.Response) string {
	if res == nil || res.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return strings.TrimSpace(string(b))
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
