package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/review-pipeline/internal/review"
)

// Source describes how data route URLs are built.
type Source struct {
	APIBase  string
	Sort     string
	Language string
}

// Resolver derives the paginated data route for an entity page.
type Resolver struct {
	fetcher review.Fetcher
	source  Source
}

// NewResolver builds a Resolver.
func NewResolver(fetcher review.Fetcher, source Source) *Resolver {
	source.APIBase = strings.TrimRight(source.APIBase, "/")
	return &Resolver{fetcher: fetcher, source: source}
}

// Resolve fetches the entity page at baseURL and returns the first-page data
// route URL. The result is never cached since build ids rotate on deploy.
func (r *Resolver) Resolve(ctx context.Context, baseURL string) (string, error) {
	slug, err := entitySlug(baseURL)
	if err != nil {
		return "", err
	}
	resp, err := r.fetcher.Fetch(ctx, baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %w", ErrResolution, baseURL, err)
	}
	buildID, err := buildIDFromHTML(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrResolution, baseURL, err)
	}
	return r.dataRoute(buildID, slug), nil
}

// EntityPageURL returns the public review page for an entity. Absolute URLs
// are used as is; anything else is treated as the entity slug.
func (r *Resolver) EntityPageURL(entity string) string {
	if strings.HasPrefix(entity, "http://") || strings.HasPrefix(entity, "https://") {
		return entity
	}
	return r.source.APIBase + "/review/" + strings.Trim(entity, "/")
}

func (r *Resolver) dataRoute(buildID, slug string) string {
	q := url.Values{}
	if r.source.Sort != "" {
		q.Set("sort", r.source.Sort)
	}
	q.Set("businessUnit", slug)
	if r.source.Language != "" {
		q.Set("languages", r.source.Language)
	}
	return fmt.Sprintf("%s/_next/data/%s/review/%s.json?%s",
		r.source.APIBase, url.PathEscape(buildID), slug, q.Encode())
}

func entitySlug(baseURL string) (string, error) {
	idx := strings.LastIndex(baseURL, "review/")
	if idx < 0 {
		return "", fmt.Errorf("%w: no review/ segment in %q", ErrResolution, baseURL)
	}
	slug := baseURL[idx+len("review/"):]
	if cut := strings.IndexAny(slug, "?#"); cut >= 0 {
		slug = slug[:cut]
	}
	slug = strings.Trim(slug, "/")
	if slug == "" {
		return "", fmt.Errorf("%w: empty entity slug in %q", ErrResolution, baseURL)
	}
	return slug, nil
}

func buildIDFromHTML(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	raw := strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text())
	if raw == "" {
		return "", fmt.Errorf("__NEXT_DATA__ not found")
	}
	var next struct {
		BuildID string `json:"buildId"`
	}
	if err := json.Unmarshal([]byte(raw), &next); err != nil {
		return "", fmt.Errorf("decode __NEXT_DATA__: %w", err)
	}
	if next.BuildID == "" {
		return "", fmt.Errorf("buildId missing from __NEXT_DATA__")
	}
	return next.BuildID, nil
}
