package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/review-pipeline/internal/review"
)

// PageResult is the union of every page fetched for one entity.
type PageResult struct {
	Reviews        []review.RawReview
	Page1          *PageProps
	PagesRequested int
	PagesFailed    int
}

// PagesSucceeded returns the number of pages whose reviews are in the result.
func (r PageResult) PagesSucceeded() int {
	return r.PagesRequested - r.PagesFailed
}

// PageFetcherOptions tunes a PageFetcher.
type PageFetcherOptions struct {
	Concurrency int
	Retry       RetryPolicy
}

// PageFetcher fetches the pages of a data route concurrently.
type PageFetcher struct {
	fetcher     review.Fetcher
	concurrency int
	retry       RetryPolicy
	logger      *zap.Logger
}

// NewPageFetcher builds a PageFetcher. A nil retry policy means one attempt per page.
func NewPageFetcher(fetcher review.Fetcher, opts PageFetcherOptions, logger *zap.Logger) *PageFetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Retry == nil {
		opts.Retry = NoRetry{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{
		fetcher:     fetcher,
		concurrency: opts.Concurrency,
		retry:       opts.Retry,
		logger:      logger,
	}
}

// FetchAll fetches page 1, clamps the page count to maxPages, then fetches
// the remaining pages concurrently. A failed page is logged and dropped; it
// never cancels its siblings. A failed or malformed first page yields an
// empty result.
func (p *PageFetcher) FetchAll(ctx context.Context, apiURL string, maxPages int) PageResult {
	logger := p.logger.With(zap.String("api_url", apiURL))

	first, err := p.FetchFirstPage(ctx, apiURL)
	if err != nil {
		logger.Error("first page failed", zap.Error(err))
		return PageResult{PagesRequested: 1, PagesFailed: 1}
	}

	total := first.Filters.Pagination.TotalPages
	if maxPages > 0 && maxPages < total {
		total = maxPages
	}
	if total < 1 {
		total = 1
	}
	logger.Info("pages to fetch", zap.Int("total_pages", total))

	// one slot per page; each goroutine writes only its own slot
	pages := make([][]review.RawReview, total+1)
	failed := make([]bool, total+1)
	pages[1] = first.Reviews

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for n := 2; n <= total; n++ {
		g.Go(func() error {
			props, err := p.fetchPage(ctx, PageURL(apiURL, n))
			if err == nil && props.Reviews == nil {
				err = fmt.Errorf("%w: page %d has no reviews", ErrPageFetch, n)
			}
			if err != nil {
				logger.Error("page failed", zap.Int("page", n), zap.Error(err))
				failed[n] = true
				return nil
			}
			logger.Debug("page fetched", zap.Int("page", n), zap.Int("reviews", len(props.Reviews)))
			pages[n] = props.Reviews
			return nil
		})
	}
	_ = g.Wait()

	result := PageResult{Page1: first, PagesRequested: total, Reviews: []review.RawReview{}}
	for n := 1; n <= total; n++ {
		if failed[n] {
			result.PagesFailed++
			continue
		}
		result.Reviews = append(result.Reviews, pages[n]...)
	}
	logger.Info("extraction finished",
		zap.Int("reviews", len(result.Reviews)),
		zap.Int("pages_failed", result.PagesFailed))
	return result
}

// FetchFirstPage fetches and validates page 1 of a data route.
func (p *PageFetcher) FetchFirstPage(ctx context.Context, apiURL string) (*PageProps, error) {
	props, err := p.fetchPage(ctx, apiURL)
	if err != nil {
		return nil, err
	}
	if props.Reviews == nil || props.Filters.Pagination == nil {
		return nil, fmt.Errorf("%w: %w", ErrPageFetch, errMissingFields)
	}
	return props, nil
}

func (p *PageFetcher) fetchPage(ctx context.Context, pageURL string) (*PageProps, error) {
	for attempt := 1; ; attempt++ {
		resp, err := p.fetcher.Fetch(ctx, pageURL)
		if err == nil {
			props, decodeErr := decodePage(resp.Body)
			if decodeErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrPageFetch, decodeErr)
			}
			return props, nil
		}
		if !p.retry.ShouldRetry(err, attempt) {
			return nil, fmt.Errorf("%w: %w", ErrPageFetch, err)
		}
		wait := p.retry.Backoff(attempt)
		p.logger.Warn("retrying page",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrPageFetch, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// PageURL returns the URL of page n of a data route. Page 1 is the route itself.
func PageURL(apiURL string, n int) string {
	if n <= 1 {
		return apiURL
	}
	sep := "?"
	if strings.Contains(apiURL, "?") {
		sep = "&"
	}
	return apiURL + sep + "page=" + strconv.Itoa(n)
}
