package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/review"
)

// Stats summarizes one extraction pass.
type Stats struct {
	Entities       int `json:"entities"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
	Reviews        int `json:"reviews"`
	PagesRequested int `json:"pages_requested"`
	PagesFailed    int `json:"pages_failed"`
}

// Extractor runs extraction for each configured entity in order.
type Extractor struct {
	resolver *Resolver
	pages    *PageFetcher
	logger   *zap.Logger
}

// NewExtractor builds an Extractor.
func NewExtractor(resolver *Resolver, pages *PageFetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{resolver: resolver, pages: pages, logger: logger}
}

// ExtractAll extracts every entity sequentially. An entity that fails is
// replaced by a placeholder batch with no reviews; the pass continues.
func (e *Extractor) ExtractAll(ctx context.Context, entities []string, maxPages int) ([]review.RawReviewBatch, Stats) {
	var stats Stats
	if len(entities) == 0 {
		e.logger.Warn("no entities configured")
		return []review.RawReviewBatch{}, stats
	}

	batches := make([]review.RawReviewBatch, 0, len(entities))
	for _, entity := range entities {
		if entity == "" {
			e.logger.Warn("entity without url ignored")
			stats.Skipped++
			continue
		}
		if ctx.Err() != nil {
			e.logger.Warn("extraction canceled", zap.Error(ctx.Err()))
			break
		}
		stats.Entities++

		batch, pages, err := e.extractOne(ctx, entity, maxPages)
		stats.PagesRequested += pages.PagesRequested
		stats.PagesFailed += pages.PagesFailed
		if err != nil {
			e.logger.Error("entity extraction failed", zap.String("entity", entity), zap.Error(err))
			stats.Failed++
			batch = review.RawReviewBatch{EntityURL: entity, Reviews: []review.RawReview{}}
		}
		stats.Reviews += len(batch.Reviews)
		batches = append(batches, batch)
	}
	return batches, stats
}

func (e *Extractor) extractOne(ctx context.Context, entity string, maxPages int) (review.RawReviewBatch, PageResult, error) {
	pageURL := e.resolver.EntityPageURL(entity)
	logger := e.logger.With(zap.String("entity", entity))

	apiURL, err := e.resolver.Resolve(ctx, pageURL)
	if err != nil {
		return review.RawReviewBatch{}, PageResult{}, err
	}
	result := e.pages.FetchAll(ctx, apiURL, maxPages)

	// entity stats come from a fresh resolve so a rotated build id is picked up
	statsURL, err := e.resolver.Resolve(ctx, pageURL)
	if err != nil {
		return review.RawReviewBatch{}, result, err
	}
	first, err := e.pages.FetchFirstPage(ctx, statsURL)
	if err != nil {
		return review.RawReviewBatch{}, result, fmt.Errorf("entity stats: %w", err)
	}

	name := first.BusinessUnit.DisplayName
	if name == "" {
		name = entity
	}
	logger.Info("entity extracted",
		zap.Int("reviews", len(result.Reviews)),
		zap.Int("pages_requested", result.PagesRequested),
		zap.Int("pages_failed", result.PagesFailed))

	return review.RawReviewBatch{
		EntityURL: entity,
		Entity: review.EntityInfo{
			Name:        name,
			TrustScore:  first.BusinessUnit.TrustScore,
			ReviewCount: first.BusinessUnit.NumberOfReviews,
			Ratings:     first.Filters.ReviewStatistics.Ratings,
		},
		Reviews: result.Reviews,
	}, result, nil
}
