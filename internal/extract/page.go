package extract

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/review-pipeline/internal/review"
)

// PageProps is the subset of a data route page the pipeline reads.
type PageProps struct {
	Reviews      []review.RawReview `json:"reviews"`
	Filters      Filters            `json:"filters"`
	BusinessUnit BusinessUnit       `json:"businessUnit"`
}

// Filters carries pagination and rating statistics.
type Filters struct {
	Pagination       *Pagination      `json:"pagination"`
	ReviewStatistics ReviewStatistics `json:"reviewStatistics"`
}

// Pagination reports how many pages the entity has.
type Pagination struct {
	TotalPages int `json:"totalPages"`
}

// ReviewStatistics holds the per-star counts.
type ReviewStatistics struct {
	Ratings review.RatingSnapshot `json:"ratings"`
}

// BusinessUnit carries entity-level aggregates.
type BusinessUnit struct {
	DisplayName     string        `json:"displayName"`
	TrustScore      review.Number `json:"trustScore"`
	NumberOfReviews review.Number `json:"numberOfReviews"`
}

type pageEnvelope struct {
	PageProps *PageProps `json:"pageProps"`
}

func decodePage(body []byte) (*PageProps, error) {
	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	if env.PageProps == nil {
		return nil, fmt.Errorf("decode page: %w", errMissingPageProps)
	}
	return env.PageProps, nil
}
