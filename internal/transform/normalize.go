package transform

import (
	"github.com/JakeFAU/review-pipeline/internal/review"
)

// Normalizer converts raw batches into index documents.
type Normalizer struct {
	anonymizer *Anonymizer
}

// NewNormalizer builds a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{anonymizer: NewAnonymizer()}
}

// Normalize maps every review of every batch, preserving batch order and
// review order. Reviews without an id are kept; the loader drops them.
func (n *Normalizer) Normalize(batches []review.RawReviewBatch) []review.Document {
	docs := make([]review.Document, 0, countReviews(batches))
	for _, batch := range batches {
		pct := Percentages(batch.Entity.Ratings)
		entityName := batch.Entity.Name
		if entityName == "" {
			entityName = batch.EntityURL
		}
		entity := entityFields{
			name:        OrUnavailable(CleanText(entityName, MaxTextLength)),
			url:         batch.EntityURL,
			rating:      ToFloat(batch.Entity.TrustScore, 0),
			reviewCount: ToInt(batch.Entity.ReviewCount, 0),
			pct:         pct,
		}
		for _, raw := range batch.Reviews {
			docs = append(docs, n.document(raw, entity))
		}
	}
	return docs
}

type entityFields struct {
	name        string
	url         string
	rating      float64
	reviewCount int
	pct         [5]int
}

func (n *Normalizer) document(raw review.RawReview, entity entityFields) review.Document {
	text := OrUnavailable(CleanText(raw.Text, MaxTextLength))

	userName := review.UnknownUser
	if raw.Consumer.DisplayName != nil {
		userName = *raw.Consumer.DisplayName
	}

	response := review.Unavailable
	var responseDate *string
	if raw.Reply != nil {
		if cleaned := CleanText(raw.Reply.Message, MaxTextLength); cleaned != "" {
			response = OrUnavailable(n.anonymizer.Anonymize(cleaned))
		}
		responseDate = FormatDate(raw.Reply.PublishedDate)
	}

	return review.Document{
		IDReview:               raw.ID,
		IsVerified:             raw.Labels.Verification.IsVerified,
		DateReview:             FormatDate(raw.Dates.PublishedDate),
		IDUser:                 OrUnavailable(CleanText(raw.Consumer.ID, MaxTextLength)),
		UserName:               OrUnavailable(CleanText(userName, MaxTextLength)),
		UserReview:             text,
		UserReviewLength:       len([]rune(text)),
		UserRating:             ToFloat(raw.Rating, 0),
		DateResponse:           responseDate,
		EnterpriseResponse:     response,
		EnterpriseName:         entity.name,
		EnterpriseURL:          entity.url,
		EnterpriseRating:       entity.rating,
		EnterpriseReviewNumber: entity.reviewCount,
		PercentageOneStar:      entity.pct[0],
		PercentageTwoStar:      entity.pct[1],
		PercentageThreeStar:    entity.pct[2],
		PercentageFourStar:     entity.pct[3],
		PercentageFiveStar:     entity.pct[4],
	}
}

func countReviews(batches []review.RawReviewBatch) int {
	total := 0
	for _, b := range batches {
		total += len(b.Reviews)
	}
	return total
}
