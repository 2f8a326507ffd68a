// Package review defines the record types shared by the extract, transform, and load stages.
package review

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// Unavailable is stored in place of any text field that is absent or empty after cleaning.
const Unavailable = "indisponible"

// UnknownUser is the display name assumed when the source omits it.
const UnknownUser = "inconnu"

// Number holds a raw JSON scalar. Malformed values are coerced at normalization
// time instead of failing the whole page decode.
type Number json.RawMessage

// UnmarshalJSON keeps the raw bytes.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = append((*n)[:0], b...)
	return nil
}

// MarshalJSON writes the raw bytes back, or null when empty.
func (n Number) MarshalJSON() ([]byte, error) {
	if len(n) == 0 {
		return []byte("null"), nil
	}
	return []byte(n), nil
}

// IsNull reports whether the value is absent or JSON null.
func (n Number) IsNull() bool {
	trimmed := bytes.TrimSpace(n)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// RatingSnapshot counts reviews per star bucket for one entity.
type RatingSnapshot struct {
	Total int `json:"total"`
	One   int `json:"one"`
	Two   int `json:"two"`
	Three int `json:"three"`
	Four  int `json:"four"`
	Five  int `json:"five"`
}

// EntityInfo carries entity-level aggregates captured during extraction.
type EntityInfo struct {
	Name        string         `json:"name,omitempty"`
	TrustScore  Number         `json:"enterprise_rating,omitempty"`
	ReviewCount Number         `json:"enterprise_review_number,omitempty"`
	Ratings     RatingSnapshot `json:"ratings"`
}

// Consumer identifies the author of a review.
type Consumer struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"displayName,omitempty"`
}

// ReviewDates holds the source timestamps of a review.
type ReviewDates struct {
	PublishedDate string `json:"publishedDate"`
}

// Reply is the entity's answer to a review.
type Reply struct {
	Message       string `json:"message"`
	PublishedDate string `json:"publishedDate"`
}

// Verification flags whether the platform verified the review.
type Verification struct {
	IsVerified bool `json:"isVerified"`
}

// Labels groups source labels attached to a review.
type Labels struct {
	Verification Verification `json:"verification"`
}

// RawReview is one review as returned by the source API.
type RawReview struct {
	ID       string      `json:"id"`
	Consumer Consumer    `json:"consumer"`
	Text     string      `json:"text"`
	Rating   Number      `json:"rating"`
	Dates    ReviewDates `json:"dates"`
	Reply    *Reply      `json:"reply"`
	Labels   Labels      `json:"labels"`
}

// RawReviewBatch is the extraction result for one configured entity.
type RawReviewBatch struct {
	EntityURL string      `json:"enterprise_url"`
	Entity    EntityInfo  `json:"enterprise"`
	Reviews   []RawReview `json:"reviews"`
}

// Document is the normalized, flat unit stored in the index.
type Document struct {
	IDReview               string     `json:"id_review"`
	IsVerified             bool       `json:"is_verified"`
	DateReview             *string    `json:"date_review"`
	IDUser                 string     `json:"id_user"`
	UserName               string     `json:"user_name"`
	UserReview             string     `json:"user_review"`
	UserReviewLength       int        `json:"user_review_length"`
	UserRating             float64    `json:"user_rating"`
	DateResponse           *string    `json:"date_response"`
	EnterpriseResponse     string     `json:"enterprise_response"`
	EnterpriseName         string     `json:"enterprise_name"`
	EnterpriseURL          string     `json:"enterprise_url"`
	EnterpriseRating       float64    `json:"enterprise_rating"`
	EnterpriseReviewNumber int        `json:"enterprise_review_number"`
	PercentageOneStar      int        `json:"enterprise_percentage_one_star"`
	PercentageTwoStar      int        `json:"enterprise_percentage_two_star"`
	PercentageThreeStar    int        `json:"enterprise_percentage_three_star"`
	PercentageFourStar     int        `json:"enterprise_percentage_four_star"`
	PercentageFiveStar     int        `json:"enterprise_percentage_five_star"`
	CreatedAt              *time.Time `json:"created_at,omitempty"`
	UpdatedAt              *time.Time `json:"updated_at,omitempty"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
