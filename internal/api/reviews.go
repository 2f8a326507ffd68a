package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

const (
	defaultLatestSize = 15
	maxLatestSize     = 1000
)

func (s *Server) reviewsAvailable(w http.ResponseWriter) bool {
	if s.deps.Reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "review index unavailable")
		return false
	}
	return true
}

func (s *Server) indexError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, index.ErrIndexNotFound) {
		writeError(w, http.StatusNotFound, "index not found")
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusBadGateway, op+" failed")
}

func (s *Server) countReviews(w http.ResponseWriter, r *http.Request) {
	if !s.reviewsAvailable(w) {
		return
	}
	n, err := s.deps.Reviews.Count(r.Context(), s.deps.Index)
	if err != nil {
		s.indexError(w, "count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) latestReviews(w http.ResponseWriter, r *http.Request) {
	if !s.reviewsAvailable(w) {
		return
	}
	size := defaultLatestSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
		size = min(v, maxLatestSize)
	}
	docs, err := s.deps.Reviews.Latest(r.Context(), s.deps.Index, size)
	if err != nil {
		s.indexError(w, "latest", err)
		return
	}
	if docs == nil {
		docs = []review.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) reviewStats(w http.ResponseWriter, r *http.Request) {
	if !s.reviewsAvailable(w) {
		return
	}
	docs, err := s.deps.Reviews.Sample(r.Context(), s.deps.Index, s.opts.StatsSample)
	if err != nil {
		s.indexError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, computeStats(docs))
}

func (s *Server) reviewMapping(w http.ResponseWriter, r *http.Request) {
	if !s.reviewsAvailable(w) {
		return
	}
	m, err := s.deps.Reviews.Mapping(r.Context(), s.deps.Index)
	if err != nil {
		s.indexError(w, "mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// computeStats summarizes a sample of documents. A document contributes its
// own rating, or the entity rating when its own is zero; documents where both
// are zero are counted in total_reviews only. average_rating is null when no
// document carries a rating. Distribution keys always carry a decimal point
// ("5.0", "4.5").
func computeStats(docs []review.Document) map[string]any {
	if len(docs) == 0 {
		return map[string]any{"total_reviews": 0}
	}
	var (
		sum          float64
		rated        int
		distribution = map[string]int{}
	)
	for _, d := range docs {
		rating := d.UserRating
		if rating == 0 {
			rating = d.EnterpriseRating
		}
		if rating == 0 {
			continue
		}
		sum += rating
		rated++
		distribution[ratingKey(rating)]++
	}
	var average *float64
	if rated > 0 {
		avg := sum / float64(rated)
		average = &avg
	}
	return map[string]any{
		"total_reviews":       len(docs),
		"average_rating":      average,
		"rating_distribution": distribution,
	}
}

func ratingKey(r float64) string {
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
