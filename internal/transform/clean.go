// Package transform maps raw review batches onto index documents.
package transform

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/review-pipeline/internal/review"
)

// MaxTextLength caps cleaned text, counted in runes.
const MaxTextLength = 5000

// CleanText applies NFKC normalization, collapses whitespace runs, and trims.
// It returns "" when the result has no letter or digit. The result is
// truncated to maxLength runes when maxLength > 0.
func CleanText(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
	if !strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) {
		return ""
	}
	if maxLength > 0 {
		runes := []rune(s)
		if len(runes) > maxLength {
			s = string(runes[:maxLength])
		}
	}
	return s
}

// OrUnavailable returns s, or the unavailable sentinel when s is empty.
func OrUnavailable(s string) string {
	if s == "" {
		return review.Unavailable
	}
	return s
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	time.DateOnly,
}

// FormatDate converts an ISO-8601 timestamp to YYYY-MM-DD in its own offset.
// Empty or malformed input yields nil.
func FormatDate(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			day := t.Format(time.DateOnly)
			return &day
		}
	}
	return nil
}

// ToFloat coerces a raw JSON number or numeric string, falling back to def.
func ToFloat(n review.Number, def float64) float64 {
	f, ok := parseNumber(n)
	if !ok {
		return def
	}
	return f
}

// ToInt coerces a raw JSON number or integer string, falling back to def.
// JSON floats are truncated toward zero; fractional strings are rejected.
func ToInt(n review.Number, def int) int {
	if n.IsNull() {
		return def
	}
	var s string
	if err := json.Unmarshal(n, &s); err == nil {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return def
		}
		return i
	}
	f, ok := parseNumber(n)
	if !ok || math.Abs(f) > math.MaxInt32 {
		return def
	}
	return int(f)
}

func parseNumber(n review.Number) (float64, bool) {
	if n.IsNull() {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(n, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(n, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Percentages returns ceil(count*100/total) for each star bucket, with total
// floored to 1.
func Percentages(r review.RatingSnapshot) [5]int {
	total := max(r.Total, 1)
	var out [5]int
	for i, count := range [5]int{r.One, r.Two, r.Three, r.Four, r.Five} {
		count = max(count, 0)
		out[i] = (count*100 + total - 1) / total
	}
	return out
}
