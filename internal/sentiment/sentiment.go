// Package sentiment turns review text into a three-class sentiment.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/metrics"
	"github.com/JakeFAU/review-pipeline/internal/transform"
)

// Sentiment is the label returned to clients.
type Sentiment string

// Labels exposed by the prediction endpoint.
const (
	Negative Sentiment = "Négatif"
	Neutral  Sentiment = "Neutre"
	Positive Sentiment = "Positif"
)

var (
	// ErrEmptyText is returned when the text is empty after cleaning.
	ErrEmptyText = errors.New("review text is empty or invalid")
	// ErrUnexpectedLabel is returned when the classifier answers outside the star scale.
	ErrUnexpectedLabel = errors.New("unexpected classifier label")
)

// FromStars maps a star-scale label ("1 star" .. "5 stars") onto a Sentiment.
func FromStars(label string) (Sentiment, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "1 STAR", "2 STARS":
		return Negative, nil
	case "3 STARS":
		return Neutral, nil
	case "4 STARS", "5 STARS":
		return Positive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnexpectedLabel, label)
	}
}

// Classifier returns a star-scale label for cleaned text.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// Prediction is the endpoint payload.
type Prediction struct {
	TextClean string    `json:"text_clean"`
	Sentiment Sentiment `json:"sentiment"`
}

// Predictor cleans text and asks the classifier for a label.
type Predictor struct {
	classifier Classifier
	logger     *zap.Logger
}

// NewPredictor wires a classifier.
func NewPredictor(classifier Classifier, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{classifier: classifier, logger: logger}
}

// Predict cleans text with the same rules as the normalizer and classifies it.
func (p *Predictor) Predict(ctx context.Context, text string) (Prediction, error) {
	clean := transform.CleanText(text, transform.MaxTextLength)
	if clean == "" {
		return Prediction{}, ErrEmptyText
	}
	label, err := p.classifier.Classify(ctx, clean)
	if err != nil {
		return Prediction{}, fmt.Errorf("classify: %w", err)
	}
	s, err := FromStars(label)
	if err != nil {
		p.logger.Warn("classifier returned unknown label", zap.String("label", label))
		return Prediction{}, err
	}
	metrics.ObservePrediction(string(s))
	return Prediction{TextClean: clean, Sentiment: s}, nil
}
