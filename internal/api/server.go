package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/id"
	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/ledger"
	"github.com/JakeFAU/review-pipeline/internal/metrics"
	"github.com/JakeFAU/review-pipeline/internal/sentiment"
)

// Predictor classifies free text.
type Predictor interface {
	Predict(ctx context.Context, text string) (sentiment.Prediction, error)
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the backends behind the handlers. Any of them may be nil, in
// which case the matching routes answer 503.
type Deps struct {
	Predictor Predictor
	Reviews   index.Reader
	Index     string
	Ready     Pinger
	Runs      ledger.Repository
}

// Options tune the server.
type Options struct {
	AllowedOrigins []string
	StatsSample    int
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the predictor, the index and the run ledger.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	ids    id.Generator
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StatsSample <= 0 {
		opts.StatsSample = 200
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{deps: deps, opts: opts, ids: id.New(), logger: logger}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/predict", s.predict)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/predict", s.predict)
		r.Route("/reviews", func(r chi.Router) {
			r.Get("/count", s.countReviews)
			r.Get("/latest", s.latestReviews)
			r.Get("/stats", s.reviewStats)
			r.Get("/mapping", s.reviewMapping)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "index unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type predictRequest struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "sentiment classifier unavailable")
		return
	}
	req, err := decodeJSON[predictRequest](w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pred, err := s.deps.Predictor.Predict(r.Context(), req.Text)
	switch {
	case errors.Is(err, sentiment.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, sentiment.ErrClassifierUnavailable):
		s.logger.Error("classifier unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "sentiment classifier unavailable")
		return
	case err != nil:
		s.logger.Error("prediction failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "prediction failed")
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
