package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/api"
	"github.com/JakeFAU/review-pipeline/internal/config"
	"github.com/JakeFAU/review-pipeline/internal/sentiment"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve sentiment prediction and read-only index endpoints",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	deps := api.Deps{Index: cfg.Index.Name}

	predictor, err := buildPredictor(cfg, logger)
	if err != nil {
		return err
	}
	if predictor != nil {
		deps.Predictor = predictor
	} else {
		logger.Warn("no classifier configured; prediction disabled")
	}

	reader, err := openReader(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("close index failed", zap.Error(err))
		}
	}()
	deps.Reviews = reader
	deps.Ready = reader

	if cfg.DB.DSN != "" {
		runs, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer runs.Close()
		deps.Runs = runs
	}

	server := api.NewServer(deps, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StatsSample:    cfg.Server.StatsSample,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildPredictor returns nil when no classifier is configured.
func buildPredictor(cfg config.Config, logger *zap.Logger) (*sentiment.Predictor, error) {
	if label := cfg.Classifier.StaticLabel; label != "" {
		if _, err := sentiment.FromStars(label); err != nil {
			return nil, fmt.Errorf("classifier.static_label: %w", err)
		}
		logger.Warn("serving a static classifier label", zap.String("label", label))
		return sentiment.NewPredictor(sentiment.StaticClassifier{Label: label}, logger.Named("sentiment")), nil
	}
	if cfg.Classifier.URL == "" {
		return nil, nil
	}
	classifier, err := sentiment.NewRemoteClassifier(sentiment.RemoteConfig{
		URL:     cfg.Classifier.URL,
		Token:   cfg.Classifier.Token,
		Timeout: time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	return sentiment.NewPredictor(classifier, logger.Named("sentiment")), nil
}
