package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/checkpoint"
	"github.com/JakeFAU/review-pipeline/internal/clock"
	"github.com/JakeFAU/review-pipeline/internal/config"
	"github.com/JakeFAU/review-pipeline/internal/extract"
	collyfetcher "github.com/JakeFAU/review-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/review-pipeline/internal/id"
	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/index/elasticsearch"
	indexmemory "github.com/JakeFAU/review-pipeline/internal/index/memory"
	indexpostgres "github.com/JakeFAU/review-pipeline/internal/index/postgres"
	ledgerpostgres "github.com/JakeFAU/review-pipeline/internal/ledger/postgres"
	"github.com/JakeFAU/review-pipeline/internal/load"
	"github.com/JakeFAU/review-pipeline/internal/pipeline"
	"github.com/JakeFAU/review-pipeline/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/review-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/review-pipeline/internal/review"
	"github.com/JakeFAU/review-pipeline/internal/storage/gcs"
	"github.com/JakeFAU/review-pipeline/internal/storage/local"
	"github.com/JakeFAU/review-pipeline/internal/transform"
)

// wired holds pipeline dependencies and the cleanups they need.
type wired struct {
	deps    pipeline.Deps
	closers []func()
}

func (w *wired) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func wire(ctx context.Context, cfg config.Config, logger *zap.Logger) (*wired, error) {
	w := &wired{}
	ok := false
	defer func() {
		if !ok {
			w.close()
		}
	}()
	sysClock := clock.System{}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RequestsPerSec, Burst: cfg.HTTP.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Headers:   cfg.HTTP.Headers,
		Timeout:   cfg.FetchTimeout(),
		Limiter:   limiter,
	})
	w.closers = append(w.closers, fetcher.Close)

	resolver := extract.NewResolver(fetcher, extract.Source{
		APIBase:  cfg.Source.APIBase,
		Sort:     cfg.Source.Sort,
		Language: cfg.Source.Language,
	})
	pages := extract.NewPageFetcher(fetcher, extract.PageFetcherOptions{
		Concurrency: cfg.HTTP.Concurrency,
		Retry: extract.RetryPolicyFor(
			cfg.HTTP.MaxAttempts,
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
	}, logger.Named("pages"))

	cpCfg := checkpoint.Config{Dir: cfg.Checkpoint.Dir, MirrorPrefix: cfg.Checkpoint.GCSPrefix, Clock: sysClock}
	if cfg.Checkpoint.GCSBucket != "" {
		mirror, closeFn, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Checkpoint.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open checkpoint mirror: %w", err)
		}
		w.closers = append(w.closers, func() {
			if err := closeFn(); err != nil {
				logger.Warn("close storage client failed", zap.Error(err))
			}
		})
		cpCfg.Mirror = mirror
	}
	if cfg.Checkpoint.MirrorDir != "" {
		mirror, err := local.New(local.Config{BaseDir: cfg.Checkpoint.MirrorDir})
		if err != nil {
			return nil, fmt.Errorf("open checkpoint mirror: %w", err)
		}
		cpCfg.Mirror = mirror
	}
	checkpoints, err := checkpoint.New(cpCfg, logger.Named("checkpoint"))
	if err != nil {
		return nil, err
	}

	loader, err := load.New(load.Config{
		Open:  indexOpener(cfg),
		Index: cfg.Index.Name,
		Clock: sysClock,
	}, logger.Named("load"))
	if err != nil {
		return nil, err
	}

	w.deps = pipeline.Deps{
		Entities:    cfg.EntityURLs(),
		Extractor:   extract.NewExtractor(resolver, pages, logger.Named("extract")),
		Normalizer:  transform.NewNormalizer(),
		Loader:      loader,
		Checkpoints: checkpoints,
		Clock:       sysClock,
		IDs:         id.New(),
	}

	if cfg.DB.DSN != "" {
		runs, err := openLedger(ctx, cfg)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, runs.Close)
		w.deps.Ledger = runs
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		w.closers = append(w.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close publisher failed", zap.Error(err))
			}
		})
		w.deps.Publisher = pub
	}

	ok = true
	return w, nil
}

func openLedger(ctx context.Context, cfg config.Config) (*ledgerpostgres.Store, error) {
	runs, err := ledgerpostgres.New(ctx, cfg.DB.DSN, cfg.DB.LedgerTable)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := runs.EnsureSchema(schemaCtx); err != nil {
		runs.Close()
		return nil, fmt.Errorf("ensure run ledger schema: %w", err)
	}
	return runs, nil
}

// indexOpener returns a fresh store per call so every load owns its
// connection for the duration of the call.
func indexOpener(cfg config.Config) index.Opener {
	switch cfg.Index.Provider {
	case config.ProviderPostgres:
		return func(ctx context.Context) (index.Store, error) {
			return indexpostgres.New(ctx, indexpostgres.Config{DSN: cfg.DB.DSN})
		}
	case config.ProviderMemory:
		shared := indexmemory.New()
		return func(context.Context) (index.Store, error) { return shared, nil }
	default:
		return func(context.Context) (index.Store, error) {
			return elasticsearch.New(esConfig(cfg))
		}
	}
}

// openReader opens a long-lived store for the read API.
func openReader(ctx context.Context, cfg config.Config) (index.ReadStore, error) {
	switch cfg.Index.Provider {
	case config.ProviderPostgres:
		return indexpostgres.New(ctx, indexpostgres.Config{DSN: cfg.DB.DSN})
	case config.ProviderMemory:
		s := indexmemory.New()
		if _, err := s.EnsureIndex(ctx, cfg.Index.Name, review.DefaultMapping()); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return elasticsearch.New(esConfig(cfg))
	}
}

func esConfig(cfg config.Config) elasticsearch.Config {
	return elasticsearch.Config{
		Addresses: cfg.Index.Addresses,
		Username:  cfg.Index.Username,
		Password:  cfg.Index.Password,
		APIKey:    cfg.Index.APIKey,
		Timeout:   time.Duration(cfg.Index.TimeoutSec) * time.Second,
	}
}
