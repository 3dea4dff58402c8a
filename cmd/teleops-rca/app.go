package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/teleops-rca/internal/cache"
	"github.com/miradorstack/teleops-rca/internal/config"
	"github.com/miradorstack/teleops-rca/internal/corpus"
	"github.com/miradorstack/teleops-rca/internal/correlation"
	"github.com/miradorstack/teleops-rca/internal/engine"
	"github.com/miradorstack/teleops-rca/internal/provider"
	"github.com/miradorstack/teleops-rca/internal/review"
	"github.com/miradorstack/teleops-rca/internal/services"
	"github.com/miradorstack/teleops-rca/internal/store"
)

// app owns every long-lived dependency built from configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	cache   cache.Provider
	index   *corpus.Index
	service *services.RCAService
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, cache: cache.NoopProvider{}}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = st

	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
			a.cache = cache.NewMemoryProvider()
		} else {
			a.cache = provider
		}
	}

	correlator, err := correlation.NewEngine(correlation.Config{
		Window:          cfg.Correlation.Window,
		MinAlerts:       cfg.Correlation.MinAlerts,
		NoisePercentile: cfg.Correlation.NoisePercentile,
		GroupingTag:     cfg.Correlation.GroupingTag,
		IgnoredTags:     cfg.Correlation.IgnoredTags,
		SampleSize:      cfg.Correlation.SampleSize,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("correlation config: %w", err)
	}

	baseline, err := engine.LoadBaselineReasoner(cfg.Baseline.RulesPath, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load baseline rules: %w", err)
	}

	var grounded services.GroundedEvaluator
	if cfg.Grounded.Enabled {
		reasoner, err := a.buildGrounded(ctx, baseline)
		if err != nil {
			a.Close()
			return nil, err
		}
		grounded = reasoner
	}

	orchestrator, err := services.NewOrchestrator(st, baseline, grounded, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	gate := review.NewGate(st, logger)
	a.service = services.NewRCAService(logger, st, correlator, orchestrator, gate)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.OpenSQL(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func (a *app) buildGrounded(ctx context.Context, baseline *engine.BaselineReasoner) (*engine.GroundedReasoner, error) {
	cfg := a.cfg
	index, err := corpus.LoadDir(ctx, cfg.Corpus.Dir)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	a.index = index
	a.logger.Info("corpus loaded", slog.String("dir", cfg.Corpus.Dir), slog.Int("documents", index.Len()))

	var retriever corpus.Retriever = index
	if cfg.Corpus.Weaviate.Endpoint != "" {
		weaviate, err := corpus.NewWeaviateRetriever(
			cfg.Corpus.Weaviate.Endpoint,
			cfg.Corpus.Weaviate.APIKey,
			cfg.Corpus.Weaviate.Class,
			cfg.Corpus.Weaviate.Timeout,
			a.cache,
			cfg.Cache.RetrievalTTL,
		)
		if err != nil {
			return nil, fmt.Errorf("weaviate retriever: %w", err)
		}
		retriever = &corpus.Fallback{Primary: weaviate, Secondary: index, Logger: a.logger}
	}

	client, err := provider.NewClient(provider.Config{
		BaseURL:           cfg.Grounded.BaseURL,
		APIKey:            cfg.Grounded.APIKey,
		Model:             cfg.Grounded.Model,
		Timeout:           cfg.Grounded.Timeout,
		Temperature:       cfg.Grounded.Temperature,
		RequestsPerSecond: cfg.Grounded.RequestsPerSecond,
		Burst:             cfg.Grounded.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning provider: %w", err)
	}

	return engine.NewGroundedReasoner(engine.GroundedConfig{
		Model:            cfg.Grounded.Model,
		Timeout:          cfg.Grounded.Timeout,
		Temperature:      cfg.Grounded.Temperature,
		TopK:             cfg.Grounded.TopK,
		MaxSampledAlerts: cfg.Grounded.MaxSampledAlerts,
	}, retriever, client, baseline, a.logger)
}

// Close releases the store and cache connections.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}
