package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/imgref/internal/cleaner"
	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/database"
	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/objstore"
	"github.com/nao1215/imgref/internal/pipeline"
	"github.com/nao1215/imgref/internal/probe"
	"github.com/nao1215/imgref/internal/resolver"
)

// app holds the components a command run needs. Optional components are
// nil when the configuration does not ask for them.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	resolver *resolver.Resolver
	cleaner  *cleaner.Cleaner
	prober   pipeline.Prober
	verifier pipeline.Verifier
	store    *database.RunDB
}

// newApp wires the components selected by cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	r, err := resolver.New(cfg.Resolver, resolver.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		resolver: r,
		cleaner:  cleaner.New(cfg.Resolver),
	}

	if cfg.Probe {
		a.prober = newProber(cfg, logger)
	}

	if cfg.Verify {
		catalog, err := newCatalog(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.verifier = catalog
	}

	if cfg.SaveToDB {
		a.store, err = openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("database opened", "dir", cfg.DBDir, "postgres", cfg.DatabaseURL != "")
	}

	return a, nil
}

func newProber(cfg *config.Config, logger *slog.Logger) *probe.Prober {
	return probe.New(
		probe.WithHTTPClient(probe.NewHTTPClient(cfg.ProbeTimeout)),
		probe.WithMaxImageSize(cfg.MaxImageSize),
		probe.WithUserAgent(cfg.UserAgent),
		probe.WithLogger(logger),
	)
}

func newCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*objstore.Catalog, error) {
	client, err := objstore.NewS3Client(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	catalog, err := objstore.NewCatalog(client, cfg.Storage,
		objstore.WithExtensions(cfg.Resolver.Extensions),
		objstore.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create image catalog: %w", err)
	}
	return catalog, nil
}

// Close releases the database, if one was opened.
func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// newPipeline builds the step list for one document. onChunk, when not
// nil, receives the references each streamed chunk added.
func (a *app) newPipeline(onChunk func(job *pipeline.Job, index int, added []model.ImageReference)) *pipeline.Pipeline {
	p := pipeline.New(
		pipeline.WithLogger(a.logger),
		pipeline.WithContinueOnError(true),
	)

	resolveOpts := []pipeline.ResolveStepOption{pipeline.WithChunkSize(a.cfg.ChunkSize)}
	if onChunk != nil {
		resolveOpts = append(resolveOpts, pipeline.WithChunkCallback(onChunk))
	}
	p.AddStep(pipeline.NewResolveStep(a.resolver, resolveOpts...))

	if a.cfg.HTMLReport {
		p.AddStep(pipeline.NewCleanStep(a.cleaner))
	}
	if a.prober != nil {
		p.AddStep(pipeline.NewProbeStep(a.prober, a.logger))
	}
	if a.verifier != nil {
		p.AddStep(pipeline.NewVerifyStep(a.verifier, a.cfg.Resolver.StoragePath()))
	}
	if a.store != nil {
		p.AddStep(pipeline.NewSaveStep(a.store))
	}
	return p
}

// missingError reports images missing from storage or failed runs.
func missingError(results []*model.Resolution) error {
	missing, failed := 0, 0
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Error != "" {
			failed++
		}
		missing += len(res.Missing)
	}
	switch {
	case failed > 0:
		return fmt.Errorf("%d document(s) could not be verified", failed)
	case missing > 0:
		return fmt.Errorf("%d image(s) missing from object storage", missing)
	default:
		return nil
	}
}
