package main

import (
	"context"
	"log/slog"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/plugin/ai"
	"github.com/hrygo/tagcache/plugin/ai/tags"
	"github.com/hrygo/tagcache/plugin/ai/vision"
	"github.com/hrygo/tagcache/plugin/loader"
	"github.com/hrygo/tagcache/plugin/ocr"
	"github.com/hrygo/tagcache/plugin/textnorm"
	"github.com/hrygo/tagcache/server/runner/tagging"
	"github.com/hrygo/tagcache/store"
	"github.com/hrygo/tagcache/store/db"
)

// app holds the wired pipeline for one command.
type app struct {
	store  *store.Store
	runner *tagging.Runner
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}

// openStore creates the driver from the profile and loads the persisted records.
func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	st := store.New(driver, store.ConfigFromProfile(p))
	if err := st.Load(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newApp wires store, loader, oracle and describer into a tagging runner.
func newApp(ctx context.Context, p *profile.Profile) (*app, error) {
	aiConfig := ai.NewConfigFromProfile(p)
	if err := aiConfig.Validate(); err != nil {
		return nil, err
	}
	llmService, err := ai.NewLLMService(&aiConfig.LLM)
	if err != nil {
		return nil, terrors.NewConfigurationError(err.Error())
	}
	labeler, err := tags.NewLabeler(llmService, aiConfig.Oracle)
	if err != nil {
		return nil, err
	}
	describer, err := newDescriber(ctx, p, aiConfig)
	if err != nil {
		return nil, err
	}
	fileLoader, err := loader.NewFileLoaderFromProfile(p)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, p)
	if err != nil {
		return nil, err
	}

	opts := []tagging.Option{
		tagging.WithApprox(p.ApproxEnabled),
		tagging.WithShingleSize(p.ShingleSize),
		tagging.WithNormalizer(textnorm.NewSampleNormalizer(p.IdentityBudget)),
	}
	if describer != nil {
		opts = append(opts, tagging.WithDescriber(describer))
	}
	runner, err := tagging.NewRunner(st, fileLoader, labeler, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	slog.Debug("tagging pipeline ready",
		"driver", p.Driver,
		"records", st.Len(),
		"describer", p.DescriberProvider,
		"workspace", fileLoader.Root(),
		"approx", p.ApproxEnabled)
	return &app{store: st, runner: runner}, nil
}

// newDescriber returns nil when images are not described.
func newDescriber(ctx context.Context, p *profile.Profile, cfg *ai.Config) (ai.ImageDescriber, error) {
	switch p.DescriberProvider {
	case profile.DescriberVision:
		if err := cfg.Vision.Validate(); err != nil {
			slog.Warn("vision model not configured, images will not be described", "error", err)
			return nil, nil
		}
		llm, err := ai.NewLLMService(&cfg.Vision)
		if err != nil {
			return nil, terrors.NewConfigurationError(err.Error())
		}
		return vision.NewDescriber(llm, cfg.Oracle)
	case profile.DescriberOCR:
		client := ocr.NewClient(ocr.ConfigFromProfile(p))
		if !client.IsAvailable(ctx) {
			return nil, terrors.NewConfigurationError("tesseract not available").WithContext("path", p.TesseractPath)
		}
		return client, nil
	default:
		return nil, nil
	}
}
