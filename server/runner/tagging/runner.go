// Package tagging runs the batch pipeline that resolves tags for a list of sources:
// load, normalize, fingerprint, consult the cache, ask the oracle for the misses,
// persist once and report results in input order.
package tagging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/plugin/ai"
	"github.com/hrygo/tagcache/plugin/fingerprint"
	"github.com/hrygo/tagcache/plugin/loader"
	"github.com/hrygo/tagcache/plugin/textnorm"
	"github.com/hrygo/tagcache/server/internal/observability"
	"github.com/hrygo/tagcache/store"
)

// Source tells how an item's tags were obtained.
type Source string

const (
	// SourceSkipped means the item could not be loaded.
	SourceSkipped Source = observability.OutcomeSkipped
	// SourceExact means the tags came from a record with the same content id.
	SourceExact Source = observability.OutcomeExact
	// SourceApprox means the tags were copied from a near-duplicate.
	SourceApprox Source = observability.OutcomeApprox
	// SourceOracle means the tags were produced in this batch.
	SourceOracle Source = observability.OutcomeOracle
	// SourceUntagged means no tags are available yet.
	SourceUntagged Source = observability.OutcomeUntagged
)

// Result is the outcome for one input reference.
type Result struct {
	Ref       string   `json:"ref"`
	ContentID string   `json:"content_id,omitempty"`
	Tags      []string `json:"tags"`
	Source    Source   `json:"source"`
}

// Runner is the batch tagging orchestrator.
type Runner struct {
	store      *store.Store
	loader     loader.Loader
	normalizer textnorm.Normalizer
	oracle     ai.LabelingOracle
	describer  ai.ImageDescriber
	metrics    *observability.Metrics
	logger     *slog.Logger

	approx      bool
	shingleSize int

	// one batch and its flush at a time
	mu sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithDescriber enables the image description step.
func WithDescriber(d ai.ImageDescriber) Option {
	return func(r *Runner) { r.describer = d }
}

// WithMetrics records batch metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithApprox toggles near-duplicate reuse.
func WithApprox(enabled bool) Option {
	return func(r *Runner) { r.approx = enabled }
}

// WithShingleSize sets the SimHash shingle size.
func WithShingleSize(n int) Option {
	return func(r *Runner) { r.shingleSize = n }
}

// WithNormalizer sets the identity text normalizer.
func WithNormalizer(n textnorm.Normalizer) Option {
	return func(r *Runner) { r.normalizer = n }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner. Store, loader and oracle are required.
func NewRunner(st *store.Store, ld loader.Loader, oracle ai.LabelingOracle, opts ...Option) (*Runner, error) {
	if st == nil {
		return nil, terrors.NewConfigurationError("tagging runner requires a store")
	}
	if ld == nil {
		return nil, terrors.NewConfigurationError("tagging runner requires a loader")
	}
	if oracle == nil {
		return nil, terrors.NewConfigurationError("tagging runner requires a labeling oracle")
	}
	r := &Runner{
		store:       st,
		loader:      ld,
		oracle:      oracle,
		approx:      true,
		shingleSize: fingerprint.DefaultShingleSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.normalizer == nil {
		r.normalizer = textnorm.NewSampleNormalizer(textnorm.DefaultBudget)
	}
	if r.metrics == nil {
		m, err := observability.NewMetrics(nil)
		if err != nil {
			return nil, terrors.NewConfigurationError("failed to create metrics: " + err.Error())
		}
		r.metrics = m
	}
	return r, nil
}

// item tracks one input reference through the pipeline.
type item struct {
	ref       string
	contentID string
	source    Source
}

// entry is the per content id state shared by duplicate references.
type entry struct {
	record   *store.TagRecord
	match    store.MatchKind
	identity string
	name     string
	image    *loader.Content
	labeled  bool
}

// TagBatch resolves tags for refs. Results have the same length and order as refs.
// Item failures leave that item untagged. A flush failure is returned with the results.
func (r *Runner) TagBatch(ctx context.Context, refs []string) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bc := observability.NewBatchContext(r.logger, "tag_batch")
	ctx = observability.WithBatchContext(ctx, bc)
	bc.Info("tagging batch started", slog.Int("items", len(refs)))

	items := make([]*item, len(refs))
	entries := make(map[string]*entry)
	var order []string

	// load, normalize, fingerprint and consult the cache
	for i, ref := range refs {
		it := &item{ref: ref}
		items[i] = it

		content, err := r.loader.Load(ctx, ref)
		if err != nil {
			bc.Warn("failed to load item, skipping",
				slog.String(observability.LogFieldRef, ref),
				slog.String(observability.LogFieldErrorCode, string(terrors.GetCodeFromError(err, terrors.ErrCodeLoadFailed))),
				slog.String("error", err.Error()))
			it.source = SourceSkipped
			continue
		}

		identity, approx := r.identity(content)
		it.contentID = fingerprint.ContentID(identity)
		if _, ok := entries[it.contentID]; ok {
			continue
		}
		rec, match := r.store.GetOrInit(it.contentID, fingerprint.SimHash(identity, r.shingleSize), approx)
		e := &entry{record: rec, match: match, identity: identity, name: content.Name}
		if content.Kind == loader.KindImage {
			e.image = content
		}
		entries[it.contentID] = e
		order = append(order, it.contentID)
	}

	changed := 0
	var misses []string
	for _, id := range order {
		e := entries[id]
		if e.match == store.MatchApprox {
			changed++
		}
		if !e.record.Resolved() {
			misses = append(misses, id)
		}
	}

	changed += r.describe(ctx, bc, entries, misses)
	changed += r.label(ctx, bc, entries, misses)

	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = r.result(it, entries[it.contentID])
		r.metrics.RecordItem(ctx, string(results[i].Source))
	}

	var flushErr error
	if changed > 0 {
		// Persist progress even when the batch was canceled.
		flushErr = r.store.Flush(context.WithoutCancel(ctx))
		r.metrics.RecordFlush(ctx, flushErr)
		if flushErr != nil {
			bc.Error("failed to flush tag cache", flushErr, slog.Int("changed", changed))
		}
	}
	if err := ctx.Err(); err != nil {
		bc.Warn("tagging batch canceled", slog.String("error", err.Error()))
	}

	r.metrics.RecordBatch(ctx, len(refs), bc.Duration())
	bc.Done("tagging batch finished",
		slog.Int("unique", len(order)),
		slog.Int("misses", len(misses)),
		slog.Int("changed", changed))
	return results, flushErr
}

// identity returns the text that identifies content and whether approximate lookup applies.
func (r *Runner) identity(c *loader.Content) (string, bool) {
	if c.Kind == loader.KindImage {
		return fmt.Sprintf("image %s %s", c.MIME, fingerprint.ContentIDBytes(c.Data)), false
	}
	return r.normalizer.Normalize(c.Text), r.approx
}

// describe runs the description step for images without a cached description.
func (r *Runner) describe(ctx context.Context, bc *observability.BatchContext, entries map[string]*entry, misses []string) int {
	var ids []string
	var reqs []ai.DescribeRequest
	for _, id := range misses {
		e := entries[id]
		if e.image == nil || e.record.FileDescription != nil {
			continue
		}
		ids = append(ids, id)
		reqs = append(reqs, ai.DescribeRequest{ContentID: id, Ref: e.image.Ref, Data: e.image.Data, MIME: e.image.MIME})
	}
	if len(reqs) == 0 {
		return 0
	}
	if r.describer == nil {
		bc.Warn("no image describer configured, images stay untagged", slog.Int("images", len(reqs)))
		return 0
	}

	resps, err := r.describer.DescribeBatch(ctx, reqs)
	resps = oracleResponses(bc, "describe", len(reqs), resps, err)

	changed := 0
	failures := 0
	for i, resp := range resps {
		if resp == nil || resp.Description == "" {
			failures++
			continue
		}
		if r.store.UpdateDescription(entries[ids[i]].record, resp.Description) {
			changed++
		}
	}
	r.metrics.RecordOracle(ctx, "describe", len(reqs), failures)
	return changed
}

// label sends one oracle call for every unresolved entry that has usable text.
func (r *Runner) label(ctx context.Context, bc *observability.BatchContext, entries map[string]*entry, misses []string) int {
	var ids []string
	var reqs []ai.LabelRequest
	for _, id := range misses {
		e := entries[id]
		text := e.identity
		if e.image != nil {
			if e.record.FileDescription == nil {
				continue
			}
			text = r.normalizer.Normalize(*e.record.FileDescription)
		}
		ids = append(ids, id)
		reqs = append(reqs, ai.LabelRequest{ContentID: id, IdentityText: text, Name: e.name})
	}
	if len(reqs) == 0 {
		return 0
	}

	resps, err := r.oracle.LabelBatch(ctx, reqs)
	resps = oracleResponses(bc, "label", len(reqs), resps, err)

	changed := 0
	failures := 0
	for i, resp := range resps {
		if resp == nil || len(resp.Tags) == 0 {
			failures++
			continue
		}
		e := entries[ids[i]]
		if r.store.UpdateTags(e.record, resp.Tags) {
			changed++
		}
		e.labeled = true
	}
	r.metrics.RecordOracle(ctx, "label", len(reqs), failures)
	return changed
}

// oracleResponses turns a failed or malformed oracle call into all-nil responses.
func oracleResponses[T any](bc *observability.BatchContext, kind string, n int, resps []*T, err error) []*T {
	if err != nil {
		if !terrors.IsCode(err, terrors.ErrCodeOracleFailed) {
			err = terrors.NewOracleError(kind+" call failed", err)
		}
		bc.Error("oracle call failed, items stay untagged", err,
			slog.String("kind", kind),
			slog.Int("requests", n))
		return make([]*T, n)
	}
	if len(resps) != n {
		bc.Warn("oracle returned a mismatched response list, ignoring it",
			slog.String("kind", kind),
			slog.Int("requests", n),
			slog.Int("responses", len(resps)))
		return make([]*T, n)
	}
	return resps
}

func (r *Runner) result(it *item, e *entry) Result {
	res := Result{Ref: it.ref, ContentID: it.contentID, Tags: []string{}, Source: it.source}
	if it.source == SourceSkipped || e == nil {
		res.Source = SourceSkipped
		return res
	}
	res.Tags = slices.Clone(e.record.Tags)
	switch {
	case !e.record.Resolved():
		res.Source = SourceUntagged
	case e.labeled:
		res.Source = SourceOracle
	case e.match == store.MatchApprox:
		res.Source = SourceApprox
	default:
		res.Source = SourceExact
	}
	return res
}
