package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SnapshotRoute names the route of records rebuilt from a stored document
const SnapshotRoute = "snapshot"

// Pipeline classifies scanned content and, for receipt references, decodes,
// fetches, extracts and merges them into one record. It holds no mutable
// state, so one pipeline serves concurrent scans.
type Pipeline struct {
	fetcher   DocumentFetcher
	extractor *Extractor
	merger    *Merger
	logger    *slog.Logger
}

// NewPipeline creates a pipeline from configuration
func NewPipeline(cfg Config, client *http.Client, logger *slog.Logger) (*Pipeline, error) {
	merger, err := NewMerger(cfg.EssentialFields)
	if err != nil {
		return nil, fmt.Errorf("creating merger: %w", err)
	}
	return NewPipelineWithDeps(NewFetcher(client, cfg), NewExtractor(), merger, logger), nil
}

// NewPipelineWithDeps creates a pipeline with custom dependencies (useful for testing)
func NewPipelineWithDeps(fetcher DocumentFetcher, extractor *Extractor, merger *Merger, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		merger:    merger,
		logger:    logger,
	}
}

// Process runs scanned content through the pipeline. Only empty content and
// cancellation are errors; every other outcome is a record.
func (p *Pipeline) Process(ctx context.Context, content string) (*Record, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}

	category := Classify(content)
	if category != CategoryTaxReceipt {
		p.logger.Info("Scanned content is not a receipt", "category", category)
		return p.merger.Generic(content, category), nil
	}

	ref, err := DecodeReference(content)
	if err != nil {
		fallback := classifyGeneric(content)
		p.logger.Info("Receipt reference could not be decoded", "error", err, "category", fallback)
		return p.merger.Generic(content, fallback), nil
	}

	doc, fetchErr := p.fetcher.Fetch(ctx, content)
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}
	if fetchErr != nil && !errors.Is(fetchErr, ErrRetrievalFailure) {
		fetchErr = &RetrievalError{Locator: content, Attempts: []Attempt{{Route: directRoute.Name, Reason: fetchErr.Error()}}}
	}

	var fields *Fields
	if fetchErr == nil {
		fields, err = p.extractor.Extract(ctx, doc.Body)
		if err != nil {
			return nil, canceled(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}

	rec := p.merger.Merge(content, ref, fields, fetchErr)
	if doc != nil && fetchErr == nil {
		rec.Route = doc.Route
		rec.Document = doc.Body
	}

	p.logger.Info("Receipt processed",
		"access_key", rec.AccessKey,
		"status", rec.Status,
		"route", rec.Route,
		"items", rec.ItemCount)
	if fetchErr != nil {
		p.logger.Warn("Receipt document unavailable", "access_key", rec.AccessKey, "error", fetchErr)
	}

	return rec, nil
}

// Reextract rebuilds a receipt record from a document fetched earlier,
// without any network access.
func (p *Pipeline) Reextract(ctx context.Context, content, document string) (*Record, error) {
	ref, err := DecodeReference(content)
	if err != nil {
		return nil, fmt.Errorf("decoding reference: %w", err)
	}

	fields, err := p.extractor.Extract(ctx, document)
	if err != nil {
		return nil, canceled(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}

	rec := p.merger.Merge(content, ref, fields, nil)
	rec.Route = SnapshotRoute
	rec.Document = document

	p.logger.Info("Receipt re-extracted", "access_key", rec.AccessKey, "status", rec.Status)
	return rec, nil
}

// Missing returns the essential fields a record lacks
func (p *Pipeline) Missing(rec *Record) []string {
	return p.merger.Missing(rec)
}
