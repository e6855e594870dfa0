// Package worker executes scrape jobs from the queue: fetch, archive,
// normalize, extract, detect changes, and persist the results.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/detect"
	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

// originLimiter spaces requests per origin. Acquire blocks before a
// fetch; Mark starts the spacing window once the fetch has landed.
type originLimiter interface {
	Acquire(ctx context.Context, rawURL string) error
	Mark(ctx context.Context, rawURL string)
}

// PipelineConfig controls content archiving.
type PipelineConfig struct {
	BlobPrefix  string
	ContentType string
}

// Outcome is the result of one successful pipeline run.
type Outcome struct {
	Revision monitor.Revision
	Diff     *monitor.Diff
	// Baseline means this was the source's first revision.
	Baseline bool
	// Unchanged means the content hash matched the prior revision and
	// the extraction was reused.
	Unchanged bool
}

// Pipeline runs the content stages for one source.
type Pipeline struct {
	httpFetcher     monitor.Fetcher
	headlessFetcher monitor.Fetcher
	limiter         originLimiter
	decryptor       monitor.CredentialDecryptor
	normalizer      monitor.Normalizer
	extractor       monitor.Extractor
	detector        *detect.Detector
	blobs           monitor.BlobStore
	revisions       monitor.RevisionStore
	hasher          monitor.Hasher
	ids             monitor.IDGenerator
	clock           monitor.Clock
	cfg             PipelineConfig
	logger          *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(
	httpFetcher monitor.Fetcher,
	headlessFetcher monitor.Fetcher,
	limiter originLimiter,
	decryptor monitor.CredentialDecryptor,
	normalizer monitor.Normalizer,
	extractor monitor.Extractor,
	detector *detect.Detector,
	blobs monitor.BlobStore,
	revisions monitor.RevisionStore,
	hasher monitor.Hasher,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "raw"
	}
	return &Pipeline{
		httpFetcher:     httpFetcher,
		headlessFetcher: headlessFetcher,
		limiter:         limiter,
		decryptor:       decryptor,
		normalizer:      normalizer,
		extractor:       extractor,
		detector:        detector,
		blobs:           blobs,
		revisions:       revisions,
		hasher:          hasher,
		ids:             ids,
		clock:           clock,
		cfg:             cfg,
		logger:          logger,
	}
}

// Run executes the full pipeline for one source. Any returned error is
// retryable by the caller's policy; the pipeline itself persists only
// complete results.
func (p *Pipeline) Run(ctx context.Context, source monitor.Source) (Outcome, error) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, source.URL); err != nil {
			return Outcome{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := p.fetch(ctx, source)
	if p.limiter != nil {
		// The spacing window starts once the request has reached the
		// origin, whether or not it succeeded.
		p.limiter.Mark(ctx, source.URL)
	}
	if err != nil {
		metrics.ObserveFetch(source.URL, "error", 0)
		return Outcome{}, err
	}
	metrics.ObserveFetch(source.URL, "success", len(resp.Body))

	scrapedAt := p.clock.Now()
	blobURI, err := p.archive(ctx, source.ID, scrapedAt, resp.Body)
	if err != nil {
		return Outcome{}, err
	}

	text, err := p.normalizer.Normalize(resp.Body)
	if err != nil {
		// Unparseable markup degrades to empty text: the hash gate then
		// compares emptiness across runs instead of failing the job.
		p.logger.Warn("normalize failed, treating content as empty",
			zap.String("source_id", source.ID), zap.Error(err))
		text = ""
	}
	hash, err := p.hasher.Hash([]byte(text))
	if err != nil {
		return Outcome{}, fmt.Errorf("hash content: %w", err)
	}

	prior, hasPrior, err := p.revisions.LatestRevision(ctx, source.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load latest revision: %w", err)
	}

	revisionID, err := p.ids.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("generate revision id: %w", err)
	}

	// Hash gate: identical normalized content means the expensive
	// extraction and comparison can be skipped entirely. The revision
	// row is still written so the scrape is part of the history.
	if hasPrior && prior.ContentHash == hash {
		metrics.ObserveHashGate("unchanged")
		rev := monitor.Revision{
			ID:          revisionID,
			SourceID:    source.ID,
			BlobURI:     blobURI,
			ContentHash: hash,
			Extracted:   prior.Extracted,
			Summary:     prior.Summary,
			Confidence:  prior.Confidence,
			ScrapedAt:   scrapedAt,
		}
		if err := p.revisions.SaveRevision(ctx, rev, nil); err != nil {
			return Outcome{}, fmt.Errorf("save revision: %w", err)
		}
		return Outcome{Revision: rev, Unchanged: true}, nil
	}
	metrics.ObserveHashGate("changed")

	extraction, err := p.extractor.Extract(ctx, monitor.ExtractionRequest{
		Text:            text,
		MonitoringGoal:  source.MonitoringGoal,
		ExtractionHints: source.ExtractionHints,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("extract content: %w", err)
	}

	rev := monitor.Revision{
		ID:          revisionID,
		SourceID:    source.ID,
		BlobURI:     blobURI,
		ContentHash: hash,
		Extracted:   extraction.Data,
		Summary:     extraction.Summary,
		Confidence:  extraction.Confidence,
		ScrapedAt:   scrapedAt,
	}

	// First revision is the baseline: everything is new content, but
	// with nothing to compare against there is no diff and nothing to
	// announce.
	if !hasPrior {
		rev.IsBaseline = true
		rev.WasChangeDetected = true
		rev.Confidence = 1.0
		if err := p.revisions.SaveRevision(ctx, rev, nil); err != nil {
			return Outcome{}, fmt.Errorf("save baseline revision: %w", err)
		}
		return Outcome{Revision: rev, Baseline: true}, nil
	}

	decision, err := p.detector.Evaluate(ctx, source, prior.Extracted, extraction.Data)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluate change: %w", err)
	}
	rev.WasChangeDetected = decision.Changed

	var diff *monitor.Diff
	if decision.Changed {
		diffID, err := p.ids.NewID()
		if err != nil {
			return Outcome{}, fmt.Errorf("generate diff id: %w", err)
		}
		diff = &monitor.Diff{
			ID:            diffID,
			OldRevisionID: prior.ID,
			NewRevisionID: rev.ID,
			Summary:       decision.Result.Summary,
			ChangeType:    decision.Result.ChangeType,
			Confidence:    decision.Result.Confidence,
			Changes:       decision.Result.Changes,
			CreatedAt:     scrapedAt,
		}
	}

	if err := p.revisions.SaveRevision(ctx, rev, diff); err != nil {
		return Outcome{}, fmt.Errorf("save revision: %w", err)
	}
	return Outcome{Revision: rev, Diff: diff}, nil
}

func (p *Pipeline) fetch(ctx context.Context, source monitor.Source) (monitor.FetchResponse, error) {
	request := monitor.FetchRequest{
		SourceID: source.ID,
		URL:      source.URL,
		Mode:     source.FetchMode,
	}
	if source.AuthEncrypted != "" && p.decryptor != nil {
		// A broken credential blob degrades to an unauthenticated fetch;
		// the source may still be publicly readable.
		creds, err := p.decryptor.Decrypt(source.AuthEncrypted)
		if err != nil {
			p.logger.Warn("credential decryption failed, fetching unauthenticated",
				zap.String("source_id", source.ID), zap.Error(err))
		} else {
			request.Credentials = &creds
		}
	}

	fetcher := p.httpFetcher
	if source.FetchMode == monitor.FetchModeRendered {
		if p.headlessFetcher == nil {
			return monitor.FetchResponse{}, fmt.Errorf("source %s requires rendered fetch but no headless fetcher is configured", source.ID)
		}
		fetcher = p.headlessFetcher
	}

	resp, err := fetcher.Fetch(ctx, request)
	if err != nil {
		return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", source.URL, err)
	}
	return resp, nil
}

func (p *Pipeline) archive(ctx context.Context, sourceID string, at time.Time, body []byte) (string, error) {
	path := p.buildBlobPath(sourceID, at)
	uri, err := p.blobs.PutObject(ctx, path, p.cfg.ContentType, body)
	if err != nil {
		return "", fmt.Errorf("archive raw content: %w", err)
	}
	return uri, nil
}

func (p *Pipeline) buildBlobPath(sourceID string, at time.Time) string {
	prefix := strings.Trim(p.cfg.BlobPrefix, "/")
	return fmt.Sprintf("%s/%s/%s.html", prefix, sourceID, at.UTC().Format("20060102T150405Z"))
}
