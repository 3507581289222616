// Package resolver wires the scanner, the normalizer and the collector
// into one entry point.
//
//	r, err := resolver.New(cfg.Resolver, resolver.WithLogger(logger))
//	res := r.Resolve(model.NewDocument("answer.md", text))
//	for _, img := range res.Images {
//		fmt.Println(img.Label, img.URL)
//	}
//
// A Resolver is safe for concurrent use; every call creates its own
// collector session.
package resolver

import (
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/nao1215/imgref/internal/collector"
	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/normalizer"
	"github.com/nao1215/imgref/internal/scanner"
)

// Resolver turns assistant text into image references.
type Resolver struct {
	cfg        config.ResolverConfig
	scanner    *scanner.Scanner
	normalizer *normalizer.Normalizer
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger for the resolver and its stages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics publishes the counts of every resolved document.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithClock sets the time source used for Resolution.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a Resolver from the resolver tables.
func New(cfg config.ResolverConfig, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	var err error
	r.scanner, err = scanner.New(cfg, scanner.WithLogger(r.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	r.normalizer, err = normalizer.New(cfg, normalizer.WithLogger(r.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create normalizer: %w", err)
	}
	return r, nil
}

// Normalizer returns the normalizer, shared with the image proxy.
func (r *Resolver) Normalizer() *normalizer.Normalizer {
	return r.normalizer
}

// Scanner returns the scanner.
func (r *Resolver) Scanner() *scanner.Scanner {
	return r.scanner
}

// NewSession starts a collector session for one message.
func (r *Resolver) NewSession(opts ...collector.Option) *collector.Session {
	opts = append([]collector.Option{collector.WithLogger(r.logger)}, opts...)
	return collector.NewSession(r.scanner, r.normalizer, r.cfg.CacheBustParams, opts...)
}

// ResolveText returns the references in text.
func (r *Resolver) ResolveText(text string) []model.ImageReference {
	s := r.NewSession()
	s.Ingest(text)
	r.metrics.observe(s.Stats(), s.All())
	return s.All()
}

// Resolve resolves a whole document in one pass.
func (r *Resolver) Resolve(doc model.Document) *model.Resolution {
	s := r.NewSession()
	s.Ingest(doc.Text)
	return r.Complete(s, doc)
}

// ChunkFunc receives the references made new by one chunk.
type ChunkFunc func(index int, chunk string, added []model.ImageReference)

// ResolveChunks feeds doc to one session in chunks of at most size bytes,
// never splitting a rune, and calls fn after each chunk. A size of zero
// or less is the same as Resolve.
func (r *Resolver) ResolveChunks(doc model.Document, size int, fn ChunkFunc) *model.Resolution {
	if size <= 0 {
		res := r.Resolve(doc)
		if fn != nil {
			fn(0, doc.Text, res.Images)
		}
		return res
	}

	s := r.NewSession()
	for i, chunk := range SplitChunks(doc.Text, size) {
		added := s.AppendChunk(chunk)
		if fn != nil {
			fn(i, chunk, added)
		}
	}
	if added := s.Finish(); len(added) > 0 && fn != nil {
		fn(-1, "", added)
	}
	return r.Complete(s, doc)
}

// Complete builds the Resolution of a finished session and records metrics.
func (r *Resolver) Complete(s *collector.Session, doc model.Document) *model.Resolution {
	res := model.NewResolution(s.ID(), doc, r.now())
	res.Images = s.All()

	stats := s.Stats()
	res.Candidates = stats.TotalCandidates()
	res.Rejected = stats.TotalRejected()
	r.metrics.observe(stats, res.Images)

	r.logger.Debug("resolved document",
		"source", doc.Name,
		"images", len(res.Images),
		"candidates", res.Candidates,
		"rejected", res.Rejected,
	)
	return res
}

// SplitChunks splits text into pieces of at most size bytes on rune
// boundaries. A rune longer than size gets a chunk of its own.
func SplitChunks(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		end := min(size, len(text))
		for end < len(text) && end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == 0 {
			_, w := utf8.DecodeRuneInString(text)
			end = w
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	return chunks
}
