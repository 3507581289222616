package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/resolver"
)

// Step names.
const (
	StepResolve = "resolve"
	StepClean   = "clean"
	StepProbe   = "probe"
	StepVerify  = "verify"
	StepSave    = "save"
)

// ResolveStep runs the resolver over the document.
type ResolveStep struct {
	resolver  *resolver.Resolver
	chunkSize int
	onChunk   func(job *Job, index int, added []model.ImageReference)
}

// ResolveStepOption configures a ResolveStep.
type ResolveStepOption func(*ResolveStep)

// WithChunkSize feeds the document in chunks of n bytes. Zero resolves it
// in one pass.
func WithChunkSize(n int) ResolveStepOption {
	return func(s *ResolveStep) {
		s.chunkSize = n
	}
}

// WithChunkCallback is called with the references each chunk added.
// The final call after the last chunk has index -1.
func WithChunkCallback(fn func(job *Job, index int, added []model.ImageReference)) ResolveStepOption {
	return func(s *ResolveStep) {
		s.onChunk = fn
	}
}

// NewResolveStep creates a resolve step.
func NewResolveStep(r *resolver.Resolver, opts ...ResolveStepOption) *ResolveStep {
	s := &ResolveStep{resolver: r}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ResolveStep) Name() string {
	return StepResolve
}

// Do resolves the document and copies the result into the job.
func (s *ResolveStep) Do(_ context.Context, job *Job) error {
	var fn resolver.ChunkFunc
	if s.onChunk != nil {
		fn = func(index int, _ string, added []model.ImageReference) {
			s.onChunk(job, index, added)
		}
	}

	out := s.resolver.ResolveChunks(job.Document, s.chunkSize, fn)

	res := job.Resolution
	res.ID = out.ID
	res.Digest = out.Digest
	res.Images = out.Images
	res.Candidates = out.Candidates
	res.Rejected = out.Rejected
	return nil
}

// Cleaner removes image references from text.
type Cleaner interface {
	Clean(text string) string
}

// CleanStep stores the answer text without its image references.
type CleanStep struct {
	cleaner Cleaner
}

// NewCleanStep creates a clean step.
func NewCleanStep(c Cleaner) *CleanStep {
	return &CleanStep{cleaner: c}
}

// Name returns the step name.
func (s *CleanStep) Name() string {
	return StepClean
}

// Do cleans the document text.
func (s *CleanStep) Do(_ context.Context, job *Job) error {
	job.Resolution.CleanedText = s.cleaner.Clean(job.Document.Text)
	return nil
}

// Prober fetches image URLs.
type Prober interface {
	ProbeAll(ctx context.Context, urls []string) (map[string]model.ProbeResult, error)
}

// ProbeStep fetches every resolved image.
type ProbeStep struct {
	prober Prober
	logger *slog.Logger
}

// NewProbeStep creates a probe step.
func NewProbeStep(p Prober, logger *slog.Logger) *ProbeStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeStep{prober: p, logger: logger}
}

// Name returns the step name.
func (s *ProbeStep) Name() string {
	return StepProbe
}

// Do probes the resolved images. Per-image failures are kept in the
// probe results and do not fail the step.
func (s *ProbeStep) Do(ctx context.Context, job *Job) error {
	res := job.Resolution
	if len(res.Images) == 0 {
		return nil
	}

	urls := make([]string, 0, len(res.Images))
	for _, img := range res.Images {
		urls = append(urls, img.URL)
	}

	probes, err := s.prober.ProbeAll(ctx, urls)
	res.Probes = probes
	if err != nil {
		return fmt.Errorf("probe cancelled: %w", err)
	}

	failed := 0
	for _, p := range probes {
		if !p.OK() {
			failed++
		}
	}
	s.logger.Debug("probed images", "source", res.Source, "images", len(urls), "failed", failed)
	return nil
}

// Verifier checks resolved images against object storage.
type Verifier interface {
	Verify(ctx context.Context, storagePath string, images []model.ImageReference) ([]string, error)
}

// VerifyStep marks images whose file is missing from object storage.
type VerifyStep struct {
	verifier    Verifier
	storagePath string
}

// NewVerifyStep creates a verify step for URLs under storagePath.
func NewVerifyStep(v Verifier, storagePath string) *VerifyStep {
	return &VerifyStep{verifier: v, storagePath: storagePath}
}

// Name returns the step name.
func (s *VerifyStep) Name() string {
	return StepVerify
}

// Do verifies the resolved images.
func (s *VerifyStep) Do(ctx context.Context, job *Job) error {
	missing, err := s.verifier.Verify(ctx, s.storagePath, job.Resolution.Images)
	if err != nil {
		return fmt.Errorf("failed to verify images: %w", err)
	}
	job.Resolution.Missing = missing
	job.Resolution.Verified = true
	return nil
}

// RunSaver persists a resolution.
type RunSaver interface {
	SaveRun(ctx context.Context, res *model.Resolution) error
}

// SaveStep stores the resolution.
type SaveStep struct {
	store RunSaver
}

// NewSaveStep creates a save step.
func NewSaveStep(store RunSaver) *SaveStep {
	return &SaveStep{store: store}
}

// Name returns the step name.
func (s *SaveStep) Name() string {
	return StepSave
}

// Do saves the resolution.
func (s *SaveStep) Do(ctx context.Context, job *Job) error {
	if err := s.store.SaveRun(ctx, job.Resolution); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}
