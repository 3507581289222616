package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/imgref/internal/model"
)

// Job is one document moving through the pipeline.
type Job struct {
	// Document is the input text.
	Document model.Document

	// Resolution accumulates the results of every step.
	Resolution *model.Resolution
}

// NewJob creates a job with an empty resolution.
func NewJob(id string, doc model.Document, createdAt time.Time) *Job {
	return &Job{Document: doc, Resolution: model.NewResolution(id, doc, createdAt)}
}

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence, with each step receiving the job as left
// by the previous steps.
type Step interface {
	// Do executes the step. Non-critical failures should be recorded in
	// the resolution and return nil.
	Do(ctx context.Context, job *Job) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	steps []Step

	logger *slog.Logger

	// continueOnError keeps executing steps after one fails.
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError configures the pipeline to continue execution
// even when a step fails. The last error is recorded in the resolution.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps in order. Cancellation is checked between steps.
// It returns the first error unless continueOnError is set.
func (p *Pipeline) Execute(ctx context.Context, job *Job) error {
	res := job.Resolution
	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"source", job.Document.Name,
				"reason", ctx.Err(),
			)
			res.Error = ctx.Err().Error()
			return ctx.Err()
		default:
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"source", job.Document.Name,
		)

		if err := step.Do(ctx, job); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"source", job.Document.Name,
				"error", err,
			)
			res.Error = err.Error()
			if !p.continueOnError {
				return err
			}
		}

		res.PerformedSteps = append(res.PerformedSteps, step.Name())
	}
	return nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
