package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/sitemapgen/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence, with each step receiving the report
// filled in by the steps before it.
type Step interface {
	// Do executes the pipeline step.
	// Non-critical problems should be recorded in the report and return nil.
	Do(ctx context.Context, report *model.CrawlReport) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Finalizer is implemented by steps that must still run after the context
// is cancelled, such as writing the sitemap of an interrupted crawl.
// They receive a context that is no longer cancelled.
type Finalizer interface {
	Step

	// RunsAfterCancel reports whether the step runs after cancellation.
	RunsAfterCancel() bool
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	// steps contains the ordered list of steps to execute.
	steps []Step

	// logger is used for structured logging during execution.
	logger *slog.Logger

	// continueOnError determines whether to continue executing steps
	// after one fails. If false, the pipeline stops on first error.
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
// even when a step fails. Failed steps are logged and their errors
// are recorded in the report, but subsequent steps still execute.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
// Steps should be added using AddStep after creation.
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
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all pipeline steps in sequence.
//
// The context is checked before each step. Once it is cancelled the report
// is marked as timed out and only Finalizer steps still run; Execute then
// returns ctx.Err().
//
// Returns the first step error if continueOnError is false, or nil if all
// steps complete (errors are recorded in the report).
func (p *Pipeline) Execute(ctx context.Context, report *model.CrawlReport) error {
	var cancelErr error

	for _, step := range p.steps {
		stepCtx := ctx
		if err := ctx.Err(); err != nil {
			if cancelErr == nil {
				p.logger.Warn("pipeline cancelled",
					"step", step.Name(),
					"reason", err,
				)
				report.TimedOut = true
				cancelErr = err
			}
			if !runsAfterCancel(step) {
				continue
			}
			stepCtx = context.WithoutCancel(ctx)
		}

		p.logger.Info("executing step",
			"step", step.Name(),
			"site", report.Site,
		)

		if err := step.Do(stepCtx, report); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"site", report.Site,
				"error", err,
			)

			report.SetError(err)

			if !p.continueOnError {
				return err
			}
		} else {
			p.logger.Debug("step completed",
				"step", step.Name(),
				"site", report.Site,
			)
		}

		report.AddStep(step.Name())
	}

	return cancelErr
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

func runsAfterCancel(step Step) bool {
	f, ok := step.(Finalizer)
	return ok && f.RunsAfterCancel()
}
