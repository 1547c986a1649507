package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"streamprobe/internal/domain"
	"streamprobe/internal/infra/logger"
	"streamprobe/internal/infra/tracer"
	"streamprobe/internal/usecase/fixture"
)

// DefaultDelay separates consecutive trials.
const DefaultDelay = 500 * time.Millisecond

// TrialFunc is called after every trial with its zero-based index.
type TrialFunc func(index int, spec domain.TrialSpec, res domain.TrialResult)

// StartFunc is called before every trial with its zero-based index.
type StartFunc func(index int, spec domain.TrialSpec)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDelay sets the pause between trials. It is never applied after the
// last trial.
func WithDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d >= 0 {
			r.delay = d
		}
	}
}

// WithTimeout sets the per-trial timeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithMaxTokens caps the generated tokens per trial.
func WithMaxTokens(n int) RunnerOption {
	return func(r *Runner) { r.maxTokens = n }
}

// WithRateLimit paces trial starts to perMinute. Zero disables pacing.
func WithRateLimit(perMinute float64) RunnerOption {
	return func(r *Runner) {
		if perMinute > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perMinute/60), 1)
		} else {
			r.limiter = nil
		}
	}
}

// WithOnTrial registers a progress callback.
func WithOnTrial(fn TrialFunc) RunnerOption {
	return func(r *Runner) { r.onTrial = fn }
}

// WithBeforeTrial registers a hook that runs just before each trial starts.
func WithBeforeTrial(fn StartFunc) RunnerOption {
	return func(r *Runner) { r.beforeTrial = fn }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner executes trials strictly one after another and tallies them.
type Runner struct {
	collector *Collector
	logger    *slog.Logger
	delay     time.Duration
	timeout   time.Duration
	maxTokens int
	limiter   *rate.Limiter
	onTrial   TrialFunc

	beforeTrial StartFunc
}

// NewRunner creates a Runner that collects through c.
func NewRunner(c *Collector, opts ...RunnerOption) *Runner {
	r := &Runner{
		collector: c,
		logger:    logger.Nop(),
		delay:     DefaultDelay,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes specs in order and returns exactly one result per spec. No
// trial aborts the batch; once ctx is canceled the remaining trials resolve
// immediately as ERROR.
func (r *Runner) Run(ctx context.Context, specs []domain.TrialSpec) *domain.BatchSummary {
	summary := &domain.BatchSummary{
		RunID:  NewRunID(time.Now()),
		Trials: make([]domain.TrialResult, 0, len(specs)),
	}
	log := r.logger.With("run_id", summary.RunID)

	ctx, span := tracer.StartSpan(ctx, "probe.batch", trace.WithAttributes(
		tracer.StringAttr("run_id", summary.RunID),
		tracer.IntAttr("trials", len(specs)),
	))
	defer span.End()

	log.Info("batch started", "trials", len(specs), "delay", r.delay)

	for i, spec := range specs {
		if i > 0 {
			r.pause(ctx)
		}
		r.throttle(ctx)

		if r.beforeTrial != nil {
			r.beforeTrial(i, spec)
		}
		res := r.runTrial(ctx, i, spec)
		summary.Add(res)
		log.Info("trial finished",
			"trial", i+1, "model", res.Model, "status", res.Status, "duration", res.Duration)

		if r.onTrial != nil {
			r.onTrial(i, spec, res)
		}
	}

	span.SetAttributes(
		tracer.IntAttr("passed", summary.Passed),
		tracer.IntAttr("failed", summary.Failed),
	)
	tracer.SetOK(span)
	log.Info("batch finished", "passed", summary.Passed, "failed", summary.Failed)
	return summary
}

func (r *Runner) runTrial(ctx context.Context, index int, spec domain.TrialSpec) domain.TrialResult {
	ctx, span := tracer.StartSpan(ctx, "probe.trial", trace.WithAttributes(
		tracer.IntAttr("trial.index", index+1),
		tracer.StringAttr("model", spec.Model),
		tracer.StringAttr("tool_call_id", spec.ToolCallID),
		tracer.StringAttr("scenario", spec.Scenario),
	))
	defer span.End()

	var res domain.TrialResult
	conv, err := buildConversation(spec)
	if err != nil {
		start := time.Now()
		res = r.collector.errorResult(domain.TrialResult{Model: spec.Model}, err, start)
	} else {
		res = r.collector.Collect(ctx, Request{
			Model:     spec.Model,
			Turns:     conv.Turns,
			Tools:     conv.Tools,
			MaxTokens: r.maxTokens,
			Timeout:   r.timeout,
			Expect:    conv.Expect,
		})
	}
	res.Label = spec.Label
	res.ToolCallID = spec.ToolCallID

	span.SetAttributes(
		tracer.StringAttr("status", string(res.Status)),
		tracer.IntAttr("events", res.EventCount),
		tracer.DurationAttr("duration_ms", res.Duration),
	)
	if res.Status == domain.StatusError {
		tracer.RecordError(span, fmt.Errorf("%s: %s", res.ErrorCode, res.Excerpt))
	} else {
		tracer.SetOK(span)
	}
	return res
}

// pause sleeps for the inter-trial delay or until ctx is done.
func (r *Runner) pause(ctx context.Context) {
	if r.delay <= 0 {
		return
	}
	t := time.NewTimer(r.delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (r *Runner) throttle(ctx context.Context) {
	if r.limiter == nil {
		return
	}
	if err := r.limiter.Wait(ctx); err != nil {
		r.logger.Debug("rate limiter wait", "error", err)
	}
}

func buildConversation(spec domain.TrialSpec) (fixture.Conversation, error) {
	scenario, err := fixture.ParseScenario(spec.Scenario)
	if err != nil {
		return fixture.Conversation{}, err
	}
	conv, err := fixture.Build(scenario, spec.ToolCallID)
	if err != nil {
		return fixture.Conversation{}, err
	}
	if err := fixture.Validate(conv); err != nil {
		return fixture.Conversation{}, err
	}
	return conv, nil
}

// ValidateSpecs builds and validates the fixture of every spec so fixture
// bugs surface before any request is sent.
func ValidateSpecs(specs []domain.TrialSpec) error {
	for i, spec := range specs {
		if spec.Model == "" {
			return domain.NewDomainError("Probe.ValidateSpecs", domain.ErrInvalidInput,
				fmt.Sprintf("trial %d: empty model", i+1))
		}
		if _, err := buildConversation(spec); err != nil {
			return fmt.Errorf("trial %d: %w", i+1, err)
		}
	}
	return nil
}

// NewRunID returns a ULID for a batch started at t.
func NewRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// IDFormat is a named tool-call identifier.
type IDFormat struct {
	ID   string
	Name string
}

// Repeat returns n copies of spec.
func Repeat(spec domain.TrialSpec, n int) []domain.TrialSpec {
	specs := make([]domain.TrialSpec, 0, max(n, 0))
	for i := 0; i < n; i++ {
		specs = append(specs, spec)
	}
	return specs
}

// Matrix returns the cross product of models and formats, models outermost.
func Matrix(models []string, formats []IDFormat, scenario string) []domain.TrialSpec {
	specs := make([]domain.TrialSpec, 0, len(models)*len(formats))
	for _, m := range models {
		for _, f := range formats {
			label := f.Name
			if label == "" {
				label = f.ID
			}
			specs = append(specs, domain.TrialSpec{
				Label:      label,
				Model:      m,
				ToolCallID: f.ID,
				Scenario:   scenario,
			})
		}
	}
	return specs
}
