package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"streamprobe/internal/adapter/llm"
	"streamprobe/internal/adapter/report"
	"streamprobe/internal/domain"
	"streamprobe/internal/infra/config"
	"streamprobe/internal/infra/logger"
	"streamprobe/internal/infra/tracer"
	"streamprobe/internal/usecase/probe"
)

// newProvider builds the inference client. Tests replace it.
var newProvider = func(ctx context.Context, cfg config.BedrockConfig, log *slog.Logger) (domain.StreamingProvider, error) {
	p, err := llm.NewBedrockProvider(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// app is the wiring shared by all subcommands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	provider domain.StreamingProvider
	out      io.Writer
	opts     []report.Option
	cleanup  []func()
}

// setup loads configuration, applies command defaults and then explicit
// flags, and builds the logger, tracer and provider.
func setup(cmd *cobra.Command, f *flags, defaults func(*config.Config)) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	if defaults != nil {
		defaults(cfg)
	}
	applyFlags(cmd, f, cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{
		cfg:     cfg,
		log:     log,
		out:     cmd.OutOrStdout(),
		cleanup: []func(){func() { _ = logCloser() }},
	}

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.cleanup = append(a.cleanup, func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	})

	provider, err := newProvider(ctx, cfg.Bedrock, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("bedrock: %w", err)
	}
	a.provider = provider

	ascii := cfg.Probe.Output.ASCII || !report.DetectUnicodeSupport()
	a.opts = []report.Option{
		report.WithASCII(ascii),
		report.WithStyle(cfg.Probe.Output.Color),
	}

	log.Debug("streamprobe configured",
		"provider", provider.Name(), "region", cfg.Bedrock.Region,
		"trials", cfg.Probe.Trials, "delay", cfg.Probe.Delay, "timeout", cfg.Probe.Timeout)
	return a, nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// human writes report text unless JSON output was requested.
func (a *app) human(format string, args ...any) {
	if a.cfg.Probe.Output.JSON {
		return
	}
	fmt.Fprintf(a.out, format, args...)
}

// hooks are optional per-trial callbacks for a batch.
type hooks struct {
	before probe.StartFunc
	after  probe.TrialFunc
}

// run validates every fixture up front and then executes the batch.
func (a *app) run(ctx context.Context, specs []domain.TrialSpec, h hooks) (*domain.BatchSummary, error) {
	if len(specs) == 0 {
		return nil, domain.NewDomainError("streamprobe", domain.ErrInvalidInput, "no trials to run")
	}
	if err := probe.ValidateSpecs(specs); err != nil {
		return nil, err
	}

	copts := []probe.CollectorOption{
		probe.WithExcerptChars(a.cfg.Probe.ExcerptChars),
		probe.WithErrorExcerptChars(a.cfg.Probe.ErrorExcerptChars),
		probe.WithCollectorLogger(a.log),
	}
	var printer *eventPrinter
	if a.cfg.Probe.Output.Raw && !a.cfg.Probe.Output.JSON {
		printer = &eventPrinter{w: a.out}
		copts = append(copts, probe.WithObserver(printer.observe))
	}

	runner := probe.NewRunner(probe.NewCollector(a.provider, copts...),
		probe.WithDelay(a.cfg.Probe.Delay),
		probe.WithTimeout(a.cfg.Probe.Timeout),
		probe.WithMaxTokens(a.cfg.Probe.MaxTokens),
		probe.WithRateLimit(a.cfg.Probe.RateLimitPerMin),
		probe.WithLogger(a.log),
		probe.WithBeforeTrial(func(i int, spec domain.TrialSpec) {
			if printer != nil {
				printer.reset()
			}
			if h.before != nil {
				h.before(i, spec)
			}
		}),
		probe.WithOnTrial(func(i int, spec domain.TrialSpec, res domain.TrialResult) {
			if h.after != nil {
				h.after(i, spec, res)
			}
		}),
	)
	return runner.Run(ctx, specs), nil
}

// printTrial is the default live progress line.
func (a *app) printTrial(i int, _ domain.TrialSpec, res domain.TrialResult) {
	a.human("%s\n", report.TrialLine(i, res, a.opts...))
}

// finish prints the JSON summary when requested and turns any failed trial
// into ErrTrialsFailed.
func (a *app) finish(s *domain.BatchSummary, tail func()) error {
	if a.cfg.Probe.Output.JSON {
		data, err := report.JSON(s)
		if err != nil {
			return err
		}
		if _, err := a.out.Write(data); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	} else if tail != nil {
		tail()
	}
	if s.Failed > 0 {
		return domain.ErrTrialsFailed
	}
	return nil
}

// eventPrinter numbers raw events within one trial. observe runs on the
// collector's draining goroutine.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

func (p *eventPrinter) observe(ev domain.StreamEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	fmt.Fprintln(p.w, report.EventLine(p.n, ev))
}

func (p *eventPrinter) reset() {
	p.mu.Lock()
	p.n = 0
	p.mu.Unlock()
}
