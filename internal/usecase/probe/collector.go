package probe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"streamprobe/internal/domain"
	"streamprobe/internal/infra/logger"
)

const (
	DefaultTimeout           = 15 * time.Second
	DefaultExcerptChars      = 50
	DefaultErrorExcerptChars = 80

	// closeGrace bounds how long an abandoned stream may take to wind down.
	closeGrace = time.Second
)

// Request is a single streaming invocation.
type Request struct {
	Model     string
	Turns     []domain.Turn
	Tools     []domain.ToolSchema
	MaxTokens int
	Timeout   time.Duration
	Expect    domain.Expectation
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithExcerptChars bounds the answer excerpt in runes.
func WithExcerptChars(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.excerptChars = n
		}
	}
}

// WithErrorExcerptChars bounds the error excerpt in runes.
func WithErrorExcerptChars(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.errorExcerptChars = n
		}
	}
}

// WithObserver registers fn to see every stream event as it arrives. fn runs
// on the draining goroutine.
func WithObserver(fn func(domain.StreamEvent)) CollectorOption {
	return func(c *Collector) { c.observer = fn }
}

// WithCollectorLogger sets the collector's logger.
func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// Collector opens one stream per call, drains it and turns whatever happened
// into a TrialResult. It never returns an error: faults become ERROR results
// and a missed deadline becomes TIMEOUT.
type Collector struct {
	provider          domain.StreamingProvider
	logger            *slog.Logger
	observer          func(domain.StreamEvent)
	excerptChars      int
	errorExcerptChars int
}

// NewCollector creates a Collector reading from provider.
func NewCollector(provider domain.StreamingProvider, opts ...CollectorOption) *Collector {
	c := &Collector{
		provider:          provider,
		logger:            logger.Nop(),
		excerptChars:      DefaultExcerptChars,
		errorExcerptChars: DefaultErrorExcerptChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// snapshot is an immutable copy of the accumulator.
type snapshot struct {
	text          string
	toolUse       *domain.ToolInvocation
	stopReason    domain.StopReason
	stopSeen      bool
	usage         *domain.Usage
	events        int
	contentEvents int
	err           error
}

type accumulator struct {
	text          strings.Builder
	toolInput     strings.Builder
	toolUse       *domain.ToolInvocation
	stopReason    domain.StopReason
	stopSeen      bool
	usage         *domain.Usage
	events        int
	contentEvents int
}

func (a *accumulator) add(ev domain.StreamEvent) {
	a.events++
	switch ev.Kind {
	case domain.EventContentDelta:
		a.contentEvents++
		a.text.WriteString(ev.Text)
	case domain.EventToolUseStart:
		if ev.ToolUse != nil {
			a.toolUse = &domain.ToolInvocation{ID: ev.ToolUse.ID, Name: ev.ToolUse.Name}
		}
	case domain.EventToolUseDelta:
		if a.toolUse == nil {
			a.toolUse = &domain.ToolInvocation{}
		}
		a.toolInput.WriteString(ev.Text)
	case domain.EventMessageStop:
		a.stopSeen = true
		a.stopReason = ev.StopReason
	}
	if ev.Usage != nil {
		u := *ev.Usage
		a.usage = &u
	}
}

func (a *accumulator) snapshot() snapshot {
	s := snapshot{
		text:          a.text.String(),
		stopReason:    a.stopReason,
		stopSeen:      a.stopSeen,
		usage:         a.usage,
		events:        a.events,
		contentEvents: a.contentEvents,
	}
	if a.toolUse != nil {
		tu := *a.toolUse
		tu.Input = a.toolInput.String()
		s.toolUse = &tu
	}
	return s
}

// Collect runs one invocation. The stream is raced against req.Timeout: if
// the timer wins before a MessageStop was seen the result is TIMEOUT and all
// accumulated state is dropped; once MessageStop has been seen the answer is
// final and is classified as usual.
func (c *Collector) Collect(ctx context.Context, req Request) domain.TrialResult {
	start := time.Now()
	res := domain.TrialResult{Model: req.Model}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if err := ctx.Err(); err != nil {
		return c.errorResult(res, domain.WrapOp("collect", err), start)
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	stream, err := c.provider.ConverseStream(sctx, domain.StreamRequest{
		Model:     req.Model,
		Turns:     req.Turns,
		Tools:     req.Tools,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return c.timeoutResult(res, timeout, start)
		}
		return c.errorResult(res, err, start)
	}
	defer stream.Close()

	stopCh := make(chan snapshot, 1)
	doneCh := make(chan snapshot, 1)
	go c.drain(stream, stopCh, doneCh)

	var stopped *snapshot
	for {
		select {
		case snap := <-doneCh:
			return c.complete(ctx, res, snap, req.Expect, timeout, start)

		case snap := <-stopCh:
			stopped = &snap

		case <-timer.C:
			if stopped == nil {
				select {
				case snap := <-stopCh:
					stopped = &snap
				default:
				}
			}
			c.abandon(stream, doneCh)
			if stopped != nil {
				c.logger.Debug("timer fired after message stop", "model", req.Model)
				return c.classified(res, *stopped, req.Expect, start)
			}
			return c.timeoutResult(res, timeout, start)

		case <-ctx.Done():
			c.abandon(stream, doneCh)
			return c.errorResult(res, domain.WrapOp("collect", ctx.Err()), start)
		}
	}
}

// drain consumes the stream until it ends. The first MessageStop publishes a
// snapshot on stopCh; the final state goes to doneCh.
func (c *Collector) drain(stream domain.EventStream, stopCh, doneCh chan<- snapshot) {
	var acc accumulator
	for ev := range stream.Events() {
		if c.observer != nil {
			c.observer(ev)
		}
		wasStopped := acc.stopSeen
		acc.add(ev)
		if acc.stopSeen && !wasStopped {
			stopCh <- acc.snapshot()
		}
	}
	snap := acc.snapshot()
	snap.err = stream.Err()
	doneCh <- snap
}

// abandon closes the stream and waits briefly for the drain goroutine so
// late events are not reported after the result.
func (c *Collector) abandon(stream domain.EventStream, doneCh <-chan snapshot) {
	if err := stream.Close(); err != nil {
		c.logger.Debug("close stream", "error", err)
	}
	select {
	case <-doneCh:
	case <-time.After(closeGrace):
		c.logger.Warn("stream did not wind down after close")
	}
}

func (c *Collector) complete(ctx context.Context, res domain.TrialResult, snap snapshot, expect domain.Expectation, timeout time.Duration, start time.Time) domain.TrialResult {
	if snap.err != nil {
		deadline := errors.Is(snap.err, context.DeadlineExceeded) || errors.Is(snap.err, domain.ErrTimeout)
		switch {
		case snap.stopSeen && deadline:
			// The answer was already final.
		case ctx.Err() != nil:
			return c.errorResult(res, domain.WrapOp("collect", ctx.Err()), start)
		case deadline:
			return c.timeoutResult(res, timeout, start)
		default:
			return c.errorResult(res, snap.err, start)
		}
	}
	return c.classified(res, snap, expect, start)
}

func (c *Collector) classified(res domain.TrialResult, snap snapshot, expect domain.Expectation, start time.Time) domain.TrialResult {
	res.StopReason = snap.stopReason
	res.EventCount = snap.events
	res.ContentEventCount = snap.contentEvents
	res.ToolUse = snap.toolUse
	res.Usage = snap.usage
	res.Duration = time.Since(start)

	if expect == domain.ExpectToolUse {
		if snap.toolUse != nil {
			res.Status = domain.StatusOK
			res.Excerpt = excerpt("tool_use "+snap.toolUse.Name+" "+snap.toolUse.Input, c.excerptChars)
		} else {
			res.Status = domain.StatusEmpty
			res.Excerpt = excerpt(snap.text, c.excerptChars)
		}
	} else {
		res.Status = Classify(snap.text)
		res.Excerpt = excerpt(snap.text, c.excerptChars)
	}

	c.logger.Debug("trial collected",
		"model", res.Model, "status", res.Status, "stop_reason", res.StopReason,
		"events", res.EventCount, "content_events", res.ContentEventCount)
	return res
}

func (c *Collector) timeoutResult(res domain.TrialResult, timeout time.Duration, start time.Time) domain.TrialResult {
	res.Status = domain.StatusTimeout
	res.ErrorCode = domain.CodeTimeout
	res.Duration = time.Since(start)
	c.logger.Debug("trial timed out", "model", res.Model, "timeout", timeout)
	return res
}

func (c *Collector) errorResult(res domain.TrialResult, err error, start time.Time) domain.TrialResult {
	res.Status = domain.StatusError
	res.ErrorCode = domain.ErrorCodeOf(err)
	res.Excerpt = excerpt(err.Error(), c.errorExcerptChars)
	res.Duration = time.Since(start)
	c.logger.Debug("trial failed", "model", res.Model, "code", res.ErrorCode, "error", err)
	return res
}
