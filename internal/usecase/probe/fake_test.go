package probe

import (
	"context"
	"sync"
	"time"

	"streamprobe/internal/domain"
)

// script describes how one fake stream behaves.
type script struct {
	openErr error
	events  []domain.StreamEvent
	gap     time.Duration // pause before each event
	hang    bool          // block after the events until ctx or Close
	err     error         // reported after the events
}

type fakeStream struct {
	events    chan domain.StreamEvent
	err       error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeStream) Events() <-chan domain.StreamEvent { return s.events }
func (s *fakeStream) Err() error                        { return s.err }
func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) play(ctx context.Context, sc script) {
	defer close(s.events)
	for _, ev := range sc.events {
		if sc.gap > 0 {
			select {
			case <-time.After(sc.gap):
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			case <-s.closed:
				return
			}
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		case <-s.closed:
			return
		}
	}
	if sc.hang {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
		case <-s.closed:
		}
		return
	}
	s.err = sc.err
}

// fakeProvider replays scripts in call order, repeating the last one.
type fakeProvider struct {
	mu       sync.Mutex
	scripts  []script
	requests []domain.StreamRequest
}

func newFakeProvider(scripts ...script) *fakeProvider {
	return &fakeProvider{scripts: scripts}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ConverseStream(ctx context.Context, req domain.StreamRequest) (domain.EventStream, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	sc := p.scripts[idx]
	p.mu.Unlock()

	if sc.openErr != nil {
		return nil, sc.openErr
	}
	s := &fakeStream{
		events: make(chan domain.StreamEvent),
		closed: make(chan struct{}),
	}
	go s.play(ctx, sc)
	return s, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func delta(s string) domain.StreamEvent {
	return domain.StreamEvent{Kind: domain.EventContentDelta, Text: s}
}

func stop(reason domain.StopReason) domain.StreamEvent {
	return domain.StreamEvent{Kind: domain.EventMessageStop, StopReason: reason}
}

func answer(text string) script {
	return script{events: []domain.StreamEvent{delta(text), stop(domain.StopEndTurn)}}
}
