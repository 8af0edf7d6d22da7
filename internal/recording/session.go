// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/balance_recorder/internal/motion"
)

// DefaultInterval samples at 10 Hz.
const DefaultInterval = 100 * time.Millisecond

var (
	ErrAlreadyActive = errors.New("recording already active")
	ErrNotActive     = errors.New("recording not active")
	ErrActive        = errors.New("recording in progress")
	ErrSchedule      = errors.New("cannot schedule sampler")
)

// State of a session.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Snapshotter provides the latest sample on every tick.
type Snapshotter interface {
	Snapshot() motion.Sample
}

// Ticker is the periodic timer driving the sampler.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker for the given period.
type TickerFactory func(d time.Duration) (Ticker, error)

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker, rejecting non-positive periods
// instead of panicking.
func NewTimeTicker(d time.Duration) (Ticker, error) {
	if d <= 0 {
		return nil, fmt.Errorf("invalid sample interval %s", d)
	}
	return timeTicker{t: time.NewTicker(d)}, nil
}

// Option configures a Session.
type Option func(*Session)

// WithInterval sets the sampling period.
func WithInterval(d time.Duration) Option {
	return func(s *Session) { s.interval = d }
}

// WithTickerFactory replaces the ticker constructor.
func WithTickerFactory(f TickerFactory) Option {
	return func(s *Session) { s.newTicker = f }
}

// WithOnSample registers a callback run after every append with the new
// sample and the recording length. It runs on the sampler goroutine and
// must not call Stop.
func WithOnSample(fn func(motion.Sample, int)) Option {
	return func(s *Session) { s.onSample = fn }
}

// Session records snapshots of a Snapshotter at a fixed period while active.
//
// Idle --Start--> Active --Stop--> Idle. Start clears the previous
// recording; after Stop the recording stays readable until the next Start
// or Clear.
type Session struct {
	src       Snapshotter
	interval  time.Duration
	newTicker TickerFactory
	onSample  func(motion.Sample, int)

	mu        sync.Mutex
	state     State
	samples   []motion.Sample
	startedAt time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New returns an idle session sampling src.
func New(src Snapshotter, opts ...Option) *Session {
	s := &Session{
		src:       src,
		interval:  DefaultInterval,
		newTicker: NewTimeTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start clears the recording and begins sampling. The sampler also stops
// when ctx is cancelled. If the ticker cannot be created the session stays
// idle and the previous recording is kept.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Active {
		return ErrAlreadyActive
	}

	t, err := s.newTicker(s.interval)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchedule, err)
	}

	s.samples = nil
	s.state = Active
	s.startedAt = time.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, t, s.stopCh, s.doneCh)
	return nil
}

func (s *Session) run(ctx context.Context, t Ticker, stop, done chan struct{}) {
	defer close(done)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stopCh == stop {
				s.state = Idle
				s.stopCh = nil
			}
			s.mu.Unlock()
			return
		case <-t.C():
			s.mu.Lock()
			if s.stopCh != stop {
				s.mu.Unlock()
				return
			}
			sample := s.src.Snapshot()
			s.samples = append(s.samples, sample)
			n := len(s.samples)
			fn := s.onSample
			s.mu.Unlock()

			if fn != nil {
				fn(sample, n)
			}
		}
	}
}

// Stop ends sampling. It returns once the sampler goroutine has exited, so
// no sample is appended after Stop returns.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return ErrNotActive
	}
	close(s.stopCh)
	s.stopCh = nil
	s.state = Idle
	done := s.doneCh
	s.mu.Unlock()

	<-done
	return nil
}

// Clear empties the recording without starting a capture.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Active {
		return ErrActive
	}
	s.samples = nil
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Len returns the number of recorded samples.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Recording returns a copy of the recorded samples in capture order.
func (s *Session) Recording() []motion.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]motion.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// StartedAt is the time of the last successful Start.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Interval is the sampling period.
func (s *Session) Interval() time.Duration {
	return s.interval
}
