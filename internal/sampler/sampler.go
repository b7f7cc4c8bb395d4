// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sampler captures one muscle movement: it waits for the first
// active reading, then samples once per tick until the sequence is full and
// matches it against the movement catalog.
//
// Two contexts touch a session. The foreground (Start, Poll, Consume, Abort)
// owns it in Idle and Pending and after a terminal phase; the timer callback
// owns it in Reading. The phase is the only hand-off signal, and the
// foreground always disarms the timer before it writes.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/emg_hand/internal/emg"
	"github.com/relabs-tech/emg_hand/internal/intensity"
	"github.com/relabs-tech/emg_hand/internal/movement"
)

var (
	ErrBusy          = errors.New("sampling session already active")
	ErrNotComplete   = errors.New("sampling session not complete")
	ErrConsumedTwice = errors.New("sampling result already consumed")
	ErrNoResult      = errors.New("no sampling result")
	ErrFaultPending  = errors.New("previous sampling fault not yet reported")
	ErrSessionLost   = errors.New("sampling session replaced by another caller")
)

// Phase is the sampler state.
type Phase int32

const (
	Idle Phase = iota
	Pending
	Reading
	MovementDetected
	MovementInvalid
)

var phaseNames = [...]string{"IDLE", "PENDING_MUSCLE_ACTIVITY", "READING_ORDER_IN_PROGRESS", "MOVEMENT_DETECTED", "MOVEMENT_INVALID"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// Terminal reports whether the phase ends a session.
func (p Phase) Terminal() bool {
	return p == MovementDetected || p == MovementInvalid
}

// State is a snapshot of the sampler.
type State struct {
	Phase   Phase
	Index   int // selected index when Phase is MovementDetected, otherwise -1
	Levels  []intensity.Level
	Elapsed time.Duration
}

// Classifier turns a raw reading into an intensity level.
type Classifier interface {
	Classify(raw int) (intensity.Level, error)
}

// Matcher finds the index registered for a complete movement.
type Matcher interface {
	Lookup(m movement.Movement) (int, bool)
	SequenceLength() int
}

// Config holds the sampling timing.
type Config struct {
	TickPeriod   time.Duration // time between captured samples
	PollInterval time.Duration // foreground poll cadence used by Run
}

type fault struct{ err error }

// Sampler runs one sampling session at a time.
type Sampler struct {
	reader     emg.RawReader
	classifier Classifier
	matcher    Matcher
	timer      Timer

	length       int
	period       time.Duration
	pollInterval time.Duration

	phase    atomic.Int32
	buf      [movement.MaxLength]intensity.Level
	count    atomic.Int32
	ticks    atomic.Int32
	detected int
	fault    atomic.Pointer[fault]
	consumed atomic.Bool
	session  atomic.Uint64
}

// New returns an idle sampler. The sequence length is taken from the matcher.
func New(reader emg.RawReader, classifier Classifier, matcher Matcher, timer Timer, cfg Config) (*Sampler, error) {
	length := matcher.SequenceLength()
	if length < 1 || length > movement.MaxLength {
		return nil, fmt.Errorf("sampler: sequence length %d not in 1..%d", length, movement.MaxLength)
	}
	if cfg.TickPeriod <= 0 {
		return nil, fmt.Errorf("sampler: tick period must be positive, got %s", cfg.TickPeriod)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	return &Sampler{
		reader:       reader,
		classifier:   classifier,
		matcher:      matcher,
		timer:        timer,
		length:       length,
		period:       cfg.TickPeriod,
		pollInterval: cfg.PollInterval,
	}, nil
}

// Phase returns the current phase.
func (s *Sampler) Phase() Phase {
	return Phase(s.phase.Load())
}

// SequenceLength is the number of ticks in one session.
func (s *Sampler) SequenceLength() int { return s.length }

// State returns a snapshot including the levels observed so far.
func (s *Sampler) State() State {
	p := s.Phase()
	n := int(s.count.Load())
	st := State{
		Phase:   p,
		Index:   -1,
		Levels:  make([]intensity.Level, n),
		Elapsed: time.Duration(s.ticks.Load()) * s.period,
	}
	copy(st.Levels, s.buf[:n])
	if p == MovementDetected {
		st.Index = s.detected
	}
	return st
}

// Start moves Idle to Pending. It fails with ErrBusy in any other phase and
// never touches a running timer. A fault recorded by the timer callback must
// be reported by Poll first; until then Start fails with ErrFaultPending.
func (s *Sampler) Start() error {
	if !s.phase.CompareAndSwap(int32(Idle), int32(Pending)) {
		return fmt.Errorf("%w: sampler is %s", ErrBusy, s.Phase())
	}
	// the callback stores the fault before it publishes Idle
	if f := s.fault.Load(); f != nil {
		s.phase.Store(int32(Idle))
		return fmt.Errorf("%w: %v", ErrFaultPending, f.err)
	}
	// A callback that aborted the last session may still be returning.
	s.timer.Disarm()
	s.count.Store(0)
	s.ticks.Store(0)
	s.consumed.Store(false)
	s.session.Add(1)
	return nil
}

// Session identifies the last started session. It changes on every
// successful Start.
func (s *Sampler) Session() uint64 { return s.session.Load() }

// Poll advances the foreground side of the state machine. In Pending it
// reads one sample and opens the capture window on the first active level.
// A read or quantization error aborts the session to Idle and is returned;
// a fault hit by the timer callback is returned by the next Poll.
func (s *Sampler) Poll() (State, error) {
	switch s.Phase() {
	case Pending:
		return s.pollPending()
	case Idle:
		if f := s.fault.Swap(nil); f != nil {
			return s.State(), f.err
		}
	}
	return s.State(), nil
}

func (s *Sampler) pollPending() (State, error) {
	lvl, err := s.sample()
	if err != nil {
		s.phase.Store(int32(Idle))
		return s.State(), err
	}
	if lvl == intensity.None {
		return s.State(), nil
	}

	s.buf[0] = lvl
	s.count.Store(1)
	if s.length == 1 {
		s.finish(1)
		return s.State(), nil
	}

	s.phase.Store(int32(Reading))
	if err := s.timer.Arm(s.period, s.tick); err != nil {
		s.count.Store(0)
		s.phase.Store(int32(Idle))
		return s.State(), fmt.Errorf("arm sampling timer: %w", err)
	}
	return s.State(), nil
}

// tick is the timer callback. It appends one level and, when the sequence
// is full, publishes the terminal phase and stops the timer.
func (s *Sampler) tick() bool {
	if s.Phase() != Reading {
		return false
	}
	lvl, err := s.sample()
	if err != nil {
		s.fault.Store(&fault{err: err})
		s.phase.Store(int32(Idle))
		return false
	}

	n := s.count.Load()
	s.buf[n] = lvl
	s.count.Store(n + 1)
	s.ticks.Add(1)

	if int(n+1) < s.length {
		return true
	}
	s.finish(int(n + 1))
	return false
}

func (s *Sampler) finish(n int) {
	m := movement.FromBuffer(&s.buf, n)
	if idx, ok := s.matcher.Lookup(m); ok {
		s.detected = idx
		s.phase.Store(int32(MovementDetected))
		return
	}
	s.phase.Store(int32(MovementInvalid))
}

func (s *Sampler) sample() (intensity.Level, error) {
	raw, err := s.reader.ReadRaw()
	if err != nil {
		return intensity.None, fmt.Errorf("read sample: %w", err)
	}
	return s.classifier.Classify(raw)
}

// Consume takes the result of a finished session and returns to Idle.
// It returns the selected index and true for a detected movement, and false
// for an invalid one. A second call for the same session fails with
// ErrConsumedTwice.
func (s *Sampler) Consume() (int, bool, error) {
	switch p := s.Phase(); p {
	case MovementDetected, MovementInvalid:
		s.timer.Disarm()
		idx := s.detected
		s.count.Store(0)
		s.ticks.Store(0)
		s.consumed.Store(true)
		s.phase.Store(int32(Idle))
		if p == MovementInvalid {
			return -1, false, nil
		}
		return idx, true, nil
	case Idle:
		if s.consumed.Load() {
			return -1, false, ErrConsumedTwice
		}
		return -1, false, ErrNoResult
	default:
		return -1, false, fmt.Errorf("%w: sampler is %s", ErrNotComplete, p)
	}
}

// Abort cancels a pending or reading session. A finished session is left
// for Consume.
func (s *Sampler) Abort() {
	s.timer.Disarm()
	switch s.Phase() {
	case Pending, Reading:
		s.count.Store(0)
		s.ticks.Store(0)
		s.phase.Store(int32(Idle))
	}
}

// Run starts a session and waits for it to finish.
func (s *Sampler) Run(ctx context.Context, onState func(State)) (State, error) {
	if err := s.Start(); err != nil {
		return s.State(), err
	}
	return s.Wait(ctx, onState)
}

// Wait polls a started session until it finishes, calling onState whenever
// the phase or the number of observed levels changes. Cancelling ctx aborts
// the session. If another caller starts a new session meanwhile, Wait
// returns ErrSessionLost instead of reporting that session as its own.
func (s *Sampler) Wait(ctx context.Context, onState func(State)) (State, error) {
	return s.WaitSession(ctx, s.Session(), onState)
}

// WaitSession is Wait for the session returned by Session after Start.
func (s *Sampler) WaitSession(ctx context.Context, id uint64, onState func(State)) (State, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last State
	first := true
	for {
		if s.Session() != id {
			return s.State(), ErrSessionLost
		}
		st, err := s.Poll()
		if s.Session() != id {
			return s.State(), ErrSessionLost
		}
		if onState != nil && (first || err != nil || st.Phase != last.Phase || len(st.Levels) != len(last.Levels)) {
			onState(st)
		}
		if err != nil {
			return st, err
		}
		if st.Phase.Terminal() {
			return st, nil
		}
		if st.Phase == Idle {
			return st, ErrNoResult
		}
		last, first = st, false

		select {
		case <-ctx.Done():
			s.Abort()
			return s.State(), ctx.Err()
		case <-ticker.C:
		}
	}
}
