// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package hand ties the EMG pipeline to the five finger servos. Selector is
// the composition root: it owns the quantizer, movement catalog, sampler,
// calibrator and hand, and is handed to whatever dispatches user commands.
package hand

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/emg_hand/internal/calibration"
	"github.com/relabs-tech/emg_hand/internal/emg"
	"github.com/relabs-tech/emg_hand/internal/intensity"
	"github.com/relabs-tech/emg_hand/internal/movement"
	"github.com/relabs-tech/emg_hand/internal/sampler"
)

var ErrBusy = errors.New("selector busy")

// Display renders a few status lines. It is best effort.
type Display interface {
	Show(lines []string) error
}

// Options configures a Selector.
type Options struct {
	Reader   emg.RawReader
	Actuator Actuator
	Display  Display        // optional
	Timer    sampler.Timer  // defaults to a TickerTimer
	Bounds   intensity.Bounds

	Fingers        []Finger // finger i is selected by its movement and gets index i
	SequenceLength int
	TickPeriod     time.Duration
	PollInterval   time.Duration

	Calibration calibration.Config

	MinDegree int
	MaxDegree int
}

// Selector runs sampling sessions and calibrations and toggles the finger a
// detected movement selects.
type Selector struct {
	quantizer  *intensity.Quantizer
	catalog    *movement.Catalog
	sampler    *sampler.Sampler
	calibrator *calibration.Calibrator
	hand       *Hand
	display    Display

	// held by the one caller driving the sampler or calibrator
	foreground  sync.Mutex
	calibrating atomic.Bool
	displayErr  atomic.Bool

	mu        sync.Mutex
	observers []Observer
	sessionID string
}

// NewSelector validates the configuration and builds every component.
// Bad bounds, bad movements or duplicate movements are returned as errors.
func NewSelector(opts Options) (*Selector, error) {
	if opts.Reader == nil || opts.Actuator == nil {
		return nil, fmt.Errorf("selector: reader and actuator are required")
	}
	if opts.Bounds == nil {
		opts.Bounds = intensity.DefaultBounds
	}
	if opts.Timer == nil {
		opts.Timer = sampler.NewTickerTimer()
	}
	if opts.MinDegree == 0 && opts.MaxDegree == 0 {
		opts.MinDegree, opts.MaxDegree = MinDegree, MaxDegree
	}

	q, err := intensity.NewQuantizer(opts.Bounds)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	catalog, err := movement.NewCatalog(opts.SequenceLength)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	for i, f := range opts.Fingers {
		for _, lvl := range f.Movement.Levels() {
			if int(lvl) < 0 || int(lvl) >= q.Levels() {
				return nil, fmt.Errorf("selector: finger %d: %w: level %v not produced by %d intensity bounds",
					i+1, movement.ErrInvalidMovement, lvl, q.Levels())
			}
		}
		if err := catalog.Register(f.Movement, i); err != nil {
			return nil, fmt.Errorf("selector: finger %d: %w", i+1, err)
		}
	}

	h, err := NewHand(opts.Actuator, opts.Fingers, opts.MinDegree, opts.MaxDegree)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	smp, err := sampler.New(opts.Reader, q, catalog, opts.Timer, sampler.Config{
		TickPeriod:   opts.TickPeriod,
		PollInterval: opts.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	s := &Selector{
		quantizer: q,
		catalog:   catalog,
		sampler:   smp,
		hand:      h,
		display:   opts.Display,
	}
	s.calibrator = calibration.New(opts.Reader, q, displayFunc(s.show), opts.Calibration)
	return s, nil
}

// AddObserver registers o for every subsequent event.
func (s *Selector) AddObserver(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Hand returns the hand driven by the selector.
func (s *Selector) Hand() *Hand { return s.hand }

// Bounds returns the live intensity bounds.
func (s *Selector) Bounds() intensity.Bounds { return s.quantizer.Bounds() }

// Movements lists the defined movements, one line per finger.
func (s *Selector) Movements() []string {
	entries := s.catalog.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("Movement%d: %v", e.Index+1, e.Movement)
	}
	return lines
}

func (s *Selector) acquire() error {
	if !s.foreground.TryLock() {
		return fmt.Errorf("%w: another command is running", ErrBusy)
	}
	return nil
}

// StartSampling opens a new sampling session. It is rejected while a
// session or a calibration is active, and while another caller is inside
// ReadContractionAndExecute or StartCalibration.
func (s *Selector) StartSampling() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.foreground.Unlock()
	return s.startSampling()
}

func (s *Selector) startSampling() error {
	if s.calibrating.Load() {
		return fmt.Errorf("%w: calibration running", ErrBusy)
	}
	if err := s.sampler.Start(); err != nil {
		return err
	}
	if s.calibrating.Load() {
		s.sampler.Abort()
		return fmt.Errorf("%w: calibration running", ErrBusy)
	}

	s.mu.Lock()
	s.sessionID = uuid.New().String()
	s.mu.Unlock()

	st := s.sampler.State()
	s.notify(Event{Kind: EventSessionStarted, Phase: st.Phase, Finger: -1})
	return nil
}

// PollState advances the session and returns its state. Sensor and
// quantization faults abort the session and are returned.
func (s *Selector) PollState() (sampler.State, error) {
	if err := s.acquire(); err != nil {
		return s.sampler.State(), err
	}
	defer s.foreground.Unlock()

	st, err := s.sampler.Poll()
	if err != nil {
		log.Printf("hand: sampling session aborted: %v", err)
		s.show("Session aborted", err.Error())
		s.notify(Event{Kind: EventSessionAborted, Phase: st.Phase, Levels: st.Levels, Elapsed: st.Elapsed, Finger: -1, Err: err})
	}
	return st, err
}

// ConsumeResult takes the finished session. A detected movement toggles its
// finger exactly once and returns its index; an invalid movement returns
// false and moves nothing. Reading the same session twice returns
// sampler.ErrConsumedTwice.
func (s *Selector) ConsumeResult() (int, bool, error) {
	if err := s.acquire(); err != nil {
		return -1, false, err
	}
	defer s.foreground.Unlock()
	return s.consumeResult()
}

func (s *Selector) consumeResult() (int, bool, error) {
	st := s.sampler.State()
	idx, ok, err := s.sampler.Consume()
	if err != nil {
		return -1, false, err
	}
	if !ok {
		log.Printf("hand: %s %v", sampler.MovementInvalid, st.Levels)
		s.show(sampler.MovementInvalid.String()+"!", levelsLine(st.Levels))
		s.notify(Event{Kind: EventMovementInvalid, Phase: sampler.MovementInvalid, Levels: st.Levels, Elapsed: st.Elapsed, Finger: -1})
		return -1, false, nil
	}

	angle, err := s.hand.Toggle(idx)
	if err != nil {
		s.notify(Event{Kind: EventMovementExecuted, Phase: sampler.MovementDetected, Levels: st.Levels, Elapsed: st.Elapsed, Finger: idx, Angle: angle, Err: err})
		return idx, true, err
	}
	log.Printf("hand: %s %v -> finger %d at %d deg", sampler.MovementDetected, st.Levels, idx+1, angle)
	s.show(sampler.MovementDetected.String(), fmt.Sprintf("Finger %d -> %d deg", idx+1, angle))
	s.notify(Event{Kind: EventMovementExecuted, Phase: sampler.MovementDetected, Levels: st.Levels, Elapsed: st.Elapsed, Finger: idx, Angle: angle})
	return idx, true, nil
}

// ReadContractionAndExecute runs one full session: wait for activity,
// capture the sequence, and toggle the matching finger. Other callers are
// rejected with ErrBusy until it returns.
func (s *Selector) ReadContractionAndExecute(ctx context.Context) (int, bool, error) {
	if err := s.acquire(); err != nil {
		return -1, false, err
	}
	defer s.foreground.Unlock()

	if err := s.startSampling(); err != nil {
		return -1, false, err
	}
	id := s.sampler.Session()

	st, err := s.sampler.WaitSession(ctx, id, func(st sampler.State) {
		s.show(st.Phase.String(), levelsLine(st.Levels), fmt.Sprintf("@ time: %dms", st.Elapsed.Milliseconds()))
		s.notify(Event{Kind: EventSampling, Phase: st.Phase, Levels: st.Levels, Elapsed: st.Elapsed, Finger: -1})
	})
	if err != nil {
		log.Printf("hand: sampling session aborted: %v", err)
		s.show("Session aborted", err.Error())
		s.notify(Event{Kind: EventSessionAborted, Phase: st.Phase, Levels: st.Levels, Elapsed: st.Elapsed, Finger: -1, Err: err})
		return -1, false, err
	}
	return s.consumeResult()
}

// StartCalibration runs a calibration with the given number of rounds. It
// is rejected while a sampling session is active. On failure the previous
// bounds stay in place.
func (s *Selector) StartCalibration(ctx context.Context, repetitions int) (calibration.Result, error) {
	if err := s.acquire(); err != nil {
		return calibration.Result{}, err
	}
	defer s.foreground.Unlock()

	if !s.calibrating.CompareAndSwap(false, true) {
		return calibration.Result{}, fmt.Errorf("%w: calibration running", ErrBusy)
	}
	defer s.calibrating.Store(false)

	if p := s.sampler.Phase(); p != sampler.Idle {
		return calibration.Result{}, fmt.Errorf("%w: sampler is %s", ErrBusy, p)
	}

	s.notify(Event{Kind: EventCalibrationStarted, Finger: -1})
	res, err := s.calibrator.Calibrate(ctx, repetitions)
	if err != nil {
		log.Printf("hand: %v", err)
		s.show("Calibration failed", "bounds unchanged")
		s.notify(Event{Kind: EventCalibrationFailed, Finger: -1, Err: err})
		return res, err
	}
	s.notify(Event{Kind: EventCalibrationDone, Finger: -1, Calibration: &res})
	return res, nil
}

func (s *Selector) notify(ev Event) {
	ev.Time = time.Now()
	s.mu.Lock()
	ev.SessionID = s.sessionID
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, o := range observers {
		o.Notify(ev)
	}
}

func (s *Selector) show(lines ...string) {
	if s.display == nil {
		return
	}
	if err := s.display.Show(lines); err != nil && s.displayErr.CompareAndSwap(false, true) {
		log.Printf("hand: display unavailable, continuing without it: %v", err)
	}
}

type displayFunc func(lines ...string)

func (f displayFunc) Show(lines []string) error {
	f(lines...)
	return nil
}

func levelsLine(levels []intensity.Level) string {
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = l.String()
	}
	return "Levels: " + strings.Join(names, " ")
}
