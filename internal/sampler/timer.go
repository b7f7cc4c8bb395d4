// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sampler

import (
	"errors"
	"sync"
	"time"
)

var ErrTimerArmed = errors.New("timer already armed")

// Timer is a periodic tick source. The callback runs once per period until it
// returns false or Disarm is called. Disarm blocks until no callback is
// running, so after it returns the caller owns any state the callback writes.
type Timer interface {
	Arm(period time.Duration, tick func() bool) error
	Disarm()
}

// TickerTimer runs the callback on its own goroutine driven by a time.Ticker.
type TickerTimer struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewTickerTimer() *TickerTimer {
	return &TickerTimer{}
}

func (t *TickerTimer) Arm(period time.Duration, tick func() bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		select {
		case <-t.done:
		default:
			return ErrTimerArmed
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !tick() {
					return
				}
			}
		}
	}()
	return nil
}

func (t *TickerTimer) Disarm() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	t.mu.Unlock()

	if done != nil {
		<-done
	}
}

// ManualTimer fires only when Fire is called. Tests use it to drive the
// sampler tick by tick from a single goroutine.
type ManualTimer struct {
	mu     sync.Mutex
	tick   func() bool
	period time.Duration
	armed  bool
}

func (m *ManualTimer) Arm(period time.Duration, tick func() bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed {
		return ErrTimerArmed
	}
	m.tick, m.period, m.armed = tick, period, true
	return nil
}

func (m *ManualTimer) Disarm() {
	m.mu.Lock()
	m.armed = false
	m.mu.Unlock()
}

// Armed reports whether a callback is registered.
func (m *ManualTimer) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Period is the period passed to the last Arm.
func (m *ManualTimer) Period() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Fire runs one tick. It returns false if the timer was not armed.
func (m *ManualTimer) Fire() bool {
	m.mu.Lock()
	tick, armed := m.tick, m.armed
	m.mu.Unlock()
	if !armed {
		return false
	}
	if !tick() {
		m.Disarm()
	}
	return true
}
