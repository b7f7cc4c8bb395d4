// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package hand

import (
	"time"

	"github.com/relabs-tech/emg_hand/internal/calibration"
	"github.com/relabs-tech/emg_hand/internal/intensity"
	"github.com/relabs-tech/emg_hand/internal/sampler"
)

type EventKind string

const (
	EventSessionStarted     EventKind = "session_started"
	EventSampling           EventKind = "sampling"
	EventMovementExecuted   EventKind = "movement_executed"
	EventMovementInvalid    EventKind = "movement_invalid"
	EventSessionAborted     EventKind = "session_aborted"
	EventCalibrationStarted EventKind = "calibration_started"
	EventCalibrationDone    EventKind = "calibration_done"
	EventCalibrationFailed  EventKind = "calibration_failed"
)

// Event reports a selector transition to observers.
type Event struct {
	Kind        EventKind
	SessionID   string
	Time        time.Time
	Phase       sampler.Phase
	Levels      []intensity.Level
	Elapsed     time.Duration
	Finger      int // -1 unless a finger was toggled
	Angle       int
	Calibration *calibration.Result
	Err         error
}

// Observer receives selector events. Notify is called synchronously from
// the foreground context and must not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }
