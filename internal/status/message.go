// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package status carries the hand's state over MQTT: selector events go out
// on the status topic and remote commands come in on the command topic.
package status

import (
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/emg_hand/internal/calibration"
	"github.com/relabs-tech/emg_hand/internal/hand"
)

// Message is the JSON payload published on the status topic.
type Message struct {
	ID          string              `json:"id"`
	Kind        hand.EventKind      `json:"kind"`
	SessionID   string              `json:"session_id,omitempty"`
	Time        time.Time           `json:"time"`
	Phase       string              `json:"phase,omitempty"`
	Levels      []string            `json:"levels,omitempty"`
	ElapsedMS   int64               `json:"elapsed_ms"`
	Finger      int                 `json:"finger,omitempty"` // 1-based, 0 when no finger moved
	Angle       int                 `json:"angle,omitempty"`
	Calibration *calibration.Result `json:"calibration,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// FromEvent converts a selector event into a status message with a fresh id.
func FromEvent(ev hand.Event) Message {
	m := Message{
		ID:          uuid.NewString(),
		Kind:        ev.Kind,
		SessionID:   ev.SessionID,
		Time:        ev.Time,
		ElapsedMS:   ev.Elapsed.Milliseconds(),
		Calibration: ev.Calibration,
	}
	switch ev.Kind {
	case hand.EventCalibrationStarted, hand.EventCalibrationDone, hand.EventCalibrationFailed:
		m.SessionID = ""
	default:
		m.Phase = ev.Phase.String()
	}
	if len(ev.Levels) > 0 {
		m.Levels = make([]string, len(ev.Levels))
		for i, l := range ev.Levels {
			m.Levels[i] = l.String()
		}
	}
	if ev.Finger >= 0 && ev.Kind == hand.EventMovementExecuted {
		m.Finger = ev.Finger + 1
		m.Angle = ev.Angle
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}
