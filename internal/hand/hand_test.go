// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package hand

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandToggle(t *testing.T) {
	act := &recordingActuator{}
	h, err := NewHand(act, testFingers(), 10, 170)
	require.NoError(t, err)

	angle, err := h.Toggle(2)
	require.NoError(t, err)
	require.Equal(t, 170, angle)

	angle, err = h.Toggle(2)
	require.NoError(t, err)
	require.Equal(t, 10, angle)

	_, err = h.Toggle(FingerCount)
	require.Error(t, err)
	require.Equal(t, []servoCall{{12, 170}, {12, 10}}, act.Calls())
}

func TestHandToggleKeepsAngleOnActuatorError(t *testing.T) {
	act := &recordingActuator{err: errors.New("bus busy")}
	h, err := NewHand(act, testFingers(), MinDegree, MaxDegree)
	require.NoError(t, err)

	_, err = h.Toggle(0)
	require.Error(t, err)
	require.Equal(t, MinDegree, h.Angle(0))
}

func TestHandRelease(t *testing.T) {
	act := &recordingActuator{}
	h, err := NewHand(act, testFingers(), MinDegree, MaxDegree)
	require.NoError(t, err)
	_, err = h.Toggle(3)
	require.NoError(t, err)

	require.NoError(t, h.Release())
	for i := 0; i < FingerCount; i++ {
		require.Equal(t, MinDegree, h.Angle(i))
	}
	require.Len(t, act.Calls(), 1+FingerCount)
}

func TestNewHandValidation(t *testing.T) {
	_, err := NewHand(&recordingActuator{}, testFingers()[:3], MinDegree, MaxDegree)
	require.Error(t, err)

	_, err = NewHand(&recordingActuator{}, testFingers(), 90, 90)
	require.Error(t, err)
}
