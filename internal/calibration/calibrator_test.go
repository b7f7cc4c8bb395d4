// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/emg_hand/internal/intensity"
)

// arm simulates the muscle: it follows the last prompt shown.
type arm struct {
	mu         sync.Mutex
	contracted bool
	n          int
	relax      func(n int) (int, error)
	contract   func(n int) (int, error)
	prompts    [][]string
}

func (a *arm) Show(lines []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, lines)
	for _, l := range lines {
		switch {
		case strings.Contains(l, "RELAX"):
			a.contracted = false
		case strings.Contains(l, "CONTRACT"):
			a.contracted = true
		}
	}
	return nil
}

func (a *arm) ReadRaw() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	if a.contracted {
		return a.contract(a.n)
	}
	return a.relax(a.n)
}

func constant(v int) func(int) (int, error) {
	return func(int) (int, error) { return v, nil }
}

func failing(err error) func(int) (int, error) {
	return func(int) (int, error) { return 0, err }
}

func newQuantizer(t *testing.T) *intensity.Quantizer {
	t.Helper()
	q, err := intensity.NewQuantizer(intensity.DefaultBounds)
	require.NoError(t, err)
	return q
}

var fastWindow = Config{Window: 5 * time.Millisecond}

func TestDeriveScenario(t *testing.T) {
	b, err := Derive(2000, 12000)
	require.NoError(t, err)
	require.Equal(t, intensity.Bounds{{Low: 0, High: 3200}, {Low: 3200, High: 6800}, {Low: 6800, High: 9200}, {Low: 9200, High: 14000}}, b)
}

func TestDeriveRejectsNonMonotonic(t *testing.T) {
	_, err := Derive(5000, 5000)
	require.ErrorIs(t, err, ErrCalibrationFailed)
	_, err = Derive(5000, 4000)
	require.ErrorIs(t, err, ErrCalibrationFailed)
	_, err = Derive(0, 9)
	require.ErrorIs(t, err, ErrCalibrationFailed)
}

func TestCalibrateInstallsDerivedBounds(t *testing.T) {
	a := &arm{
		relax: constant(2000),
		contract: func(n int) (int, error) {
			if n%2 == 0 {
				return 12000, nil
			}
			return 7000, nil
		},
	}
	q := newQuantizer(t)
	c := New(a, q, a, fastWindow)

	res, err := c.Calibrate(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 2000, res.Relaxed)
	require.Equal(t, 12000, res.Contracted)
	require.Len(t, res.ContractedPeaks, 3)
	require.NotEmpty(t, res.ID)
	require.Equal(t, 3, res.Repetitions)

	want := intensity.Bounds{{Low: 0, High: 3200}, {Low: 3200, High: 6800}, {Low: 6800, High: 9200}, {Low: 9200, High: 14000}}
	require.Equal(t, want, res.Bounds)
	require.Equal(t, want, q.Bounds())
	require.False(t, c.Running())

	// relax/contract prompts per round plus the summary
	require.Len(t, a.prompts, 3*2+1)
	require.Contains(t, a.prompts[0][1], "RELAX")
	require.Contains(t, a.prompts[1][1], "CONTRACT")
}

func TestCalibrateRejectsDifferentLevelCount(t *testing.T) {
	five := intensity.Bounds{{Low: 0, High: 5000}, {Low: 5000, High: 9000}, {Low: 9000, High: 12000}, {Low: 12000, High: 15000}, {Low: 15000, High: 40000}}
	q, err := intensity.NewQuantizer(five)
	require.NoError(t, err)
	a := &arm{relax: constant(2000), contract: constant(12000)}
	c := New(a, q, a, fastWindow)

	_, err = c.Calibrate(context.Background(), 1)
	require.ErrorIs(t, err, ErrCalibrationFailed)
	require.ErrorIs(t, err, intensity.ErrInvalidBounds)
	require.Equal(t, five, q.Bounds())
}

func TestCalibrateEmptyContractedPoolKeepsBounds(t *testing.T) {
	a := &arm{relax: constant(2000), contract: failing(errors.New("adc fault"))}
	q := newQuantizer(t)
	before := q.Bounds()

	_, err := New(a, q, a, fastWindow).Calibrate(context.Background(), 2)
	require.ErrorIs(t, err, ErrCalibrationFailed)
	require.Equal(t, before, q.Bounds())
}

func TestCalibrateEmptyRelaxedPoolKeepsBounds(t *testing.T) {
	a := &arm{relax: failing(errors.New("adc fault")), contract: constant(12000)}
	q := newQuantizer(t)

	_, err := New(a, q, a, fastWindow).Calibrate(context.Background(), 1)
	require.ErrorIs(t, err, ErrCalibrationFailed)
	require.Equal(t, intensity.DefaultBounds, q.Bounds())
}

func TestCalibrateFlatSignalFails(t *testing.T) {
	a := &arm{relax: constant(5000), contract: constant(5000)}
	q := newQuantizer(t)

	_, err := New(a, q, a, fastWindow).Calibrate(context.Background(), 1)
	require.ErrorIs(t, err, ErrCalibrationFailed)
	require.Equal(t, intensity.DefaultBounds, q.Bounds())
}

func TestCalibrateRejectsZeroRepetitions(t *testing.T) {
	a := &arm{relax: constant(2000), contract: constant(12000)}
	_, err := New(a, newQuantizer(t), a, fastWindow).Calibrate(context.Background(), 0)
	require.ErrorIs(t, err, ErrCalibrationFailed)
}

func TestCalibrateCancelled(t *testing.T) {
	a := &arm{relax: constant(2000), contract: constant(12000)}
	q := newQuantizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(a, q, a, fastWindow).Calibrate(ctx, 1)
	require.ErrorIs(t, err, ErrCalibrationFailed)
	require.Equal(t, intensity.DefaultBounds, q.Bounds())
}

func TestCalibrateRejectsConcurrentRun(t *testing.T) {
	a := &arm{relax: constant(2000), contract: constant(12000)}
	c := New(a, newQuantizer(t), a, Config{Window: 30 * time.Millisecond, SampleInterval: time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := c.Calibrate(context.Background(), 1)
		done <- err
	}()

	require.Eventually(t, c.Running, time.Second, time.Millisecond)
	_, err := c.Calibrate(context.Background(), 1)
	require.ErrorIs(t, err, ErrBusy)
	require.NoError(t, <-done)
}
