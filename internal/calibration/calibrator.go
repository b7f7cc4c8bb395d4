// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration re-derives the intensity bounds from live samples.
//
// Protocol, repeated for each round:
//  1. Relax: every sample in the window goes into the relaxed pool.
//  2. Contract: only the window maximum goes into the contracted pool. The
//     true peak is brief, so the maximum estimates it better than the mean.
//
// The bounds are then quantized linearly from the two pool means with
// step = contracted/10 and thresholds at relaxed + step*{1,4,6,10}. The
// spacing is finer near the baseline, where effort changes are easier to tell apart.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/emg_hand/internal/emg"
	"github.com/relabs-tech/emg_hand/internal/intensity"
)

var (
	ErrCalibrationFailed = errors.New("calibration failed")
	ErrBusy              = errors.New("calibration already running")
)

// Threshold multipliers of step, one per upper bound.
var thresholdSteps = [...]int{1, 4, 6, 10}

const (
	DefaultWindow      = 1000 * time.Millisecond
	DefaultRepetitions = 3
)

// Prompter shows instructions to the user. Errors are logged and ignored.
type Prompter interface {
	Show(lines []string) error
}

// Config holds calibration timing.
type Config struct {
	Window         time.Duration // length of each relax/contract window
	SampleInterval time.Duration // pause between reads inside a window, 0 reads back to back
}

// Result describes one successful calibration run.
type Result struct {
	ID              string           `json:"id"`
	At              time.Time        `json:"at"`
	Repetitions     int              `json:"repetitions"`
	Relaxed         int              `json:"relaxed"`
	Contracted      int              `json:"contracted"`
	RelaxedSamples  int              `json:"relaxed_samples"`
	ContractedPeaks []int            `json:"contracted_peaks"`
	ReadErrors      int              `json:"read_errors"`
	Bounds          intensity.Bounds `json:"bounds"`
}

// Calibrator runs the relax/contract protocol and installs the new bounds
// in the quantizer.
type Calibrator struct {
	reader    emg.RawReader
	quantizer *intensity.Quantizer
	prompt    Prompter
	cfg       Config
	running   atomic.Bool
}

func New(reader emg.RawReader, q *intensity.Quantizer, prompt Prompter, cfg Config) *Calibrator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Calibrator{reader: reader, quantizer: q, prompt: prompt, cfg: cfg}
}

// Running reports whether a calibration is in progress.
func (c *Calibrator) Running() bool { return c.running.Load() }

// Calibrate runs repetitions relax/contract rounds. On success the quantizer
// bounds are replaced; on any failure they are left untouched and the error
// wraps ErrCalibrationFailed.
func (c *Calibrator) Calibrate(ctx context.Context, repetitions int) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer c.running.Store(false)

	if repetitions < 1 {
		return Result{}, fmt.Errorf("%w: repetitions must be at least 1, got %d", ErrCalibrationFailed, repetitions)
	}

	res := Result{
		ID:          uuid.New().String(),
		Repetitions: repetitions,
	}
	var relaxedSum int64

	for round := 1; round <= repetitions; round++ {
		c.show(fmt.Sprintf("Calibration %d/%d", round, repetitions), "RELAX muscle")
		samples, errs, err := c.collect(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCalibrationFailed, err)
		}
		res.ReadErrors += errs
		for _, v := range samples {
			relaxedSum += int64(v)
		}
		res.RelaxedSamples += len(samples)

		c.show(fmt.Sprintf("Calibration %d/%d", round, repetitions), "CONTRACT muscle")
		samples, errs, err = c.collect(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCalibrationFailed, err)
		}
		res.ReadErrors += errs
		if len(samples) > 0 {
			res.ContractedPeaks = append(res.ContractedPeaks, maxOf(samples))
		}
	}

	if res.RelaxedSamples == 0 {
		return Result{}, fmt.Errorf("%w: no relaxed samples (%d read errors)", ErrCalibrationFailed, res.ReadErrors)
	}
	if len(res.ContractedPeaks) == 0 {
		return Result{}, fmt.Errorf("%w: no contracted samples (%d read errors)", ErrCalibrationFailed, res.ReadErrors)
	}

	res.Relaxed = int(relaxedSum / int64(res.RelaxedSamples))
	var peakSum int64
	for _, p := range res.ContractedPeaks {
		peakSum += int64(p)
	}
	res.Contracted = int(peakSum / int64(len(res.ContractedPeaks)))

	bounds, err := Derive(res.Relaxed, res.Contracted)
	if err != nil {
		return Result{}, err
	}
	if err := c.quantizer.Replace(bounds); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCalibrationFailed, err)
	}
	res.Bounds = bounds
	res.At = time.Now()

	log.Printf("calibration: relaxed=%d contracted=%d bounds=%s", res.Relaxed, res.Contracted, bounds)
	c.show("Calibration done", fmt.Sprintf("rest %d", res.Relaxed), fmt.Sprintf("peak %d", res.Contracted))
	return res, nil
}

// Derive computes the four intensity bounds from the relaxed and contracted
// means.
//
//	Derive(2000, 12000) == [(0,3200) (3200,6800) (6800,9200) (9200,14000)]
func Derive(relaxed, contracted int) (intensity.Bounds, error) {
	if contracted <= relaxed {
		return nil, fmt.Errorf("%w: contracted mean %d not above relaxed mean %d", ErrCalibrationFailed, contracted, relaxed)
	}
	step := contracted / 10
	if step <= 0 {
		return nil, fmt.Errorf("%w: contracted mean %d too small", ErrCalibrationFailed, contracted)
	}

	bounds := make(intensity.Bounds, len(thresholdSteps))
	low := 0
	for i, k := range thresholdSteps {
		high := relaxed + step*k
		bounds[i] = intensity.Range{Low: low, High: high}
		low = high
	}
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibrationFailed, err)
	}
	return bounds, nil
}

// collect reads continuously for one window.
func (c *Calibrator) collect(ctx context.Context) ([]int, int, error) {
	var (
		samples []int
		errs    int
	)
	deadline := time.Now().Add(c.cfg.Window)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, errs, err
		}
		raw, err := c.reader.ReadRaw()
		if err != nil {
			errs++
		} else {
			samples = append(samples, raw)
		}
		if c.cfg.SampleInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.SampleInterval):
			}
		}
	}
	return samples, errs, nil
}

func (c *Calibrator) show(lines ...string) {
	if c.prompt == nil {
		return
	}
	if err := c.prompt.Show(lines); err != nil {
		log.Printf("calibration: display error: %v", err)
	}
}

func maxOf(v []int) int {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
