// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package intensity buckets raw EMG readings into discrete muscle intensity levels.
package intensity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Level is a quantized muscle intensity. Levels are ordered from lowest to highest.
type Level int

const (
	None Level = iota // below the lowest active threshold
	Low
	Medium
	High
)

var levelNames = []string{"NONE", "LOW", "MEDIUM", "HIGH"}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "L" + strconv.Itoa(int(l))
}

// ParseLevel accepts the names printed by String ("NONE", "LOW", ...) or a
// plain level number.
func ParseLevel(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range levelNames {
		if s == name {
			return Level(i), nil
		}
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "L"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unknown intensity level %q", s)
	}
	return Level(n), nil
}

var (
	ErrOutOfRange    = errors.New("raw sample outside intensity bounds")
	ErrInvalidBounds = errors.New("invalid intensity bounds")
)

// OutOfRangeError reports the raw value that matched no bound.
type OutOfRangeError struct {
	Raw int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("raw sample %d outside intensity bounds", e.Raw)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// Range is an inclusive [Low, High] interval of raw ADC counts.
type Range struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (r Range) contains(v int) bool { return r.Low <= v && v <= r.High }

// Bounds holds one Range per Level, ascending. Bound i maps to Level(i).
type Bounds []Range

// DefaultBounds are the bounds used until the first calibration.
var DefaultBounds = Bounds{
	{0, 9000},
	{9000, 12000},
	{12000, 15000},
	{15000, 40000},
}

// Validate checks that the bounds are ascending and contiguous. Neighbouring
// ranges either share an end point or are adjacent integers.
func (b Bounds) Validate() error {
	if len(b) < 2 {
		return fmt.Errorf("%w: need at least 2 ranges, got %d", ErrInvalidBounds, len(b))
	}
	for i, r := range b {
		if r.Low > r.High {
			return fmt.Errorf("%w: range %d has low %d > high %d", ErrInvalidBounds, i, r.Low, r.High)
		}
		if i == 0 {
			continue
		}
		prev := b[i-1]
		if r.Low != prev.High && r.Low != prev.High+1 {
			return fmt.Errorf("%w: range %d starts at %d, previous ends at %d", ErrInvalidBounds, i, r.Low, prev.High)
		}
	}
	return nil
}

func (b Bounds) clone() Bounds {
	out := make(Bounds, len(b))
	copy(out, b)
	return out
}

// String formats bounds the way INTENSITY_BOUNDS is written in the config file.
func (b Bounds) String() string {
	parts := make([]string, len(b))
	for i, r := range b {
		parts[i] = fmt.Sprintf("%d-%d", r.Low, r.High)
	}
	return strings.Join(parts, ",")
}

// ParseBounds parses "0-9000,9000-12000,..." and validates the result.
func ParseBounds(s string) (Bounds, error) {
	var b Bounds
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("%w: range %q is not LOW-HIGH", ErrInvalidBounds, part)
		}
		l, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("%w: range %q: %v", ErrInvalidBounds, part, err)
		}
		h, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("%w: range %q: %v", ErrInvalidBounds, part, err)
		}
		b = append(b, Range{Low: l, High: h})
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Quantizer classifies raw samples against the live bounds. Bounds are
// swapped wholesale, so readers never see a half-written set.
type Quantizer struct {
	bounds atomic.Pointer[Bounds]
}

// NewQuantizer returns a Quantizer using a copy of b.
func NewQuantizer(b Bounds) (*Quantizer, error) {
	q := &Quantizer{}
	if err := q.Replace(b); err != nil {
		return nil, err
	}
	return q, nil
}

// Classify returns the level whose range contains raw. Ranges are inclusive
// and scanned ascending, so a shared end point belongs to the lower level.
func (q *Quantizer) Classify(raw int) (Level, error) {
	b := *q.bounds.Load()
	for i, r := range b {
		if r.contains(raw) {
			return Level(i), nil
		}
	}
	return None, &OutOfRangeError{Raw: raw}
}

// Bounds returns a copy of the live bounds.
func (q *Quantizer) Bounds() Bounds {
	return q.bounds.Load().clone()
}

// Levels is the number of levels the quantizer can produce.
func (q *Quantizer) Levels() int {
	return len(*q.bounds.Load())
}

// Replace validates b and installs a copy of it. The number of levels is
// fixed by the first bounds installed, since movements refer to them.
func (q *Quantizer) Replace(b Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if cur := q.bounds.Load(); cur != nil && len(*cur) != len(b) {
		return fmt.Errorf("%w: %d levels, quantizer has %d", ErrInvalidBounds, len(b), len(*cur))
	}
	c := b.clone()
	q.bounds.Store(&c)
	return nil
}
