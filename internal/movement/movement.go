// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package movement defines muscle movements (fixed-length intensity
// sequences, one level per sampling tick) and the catalog they are matched in.
package movement

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/relabs-tech/emg_hand/internal/intensity"
)

// MaxLength is the longest sequence a Movement can hold.
const MaxLength = 8

var (
	ErrInvalidMovement   = errors.New("invalid movement")
	ErrDuplicateMovement = errors.New("duplicate movement")
)

// Movement is an immutable sequence of intensity levels. It is comparable,
// so two movements with the same levels are equal and can key a map.
type Movement struct {
	levels [MaxLength]intensity.Level
	n      int
}

// New builds a movement from levels in tick order.
func New(levels ...intensity.Level) (Movement, error) {
	var m Movement
	if len(levels) == 0 || len(levels) > MaxLength {
		return m, fmt.Errorf("%w: length %d not in 1..%d", ErrInvalidMovement, len(levels), MaxLength)
	}
	copy(m.levels[:], levels)
	m.n = len(levels)
	return m, nil
}

// MustNew is New for static tables; it panics on error.
func MustNew(levels ...intensity.Level) Movement {
	m, err := New(levels...)
	if err != nil {
		panic(err)
	}
	return m
}

// FromTimeline places each level at its tick and fills the remaining ticks
// with NONE. The movement lasts until the last tick, so ticks must be
// strictly increasing.
//
//	FromTimeline([]Level{High, Medium, Low}, []int{0, 1, 3}) == [HIGH MEDIUM NONE LOW]
func FromTimeline(levels []intensity.Level, ticks []int) (Movement, error) {
	if len(levels) != len(ticks) {
		return Movement{}, fmt.Errorf("%w: %d levels but %d ticks", ErrInvalidMovement, len(levels), len(ticks))
	}
	if len(ticks) == 0 {
		return Movement{}, fmt.Errorf("%w: empty timeline", ErrInvalidMovement)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i] <= ticks[i-1] {
			return Movement{}, fmt.Errorf("%w: tick %d after tick %d", ErrInvalidMovement, ticks[i], ticks[i-1])
		}
	}
	if ticks[0] < 0 || ticks[len(ticks)-1] >= MaxLength {
		return Movement{}, fmt.Errorf("%w: ticks must be in 0..%d", ErrInvalidMovement, MaxLength-1)
	}

	seq := make([]intensity.Level, ticks[len(ticks)-1]+1)
	for i, t := range ticks {
		seq[t] = levels[i]
	}
	return New(seq...)
}

// Parse reads either a plain level list ("HIGH,MEDIUM,NONE,LOW") or a
// timeline ("HIGH@0,MEDIUM@1,LOW@3").
func Parse(s string) (Movement, error) {
	var (
		levels   []intensity.Level
		ticks    []int
		timeline bool
	)
	for i, part := range strings.Split(s, ",") {
		name, at, hasTick := strings.Cut(strings.TrimSpace(part), "@")
		if i == 0 {
			timeline = hasTick
		} else if hasTick != timeline {
			return Movement{}, fmt.Errorf("%w: %q mixes plain and timed levels", ErrInvalidMovement, s)
		}
		lvl, err := intensity.ParseLevel(name)
		if err != nil {
			return Movement{}, fmt.Errorf("%w: %v", ErrInvalidMovement, err)
		}
		levels = append(levels, lvl)
		if hasTick {
			t, err := strconv.Atoi(strings.TrimSpace(at))
			if err != nil {
				return Movement{}, fmt.Errorf("%w: tick %q: %v", ErrInvalidMovement, at, err)
			}
			ticks = append(ticks, t)
		}
	}
	if timeline {
		return FromTimeline(levels, ticks)
	}
	return New(levels...)
}

// Len is the number of ticks in the movement.
func (m Movement) Len() int { return m.n }

// At returns the level at tick i.
func (m Movement) At(i int) intensity.Level { return m.levels[i] }

// Levels returns a copy of the sequence.
func (m Movement) Levels() []intensity.Level {
	out := make([]intensity.Level, m.n)
	copy(out, m.levels[:m.n])
	return out
}

func (m Movement) String() string {
	parts := make([]string, m.n)
	for i := 0; i < m.n; i++ {
		parts[i] = m.levels[i].String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FromBuffer builds a movement from the first n entries of a fixed sampling
// buffer without allocating.
func FromBuffer(buf *[MaxLength]intensity.Level, n int) Movement {
	m := Movement{levels: *buf, n: n}
	for i := n; i < MaxLength; i++ {
		m.levels[i] = intensity.None
	}
	return m
}
