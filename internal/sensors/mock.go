// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"math"
	"sync"
	"time"
)

// mockContraction is the burst the mock arm repeats: one HIGH, two MEDIUM
// and one LOW second under the default bounds.
var mockContraction = []int{16000, 13000, 13000, 10500}

const mockCycle = 8.0 // seconds: 4 relaxed, 4 contracted

// MockEMG generates a relaxed baseline with a periodic contraction burst.
type MockEMG struct {
	start time.Time
	now   func() time.Time
}

// NewMockEMG creates a mock muscle that contracts every eight seconds.
func NewMockEMG() *MockEMG {
	return &MockEMG{start: time.Now(), now: time.Now}
}

func (m *MockEMG) ReadRaw() (int, error) {
	t := m.now().Sub(m.start).Seconds()
	phase := math.Mod(t, mockCycle)
	if phase < mockCycle/2 {
		return int(4000 + 800*math.Sin(t*3)), nil
	}
	step := int(phase - mockCycle/2)
	return mockContraction[step] + int(300*math.Sin(t*11)), nil
}

var ErrScriptEmpty = errors.New("mock: empty script")

// ScriptedReader replays a fixed list of raw values and then holds the last.
type ScriptedReader struct {
	mu     sync.Mutex
	values []int
	pos    int
}

func NewScriptedReader(values ...int) *ScriptedReader {
	return &ScriptedReader{values: values}
}

func (s *ScriptedReader) ReadRaw() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0, ErrScriptEmpty
	}
	v := s.values[min(s.pos, len(s.values)-1)]
	s.pos++
	return v, nil
}
