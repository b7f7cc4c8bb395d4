// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package hand

import (
	"fmt"
	"sync"

	"github.com/relabs-tech/emg_hand/internal/movement"
)

// FingerCount is the number of fingers on the hand.
const FingerCount = 5

const (
	MinDegree = 0
	MaxDegree = 180
)

// Actuator drives one servo to an angle in degrees.
type Actuator interface {
	SetAngle(id int, degrees int) error
}

// Finger is one servo-driven finger and the movement that toggles it.
type Finger struct {
	Name     string
	Servo    int // actuator id (PCA9685 channel)
	Movement movement.Movement
}

// Hand tracks the commanded angle of each finger.
type Hand struct {
	mu       sync.Mutex
	actuator Actuator
	fingers  [FingerCount]Finger
	angles   [FingerCount]int
	min, max int
}

// NewHand requires exactly FingerCount fingers.
func NewHand(actuator Actuator, fingers []Finger, minDegree, maxDegree int) (*Hand, error) {
	if len(fingers) != FingerCount {
		return nil, fmt.Errorf("hand: need %d fingers, got %d", FingerCount, len(fingers))
	}
	if minDegree >= maxDegree {
		return nil, fmt.Errorf("hand: min degree %d must be below max degree %d", minDegree, maxDegree)
	}
	h := &Hand{actuator: actuator, min: minDegree, max: maxDegree}
	copy(h.fingers[:], fingers)
	for i := range h.angles {
		h.angles[i] = minDegree
	}
	return h, nil
}

// Finger returns finger i.
func (h *Hand) Finger(i int) Finger { return h.fingers[i] }

// Angle returns the last commanded angle of finger i.
func (h *Hand) Angle(i int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.angles[i]
}

// Release drives every finger to the open (minimum) position.
func (h *Hand) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, f := range h.fingers {
		if err := h.actuator.SetAngle(f.Servo, h.min); err != nil {
			return fmt.Errorf("hand: release finger %d: %w", i+1, err)
		}
		h.angles[i] = h.min
	}
	return nil
}

// Toggle closes an open finger and opens a closed one. It returns the new angle.
func (h *Hand) Toggle(i int) (int, error) {
	if i < 0 || i >= FingerCount {
		return 0, fmt.Errorf("hand: finger index %d out of range", i)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.max
	if h.angles[i] != h.min {
		next = h.min
	}
	if err := h.actuator.SetAngle(h.fingers[i].Servo, next); err != nil {
		return h.angles[i], fmt.Errorf("hand: toggle finger %d: %w", i+1, err)
	}
	h.angles[i] = next
	return next, nil
}
