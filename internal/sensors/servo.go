// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// PWM counts for 0 and 180 degrees on a 50 Hz PCA9685 output (4096 steps
// per 20 ms frame, 0.5 ms to 2.5 ms pulses).
const (
	servoMinPwm gpio.Duty = 102
	servoMaxPwm gpio.Duty = 512
)

// angleSetter is satisfied by *pca9685.ServoGroup.
type angleSetter interface {
	SetAngle(channel int, angle physic.Angle) error
}

// ServoBank drives finger servos on PCA9685 channels.
type ServoBank struct {
	mu       sync.Mutex
	group    angleSetter
	min, max int
	bus      i2c.BusCloser
}

// NewServoBank wraps an existing servo group. Angles are clamped to
// [minDegree, maxDegree].
func NewServoBank(group angleSetter, minDegree, maxDegree int) *ServoBank {
	return &ServoBank{group: group, min: minDegree, max: maxDegree}
}

// OpenServoBank opens the I2C bus and programs the PCA9685 for 50 Hz servo
// pulses.
func OpenServoBank(busName string, addr uint16, minDegree, maxDegree int) (*ServoBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("servo: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("servo: open I2C bus %q: %w", busName, err)
	}
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("servo: PCA9685 at 0x%02X: %w", addr, err)
	}
	if err := dev.SetPwmFreq(50 * physic.Hertz); err != nil {
		bus.Close()
		return nil, fmt.Errorf("servo: set PWM frequency: %w", err)
	}
	group := pca9685.NewServoGroup(dev, servoMinPwm, servoMaxPwm, 0, 180*physic.Degree)
	log.Printf("servo: PCA9685 initialized at 0x%02X", addr)

	b := NewServoBank(group, minDegree, maxDegree)
	b.bus = bus
	return b, nil
}

// SetAngle moves the servo on channel id.
func (b *ServoBank) SetAngle(id, degrees int) error {
	if id < 0 || id > 15 {
		return fmt.Errorf("servo: channel %d not in 0..15", id)
	}
	degrees = max(b.min, min(b.max, degrees))

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.group.SetAngle(id, physic.Angle(degrees)*physic.Degree); err != nil {
		return fmt.Errorf("servo: channel %d to %d deg: %w", id, degrees, err)
	}
	return nil
}

// Close releases the I2C bus when the bank owns it.
func (b *ServoBank) Close() error {
	if b.bus == nil {
		return nil
	}
	return b.bus.Close()
}

// LogActuator stands in for the servo bank when no hardware is attached.
type LogActuator struct{}

func (LogActuator) SetAngle(id, degrees int) error {
	log.Printf("servo: channel %d -> %d deg (no hardware)", id, degrees)
	return nil
}
