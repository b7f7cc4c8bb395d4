// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Press is one completed button press.
type Press struct {
	Duration time.Duration
	Long     bool
}

// Button reports presses on an active-low push button.
type Button struct {
	pin   gpio.PinIn
	short time.Duration
	now   func() time.Time
}

// NewButton configures pin with a pull-up and edge detection. Presses longer
// than short are reported as long.
func NewButton(pin gpio.PinIn, short time.Duration) (*Button, error) {
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("button: configure %s: %w", pin, err)
	}
	return &Button{pin: pin, short: short, now: time.Now}, nil
}

// OpenButton looks the pin up by name.
func OpenButton(name string, short time.Duration) (*Button, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("button: periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("button: pin %q not found", name)
	}
	return NewButton(p, short)
}

// Wait blocks until the button is pressed and released or ctx is done.
func (b *Button) Wait(ctx context.Context) (Press, error) {
	var pressedAt time.Time
	for {
		if err := ctx.Err(); err != nil {
			return Press{}, err
		}
		if !b.pin.WaitForEdge(100 * time.Millisecond) {
			continue
		}
		switch b.pin.Read() {
		case gpio.Low:
			pressedAt = b.now()
		case gpio.High:
			if pressedAt.IsZero() {
				continue
			}
			d := b.now().Sub(pressedAt)
			return Press{Duration: d, Long: d > b.short}, nil
		}
	}
}
