// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display shows short status lines on the hand's OLED and, for bench
// runs, on the console.
package display

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

const (
	Width    = 128
	Height   = 64
	MaxLines = Height / lineHeight
	MaxChars = Width / 7

	lineHeight = 13
)

// Screen shows a handful of text lines.
type Screen interface {
	Show(lines []string) error
}

// Render draws lines onto a blank 128x64 frame with the 7x13 font. Lines
// past MaxLines are dropped and long lines are cut at MaxChars.
func Render(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= MaxLines {
			break
		}
		if len(line) > MaxChars {
			line = line[:MaxChars]
		}
		drawer.Dot = fixed.P(0, (i+1)*lineHeight-2)
		drawer.DrawString(line)
	}
	return img
}

type drawable interface {
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Bounds() image.Rectangle
}

// OLED is an SSD1306 panel.
type OLED struct {
	mu  sync.Mutex
	dev drawable
	bus i2c.BusCloser
}

// OpenOLED opens the I2C bus and initializes the panel at addr.
func OpenOLED(busName string, addr uint16) (*OLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("display: open I2C bus %q: %w", busName, err)
	}
	dev, err := ssd1306.NewI2C(bus, addr, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("display: SSD1306 at 0x%02X: %w", addr, err)
	}
	log.Printf("display: initialized at 0x%02X", addr)
	return &OLED{dev: dev, bus: bus}, nil
}

func (o *OLED) Show(lines []string) error {
	img := Render(lines)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dev.Draw(o.dev.Bounds(), img, image.Point{})
}

// Splash shows the startup screen.
func (o *OLED) Splash() error {
	return o.Show([]string{"", "  EMG Hand", "  Relabs Tech", "  Hold to calib."})
}

func (o *OLED) Close() error {
	if o.bus == nil {
		return nil
	}
	return o.bus.Close()
}

// Console writes each frame as one line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console { return &Console{w: w} }

func (c *Console) Show(lines []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[display] %s\n", strings.Join(lines, " | "))
	return err
}

// Multi shows every frame on all screens and joins their errors.
type Multi []Screen

func (m Multi) Show(lines []string) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(lines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
