// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// AD7705 communication register bits.
const (
	ad7705RegSetup = 0x10
	ad7705RegClock = 0x20
	ad7705RegData  = 0x30
	ad7705Read     = 0x08
	ad7705NotReady = 0x80

	// clock register: CLKDIV for a 4.9152 MHz crystal, 50 Hz output rate
	ad7705ClockValue = 0x0C
	// setup register: self calibration, gain 1, unipolar
	ad7705SetupValue = 0x44
)

var ErrConversionTimeout = errors.New("ad7705: conversion not ready")

// AD7705Opts configures the converter.
type AD7705Opts struct {
	Channel     int           // 0 or 1
	ReadyPin    gpio.PinIn    // DRDY line; nil polls the communication register
	ReadTimeout time.Duration // upper bound on waiting for a conversion
}

// AD7705 reads raw 16-bit conversions from an AD7705 over SPI.
type AD7705 struct {
	mu      sync.Mutex
	conn    spi.Conn
	ready   gpio.PinIn
	channel byte
	timeout time.Duration
}

// NewAD7705 resets the converter and programs the selected channel.
func NewAD7705(conn spi.Conn, opts AD7705Opts) (*AD7705, error) {
	if opts.Channel < 0 || opts.Channel > 1 {
		return nil, fmt.Errorf("ad7705: channel %d not in 0..1", opts.Channel)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 500 * time.Millisecond
	}
	d := &AD7705{conn: conn, ready: opts.ReadyPin, channel: byte(opts.Channel), timeout: opts.ReadTimeout}

	if d.ready != nil {
		if err := d.ready.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("ad7705: configure DRDY pin: %w", err)
		}
	}
	if err := d.tx(0xFF, 0xFF, 0xFF, 0xFF, 0xFF); err != nil {
		return nil, fmt.Errorf("ad7705: reset: %w", err)
	}
	if err := d.writeReg(ad7705RegClock, ad7705ClockValue); err != nil {
		return nil, fmt.Errorf("ad7705: write clock register: %w", err)
	}
	if err := d.writeReg(ad7705RegSetup, ad7705SetupValue); err != nil {
		return nil, fmt.Errorf("ad7705: write setup register: %w", err)
	}
	return d, nil
}

// OpenAD7705 opens the SPI device by name and returns an initialized converter.
// An empty readyPin polls the communication register instead of DRDY.
func OpenAD7705(spiDev string, speedHz int64, readyPin string, channel int) (*AD7705, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ad7705: periph host init: %w", err)
	}
	port, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("ad7705: SPI open %q: %w", spiDev, err)
	}
	conn, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode3, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("ad7705: SPI connect: %w", err)
	}

	opts := AD7705Opts{Channel: channel}
	if readyPin != "" {
		p := gpioreg.ByName(readyPin)
		if p == nil {
			port.Close()
			return nil, fmt.Errorf("ad7705: DRDY pin %q not found", readyPin)
		}
		opts.ReadyPin = p
	}
	d, err := NewAD7705(conn, opts)
	if err != nil {
		port.Close()
		return nil, err
	}
	log.Printf("ad7705: initialized on %s channel %d", spiDev, channel)
	return d, nil
}

// ReadRaw waits for the next conversion and returns it.
func (d *AD7705) ReadRaw() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitReady(); err != nil {
		return 0, err
	}
	r, err := d.txRead(ad7705RegData|ad7705Read|d.channel, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("ad7705: read data register: %w", err)
	}
	return int(r[1])<<8 | int(r[2]), nil
}

func (d *AD7705) waitReady() error {
	if d.ready != nil {
		if d.ready.Read() == gpio.Low {
			return nil
		}
		if !d.ready.WaitForEdge(d.timeout) {
			return ErrConversionTimeout
		}
		return nil
	}

	deadline := time.Now().Add(d.timeout)
	for {
		r, err := d.txRead(ad7705Read|d.channel, 0)
		if err != nil {
			return fmt.Errorf("ad7705: read communication register: %w", err)
		}
		if r[1]&ad7705NotReady == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrConversionTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *AD7705) writeReg(reg, value byte) error {
	if err := d.tx(reg | d.channel); err != nil {
		return err
	}
	return d.tx(value)
}

func (d *AD7705) tx(w ...byte) error {
	_, err := d.txRead(w...)
	return err
}

// txRead runs one full duplex transfer and returns the bytes clocked in.
func (d *AD7705) txRead(w ...byte) ([]byte, error) {
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return nil, err
	}
	return r, nil
}
