// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package emg

import "time"

// Sample represents a single raw EMG reading.
type Sample struct {
	Source string    `json:"source"` // "ad7705", "serial" or "mock"
	Raw    int       `json:"raw"`    // ADC counts
	Time   time.Time `json:"time"`
}

// RawReader is anything that can deliver one raw EMG reading on demand.
type RawReader interface {
	ReadRaw() (int, error)
}

// RawReaderFunc adapts a plain function to RawReader.
type RawReaderFunc func() (int, error)

func (f RawReaderFunc) ReadRaw() (int, error) { return f() }
