// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

func ad7705InitOps(ch byte) []conntest.IO {
	return []conntest.IO{
		{W: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, R: make([]byte, 5)},
		{W: []byte{0x20 | ch}, R: []byte{0}},
		{W: []byte{0x0C}, R: []byte{0}},
		{W: []byte{0x10 | ch}, R: []byte{0}},
		{W: []byte{0x44}, R: []byte{0}},
	}
}

// playbackConn connects pb the same way OpenAD7705 connects a real port.
func playbackConn(t *testing.T, pb *spitest.Playback) spi.Conn {
	t.Helper()
	c, err := pb.Connect(physic.MegaHertz, spi.Mode3, 8)
	require.NoError(t, err)
	return c
}

func TestAD7705PollsCommunicationRegister(t *testing.T) {
	ops := append(ad7705InitOps(1),
		conntest.IO{W: []byte{0x09, 0}, R: []byte{0, 0x80}},
		conntest.IO{W: []byte{0x09, 0}, R: []byte{0, 0x00}},
		conntest.IO{W: []byte{0x39, 0, 0}, R: []byte{0, 0x3A, 0x98}},
	)
	pb := &spitest.Playback{Playback: conntest.Playback{Ops: ops, DontPanic: true}}

	d, err := NewAD7705(playbackConn(t, pb), AD7705Opts{Channel: 1})
	require.NoError(t, err)

	raw, err := d.ReadRaw()
	require.NoError(t, err)
	require.Equal(t, 15000, raw)
	require.NoError(t, pb.Close())
}

func TestAD7705WaitsForReadyPin(t *testing.T) {
	ops := append(ad7705InitOps(0),
		conntest.IO{W: []byte{0x38, 0, 0}, R: []byte{0, 0x28, 0x0A}},
	)
	pb := &spitest.Playback{Playback: conntest.Playback{Ops: ops, DontPanic: true}}
	drdy := &gpiotest.Pin{N: "DRDY", L: gpio.High, EdgesChan: make(chan gpio.Level, 1)}

	d, err := NewAD7705(playbackConn(t, pb), AD7705Opts{ReadyPin: drdy, ReadTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	drdy.EdgesChan <- gpio.Low
	raw, err := d.ReadRaw()
	require.NoError(t, err)
	require.Equal(t, 0x280A, raw)
	require.NoError(t, pb.Close())
}

func TestAD7705ReadyTimeout(t *testing.T) {
	pb := &spitest.Playback{Playback: conntest.Playback{Ops: ad7705InitOps(0), DontPanic: true}}
	drdy := &gpiotest.Pin{N: "DRDY", L: gpio.High, EdgesChan: make(chan gpio.Level, 1)}

	d, err := NewAD7705(playbackConn(t, pb), AD7705Opts{ReadyPin: drdy, ReadTimeout: 5 * time.Millisecond})
	require.NoError(t, err)

	_, err = d.ReadRaw()
	require.ErrorIs(t, err, ErrConversionTimeout)
}

func TestAD7705RejectsChannel(t *testing.T) {
	_, err := NewAD7705(playbackConn(t, &spitest.Playback{}), AD7705Opts{Channel: 2})
	require.Error(t, err)
}

func pemg(seq, raw string) string {
	body := "PEMG," + seq + "," + raw
	return "$" + body + "*" + nmea.Checksum(body) + "\r\n"
}

func TestSerialEMGKeepsLatestSample(t *testing.T) {
	s := NewSerialEMG(0)
	_, err := s.ReadRaw()
	require.ErrorIs(t, err, ErrNoSample)

	stream := "garbage\r\n" + pemg("1", "4000") + "$PEMG,2,5000*00\r\n" + pemg("3", "abc") + pemg("4", "16000")
	require.NoError(t, s.Consume(strings.NewReader(stream)))

	raw, err := s.ReadRaw()
	require.NoError(t, err)
	require.Equal(t, 16000, raw)
	require.Equal(t, int64(4), s.Seq())
	require.Equal(t, int64(2), s.Malformed())
}

func TestSerialEMGRejectsStaleSample(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSerialEMG(100 * time.Millisecond)
	s.now = func() time.Time { return now }

	require.True(t, s.HandleLine(pemg("9", "12000")))
	raw, err := s.ReadRaw()
	require.NoError(t, err)
	require.Equal(t, 12000, raw)

	now = now.Add(time.Second)
	_, err = s.ReadRaw()
	require.ErrorIs(t, err, ErrStaleSample)
}

type fakeServoGroup struct {
	channels []int
	angles   []physic.Angle
	err      error
}

func (f *fakeServoGroup) SetAngle(channel int, angle physic.Angle) error {
	if f.err != nil {
		return f.err
	}
	f.channels = append(f.channels, channel)
	f.angles = append(f.angles, angle)
	return nil
}

func TestServoBankClampsAngles(t *testing.T) {
	g := &fakeServoGroup{}
	b := NewServoBank(g, 10, 170)

	require.NoError(t, b.SetAngle(3, 180))
	require.NoError(t, b.SetAngle(4, 0))
	require.NoError(t, b.SetAngle(0, 90))
	require.Equal(t, []int{3, 4, 0}, g.channels)
	require.Equal(t, []physic.Angle{170 * physic.Degree, 10 * physic.Degree, 90 * physic.Degree}, g.angles)

	require.Error(t, b.SetAngle(16, 90))

	g.err = errors.New("nack")
	require.ErrorIs(t, b.SetAngle(1, 90), g.err)
	require.NoError(t, b.Close())
}

func TestButtonShortAndLongPress(t *testing.T) {
	pin := &gpiotest.Pin{N: "BTN", EdgesChan: make(chan gpio.Level, 4)}
	b, err := NewButton(pin, 300*time.Millisecond)
	require.NoError(t, err)

	clock := []time.Time{
		time.Unix(0, 0), time.Unix(0, int64(120*time.Millisecond)),
		time.Unix(10, 0), time.Unix(11, 0),
	}
	b.now = func() time.Time {
		t0 := clock[0]
		clock = clock[1:]
		return t0
	}

	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High
	p, err := b.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 120*time.Millisecond, p.Duration)
	require.False(t, p.Long)

	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High
	p, err = b.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, p.Long)
}

func TestButtonWaitCancelled(t *testing.T) {
	pin := &gpiotest.Pin{N: "BTN", EdgesChan: make(chan gpio.Level)}
	b, err := NewButton(pin, 300*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestScriptedReaderHoldsLastValue(t *testing.T) {
	r := NewScriptedReader(1, 2)
	for _, want := range []int{1, 2, 2} {
		v, err := r.ReadRaw()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
	_, err := NewScriptedReader().ReadRaw()
	require.ErrorIs(t, err, ErrScriptEmpty)
}

func TestMockEMGCycle(t *testing.T) {
	start := time.Unix(0, 0)
	now := start
	m := &MockEMG{start: start, now: func() time.Time { return now }}

	v, err := m.ReadRaw()
	require.NoError(t, err)
	require.Less(t, v, 9000)

	now = start.Add(4*time.Second + 500*time.Millisecond)
	v, err = m.ReadRaw()
	require.NoError(t, err)
	require.Greater(t, v, 15000)
}
