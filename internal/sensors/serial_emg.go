// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// TypeEMG is the proprietary sentence type emitted by the EMG front end:
//
//	$PEMG,<seq>,<raw>*CS
const TypeEMG = "EMG"

var (
	ErrNoSample    = errors.New("serial emg: no sample received yet")
	ErrStaleSample = errors.New("serial emg: latest sample too old")
)

// EMGSentence is one parsed $PEMG sentence.
type EMGSentence struct {
	nmea.BaseSentence
	Seq   int64
	Value int64
}

func parseEMG(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	m := EMGSentence{
		BaseSentence: s,
		Seq:          p.Int64(0, "seq"),
		Value:        p.Int64(1, "raw"),
	}
	return m, p.Err()
}

// NewEMGParser returns an NMEA parser that understands $PEMG.
func NewEMGParser() *nmea.SentenceParser {
	return &nmea.SentenceParser{
		CustomParsers: map[string]nmea.ParserFunc{
			TypeEMG:       parseEMG,
			"P" + TypeEMG: parseEMG,
		},
	}
}

type latest struct {
	seq   int64
	value int
	at    time.Time
}

// SerialEMG keeps the most recent reading streamed by an EMG front end over
// a serial line. ReadRaw never blocks.
type SerialEMG struct {
	parser *nmea.SentenceParser
	maxAge time.Duration
	last   atomic.Pointer[latest]
	bad    atomic.Int64
	now    func() time.Time
}

// NewSerialEMG returns a source that rejects samples older than maxAge.
func NewSerialEMG(maxAge time.Duration) *SerialEMG {
	return &SerialEMG{parser: NewEMGParser(), maxAge: maxAge, now: time.Now}
}

// OpenSerialEMG opens the port and starts the reader goroutine. The returned
// closer stops it.
func OpenSerialEMG(port string, baud uint, maxAge time.Duration) (*SerialEMG, io.Closer, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	rwc, err := serial.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("serial emg: open %s: %w", port, err)
	}
	log.Printf("serial emg: port opened on %s at %d baud", port, baud)

	s := NewSerialEMG(maxAge)
	go func() {
		if err := s.Consume(rwc); err != nil {
			log.Printf("serial emg: reader stopped: %v", err)
		}
	}()
	return s, rwc, nil
}

// Consume reads sentences from r until it fails or reaches EOF.
func (s *SerialEMG) Consume(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.HandleLine(line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// HandleLine parses one line and records it when it is a valid $PEMG.
func (s *SerialEMG) HandleLine(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return false
	}
	sentence, err := s.parser.Parse(line)
	if err != nil {
		if s.bad.Add(1) == 1 {
			log.Printf("serial emg: dropping malformed sentence %q: %v", line, err)
		}
		return false
	}
	m, ok := sentence.(EMGSentence)
	if !ok {
		return false
	}
	s.last.Store(&latest{seq: m.Seq, value: int(m.Value), at: s.now()})
	return true
}

// Malformed returns how many sentences failed to parse.
func (s *SerialEMG) Malformed() int64 { return s.bad.Load() }

// Seq returns the sequence number of the latest sample.
func (s *SerialEMG) Seq() int64 {
	if l := s.last.Load(); l != nil {
		return l.seq
	}
	return -1
}

// ReadRaw returns the latest sample.
func (s *SerialEMG) ReadRaw() (int, error) {
	l := s.last.Load()
	if l == nil {
		return 0, ErrNoSample
	}
	if s.maxAge > 0 {
		if age := s.now().Sub(l.at); age > s.maxAge {
			return 0, fmt.Errorf("%w: %s", ErrStaleSample, age)
		}
	}
	return l.value, nil
}
