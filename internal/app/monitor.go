// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relabs-tech/emg_hand/internal/config"
	"github.com/relabs-tech/emg_hand/internal/emg"
	"github.com/relabs-tech/emg_hand/internal/intensity"
)

const barWidth = 40

// monitorLine renders one raw sample with its level and a bar scaled to the
// top bound.
func monitorLine(raw int, q *intensity.Quantizer) string {
	bounds := q.Bounds()
	top := bounds[len(bounds)-1].High
	n := raw * barWidth / top
	n = max(0, min(n, barWidth))

	level := "OUT_OF_RANGE"
	if l, err := q.Classify(raw); err == nil {
		level = l.String()
	}
	return fmt.Sprintf("RAW=%6d  LEVEL=%-12s |%s%s|", raw, level, strings.Repeat("#", n), strings.Repeat(" ", barWidth-n))
}

func monitor(ctx context.Context, reader emg.RawReader, q *intensity.Quantizer, every time.Duration, out func(string)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			raw, err := reader.ReadRaw()
			if err != nil {
				out(fmt.Sprintf("read error: %v", err))
				continue
			}
			out(monitorLine(raw, q))
		}
	}
}

// RunMonitor prints the configured EMG source ten times a second until
// Ctrl+C. Useful to check electrode placement before calibrating.
func RunMonitor() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, closer, err := openEMGSource(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	q, err := intensity.NewQuantizer(cfg.IntensityBounds)
	if err != nil {
		return err
	}
	return monitor(ctx, reader, q, 100*time.Millisecond, func(s string) { fmt.Println(s) })
}
