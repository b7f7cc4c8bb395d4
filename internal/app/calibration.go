// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/relabs-tech/emg_hand/internal/calibration"
	"github.com/relabs-tech/emg_hand/internal/config"
	"github.com/relabs-tech/emg_hand/internal/intensity"
)

// enterPrompter prints calibration prompts and, when interactive, waits for
// ENTER before each relax or contract window starts.
type enterPrompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newEnterPrompter(in io.Reader, out io.Writer, interactive bool) *enterPrompter {
	return &enterPrompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

func (p *enterPrompter) Show(lines []string) error {
	fmt.Fprintf(p.out, "\n=== %s ===\n", strings.Join(lines, " | "))
	if !p.interactive || !needsUser(lines) {
		return nil
	}
	fmt.Fprint(p.out, "Press ENTER when ready...")
	_, err := p.in.ReadString('\n')
	if err == io.EOF {
		return nil
	}
	return err
}

func needsUser(lines []string) bool {
	for _, l := range lines {
		if strings.Contains(l, "RELAX") || strings.Contains(l, "CONTRACT") {
			return true
		}
	}
	return false
}

// CalibrationOptions controls a guided console calibration.
type CalibrationOptions struct {
	Repetitions int
	OutDir      string // JSON result directory, empty to skip writing
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

// RunCalibration runs the relax/contract protocol against the configured
// EMG source and prints the derived bounds as a config line.
func RunCalibration(opts CalibrationOptions) error {
	cfg := config.Get()
	if opts.Repetitions <= 0 {
		opts.Repetitions = cfg.CalibrationRepetitions
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

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
	cal := calibration.New(reader, q, newEnterPrompter(opts.In, opts.Out, opts.Interactive), calibration.Config{
		Window:         time.Duration(cfg.CalibrationWindowMS) * time.Millisecond,
		SampleInterval: time.Duration(cfg.CalibrationSampleIntervalMS) * time.Millisecond,
	})

	fmt.Fprintf(opts.Out, "EMG calibration: %d rounds of %dms relax / %dms contract\n",
		opts.Repetitions, cfg.CalibrationWindowMS, cfg.CalibrationWindowMS)
	fmt.Fprintf(opts.Out, "current bounds: %s\n", q.Bounds())

	res, err := cal.Calibrate(ctx, opts.Repetitions)
	if err != nil {
		return err
	}
	printCalibration(opts.Out, res)

	if opts.OutDir != "" {
		path, err := saveCalibration(opts.OutDir, res)
		if err != nil {
			return err
		}
		log.Printf("calibration: saved %s", path)
	}
	return nil
}

func printCalibration(w io.Writer, res calibration.Result) {
	fmt.Fprintf(w, "\nrelaxed mean:    %d (%d samples)\n", res.Relaxed, res.RelaxedSamples)
	fmt.Fprintf(w, "contracted mean: %d (peaks %v)\n", res.Contracted, res.ContractedPeaks)
	if res.ReadErrors > 0 {
		fmt.Fprintf(w, "read errors:     %d\n", res.ReadErrors)
	}
	fmt.Fprintf(w, "bounds:          %s\n\n", res.Bounds)
	fmt.Fprintln(w, "Add this line to emg_hand_config.txt:")
	fmt.Fprintf(w, "INTENSITY_BOUNDS=%s\n", res.Bounds)
}

func saveCalibration(dir string, res calibration.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("emg_%s.json", res.At.Format("20060102_150405")))
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o644)
}
