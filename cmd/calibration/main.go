// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided EMG calibration. Each round asks the user to relax, then to
// contract, and records the relaxed mean and the contracted peak.
//
// Output:
//
//	Prints an INTENSITY_BOUNDS line for emg_hand_config.txt and writes the
//	full result as JSON under ./calibration/.
//
// Run:
//
//	go run ./cmd/calibration -reps 3
//
// Stop the hand first when EMG_SOURCE is ad7705: both would share the SPI device.
package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/emg_hand/internal/app"
	"github.com/relabs-tech/emg_hand/internal/config"
)

func main() {
	configPath := flag.String("config", "emg_hand_config.txt", "configuration file")
	reps := flag.Int("reps", 0, "relax/contract rounds (0 uses CALIBRATION_REPETITIONS)")
	outDir := flag.String("out", "calibration", "directory for the JSON result, empty to skip")
	noWait := flag.Bool("no-wait", false, "start each window without waiting for ENTER")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	err := app.RunCalibration(app.CalibrationOptions{
		Repetitions: *reps,
		OutDir:      *outDir,
		Interactive: !*noWait,
	})
	if err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
}
