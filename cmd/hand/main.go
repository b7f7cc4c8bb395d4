// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/emg_hand/internal/app"
	"github.com/relabs-tech/emg_hand/internal/config"
)

func main() {
	log.Println("starting emg-hand (EMG reader + servo hand)")

	if err := config.InitGlobal("emg_hand_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunHand(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
