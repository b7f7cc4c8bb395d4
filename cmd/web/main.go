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
	log.Println("starting emg-hand web server (MQTT subscriber)")

	if err := config.InitGlobal("emg_hand_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: commands are only executed while the hand is running")

	if err := app.RunWeb(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
