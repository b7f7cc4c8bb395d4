package main

import (
	"log"

	"github.com/relabs-tech/emg_hand/internal/app"
	"github.com/relabs-tech/emg_hand/internal/config"
)

func main() {
	log.Println("starting emg-hand console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal("emg_hand_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
