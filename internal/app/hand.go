// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/emg_hand/internal/calibration"
	"github.com/relabs-tech/emg_hand/internal/config"
	"github.com/relabs-tech/emg_hand/internal/display"
	"github.com/relabs-tech/emg_hand/internal/emg"
	"github.com/relabs-tech/emg_hand/internal/hand"
	"github.com/relabs-tech/emg_hand/internal/metrics"
	"github.com/relabs-tech/emg_hand/internal/sensors"
	"github.com/relabs-tech/emg_hand/internal/status"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openEMGSource returns the reader selected by EMG_SOURCE.
func openEMGSource(cfg *config.Config) (emg.RawReader, io.Closer, error) {
	switch cfg.EMGSource {
	case "ad7705":
		d, err := sensors.OpenAD7705(cfg.AD7705SPIDevice, cfg.AD7705SPISpeedHz, cfg.AD7705DRDYPin, cfg.AD7705Channel)
		if err != nil {
			return nil, nil, err
		}
		return d, nopCloser{}, nil
	case "serial":
		maxAge := time.Duration(cfg.EMGSerialMaxAgeMS) * time.Millisecond
		s, closer, err := sensors.OpenSerialEMG(cfg.EMGSerialPort, cfg.EMGSerialBaud, maxAge)
		if err != nil {
			return nil, nil, err
		}
		return s, closer, nil
	default:
		log.Println("hand: using mock EMG source")
		return sensors.NewMockEMG(), nopCloser{}, nil
	}
}

// openActuator opens the servo bank. With the mock source a missing bank
// falls back to logging the angles.
func openActuator(cfg *config.Config) (hand.Actuator, io.Closer, error) {
	bank, err := sensors.OpenServoBank(cfg.ServoI2CBus, cfg.ServoI2CAddr, cfg.ServoMinDegree, cfg.ServoMaxDegree)
	if err == nil {
		return bank, bank, nil
	}
	if cfg.EMGSource != "mock" {
		return nil, nil, err
	}
	log.Printf("hand: %v; servo angles will only be logged", err)
	return sensors.LogActuator{}, nopCloser{}, nil
}

// openScreen always includes the console; the OLED is added when enabled
// and present.
func openScreen(cfg *config.Config) (hand.Display, func()) {
	screens := display.Multi{display.NewConsole(os.Stdout)}
	cleanup := func() {}
	if !cfg.DisplayEnabled {
		return screens, cleanup
	}
	oled, err := display.OpenOLED(cfg.DisplayI2CBus, cfg.DisplayI2CAddr)
	if err != nil {
		log.Printf("hand: display unavailable, using console only: %v", err)
		return screens, cleanup
	}
	if err := oled.Splash(); err != nil {
		log.Printf("hand: display splash: %v", err)
	}
	return append(screens, oled), func() { oled.Close() }
}

// selectorOptions maps the configuration onto the selector.
func selectorOptions(cfg *config.Config, reader emg.RawReader, actuator hand.Actuator, screen hand.Display) hand.Options {
	fingers := make([]hand.Finger, len(cfg.Fingers))
	for i, f := range cfg.Fingers {
		fingers[i] = hand.Finger{Name: fmt.Sprintf("finger%d", i+1), Servo: f.Channel, Movement: f.Movement}
	}
	return hand.Options{
		Reader:         reader,
		Actuator:       actuator,
		Display:        screen,
		Bounds:         cfg.IntensityBounds,
		Fingers:        fingers,
		SequenceLength: cfg.SequenceLength,
		TickPeriod:     time.Duration(cfg.TickPeriodMS) * time.Millisecond,
		PollInterval:   time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		Calibration: calibration.Config{
			Window:         time.Duration(cfg.CalibrationWindowMS) * time.Millisecond,
			SampleInterval: time.Duration(cfg.CalibrationSampleIntervalMS) * time.Millisecond,
		},
		MinDegree: cfg.ServoMinDegree,
		MaxDegree: cfg.ServoMaxDegree,
	}
}

// pressSource is satisfied by *sensors.Button.
type pressSource interface {
	Wait(ctx context.Context) (sensors.Press, error)
}

// commandSink is satisfied by *status.CommandQueue.
type commandSink interface {
	Submit(cmd status.Command) bool
}

// runButton maps short presses to a contraction read and long presses to a
// calibration until ctx is done. Commands go through the shared queue, so a
// press never races a remote command.
func runButton(ctx context.Context, btn pressSource, sink commandSink, repetitions int) {
	for {
		press, err := btn.Wait(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("hand: button: %v", err)
			}
			return
		}
		cmd := status.Command{Action: status.ActionSample}
		if press.Long {
			cmd = status.Command{Action: status.ActionCalibrate, Repetitions: repetitions}
		}
		log.Printf("hand: button held %s, queueing %s", press.Duration.Round(time.Millisecond), cmd.Action)
		sink.Submit(cmd)
	}
}

// RunHand wires the EMG source, servos, display, MQTT and metrics around a
// selector and serves button presses and remote commands until SIGINT.
func RunHand() error {
	cfg := config.Get()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, readerCloser, err := openEMGSource(cfg)
	if err != nil {
		return err
	}
	defer readerCloser.Close()

	actuator, actuatorCloser, err := openActuator(cfg)
	if err != nil {
		return err
	}
	defer actuatorCloser.Close()

	screen, closeScreen := openScreen(cfg)
	defer closeScreen()

	sel, err := hand.NewSelector(selectorOptions(cfg, reader, actuator, screen))
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	sel.AddObserver(rec)
	if cfg.MetricsPort > 0 {
		go func() {
			if err := rec.Serve(ctx, cfg.MetricsPort); err != nil {
				log.Printf("hand: metrics server: %v", err)
			}
		}()
	}

	// the only goroutine that drives the selector
	commands := status.NewCommandQueue(sel, cfg.CalibrationRepetitions)
	go commands.Run(ctx)

	client, err := status.Connect(ctx, cfg.MQTTBroker, cfg.MQTTClientIDHand, 5)
	if err != nil {
		log.Printf("hand: running without MQTT: %v", err)
	} else {
		defer client.Disconnect(250)
		pub := status.NewPublisher(client, cfg.TopicStatus)
		sel.AddObserver(pub)
		go pub.Run(ctx)

		listener := status.NewCommandListener(client, cfg.TopicCommand, commands)
		if err := listener.Start(ctx); err != nil {
			log.Printf("hand: remote commands disabled: %v", err)
		}
	}

	movements := sel.Movements()
	for _, line := range movements {
		log.Printf("hand: %s", line)
	}
	if err := screen.Show(movements); err != nil {
		log.Printf("hand: display: %v", err)
	}
	if err := sel.Hand().Release(); err != nil {
		log.Printf("hand: %v", err)
	}

	if cfg.ButtonPin != "" {
		btn, err := sensors.OpenButton(cfg.ButtonPin, time.Duration(cfg.ButtonShortPressMS)*time.Millisecond)
		if err != nil {
			return err
		}
		go runButton(ctx, btn, commands, cfg.CalibrationRepetitions)
		log.Printf("hand: button on %s (short press reads, long press calibrates)", cfg.ButtonPin)
	}

	log.Printf("hand: ready, bounds %s", sel.Bounds())
	<-ctx.Done()
	log.Println("hand: shutting down")
	return nil
}
