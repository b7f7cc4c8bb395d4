// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/emg_hand/internal/calibration"
)

const (
	ActionSample    = "sample"
	ActionCalibrate = "calibrate"
)

// Command is the JSON payload accepted on the command topic.
type Command struct {
	ID          string `json:"id,omitempty"`
	Action      string `json:"action"`
	Repetitions int    `json:"repetitions,omitempty"`
}

// Dispatcher runs commands. *hand.Selector satisfies it.
type Dispatcher interface {
	ReadContractionAndExecute(ctx context.Context) (int, bool, error)
	StartCalibration(ctx context.Context, repetitions int) (calibration.Result, error)
}

// Dispatch runs one command and blocks until it finishes.
func Dispatch(ctx context.Context, d Dispatcher, cmd Command, defaultRepetitions int) error {
	switch cmd.Action {
	case ActionSample:
		_, _, err := d.ReadContractionAndExecute(ctx)
		return err
	case ActionCalibrate:
		reps := cmd.Repetitions
		if reps <= 0 {
			reps = defaultRepetitions
		}
		_, err := d.StartCalibration(ctx, reps)
		return err
	default:
		return fmt.Errorf("status: unknown command action %q", cmd.Action)
	}
}

// CommandQueue is the single worker that drives a Dispatcher. Every command
// source (MQTT, button) submits here, so commands run one at a time.
type CommandQueue struct {
	dispatcher         Dispatcher
	defaultRepetitions int
	queue              chan Command
}

func NewCommandQueue(d Dispatcher, defaultRepetitions int) *CommandQueue {
	return &CommandQueue{
		dispatcher:         d,
		defaultRepetitions: defaultRepetitions,
		queue:              make(chan Command, 4),
	}
}

// Submit enqueues cmd without blocking. It reports false when the queue is
// full and the command was dropped.
func (q *CommandQueue) Submit(cmd Command) bool {
	select {
	case q.queue <- cmd:
		return true
	default:
		log.Printf("status: command %q dropped, hand busy", cmd.Action)
		return false
	}
}

// Run executes queued commands until ctx is cancelled.
func (q *CommandQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-q.queue:
			log.Printf("status: running command %q (id %s)", cmd.Action, cmd.ID)
			if err := Dispatch(ctx, q.dispatcher, cmd, q.defaultRepetitions); err != nil {
				log.Printf("status: command %q failed: %v", cmd.Action, err)
			}
		}
	}
}

// CommandListener subscribes to the command topic and submits every command
// to a CommandQueue.
type CommandListener struct {
	client mqtt.Client
	topic  string
	queue  *CommandQueue
}

func NewCommandListener(client mqtt.Client, topic string, q *CommandQueue) *CommandListener {
	return &CommandListener{client: client, topic: topic, queue: q}
}

// Start subscribes and unsubscribes again once ctx is cancelled.
func (l *CommandListener) Start(ctx context.Context) error {
	token := l.client.Subscribe(l.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd Command
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Printf("status: command unmarshal error: %v", err)
			return
		}
		l.queue.Submit(cmd)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("status: subscribe %s: %w", l.topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("status: subscribe %s: %w", l.topic, err)
	}
	log.Printf("status: listening for commands on %s", l.topic)

	go func() {
		<-ctx.Done()
		l.client.Unsubscribe(l.topic)
	}()
	return nil
}

// SendCommand publishes cmd, assigning an id when it has none.
func SendCommand(client mqtt.Client, topic string, cmd Command) (Command, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return cmd, err
	}
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return cmd, ErrPublishTimeout
	}
	return cmd, token.Error()
}
