// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/relabs-tech/emg_hand/internal/hand"
)

var ErrPublishTimeout = errors.New("status: publish timed out")

// Connect dials the broker, retrying with exponential backoff.
func Connect(ctx context.Context, broker, clientID string, maxRetries int) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("status: failed to connect to MQTT broker %s: %v", broker, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx))
	if err != nil {
		return nil, fmt.Errorf("status: no MQTT connection to %s: %w", broker, err)
	}
	log.Printf("status: connected to MQTT broker at %s", broker)
	return client, nil
}

// Publisher sends selector events to the status topic. It implements
// hand.Observer; Notify only enqueues and Run does the publishing.
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	queue   chan Message
	dropped atomic.Int64
}

// NewPublisher returns a publisher for topic. Publishing stops for five
// seconds after three consecutive failures.
func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{
		client:  client,
		topic:   topic,
		timeout: time.Second,
		queue:   make(chan Message, 64),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "status-publish",
			Timeout: 5 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("status: %s breaker %s -> %s", name, from, to)
			},
		}),
	}
}

func (p *Publisher) Notify(ev hand.Event) {
	select {
	case p.queue <- FromEvent(ev):
	default:
		if p.dropped.Add(1) == 1 {
			log.Printf("status: queue full, dropping status messages")
		}
	}
}

// Dropped returns the number of messages lost to a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Run publishes queued messages until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.Publish(msg); err != nil {
				log.Printf("status: publish %s: %v", msg.Kind, err)
			}
		}
	}
}

// Publish sends one message, retained so late subscribers see the last state.
func (p *Publisher) Publish(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("status: marshal: %w", err)
	}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		token := p.client.Publish(p.topic, 0, true, payload)
		if !token.WaitTimeout(p.timeout) {
			return nil, ErrPublishTimeout
		}
		return nil, token.Error()
	})
	return err
}
