// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/emg_hand/internal/calibration"
	"github.com/relabs-tech/emg_hand/internal/hand"
	"github.com/relabs-tech/emg_hand/internal/intensity"
	"github.com/relabs-tech/emg_hand/internal/sampler"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startBroker runs an in-process broker and returns its URL.
func startBroker(t *testing.T) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{Type: "tcp", Address: addr})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })
	return "tcp://" + addr
}

func connect(t *testing.T, broker, id string) mqtt.Client {
	t.Helper()
	client, err := Connect(context.Background(), broker, id, 3)
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(100) })
	return client
}

func TestFromEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := FromEvent(hand.Event{
		Kind:      hand.EventMovementExecuted,
		SessionID: "s-1",
		Time:      at,
		Phase:     sampler.MovementDetected,
		Levels:    []intensity.Level{intensity.Low, intensity.Medium, intensity.High},
		Elapsed:   2 * time.Second,
		Finger:    1,
		Angle:     180,
	})
	require.NotEmpty(t, m.ID)
	require.Equal(t, "MOVEMENT_DETECTED", m.Phase)
	require.Equal(t, []string{"LOW", "MEDIUM", "HIGH"}, m.Levels)
	require.Equal(t, int64(2000), m.ElapsedMS)
	require.Equal(t, 2, m.Finger)
	require.Equal(t, 180, m.Angle)

	aborted := FromEvent(hand.Event{Kind: hand.EventSessionAborted, Finger: -1, Err: intensity.ErrOutOfRange})
	require.Zero(t, aborted.Finger)
	require.Equal(t, intensity.ErrOutOfRange.Error(), aborted.Error)

	cal := FromEvent(hand.Event{Kind: hand.EventCalibrationDone, Finger: -1, Calibration: &calibration.Result{Relaxed: 2000, Contracted: 12000}})
	require.Empty(t, cal.Phase)
	require.Equal(t, 12000, cal.Calibration.Contracted)
	require.NotEqual(t, m.ID, cal.ID)
}

func TestPublisherDeliversRetainedStatus(t *testing.T) {
	broker := startBroker(t)
	pubClient := connect(t, broker, "hand")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPublisher(pubClient, "emg_hand/status")
	go p.Run(ctx)

	p.Notify(hand.Event{Kind: hand.EventMovementInvalid, Phase: sampler.MovementInvalid, Finger: -1,
		Levels: []intensity.Level{intensity.Low, intensity.Low, intensity.Low}})

	got := make(chan Message, 1)
	subClient := connect(t, broker, "watcher")
	require.Eventually(t, func() bool {
		token := subClient.Subscribe("emg_hand/status", 0, func(_ mqtt.Client, msg mqtt.Message) {
			var m Message
			if json.Unmarshal(msg.Payload(), &m) == nil {
				select {
				case got <- m:
				default:
				}
			}
		})
		return token.WaitTimeout(time.Second) && token.Error() == nil
	}, 3*time.Second, 50*time.Millisecond)

	select {
	case m := <-got:
		require.Equal(t, hand.EventMovementInvalid, m.Kind)
		require.Equal(t, []string{"LOW", "LOW", "LOW"}, m.Levels)
	case <-time.After(3 * time.Second):
		t.Fatal("no status message received")
	}
}

func TestPublisherBreakerOpensWhenDisconnected(t *testing.T) {
	client := mqtt.NewClient(mqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1"))
	p := NewPublisher(client, "emg_hand/status")

	for i := 0; i < 3; i++ {
		require.Error(t, p.Publish(Message{Kind: hand.EventSampling}))
	}
	require.ErrorIs(t, p.Publish(Message{Kind: hand.EventSampling}), gobreaker.ErrOpenState)
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	p := NewPublisher(nil, "emg_hand/status")
	for i := 0; i < cap(p.queue)+2; i++ {
		p.Notify(hand.Event{Kind: hand.EventSampling})
	}
	require.Equal(t, int64(2), p.Dropped())
}

type fakeDispatcher struct {
	mu      sync.Mutex
	samples int
	reps    []int
	done    chan struct{}
}

func (f *fakeDispatcher) ReadContractionAndExecute(context.Context) (int, bool, error) {
	f.mu.Lock()
	f.samples++
	f.mu.Unlock()
	f.done <- struct{}{}
	return 0, true, nil
}

func (f *fakeDispatcher) StartCalibration(_ context.Context, reps int) (calibration.Result, error) {
	f.mu.Lock()
	f.reps = append(f.reps, reps)
	f.mu.Unlock()
	f.done <- struct{}{}
	return calibration.Result{}, nil
}

func TestDispatch(t *testing.T) {
	d := &fakeDispatcher{done: make(chan struct{}, 4)}
	require.NoError(t, Dispatch(context.Background(), d, Command{Action: ActionSample}, 3))
	require.NoError(t, Dispatch(context.Background(), d, Command{Action: ActionCalibrate}, 3))
	require.NoError(t, Dispatch(context.Background(), d, Command{Action: ActionCalibrate, Repetitions: 5}, 3))
	require.Error(t, Dispatch(context.Background(), d, Command{Action: "wave"}, 3))

	require.Equal(t, 1, d.samples)
	require.Equal(t, []int{3, 5}, d.reps)
}

func TestCommandListenerRunsRemoteCommands(t *testing.T) {
	broker := startBroker(t)
	handClient := connect(t, broker, "hand")
	webClient := connect(t, broker, "web")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &fakeDispatcher{done: make(chan struct{}, 4)}
	q := NewCommandQueue(d, 3)
	go q.Run(ctx)
	require.NoError(t, NewCommandListener(handClient, "emg_hand/command", q).Start(ctx))

	sent, err := SendCommand(webClient, "emg_hand/command", Command{Action: ActionSample})
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)
	_, err = SendCommand(webClient, "emg_hand/command", Command{Action: ActionCalibrate, Repetitions: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-d.done:
		case <-time.After(3 * time.Second):
			t.Fatal("command not dispatched")
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, 1, d.samples)
	require.Equal(t, []int{2}, d.reps)
}

// blockingDispatcher holds every command until release is closed.
type blockingDispatcher struct {
	mu      sync.Mutex
	running int
	max     int
	started chan struct{}
	release chan struct{}
}

func (b *blockingDispatcher) enter() {
	b.mu.Lock()
	b.running++
	b.max = max(b.max, b.running)
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.running--
	b.mu.Unlock()
}

func (b *blockingDispatcher) ReadContractionAndExecute(context.Context) (int, bool, error) {
	b.enter()
	return -1, false, nil
}

func (b *blockingDispatcher) StartCalibration(context.Context, int) (calibration.Result, error) {
	b.enter()
	return calibration.Result{}, nil
}

func TestCommandQueueRunsOneAtATime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &blockingDispatcher{started: make(chan struct{}, 8), release: make(chan struct{})}
	q := NewCommandQueue(d, 3)
	go q.Run(ctx)

	require.True(t, q.Submit(Command{Action: ActionSample}))
	<-d.started
	// queued behind the running command
	require.True(t, q.Submit(Command{Action: ActionCalibrate}))
	require.True(t, q.Submit(Command{Action: ActionSample}))

	close(d.release)
	<-d.started
	<-d.started
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, 1, d.max)
}

func TestCommandQueueDropsWhenFull(t *testing.T) {
	q := NewCommandQueue(&fakeDispatcher{done: make(chan struct{}, 8)}, 3)
	for i := 0; i < cap(q.queue); i++ {
		require.True(t, q.Submit(Command{Action: ActionSample}))
	}
	require.False(t, q.Submit(Command{Action: ActionSample}))
}

func TestConnectGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t)), "nobody", 1)
	require.Error(t, err)
	require.NoError(t, ctx.Err())
}
