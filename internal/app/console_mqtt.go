package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/emg_hand/internal/config"
	"github.com/relabs-tech/emg_hand/internal/hand"
	"github.com/relabs-tech/emg_hand/internal/status"
)

// formatStatus renders one status message as a console line.
func formatStatus(m status.Message) string {
	ts := m.Time.Format("15:04:05.000")
	switch m.Kind {
	case hand.EventMovementExecuted:
		if m.Error != "" {
			return fmt.Sprintf("[MOVE ] %s finger=%d error=%s", ts, m.Finger, m.Error)
		}
		return fmt.Sprintf("[MOVE ] %s finger=%d angle=%d levels=%s elapsed=%dms", ts, m.Finger, m.Angle, strings.Join(m.Levels, ","), m.ElapsedMS)
	case hand.EventMovementInvalid:
		return fmt.Sprintf("[INVAL] %s levels=%s", ts, strings.Join(m.Levels, ","))
	case hand.EventSessionAborted:
		return fmt.Sprintf("[ABORT] %s phase=%s error=%s", ts, m.Phase, m.Error)
	case hand.EventCalibrationStarted:
		return fmt.Sprintf("[CALIB] %s started", ts)
	case hand.EventCalibrationDone:
		if m.Calibration == nil {
			return fmt.Sprintf("[CALIB] %s done", ts)
		}
		return fmt.Sprintf("[CALIB] %s done relaxed=%d contracted=%d bounds=%s", ts, m.Calibration.Relaxed, m.Calibration.Contracted, m.Calibration.Bounds)
	case hand.EventCalibrationFailed:
		return fmt.Sprintf("[CALIB] %s failed: %s", ts, m.Error)
	default:
		return fmt.Sprintf("[STATE] %s %s levels=%s elapsed=%dms", ts, m.Phase, strings.Join(m.Levels, ","), m.ElapsedMS)
	}
}

// RunConsoleMQTT prints every status message until Ctrl+C.
func RunConsoleMQTT() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := status.Connect(ctx, cfg.MQTTBroker, cfg.MQTTClientIDConsole, 5)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var m status.Message
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}
		fmt.Println(formatStatus(m))
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStatus)

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}
