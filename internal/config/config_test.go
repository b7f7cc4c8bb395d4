package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/emg_hand/internal/intensity"
	"github.com/relabs-tech/emg_hand/internal/movement"
)

func TestDefaultFingerMovements(t *testing.T) {
	c := Default()
	require.NoError(t, c.validate())
	require.Equal(t, 4, c.SequenceLength)
	require.Equal(t, "[HIGH MEDIUM NONE LOW]", c.Fingers[0].Movement.String())
	require.Equal(t, "[LOW NONE MEDIUM HIGH]", c.Fingers[1].Movement.String())
	require.Equal(t, intensity.DefaultBounds, c.IntensityBounds)
}

func TestParseOverridesDefaults(t *testing.T) {
	src := `
# bench setup
EMG_SOURCE=serial
EMG_SERIAL_PORT=/dev/ttyACM0
EMG_SERIAL_BAUD=57600
SERVO_I2C_ADDR=0x41
INTENSITY_BOUNDS=0-3000,3000-6000,6000-9000,9000-20000
SEQUENCE_LENGTH=3
FINGER_1_MOVEMENT=HIGH,MEDIUM,LOW
FINGER_2_MOVEMENT=LOW,MEDIUM,HIGH
FINGER_3_MOVEMENT=MEDIUM@0,HIGH@2
FINGER_4_MOVEMENT=LOW,LOW,LOW
FINGER_5_MOVEMENT=HIGH,HIGH,HIGH
FINGER_5_CHANNEL=7
DISPLAY_ENABLED=false
METRICS_PORT=0
`
	c, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, "serial", c.EMGSource)
	require.Equal(t, uint(57600), c.EMGSerialBaud)
	require.Equal(t, uint16(0x41), c.ServoI2CAddr)
	require.Equal(t, intensity.Range{Low: 9000, High: 20000}, c.IntensityBounds[3])
	require.Equal(t, movement.MustNew(intensity.Medium, intensity.None, intensity.High), c.Fingers[2].Movement)
	require.Equal(t, 7, c.Fingers[4].Channel)
	require.False(t, c.DisplayEnabled)
	require.Equal(t, 0, c.MetricsPort)
	require.Equal(t, "tcp://localhost:1883", c.MQTTBroker)
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "NOT_A_KEY=1",
		"bad bounds":      "INTENSITY_BOUNDS=0-10,20-30",
		"bad movement":    "FINGER_1_MOVEMENT=HIGH,LOUD",
		"length mismatch": "SEQUENCE_LENGTH=3",
		"bad source":      "EMG_SOURCE=bluetooth",
		"bad finger":      "FINGER_6_CHANNEL=1",
		"servo range":     "SERVO_MIN_DEGREE=180",
		"bad number":      "TICK_PERIOD_MS=soon",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src))
			require.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emg_hand_config.txt")
	require.NoError(t, os.WriteFile(path, []byte("TICK_PERIOD_MS=500\nBUTTON_PIN=GPIO17\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 500, c.TickPeriodMS)
	require.Equal(t, "GPIO17", c.ButtonPin)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
