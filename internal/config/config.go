package config

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/relabs-tech/emg_hand/internal/intensity"
	"github.com/relabs-tech/emg_hand/internal/movement"
)

// FingerCount matches the hand; config keys run FINGER_1 to FINGER_5.
const FingerCount = 5

// Finger is the servo channel and movement of one finger.
type Finger struct {
	Channel  int
	Movement movement.Movement
}

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDHand    string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string

	// Topics
	TopicStatus  string
	TopicCommand string

	// EMG source: "mock", "ad7705" or "serial"
	EMGSource string

	// AD7705 ADC
	AD7705SPIDevice  string
	AD7705SPISpeedHz int64
	AD7705DRDYPin    string // empty polls the communication register
	AD7705Channel    int

	// Serial EMG front end
	EMGSerialPort     string
	EMGSerialBaud     uint
	EMGSerialMaxAgeMS int

	// Servos (PCA9685)
	ServoI2CBus    string
	ServoI2CAddr   uint16
	ServoMinDegree int
	ServoMaxDegree int

	Fingers [FingerCount]Finger

	// Sampling
	IntensityBounds intensity.Bounds
	SequenceLength  int
	TickPeriodMS    int
	PollIntervalMS  int

	// Calibration
	CalibrationWindowMS         int
	CalibrationSampleIntervalMS int
	CalibrationRepetitions      int

	// Button
	ButtonPin          string // empty disables the button
	ButtonShortPressMS int

	// Display
	DisplayEnabled bool
	DisplayI2CBus  string
	DisplayI2CAddr uint16

	// HTTP
	WebServerPort int
	MetricsPort   int // 0 disables /metrics
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

var defaultMovements = [FingerCount]string{
	"HIGH@0,MEDIUM@1,LOW@3",
	"LOW@0,MEDIUM@2,HIGH@3",
	"MEDIUM,MEDIUM,MEDIUM,MEDIUM",
	"LOW,LOW,LOW,LOW",
	"HIGH,HIGH,HIGH,HIGH",
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	c := &Config{
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDHand:    "emg-hand",
		MQTTClientIDConsole: "emg-hand-console",
		MQTTClientIDWeb:     "emg-hand-web",
		TopicStatus:         "emg_hand/status",
		TopicCommand:        "emg_hand/command",

		EMGSource:        "mock",
		AD7705SPIDevice:  "/dev/spidev0.0",
		AD7705SPISpeedHz: 1_000_000,
		AD7705DRDYPin:    "GPIO25",

		EMGSerialPort:     "/dev/ttyUSB0",
		EMGSerialBaud:     115200,
		EMGSerialMaxAgeMS: 200,

		ServoI2CBus:    "",
		ServoI2CAddr:   0x40,
		ServoMinDegree: 0,
		ServoMaxDegree: 180,

		IntensityBounds: append(intensity.Bounds(nil), intensity.DefaultBounds...),
		SequenceLength:  4,
		TickPeriodMS:    1000,
		PollIntervalMS:  1,

		CalibrationWindowMS:         1000,
		CalibrationSampleIntervalMS: 1,
		CalibrationRepetitions:      3,

		ButtonShortPressMS: 300,

		DisplayEnabled: true,
		DisplayI2CAddr: 0x3C,

		WebServerPort: 8080,
		MetricsPort:   9100,
	}
	for i, s := range defaultMovements {
		c.Fingers[i] = Finger{Channel: i, Movement: mustParseMovement(s)}
	}
	return c
}

func mustParseMovement(s string) movement.Movement {
	m, err := movement.Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return fromValues(values)
}

// Parse reads KEY=VALUE configuration from r.
func Parse(r io.Reader) (*Config, error) {
	values, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return fromValues(values)
}

func fromValues(values map[string]string) (*Config, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cfg := Default()
	for _, k := range keys {
		if err := cfg.setValue(k, strings.TrimSpace(values[k])); err != nil {
			return nil, fmt.Errorf("config key %s: %w", k, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setValue sets a configuration value based on the key.
func (c *Config) setValue(key, value string) error {
	if i, field, ok := fingerKey(key); ok {
		return c.setFinger(i, field, value)
	}

	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_HAND":
		c.MQTTClientIDHand = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// EMG
	case "EMG_SOURCE":
		c.EMGSource = strings.ToLower(value)
	case "AD7705_SPI_DEVICE":
		c.AD7705SPIDevice = value
	case "AD7705_SPI_SPEED_HZ":
		c.AD7705SPISpeedHz, err = strconv.ParseInt(value, 10, 64)
	case "AD7705_DRDY_PIN":
		c.AD7705DRDYPin = value
	case "AD7705_CHANNEL":
		c.AD7705Channel, err = strconv.Atoi(value)
	case "EMG_SERIAL_PORT":
		c.EMGSerialPort = value
	case "EMG_SERIAL_BAUD":
		var baud uint64
		baud, err = strconv.ParseUint(value, 10, 32)
		c.EMGSerialBaud = uint(baud)
	case "EMG_SERIAL_MAX_AGE_MS":
		c.EMGSerialMaxAgeMS, err = strconv.Atoi(value)

	// Servos
	case "SERVO_I2C_BUS":
		c.ServoI2CBus = value
	case "SERVO_I2C_ADDR":
		c.ServoI2CAddr, err = parseAddr(value)
	case "SERVO_MIN_DEGREE":
		c.ServoMinDegree, err = strconv.Atoi(value)
	case "SERVO_MAX_DEGREE":
		c.ServoMaxDegree, err = strconv.Atoi(value)

	// Sampling
	case "INTENSITY_BOUNDS":
		c.IntensityBounds, err = intensity.ParseBounds(value)
	case "SEQUENCE_LENGTH":
		c.SequenceLength, err = strconv.Atoi(value)
	case "TICK_PERIOD_MS":
		c.TickPeriodMS, err = strconv.Atoi(value)
	case "POLL_INTERVAL_MS":
		c.PollIntervalMS, err = strconv.Atoi(value)

	// Calibration
	case "CALIBRATION_WINDOW_MS":
		c.CalibrationWindowMS, err = strconv.Atoi(value)
	case "CALIBRATION_SAMPLE_INTERVAL_MS":
		c.CalibrationSampleIntervalMS, err = strconv.Atoi(value)
	case "CALIBRATION_REPETITIONS":
		c.CalibrationRepetitions, err = strconv.Atoi(value)

	// Button
	case "BUTTON_PIN":
		c.ButtonPin = value
	case "BUTTON_SHORT_PRESS_MS":
		c.ButtonShortPressMS, err = strconv.Atoi(value)

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = strconv.ParseBool(value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		c.DisplayI2CAddr, err = parseAddr(value)

	// HTTP
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = strconv.Atoi(value)
	case "METRICS_PORT":
		c.MetricsPort, err = strconv.Atoi(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return nil
}

// fingerKey splits FINGER_<n>_CHANNEL and FINGER_<n>_MOVEMENT.
func fingerKey(key string) (int, string, bool) {
	rest, ok := strings.CutPrefix(key, "FINGER_")
	if !ok {
		return 0, "", false
	}
	num, field, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > FingerCount {
		return 0, "", false
	}
	return n - 1, field, true
}

func (c *Config) setFinger(i int, field, value string) error {
	switch field {
	case "CHANNEL":
		ch, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FINGER_%d_CHANNEL %q: %w", i+1, value, err)
		}
		c.Fingers[i].Channel = ch
	case "MOVEMENT":
		m, err := movement.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid FINGER_%d_MOVEMENT %q: %w", i+1, value, err)
		}
		c.Fingers[i].Movement = m
	default:
		return fmt.Errorf("unknown config key: %q", fmt.Sprintf("FINGER_%d_%s", i+1, field))
	}
	return nil
}

func parseAddr(value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	return uint16(addr), err
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicStatus == "" || c.TopicCommand == "" {
		return fmt.Errorf("TOPIC_STATUS and TOPIC_COMMAND are required")
	}
	switch c.EMGSource {
	case "mock", "ad7705", "serial":
	default:
		return fmt.Errorf("EMG_SOURCE must be mock, ad7705 or serial, got %q", c.EMGSource)
	}
	if c.AD7705Channel < 0 || c.AD7705Channel > 1 {
		return fmt.Errorf("AD7705_CHANNEL must be 0 or 1")
	}
	if c.SequenceLength < 1 || c.SequenceLength > movement.MaxLength {
		return fmt.Errorf("SEQUENCE_LENGTH must be in 1..%d", movement.MaxLength)
	}
	for i, f := range c.Fingers {
		if f.Movement.Len() != c.SequenceLength {
			return fmt.Errorf("FINGER_%d_MOVEMENT %v has %d ticks, SEQUENCE_LENGTH is %d", i+1, f.Movement, f.Movement.Len(), c.SequenceLength)
		}
		if f.Channel < 0 || f.Channel > 15 {
			return fmt.Errorf("FINGER_%d_CHANNEL must be in 0..15", i+1)
		}
	}
	if c.ServoMinDegree >= c.ServoMaxDegree {
		return fmt.Errorf("SERVO_MIN_DEGREE must be below SERVO_MAX_DEGREE")
	}
	if c.TickPeriodMS <= 0 || c.PollIntervalMS <= 0 {
		return fmt.Errorf("TICK_PERIOD_MS and POLL_INTERVAL_MS must be positive")
	}
	if c.CalibrationWindowMS <= 0 || c.CalibrationRepetitions < 1 {
		return fmt.Errorf("CALIBRATION_WINDOW_MS and CALIBRATION_REPETITIONS must be positive")
	}
	if c.ButtonShortPressMS <= 0 {
		return fmt.Errorf("BUTTON_SHORT_PRESS_MS must be positive")
	}
	return nil
}

// InitGlobal loads the configuration once for the process.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
