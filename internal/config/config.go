// Package config loads daemon settings from an optional YAML file and an
// optional env file. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/fmtxd/internal/gpio"
	"github.com/sweeney/fmtxd/internal/logic"
)

// Bus kinds.
const (
	BusOff  = "off"
	BusMQTT = "mqtt"
	BusNATS = "nats"
)

// Config is the daemon configuration.
type Config struct {
	Region       string   `yaml:"region"`
	FrequencyKHz uint32   `yaml:"frequency_khz"`
	Timeouts     Timeouts `yaml:"timeouts"`
	GPIO         GPIO     `yaml:"gpio"`
	Device       Device   `yaml:"device"`
	Bus          Bus      `yaml:"bus"`

	ConditionsDir string `yaml:"conditions_dir"`
	HTTPAddr      string `yaml:"http_addr"`
	LogFile       string `yaml:"log_file"`

	PollMs      int64 `yaml:"poll_ms"`
	DebounceMs  int64 `yaml:"debounce_ms"`
	HeartbeatMs int64 `yaml:"heartbeat_ms"`
}

// Timeouts are the transmitter timer delays.
type Timeouts struct {
	Idle  time.Duration `yaml:"idle"`
	Pilot time.Duration `yaml:"pilot"`
	Exit  time.Duration `yaml:"exit"`
}

// GPIO describes the detect line wiring. An empty Chip disables the lines.
type GPIO struct {
	Chip         string `yaml:"chip"`
	HeadphonePin int    `yaml:"headphone_pin"`
	USBPin       int    `yaml:"usb_pin"`
	ActiveLow    bool   `yaml:"active_low"`
}

// Lines converts the wiring for the gpio package.
func (g GPIO) Lines() gpio.Lines {
	return gpio.Lines{Chip: g.Chip, Headphone: g.HeadphonePin, USB: g.USBPin, ActiveLow: g.ActiveLow}
}

// Device selects the radio hardware.
type Device struct {
	Nodes    []string `yaml:"nodes"`
	Sysfs    string   `yaml:"sysfs"`
	LowTuner bool     `yaml:"low_tuner"`
}

// Bus selects and configures the event bus.
type Bus struct {
	Kind     string `yaml:"kind"`
	Broker   string `yaml:"broker"`
	NATSURL  string `yaml:"nats_url"`
	KVBucket string `yaml:"kv_bucket"`
	Topics   Topics `yaml:"topics"`
}

// Topics overrides the bus topics. Empty fields keep the transport default.
type Topics struct {
	Events     string `yaml:"events"`
	System     string `yaml:"system"`
	Request    string `yaml:"request"`
	Conditions string `yaml:"conditions"`
}

// Default returns the built-in configuration.
func Default() Config {
	lines := gpio.DefaultLines()
	return Config{
		Region: "eu",
		Timeouts: Timeouts{
			Idle:  logic.DefaultIdleTimeout,
			Pilot: logic.DefaultPilotTimeout,
			Exit:  logic.DefaultExitTimeout,
		},
		GPIO: GPIO{
			Chip:         lines.Chip,
			HeadphonePin: lines.Headphone,
			USBPin:       lines.USB,
			ActiveLow:    lines.ActiveLow,
		},
		Bus:         Bus{Kind: BusOff},
		HTTPAddr:    ":8080",
		PollMs:      100,
		DebounceMs:  250,
		HeartbeatMs: 900000,
	}
}

// Load reads a YAML file over the defaults. Environment variables in the
// file are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFile loads variables from path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks values the daemon cannot start with. The region is not
// checked here: an unknown region is a transmitter bring-up failure.
func (c Config) Validate() error {
	var errs []error
	if c.PollMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_ms must be positive, got %d", c.PollMs))
	}
	if c.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("debounce_ms must not be negative, got %d", c.DebounceMs))
	}
	if c.HeartbeatMs < 0 {
		errs = append(errs, fmt.Errorf("heartbeat_ms must not be negative, got %d", c.HeartbeatMs))
	}
	if c.Timeouts.Idle < 0 || c.Timeouts.Pilot < 0 || c.Timeouts.Exit < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	switch c.Bus.Kind {
	case BusOff, "":
	case BusMQTT:
		if c.Bus.Broker == "" {
			errs = append(errs, errors.New("mqtt bus needs a broker"))
		}
	case BusNATS:
		if c.Bus.NATSURL == "" {
			errs = append(errs, errors.New("nats bus needs a url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bus kind %q", c.Bus.Kind))
	}
	return errors.Join(errs...)
}

// BusEnabled reports whether an event bus is configured.
func (c Config) BusEnabled() bool {
	return c.Bus.Kind == BusMQTT || c.Bus.Kind == BusNATS
}

// BusAddress returns the address of the configured bus.
func (c Config) BusAddress() string {
	switch c.Bus.Kind {
	case BusMQTT:
		return c.Bus.Broker
	case BusNATS:
		return c.Bus.NATSURL
	}
	return ""
}
