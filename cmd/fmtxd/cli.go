package main

import (
	"fmt"
	"time"

	"github.com/sweeney/fmtxd/internal/config"
)

// CLI is the command line. Flags override environment variables, which
// override the YAML file, which overrides the built-in defaults. Zero
// values mean "not given".
type CLI struct {
	Config  string `short:"c" help:"YAML configuration file." type:"path" env:"FMTXD_CONFIG"`
	EnvFile string `name:"env-file" help:"Env file loaded at startup (pi-helper network info)." default:"/run/pi-helper.env" env:"FMTXD_ENV_FILE"`

	Region    string `help:"Band plan: eu, eu-75, us or us-50." env:"FMTXD_REGION"`
	Frequency uint32 `help:"Frequency in kHz to tune at startup." env:"FMTXD_FREQUENCY"`
	Enable    bool   `help:"Request the transmitter on at startup." env:"FMTXD_ENABLE"`

	Bus      string `help:"Event bus: mqtt, nats or off." env:"FMTXD_BUS"`
	Broker   string `help:"MQTT broker address." env:"FMTXD_BROKER"`
	NATSURL  string `name:"nats-url" help:"NATS server URL." env:"FMTXD_NATS_URL"`
	KVBucket string `name:"kv-bucket" help:"JetStream KV bucket for retained system events." env:"FMTXD_KV_BUCKET"`

	HTTP          string `help:"HTTP status address (\"off\" to disable)." env:"FMTXD_HTTP"`
	ConditionsDir string `name:"conditions-dir" help:"Directory of condition files to watch." type:"path" env:"FMTXD_CONDITIONS_DIR"`

	Poll        time.Duration `help:"GPIO polling interval." env:"FMTXD_POLL"`
	Debounce    time.Duration `help:"Debounce duration." env:"FMTXD_DEBOUNCE"`
	Heartbeat   time.Duration `help:"Heartbeat interval." env:"FMTXD_HEARTBEAT"`
	NoHeartbeat bool          `name:"no-heartbeat" help:"Disable heartbeat events." env:"FMTXD_NO_HEARTBEAT"`

	Chip         string `help:"GPIO chip (\"off\" disables the detect lines)." env:"FMTXD_GPIO_CHIP"`
	HeadphonePin int    `name:"pin-headphone" help:"BCM pin of the headphone detect line." default:"-1" env:"FMTXD_PIN_HEADPHONE"`
	USBPin       int    `name:"pin-usb" help:"BCM pin of the USB accessory detect line." default:"-1" env:"FMTXD_PIN_USB"`
	ActiveHigh   bool   `name:"active-high" help:"Detect lines read 1 when plugged." env:"FMTXD_ACTIVE_HIGH"`

	Device   []string `help:"Candidate radio device nodes." env:"FMTXD_DEVICE"`
	Sysfs    string   `help:"Transmitter sysfs attribute directory." env:"FMTXD_SYSFS"`
	LowTuner bool     `name:"low-tuner" help:"Radio uses 62.5 Hz frequency units." env:"FMTXD_LOW_TUNER"`

	LogFile    string `name:"log-file" help:"Write logs to this file with rotation." env:"FMTXD_LOG_FILE"`
	PrintState bool   `name:"print-state" help:"Print current conditions and exit."`
}

// resolve builds the effective configuration.
func (c *CLI) resolve() (config.Config, error) {
	cfg := config.Default()
	if c.Config != "" {
		loaded, err := config.Load(c.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	setString(&cfg.Region, c.Region)
	if c.Frequency != 0 {
		cfg.FrequencyKHz = c.Frequency
	}

	setString(&cfg.Bus.Kind, c.Bus)
	setString(&cfg.Bus.Broker, c.Broker)
	setString(&cfg.Bus.NATSURL, c.NATSURL)
	setString(&cfg.Bus.KVBucket, c.KVBucket)
	if c.Bus == "" && cfg.Bus.Kind == config.BusOff {
		// A bare --broker or --nats-url selects its bus.
		switch {
		case c.Broker != "":
			cfg.Bus.Kind = config.BusMQTT
		case c.NATSURL != "":
			cfg.Bus.Kind = config.BusNATS
		}
	}

	setString(&cfg.HTTPAddr, c.HTTP)
	if cfg.HTTPAddr == "off" {
		cfg.HTTPAddr = ""
	}
	setString(&cfg.ConditionsDir, c.ConditionsDir)

	if c.Poll != 0 {
		cfg.PollMs = c.Poll.Milliseconds()
	}
	if c.Debounce != 0 {
		cfg.DebounceMs = c.Debounce.Milliseconds()
	}
	if c.Heartbeat != 0 {
		cfg.HeartbeatMs = c.Heartbeat.Milliseconds()
	}
	if c.NoHeartbeat {
		cfg.HeartbeatMs = 0
	}

	setString(&cfg.GPIO.Chip, c.Chip)
	if cfg.GPIO.Chip == "off" {
		cfg.GPIO.Chip = ""
	}
	if c.HeadphonePin >= 0 {
		cfg.GPIO.HeadphonePin = c.HeadphonePin
	}
	if c.USBPin >= 0 {
		cfg.GPIO.USBPin = c.USBPin
	}
	if c.ActiveHigh {
		cfg.GPIO.ActiveLow = false
	}

	if len(c.Device) > 0 {
		cfg.Device.Nodes = c.Device
	}
	setString(&cfg.Device.Sysfs, c.Sysfs)
	if c.LowTuner {
		cfg.Device.LowTuner = true
	}
	setString(&cfg.LogFile, c.LogFile)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
