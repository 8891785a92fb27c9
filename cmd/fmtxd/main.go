// Command fmtxd controls an FM transmitter from accessory, audio and call
// conditions, and publishes its state to an event bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sweeney/fmtxd/internal/bus"
	"github.com/sweeney/fmtxd/internal/config"
	"github.com/sweeney/fmtxd/internal/gpio"
	"github.com/sweeney/fmtxd/internal/hw"
	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/metrics"
	"github.com/sweeney/fmtxd/internal/mqtt"
	"github.com/sweeney/fmtxd/internal/natsbus"
	"github.com/sweeney/fmtxd/internal/sense"
	"github.com/sweeney/fmtxd/internal/status"
	"github.com/sweeney/fmtxd/internal/timer"
	"github.com/sweeney/fmtxd/internal/web"
)

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("fmtxd"),
		kong.Description("FM transmitter control daemon."),
		kong.UsageOnError(),
	)

	if err := config.LoadEnvFile(cli.EnvFile); err != nil {
		log.Printf("env file %s: %v", cli.EnvFile, err)
	}
	cfg, err := cli.resolve()
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}

	req := startupRequest(cli.Enable)
	if err := run(cfg, cli.PrintState, req); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, printState bool, req *bus.Request) error {
	// Condition sources
	var reader gpio.Reader
	if cfg.GPIO.Chip != "" {
		r, err := gpio.NewRealReader(cfg.GPIO.Lines())
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer r.Close()
		reader = r
	}

	var files *sense.FileSource
	if cfg.ConditionsDir != "" {
		fs, err := sense.NewFileSource(cfg.ConditionsDir)
		if err != nil {
			return fmt.Errorf("init condition files: %w", err)
		}
		defer fs.Close()
		files = fs
	}

	if printState {
		return printConditions(reader, files)
	}

	// Timers
	cron, err := timer.NewCron(16)
	if err != nil {
		return fmt.Errorf("init timers: %w", err)
	}
	defer cron.Shutdown()

	exitCh := make(chan struct{}, 1)
	opts := logic.Options{
		IdleTimeout:      cfg.Timeouts.Idle,
		PilotTimeout:     cfg.Timeouts.Pilot,
		ExitTimeout:      cfg.Timeouts.Exit,
		InitialFrequency: cfg.FrequencyKHz,
		OnExit: func() {
			select {
			case exitCh <- struct{}{}:
			default:
			}
		},
	}
	if files != nil {
		opts.RouteProbe = files
	}
	tx := logic.NewTransmitter(cron, opts)

	// Observability
	registry := prom.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:        cfg.PollMs,
		DebounceMs:    cfg.DebounceMs,
		HeartbeatMs:   cfg.HeartbeatMs,
		Bus:           busKind(cfg),
		Broker:        cfg.BusAddress(),
		HTTPAddr:      cfg.HTTPAddr,
		Region:        cfg.Region,
		Device:        strings.Join(cfg.Device.Nodes, ","),
		ConditionsDir: cfg.ConditionsDir,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	hub := web.NewHub(func() []byte { return status.FormatJSON(tracker.Snapshot()) })
	defer hub.Close()

	// Event bus
	publisher, busStatus, subscriber, err := openBus(cfg)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	d := &daemon{
		tx:        tx,
		reader:    reader,
		debouncer: sense.NewDebouncer(time.Duration(cfg.DebounceMs) * time.Millisecond),
		publisher: publisher,
		busStatus: busStatus,
		tracker:   tracker,
		metrics:   recorder,
		hub:       hub,
		heartbeat: status.NewHeartbeat(time.Duration(cfg.HeartbeatMs)*time.Millisecond, time.Now()),
		now:       time.Now,
	}
	d.attach()

	// Conditions known before bring-up are stored without side effects.
	if files != nil {
		changes, err := files.Scan()
		if err != nil {
			log.Printf("condition scan: %v", err)
		}
		for _, c := range changes {
			d.applyCondition(c)
		}
	}

	dev, err := bringUp(tx, cfg, recorder)
	if dev != nil {
		defer dev.Close()
	}
	if err != nil {
		log.Printf("transmitter bring-up failed: %v", err)
		d.refresh()
		d.publishSystem("SHUTDOWN", "INIT_FAILED", true)
		return err
	}
	d.refresh()
	d.publishSystem("STARTUP", "", true)

	if req != nil {
		d.applyRequest(*req)
	}

	// HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, web.Options{
			Metrics: metrics.HTTPHandler(registry),
			Hub:     hub,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conditions := make(chan sense.Change, 16)
	requests := make(chan bus.Request, 4)

	if files != nil {
		go func() {
			if err := files.Run(ctx, conditions); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("condition watcher stopped: %v", err)
			}
		}()
	}
	if subscriber != nil {
		onCondition, onRequest := busHandlers(ctx, conditions, requests)
		err := subscriber.Subscribe(onCondition, onRequest)
		if err != nil {
			log.Printf("bus subscribe: %v", err)
		}
	}

	log.Printf("started: region=%s frequency=%dkHz poll=%dms debounce=%dms bus=%s heartbeat=%dms",
		cfg.Region, tx.Frequency(), cfg.PollMs, cfg.DebounceMs, busKind(cfg), cfg.HeartbeatMs)

	ticker := time.NewTicker(time.Duration(cfg.PollMs) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(inputs{
		tick:       ticker.C,
		conditions: conditions,
		requests:   requests,
		timers:     cron.C(),
		exit:       exitCh,
		sig:        sigCh,
	})
}

// bringUp opens the radio for the configured region and initializes tx.
// Any failure leaves tx in StateError.
func bringUp(tx *logic.Transmitter, cfg config.Config, recorder *metrics.Recorder) (*hw.Device, error) {
	region, err := config.LookupRegion(cfg.Region)
	if err != nil {
		return nil, tx.Fail(err)
	}
	dev, err := hw.Open(hw.DeviceConfig{
		Nodes:         cfg.Device.Nodes,
		SysfsNode:     cfg.Device.Sysfs,
		PreemphasisUs: region.PreemphasisUs,
		LowTuner:      cfg.Device.LowTuner,
	})
	if err != nil {
		return nil, tx.Fail(err)
	}
	log.Printf("radio device %s, region %s (%d-%d kHz step %d, %dus pre-emphasis)",
		dev.Node(), region.Name, region.Bounds.Min, region.Bounds.Max, region.Bounds.Step, region.PreemphasisUs)
	return dev, tx.Initialize(region.Bounds, recorder.Instrument(dev))
}

// openBus connects the configured event bus. All results are nil when the
// bus is off.
func openBus(cfg config.Config) (bus.Publisher, bus.ConnectionStatus, bus.Subscriber, error) {
	switch cfg.Bus.Kind {
	case config.BusMQTT:
		opts := mqtt.DefaultOptions(cfg.Bus.Broker)
		setTopic(&opts.Events, cfg.Bus.Topics.Events)
		setTopic(&opts.System, cfg.Bus.Topics.System)
		setTopic(&opts.Request, cfg.Bus.Topics.Request)
		setTopic(&opts.ConditionPrefix, cfg.Bus.Topics.Conditions)
		p := mqtt.NewPublisher(opts)
		return p, p, p, nil
	case config.BusNATS:
		opts := natsbus.DefaultOptions(cfg.Bus.NATSURL)
		opts.KVBucket = cfg.Bus.KVBucket
		b, err := natsbus.Connect(opts)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, b, nil
	}
	return nil, nil, nil, nil
}

// busHandlers forwards bus deliveries to the loop. Once ctx is done they
// drop messages instead of blocking the client's goroutine.
func busHandlers(ctx context.Context, conditions chan<- sense.Change, requests chan<- bus.Request) (func(sense.Change), func(bus.Request)) {
	onCondition := func(c sense.Change) {
		select {
		case conditions <- c:
		case <-ctx.Done():
		}
	}
	onRequest := func(r bus.Request) {
		select {
		case requests <- r:
		case <-ctx.Done():
		}
	}
	return onCondition, onRequest
}

func setTopic(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func busKind(cfg config.Config) string {
	if !cfg.BusEnabled() {
		return ""
	}
	return cfg.Bus.Kind
}

// startupRequest turns the startup flags into a request. The frequency is
// applied by Initialize, so only --enable needs one.
func startupRequest(enable bool) *bus.Request {
	if !enable {
		return nil
	}
	return &bus.Request{Enabled: &enable}
}

func printConditions(reader gpio.Reader, files *sense.FileSource) error {
	var cs logic.Conditions
	if files != nil {
		changes, err := files.Scan()
		if err != nil {
			return fmt.Errorf("read condition files: %w", err)
		}
		for _, c := range changes {
			cs[c.Condition] = c.Value
		}
	}
	if reader != nil {
		s, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		cs[logic.HeadphoneConnected] = s.Headphone
		cs[logic.USBAccessoryConnected] = s.USB
	}

	for _, c := range logic.AllConditions() {
		fmt.Printf("%s: %v\n", c, cs[c])
	}
	p := cs.Predicates()
	fmt.Printf("blocked: %v, idle candidate: %v, tone: %v\n", p.Blocked, p.AutoIdleCandidate, p.ShouldPlayTone)
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
