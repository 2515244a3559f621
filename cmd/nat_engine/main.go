package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pavelkim/nat_engine/internal/config"
	"github.com/pavelkim/nat_engine/internal/datapath"
	"github.com/pavelkim/nat_engine/internal/iodev"
	"github.com/pavelkim/nat_engine/internal/logger"
	"github.com/pavelkim/nat_engine/internal/nat"
	"github.com/pavelkim/nat_engine/internal/telemetry"
	"github.com/pavelkim/nat_engine/internal/version"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nat_engine version %s\n", version.GetVersion())
		os.Exit(0)
	}

	// Load configuration; inconsistencies abort before anything starts
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&logger.Config{
		Console: logger.ConsoleConfig{
			Enabled: cfg.Logging.Console.Enabled,
			Level:   cfg.Logging.Console.Level,
			Format:  cfg.Logging.Console.Format,
		},
		File: logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Level:   cfg.Logging.File.Level,
			Format:  cfg.Logging.File.Format,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("========================================")
	log.Info("Starting NAT engine", "version", version.GetVersion())
	log.Info("========================================")
	log.Info("Configuration loaded", "file", *configPath)
	printConfig(log, cfg)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// One buffer pool feeds every device, sized once at startup
	pool := iodev.NewBufferPool(cfg.Datapath.BufferCount, cfg.Datapath.FrameSize)

	devices := &iodev.DeviceSet{}
	var enabled []iodev.DeviceID
	var closers []func() error

	for _, dev := range cfg.Devices {
		if cfg.NAT.DevicesMask&(1<<dev.ID) == 0 {
			log.Info("Skipping disabled device", "device", dev.ID)
			continue
		}

		id := iodev.DeviceID(dev.ID)
		switch {
		case dev.Interface != "":
			d, err := iodev.NewAFPacketDevice(pool, dev.Interface)
			if err != nil {
				log.Error("Failed to open device", "device", dev.ID, "error", err)
				os.Exit(1)
			}
			devices.Register(id, d)
			closers = append(closers, func() error { d.Close(); return nil })
			log.Info("Initialized device", "device", dev.ID, "interface", dev.Interface)

		case dev.Pcap.InputFile != "" || dev.Pcap.OutputFile != "":
			d, err := iodev.NewPcapDevice(pool, dev.Pcap.InputFile, dev.Pcap.OutputFile, 0, 0)
			if err != nil {
				log.Error("Failed to open pcap device", "device", dev.ID, "error", err)
				os.Exit(1)
			}
			devices.Register(id, d)
			closers = append(closers, d.Close)
			log.Info("Initialized pcap device",
				"device", dev.ID,
				"input", dev.Pcap.InputFile,
				"output", dev.Pcap.OutputFile)

		default:
			log.Error("Device has neither an interface nor pcap files", "device", dev.ID)
			os.Exit(1)
		}
		enabled = append(enabled, id)
	}

	// Flow telemetry observers
	var observers telemetry.MultiObserver
	if cfg.Telemetry.NetFlow.Enabled {
		exp, err := telemetry.NewNetFlowExporter(cfg.Telemetry.NetFlow.CollectorAddr, cfg.Telemetry.NetFlow.Version)
		if err != nil {
			log.Error("Failed to initialize NetFlow exporter", "error", err)
			os.Exit(1)
		}
		defer exp.Close()
		observers = append(observers, exp)
		log.Info("[OK] NetFlow exporter initialized", "collector", cfg.Telemetry.NetFlow.CollectorAddr)
	}
	if cfg.Telemetry.EventLog.Enabled {
		evl, err := telemetry.NewEventLog(cfg.Telemetry.EventLog.Path, cfg.Telemetry.EventLog.Format)
		if err != nil {
			log.Error("Failed to initialize flow event log", "error", err)
			os.Exit(1)
		}
		defer evl.Close()
		observers = append(observers, evl)
		log.Info("[OK] Flow event log initialized", "path", cfg.Telemetry.EventLog.Path)
	}
	var observer nat.Observer
	if len(observers) > 0 {
		observer = observers
	}

	forwarder, err := nat.NewForwarder(nat.Mode(cfg.Mode), engineCfg, devices, observer, log)
	if err != nil {
		log.Error("Failed to create forwarder", "error", err)
		os.Exit(1)
	}
	log.Info("[OK] Forwarder created", "mode", cfg.Mode)

	var tap *iodev.PcapWriter
	if cfg.Capture.Enabled {
		tap, err = iodev.NewPcapWriter(cfg.Capture.OutputFile, cfg.Capture.MaxSizeMB, cfg.Capture.MaxBackups)
		if err != nil {
			log.Error("Failed to initialize capture tap", "error", err)
			os.Exit(1)
		}
		defer tap.Close()
		log.Info("[OK] Capture tap initialized", "file", cfg.Capture.OutputFile)
	}

	runner := datapath.NewRunner(&datapath.Config{
		Devices:       devices,
		Enabled:       enabled,
		Forwarder:     forwarder,
		Logger:        log,
		BatchSize:     cfg.Datapath.BatchSize,
		StatsInterval: time.Duration(cfg.Datapath.StatsInterval) * time.Second,
		Tap:           tap,
	})

	// Setup shutdown: state is volatile, cancellation just stops the loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- runner.Run(ctx, 0)
	}()

	select {
	case <-sigChan:
		log.Info("Received shutdown signal")
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			log.Error("Datapath error", "error", err)
		}
	}

	for _, c := range closers {
		c()
	}
	log.Info("NAT engine terminated")
}

// printConfig logs the loaded configuration field by field before the
// datapath starts.
func printConfig(log *logger.Logger, cfg *config.Config) {
	log.Info("--- NAT Config ---")
	log.Info("Forwarding mode", "mode", cfg.Mode)
	log.Info("Devices mask", "mask", fmt.Sprintf("0x%x", cfg.NAT.DevicesMask))
	log.Info("WAN device", "device", cfg.NAT.WANDevice)
	log.Info("Main LAN device", "device", cfg.NAT.LANMainDevice)
	if nat.Mode(cfg.Mode) == nat.ModeNAT {
		log.Info("External IP", "addr", cfg.NAT.ExternalAddr)
		log.Info("Starting port", "port", cfg.NAT.StartPort)
		log.Info("Max flows", "flows", cfg.NAT.MaxFlows)
		log.Info("Expiration time", "seconds", cfg.NAT.ExpirationTime)
	}
	for _, dev := range cfg.Devices {
		log.Info("Device",
			"id", dev.ID,
			"own_mac", dev.MAC,
			"endpoint_mac", dev.EndpointMAC)
	}
	log.Info("Batch size", "size", cfg.Datapath.BatchSize)
	log.Info("--- --- ------ ---")
}
