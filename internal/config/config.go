package config

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pavelkim/nat_engine/internal/iodev"
	"github.com/pavelkim/nat_engine/internal/nat"
)

// Config represents the application configuration. It is loaded once before
// the datapath starts and is static for the process lifetime.
type Config struct {
	Mode      string          `yaml:"mode"`
	NAT       NATConfig       `yaml:"nat"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Capture   CaptureConfig   `yaml:"capture"`
	Datapath  DatapathConfig  `yaml:"datapath"`
}

// NATConfig contains the translation engine settings
type NATConfig struct {
	ExternalAddr   string `yaml:"external_addr"`
	WANDevice      uint8  `yaml:"wan_device"`
	LANMainDevice  uint8  `yaml:"lan_main_device"`
	DevicesMask    uint32 `yaml:"devices_mask"`
	StartPort      uint16 `yaml:"start_port"`
	MaxFlows       int    `yaml:"max_flows"`
	ExpirationTime int64  `yaml:"expiration_time"`
}

// DeviceConfig describes one port: how to open it and which MAC addresses to
// write on egress.
type DeviceConfig struct {
	ID          uint8            `yaml:"id"`
	Interface   string           `yaml:"interface"`
	Pcap        PcapDeviceConfig `yaml:"pcap"`
	MAC         string           `yaml:"mac"`
	EndpointMAC string           `yaml:"endpoint_mac"`
}

// PcapDeviceConfig backs a device with capture files instead of a live
// interface.
type PcapDeviceConfig struct {
	InputFile  string `yaml:"input_file"`
	OutputFile string `yaml:"output_file"`
}

// LoggingConfig contains application logging settings
type LoggingConfig struct {
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

// ConsoleLogConfig configures console logging
type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileLogConfig configures file logging
type FileLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Path    string `yaml:"path"`
}

// TelemetryConfig contains the flow telemetry settings
type TelemetryConfig struct {
	NetFlow  NetFlowConfig  `yaml:"netflow"`
	EventLog EventLogConfig `yaml:"eventlog"`
}

// NetFlowConfig contains NetFlow export settings
type NetFlowConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CollectorAddr string `yaml:"collector_addr"`
	Version       int    `yaml:"version"`
}

// EventLogConfig contains flow event log settings
type EventLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Format  string `yaml:"format"`
}

// CaptureConfig contains the pcap tap settings. The tap records every frame
// as received, before the forwarder rewrites it.
type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DatapathConfig contains the poll loop settings
type DatapathConfig struct {
	BatchSize     int `yaml:"batch_size"`
	StatsInterval int `yaml:"stats_interval"`
	BufferCount   int `yaml:"buffer_count"`
	FrameSize     int `yaml:"frame_size"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if cfg.Mode == "" {
		cfg.Mode = string(nat.ModeNAT)
	}
	if cfg.NAT.DevicesMask == 0 {
		for _, dev := range cfg.Devices {
			cfg.NAT.DevicesMask |= 1 << dev.ID
		}
	}
	if cfg.NAT.ExpirationTime == 0 {
		cfg.NAT.ExpirationTime = 60
	}
	if cfg.Datapath.BatchSize == 0 {
		cfg.Datapath.BatchSize = 32
	}
	if cfg.Datapath.StatsInterval == 0 {
		cfg.Datapath.StatsInterval = 30
	}
	if cfg.Datapath.BufferCount == 0 {
		cfg.Datapath.BufferCount = 8192
	}
	if cfg.Datapath.FrameSize == 0 {
		cfg.Datapath.FrameSize = 2048
	}
	if cfg.Telemetry.NetFlow.Version == 0 {
		cfg.Telemetry.NetFlow.Version = 5
	}
	if !cfg.Logging.Console.Enabled && !cfg.Logging.File.Enabled {
		cfg.Logging.Console.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fail-fasts on configuration inconsistencies. A config that
// validates here is accepted as-is by the engine.
func (c *Config) Validate() error {
	mode := nat.Mode(c.Mode)
	if mode != nat.ModeNAT && mode != nat.ModePassThrough {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	seen := map[uint8]bool{}
	for _, dev := range c.Devices {
		if int(dev.ID) >= iodev.MaxDevices {
			return fmt.Errorf("device %d out of range (max %d)", dev.ID, iodev.MaxDevices-1)
		}
		if seen[dev.ID] {
			return fmt.Errorf("device %d configured twice", dev.ID)
		}
		seen[dev.ID] = true

		if c.NAT.DevicesMask&(1<<dev.ID) == 0 {
			continue
		}
		if _, err := net.ParseMAC(dev.MAC); err != nil {
			return fmt.Errorf("device %d: invalid mac %q: %w", dev.ID, dev.MAC, err)
		}
		if _, err := net.ParseMAC(dev.EndpointMAC); err != nil {
			return fmt.Errorf("device %d: invalid endpoint_mac %q: %w", dev.ID, dev.EndpointMAC, err)
		}
	}

	if c.NAT.DevicesMask&(1<<c.NAT.WANDevice) == 0 {
		return fmt.Errorf("WAN device %d is not enabled", c.NAT.WANDevice)
	}
	if !seen[c.NAT.WANDevice] {
		return fmt.Errorf("WAN device %d is not configured", c.NAT.WANDevice)
	}
	if c.NAT.DevicesMask&(1<<c.NAT.LANMainDevice) == 0 {
		return fmt.Errorf("main LAN device %d is not enabled", c.NAT.LANMainDevice)
	}

	if mode == nat.ModePassThrough {
		return nil
	}

	ip := net.ParseIP(c.NAT.ExternalAddr)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid external address %q", c.NAT.ExternalAddr)
	}
	if c.NAT.MaxFlows <= 0 {
		return fmt.Errorf("max_flows must be strictly positive")
	}
	if c.NAT.StartPort == 0 {
		return fmt.Errorf("start_port must be strictly positive")
	}
	if int(c.NAT.StartPort)+c.NAT.MaxFlows > 65536 {
		return fmt.Errorf("port range [%d, %d) exceeds 65535",
			c.NAT.StartPort, int(c.NAT.StartPort)+c.NAT.MaxFlows)
	}
	if c.NAT.ExpirationTime <= 0 {
		return fmt.Errorf("expiration_time must be strictly positive")
	}

	return nil
}

// EngineConfig converts the loaded configuration into the engine's static
// record.
func (c *Config) EngineConfig() (nat.Config, error) {
	ec := nat.Config{
		WANDevice:      iodev.DeviceID(c.NAT.WANDevice),
		LANMainDevice:  iodev.DeviceID(c.NAT.LANMainDevice),
		DevicesMask:    c.NAT.DevicesMask,
		StartPort:      c.NAT.StartPort,
		MaxFlows:       c.NAT.MaxFlows,
		ExpirationTime: c.NAT.ExpirationTime,
	}

	if nat.Mode(c.Mode) == nat.ModeNAT {
		ip := net.ParseIP(c.NAT.ExternalAddr).To4()
		if ip == nil {
			return ec, fmt.Errorf("invalid external address %q", c.NAT.ExternalAddr)
		}
		ec.ExternalAddr = binary.BigEndian.Uint32(ip)
	}

	for _, dev := range c.Devices {
		if c.NAT.DevicesMask&(1<<dev.ID) == 0 {
			continue
		}
		mac, err := net.ParseMAC(dev.MAC)
		if err != nil {
			return ec, fmt.Errorf("device %d: invalid mac: %w", dev.ID, err)
		}
		endMAC, err := net.ParseMAC(dev.EndpointMAC)
		if err != nil {
			return ec, fmt.Errorf("device %d: invalid endpoint_mac: %w", dev.ID, err)
		}
		copy(ec.DeviceMACs[dev.ID][:], mac)
		copy(ec.EndpointMACs[dev.ID][:], endMAC)
	}

	return ec, nil
}
