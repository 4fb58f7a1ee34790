// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"

	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Bridge holds the serial-to-I2C adapter link settings
	Bridge struct {
		Port        string `yaml:"port"`
		BusSpeedKHz int    `yaml:"busSpeedKHz"`
	}

	// Rail binds a device page to a display name
	Rail struct {
		Page int    `yaml:"page"`
		Name string `yaml:"name"`
	}

	// Device identifies the eFuse on the bus and its rail layout
	Device struct {
		Address int    `yaml:"address"` // 7-bit bus address
		Rails   []Rail `yaml:"rails"`
	}

	Monitor struct {
		Interval time.Duration `yaml:"interval"` // poll interval in watch mode
	}

	Web struct {
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Exporter configuration (watch mode)
	StdoutExporter struct {
		Enabled *bool `yaml:"enabled"`
	}

	PrometheusExporter struct {
		Enabled *bool `yaml:"enabled"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakeBridge struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"fake-bridge"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Bridge   Bridge   `yaml:"bridge"`
		Device   Device   `yaml:"device"`
		Monitor  Monitor  `yaml:"monitor"`
		Exporter Exporter `yaml:"exporter"`
		Web      Web      `yaml:"web"`
		Dev      Dev      `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	BridgePortFlag  = "bridge.port"
	BridgeSpeedFlag = "bridge.speed-khz"

	DeviceAddressFlag = "device.address"

	MonitorIntervalFlag = "monitor.interval"

	WebListenAddressFlag = "web.listen-address"

	ExporterStdoutEnabledFlag     = "exporter.stdout"
	ExporterPrometheusEnabledFlag = "exporter.prometheus"
)

// supportedBusSpeeds are the I2C clocks the USB-ISS adapter can produce.
var supportedBusSpeeds = map[int]bool{20: true, 50: true, 100: true, 400: true, 1000: true}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Bridge: Bridge{
			Port:        "/dev/ttyACM0",
			BusSpeedKHz: 100,
		},
		Device: Device{
			Address: 0x70,
			Rails: []Rail{
				{Page: 0, Name: "Main Rail (Loop 1)"},
				{Page: 1, Name: "Aux Rail (Loop 2)"},
				{Page: 2, Name: "Rail 3 (Loop 3)"},
			},
		},
		Monitor: Monitor{
			Interval: 5 * time.Second,
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled: ptr.To(true),
			},
			Prometheus: PrometheusExporter{
				Enabled: ptr.To(true),
			},
		},
		Web: Web{
			ListenAddresses: []string{":29282"},
		},
	}

	cfg.Dev.FakeBridge.Enabled = ptr.To(false)
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	var errRet error
	defer func() {
		err = file.Close()
		if err != nil && errRet == nil {
			errRet = err
		}
	}()

	cfg, errRet := Load(file)

	return cfg, errRet
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// bridge
	bridgePort := app.Flag(BridgePortFlag, "Serial port of the USB-ISS bridge").Default("/dev/ttyACM0").String()
	bridgeSpeed := app.Flag(BridgeSpeedFlag, "I2C bus speed in kHz (20, 50, 100, 400, 1000)").Default("100").Int()

	// device
	deviceAddress := app.Flag(DeviceAddressFlag, "7-bit bus address of the eFuse").Default("0x70").String()

	// monitor
	monitorInterval := app.Flag(MonitorIntervalFlag, "Poll interval in watch mode").Default("5s").Duration()

	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses for the Prometheus exporter").Default(":29282").Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout report in watch mode").Default("true").Bool()
	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter in watch mode").Default("true").Bool()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[BridgePortFlag] {
			cfg.Bridge.Port = *bridgePort
		}
		if flagsSet[BridgeSpeedFlag] {
			cfg.Bridge.BusSpeedKHz = *bridgeSpeed
		}

		if flagsSet[DeviceAddressFlag] {
			addr, err := parseAddress(*deviceAddress)
			if err != nil {
				return err
			}
			cfg.Device.Address = addr
		}

		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}
		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

// parseAddress accepts "0x70" or "112" style bus addresses.
func parseAddress(s string) (int, error) {
	addr, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid device address %q", s)
	}
	return int(addr), nil
}

// sanitize trims string settings
func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Bridge.Port = strings.TrimSpace(c.Bridge.Port)
	for i := range c.Device.Rails {
		c.Device.Rails[i].Name = strings.TrimSpace(c.Device.Rails[i].Name)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}

	if c.Bridge.Port == "" {
		errs = append(errs, "bridge port cannot be empty")
	}
	if !supportedBusSpeeds[c.Bridge.BusSpeedKHz] {
		errs = append(errs, fmt.Sprintf("unsupported bus speed: %d kHz", c.Bridge.BusSpeedKHz))
	}

	if c.Device.Address < 0 || c.Device.Address > 0x7F {
		errs = append(errs, fmt.Sprintf("device address out of 7-bit range: 0x%X", c.Device.Address))
	}

	if len(c.Device.Rails) == 0 {
		errs = append(errs, "at least one rail must be configured")
	}
	pages := map[int]bool{}
	for _, rail := range c.Device.Rails {
		if rail.Page < 0 || rail.Page > 0xFF {
			errs = append(errs, fmt.Sprintf("rail %q page out of range: %d", rail.Name, rail.Page))
		}
		if pages[rail.Page] {
			errs = append(errs, fmt.Sprintf("duplicate rail page: %d", rail.Page))
		}
		pages[rail.Page] = true
	}

	if c.Monitor.Interval <= 0 {
		errs = append(errs, "monitor interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}
	return nil
}

// String returns the config rendered as yaml, for logging at startup.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config marshal error: %v>", err)
	}
	return string(data)
}
