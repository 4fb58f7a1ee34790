// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridwatch/efusectl/config"
	"github.com/gridwatch/efusectl/internal/device"
	"github.com/gridwatch/efusectl/internal/exporter"
	"github.com/gridwatch/efusectl/internal/monitor"
	"github.com/gridwatch/efusectl/internal/transport"
)

func main() {
	app := kingpin.New("efusectl", "PMBus eFuse controller and telemetry monitor.")
	configFile := app.Flag("config", "Path to the yaml config file").String()
	updateConfig := config.RegisterFlags(app)

	statusCmd := app.Command("status", "Read and print full telemetry for every rail")
	onCmd := app.Command("on", "Enable a rail")
	onRail := onCmd.Arg("rail", "Rail index").Required().Int()
	offCmd := app.Command("off", "Disable a rail")
	offRail := offCmd.Arg("rail", "Rail index").Required().Int()
	onAllCmd := app.Command("on-all", "Enable every configured rail")
	offAllCmd := app.Command("off-all", "Disable every configured rail")
	clearCmd := app.Command("clear", "Clear latched fault bits")
	watchCmd := app.Command("watch", "Poll telemetry periodically and export it")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.FromFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := updateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Debug("Configuration loaded", "config", cfg.String())

	if err := runCommand(command, cfg, logger, commands{
		status: statusCmd.FullCommand(),
		on:     onCmd.FullCommand(),
		off:    offCmd.FullCommand(),
		onAll:  onAllCmd.FullCommand(),
		offAll: offAllCmd.FullCommand(),
		clear:  clearCmd.FullCommand(),
		watch:  watchCmd.FullCommand(),
	}, *onRail, *offRail); err != nil {
		logger.Error("Command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

type commands struct {
	status, on, off, onAll, offAll, clear, watch string
}

func runCommand(command string, cfg *config.Config, logger *slog.Logger, cmds commands, onRail, offRail int) error {
	tr, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			logger.Warn("Failed to close transport", "error", err)
		}
	}()

	dev := device.New(tr, byte(cfg.Device.Address), device.WithLogger(logger))

	// Unlock unconditionally at session start so write-protected commands
	// succeed regardless of the device's prior state.
	if err := dev.Unlock(); err != nil {
		return err
	}

	rails := make([]monitor.Rail, 0, len(cfg.Device.Rails))
	for _, rail := range cfg.Device.Rails {
		rails = append(rails, monitor.Rail{Page: byte(rail.Page), Name: rail.Name})
	}
	pm := monitor.NewPowerMonitor(dev, rails, monitor.WithLogger(logger))

	switch command {
	case cmds.status:
		report, err := pm.ReadSystem()
		if err != nil {
			return err
		}
		return exporter.NewStdout(os.Stdout).Export(report)

	case cmds.on:
		rail, err := pm.Rail(onRail)
		if err != nil {
			return err
		}
		if err := dev.RailEnable(rail.Page); err != nil {
			return err
		}
		fmt.Printf("enabled %s\n", rail.Name)
		return nil

	case cmds.off:
		rail, err := pm.Rail(offRail)
		if err != nil {
			return err
		}
		if err := dev.RailDisable(rail.Page); err != nil {
			return err
		}
		fmt.Printf("disabled %s\n", rail.Name)
		return nil

	case cmds.onAll:
		for _, rail := range pm.Rails() {
			if err := dev.RailEnable(rail.Page); err != nil {
				return err
			}
			fmt.Printf("enabled %s\n", rail.Name)
		}
		return nil

	case cmds.offAll:
		for _, rail := range pm.Rails() {
			if err := dev.RailDisable(rail.Page); err != nil {
				return err
			}
			fmt.Printf("disabled %s\n", rail.Name)
		}
		return nil

	case cmds.clear:
		if err := dev.ClearFaults(); err != nil {
			return err
		}
		fmt.Println("faults cleared")
		return nil

	case cmds.watch:
		return runWatch(cfg, logger, pm)
	}

	return fmt.Errorf("unknown command %q", command)
}

// openTransport opens the configured bridge, or the in-memory fake when
// dev.fake-bridge is enabled.
func openTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	if cfg.Dev.FakeBridge.Enabled != nil && *cfg.Dev.FakeBridge.Enabled {
		logger.Warn("Using fake bridge; telemetry is simulated")
		return transport.NewFakeBridge(byte(cfg.Device.Address), transport.WithFakeBridgeLogger(logger)), nil
	}
	return transport.OpenUSBISS(transport.USBISSConfig{
		Port:        cfg.Bridge.Port,
		BusSpeedKHz: cfg.Bridge.BusSpeedKHz,
	}, transport.WithUSBISSLogger(logger))
}

// runWatch polls telemetry on the configured interval and serves the
// Prometheus exporter until interrupted.
func runWatch(cfg *config.Config, logger *slog.Logger, pm *monitor.PowerMonitor) error {
	var g run.Group

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	if cfg.Exporter.Stdout.Enabled != nil && *cfg.Exporter.Stdout.Enabled {
		stdout := exporter.NewStdout(os.Stdout)
		done := make(chan struct{})
		g.Add(func() error {
			ticker := time.NewTicker(cfg.Monitor.Interval)
			defer ticker.Stop()
			for {
				report, err := pm.ReadSystem()
				if err != nil {
					logger.Error("Telemetry read failed", "error", err)
				} else if err := stdout.Export(report); err != nil {
					logger.Error("Stdout export failed", "error", err)
				}
				select {
				case <-ticker.C:
				case <-done:
					return nil
				}
			}
		}, func(error) {
			close(done)
		})
	}

	if cfg.Exporter.Prometheus.Enabled != nil && *cfg.Exporter.Prometheus.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(exporter.NewCollector(pm, exporter.WithCollectorLogger(logger)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		for _, addr := range cfg.Web.ListenAddresses {
			server := &http.Server{Addr: addr, Handler: mux}
			g.Add(func() error {
				logger.Info("Serving metrics", "address", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}, func(error) {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = server.Shutdown(shutdownCtx)
			})
		}
	}

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info("Shutting down", "signal", sigErr.Signal)
		return nil
	}
	return err
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
