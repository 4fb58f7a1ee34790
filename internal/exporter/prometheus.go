// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwatch/efusectl/internal/device"
	"github.com/gridwatch/efusectl/internal/monitor"
)

// SystemReader is the monitor surface the collector scrapes.
type SystemReader interface {
	ReadSystem() (*monitor.SystemReport, error)
}

// Collector exposes eFuse telemetry as Prometheus metrics. Every scrape
// re-queries the device; staleness is the scraper's concern.
type Collector struct {
	logger *slog.Logger
	reader SystemReader

	up         *prometheus.Desc
	inputWatts *prometheus.Desc
	totalWatts *prometheus.Desc
	lossWatts  *prometheus.Desc
	efficiency *prometheus.Desc

	railVin    *prometheus.Desc
	railVout   *prometheus.Desc
	railAmps   *prometheus.Desc
	railWatts  *prometheus.Desc
	railFaults *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// CollectorOptFn is a functional option for configuring the collector.
type CollectorOptFn func(*Collector)

// WithCollectorLogger sets the logger.
func WithCollectorLogger(logger *slog.Logger) CollectorOptFn {
	return func(c *Collector) {
		c.logger = logger
	}
}

// NewCollector creates a Prometheus collector over reader.
func NewCollector(reader SystemReader, opts ...CollectorOptFn) *Collector {
	railLabels := []string{"rail"}
	c := &Collector{
		logger: slog.Default(),
		reader: reader,

		up: prometheus.NewDesc("efuse_up",
			"1 if the last telemetry read succeeded, 0 otherwise", nil, nil),
		inputWatts: prometheus.NewDesc("efuse_input_watts",
			"Global input power in watts", nil, nil),
		totalWatts: prometheus.NewDesc("efuse_total_output_watts",
			"Sum of rail output power in watts", nil, nil),
		lossWatts: prometheus.NewDesc("efuse_loss_watts",
			"Input power minus total output power in watts", nil, nil),
		efficiency: prometheus.NewDesc("efuse_efficiency_ratio",
			"Output over input power as a ratio, 0 when input power is not positive", nil, nil),

		railVin: prometheus.NewDesc("efuse_rail_input_volts",
			"Rail input voltage in volts", railLabels, nil),
		railVout: prometheus.NewDesc("efuse_rail_output_volts",
			"Rail output voltage in volts", railLabels, nil),
		railAmps: prometheus.NewDesc("efuse_rail_output_amps",
			"Rail output current in amperes, derived from power and voltage", railLabels, nil),
		railWatts: prometheus.NewDesc("efuse_rail_output_watts",
			"Rail output power in watts", railLabels, nil),
		railFaults: prometheus.NewDesc("efuse_rail_faults",
			"Number of active fault conditions on the rail", railLabels, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("exporter", "prometheus")
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.inputWatts
	ch <- c.totalWatts
	ch <- c.lossWatts
	ch <- c.efficiency
	ch <- c.railVin
	ch <- c.railVout
	ch <- c.railAmps
	ch <- c.railWatts
	ch <- c.railFaults
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	report, err := c.reader.ReadSystem()
	if err != nil {
		c.logger.Error("Telemetry read failed during scrape", "error", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.inputWatts, prometheus.GaugeValue, float64(report.Pin))
	ch <- prometheus.MustNewConstMetric(c.totalWatts, prometheus.GaugeValue, float64(report.TotalOut))
	ch <- prometheus.MustNewConstMetric(c.lossWatts, prometheus.GaugeValue, float64(report.Loss))
	// The report carries efficiency in percent; the metric follows the
	// Prometheus base-unit convention and exposes a ratio.
	ch <- prometheus.MustNewConstMetric(c.efficiency, prometheus.GaugeValue, report.Efficiency/100)

	for _, rail := range report.Rails {
		name := rail.Rail.Name
		ch <- prometheus.MustNewConstMetric(c.railVin, prometheus.GaugeValue, float64(rail.Vin), name)
		ch <- prometheus.MustNewConstMetric(c.railVout, prometheus.GaugeValue, float64(rail.Vout), name)
		ch <- prometheus.MustNewConstMetric(c.railAmps, prometheus.GaugeValue, float64(rail.Iout), name)
		ch <- prometheus.MustNewConstMetric(c.railWatts, prometheus.GaugeValue, float64(rail.Pout), name)

		faults := len(rail.Faults)
		if faults == 1 && rail.Faults[0] == device.NoFaults {
			faults = 0
		}
		ch <- prometheus.MustNewConstMetric(c.railFaults, prometheus.GaugeValue, float64(faults), name)
	}
}
