// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// latencyBuckets mirrors the pack's own FsyncLatencyBuckets pattern
// (CyberFlameGO-pebble-1/metrics.go): linear buckets for the common case,
// exponential tail for outliers.
var latencyBuckets = append(
	prometheus.LinearBuckets(0, (100*time.Microsecond).Seconds(), 20),
	prometheus.ExponentialBucketsRange((5*time.Millisecond).Seconds(), (10*time.Second).Seconds(), 20)...,
)

// opHistogram pairs a prometheus histogram (for /metrics scraping) with an
// HdrHistogram-go recorder (for the in-process Query RPC's p50/p99/p999
// summary, spec §6 "Query ... metrics").
type opHistogram struct {
	prom *prometheus.HistogramVec
	hdr  *hdrhistogram.Histogram
}

func newOpHistogram(name, help string) *opHistogram {
	return &opHistogram{
		prom: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: latencyBuckets,
		}, []string{"op"}),
		hdr: hdrhistogram.New(1, int64(30*time.Second), 3),
	}
}

func (h *opHistogram) observe(op string, d time.Duration) {
	h.prom.WithLabelValues(op).Observe(d.Seconds())
	h.hdr.RecordValue(int64(d))
}

// LatencySummary is the p50/p99/p999/max snapshot reported by Query.
type LatencySummary struct {
	P50, P99, P999 time.Duration
	Max            time.Duration
	Count          int64
}

func (h *opHistogram) snapshot() LatencySummary {
	return LatencySummary{
		P50:   time.Duration(h.hdr.ValueAtQuantile(50)),
		P99:   time.Duration(h.hdr.ValueAtQuantile(99)),
		P999:  time.Duration(h.hdr.ValueAtQuantile(99.9)),
		Max:   time.Duration(h.hdr.Max()),
		Count: h.hdr.TotalCount(),
	}
}

// Metrics holds every Query-facing counter/histogram the core exposes,
// registered with a caller-supplied prometheus.Registerer so a process
// embedding more than one Core doesn't collide on metric names.
type Metrics struct {
	TabletsLoaded   prometheus.Gauge
	ReadsTotal      *prometheus.CounterVec
	WritesTotal     *prometheus.CounterVec
	ScansTotal      prometheus.Counter
	CompactionsTotal prometheus.Counter
	BgErrorsTotal   prometheus.Counter

	ReadLatency  *opHistogram
	WriteLatency *opHistogram
	ScanLatency  *opHistogram
}

// NewMetrics constructs and registers the Core's metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TabletsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabletserver_tablets_loaded",
			Help: "Number of tablets currently loaded on this server.",
		}),
		ReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletserver_reads_total",
			Help: "Total ReadTablet calls, by outcome status.",
		}, []string{"status"}),
		WritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletserver_writes_total",
			Help: "Total WriteTablet calls, by outcome status.",
		}, []string{"status"}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletserver_scans_total",
			Help: "Total ScanTablet calls.",
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletserver_manual_compactions_total",
			Help: "Total CompactTablet calls.",
		}),
		BgErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletserver_background_errors_total",
			Help: "Total background errors reported by engines.",
		}),
		ReadLatency:  newOpHistogram("tabletserver_read_latency_seconds", "ReadTablet latency."),
		WriteLatency: newOpHistogram("tabletserver_write_latency_seconds", "WriteTablet latency."),
		ScanLatency:  newOpHistogram("tabletserver_scan_latency_seconds", "ScanTablet latency."),
	}
	reg.MustRegister(m.TabletsLoaded, m.ReadsTotal, m.WritesTotal, m.ScansTotal,
		m.CompactionsTotal, m.BgErrorsTotal, m.ReadLatency.prom, m.WriteLatency.prom, m.ScanLatency.prom)
	return m
}
