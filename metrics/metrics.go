// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package metrics is a singleton service providing global access to a set of
// meters. It wraps a Prometheus implementation and defaults to no-op.
package metrics

import "net/http"

var service = defaultNoopMetrics()

// Metrics defines the interface for metrics service implementations.
type Metrics interface {
	GetOrCreateCountMeter(name string) CountMeter
	GetOrCreateCountVecMeter(name string, labels []string) CountVecMeter
	GetOrCreateGaugeMeter(name string) GaugeMeter
	GetOrCreateGaugeVecMeter(name string, labels []string) GaugeVecMeter
	GetOrCreateHistogramMeter(name string, buckets []int64) HistogramMeter
	GetOrCreateHistogramVecMeter(name string, labels []string, buckets []int64) HistogramVecMeter
	GetOrCreateHandler() http.Handler
}

// Handler returns the http handler for retrieving metrics.
func Handler() http.Handler {
	return service.GetOrCreateHandler()
}

// HistogramMeter represents the type of metric that is calculated by
// aggregating as a histogram of all reported measurements over a time
// interval.
type HistogramMeter interface {
	Observe(int64)
}

func Histogram(name string) HistogramMeter {
	return service.GetOrCreateHistogramMeter(name, nil)
}

func HistogramWithHTTPBuckets(name string) HistogramMeter {
	return service.GetOrCreateHistogramMeter(name, defaultHTTPBuckets)
}

// HistogramVecMeter a histogram partitioned by label values.
type HistogramVecMeter interface {
	ObserveWithLabels(int64, map[string]string)
}

func HistogramVec(name string, labels []string) HistogramVecMeter {
	return service.GetOrCreateHistogramVecMeter(name, labels, nil)
}

func HistogramVecWithHTTPBuckets(name string, labels []string) HistogramVecMeter {
	return service.GetOrCreateHistogramVecMeter(name, labels, defaultHTTPBuckets)
}

var defaultHTTPBuckets = []int64{0, 150, 300, 450, 600, 900, 1200, 1500, 3000}

// CountMeter is a cumulative metric that represents a single monotonically
// increasing counter whose value can only increase or be reset to zero on
// restart.
type CountMeter interface {
	Add(int64)
}

func Counter(name string) CountMeter { return service.GetOrCreateCountMeter(name) }

// CountVecMeter a counter partitioned by label values.
type CountVecMeter interface {
	AddWithLabel(int64, map[string]string)
}

func CounterVec(name string, labels []string) CountVecMeter {
	return service.GetOrCreateCountVecMeter(name, labels)
}

// GaugeMeter a value that can go up and down.
type GaugeMeter interface {
	Gauge(int64)
}

func Gauge(name string) GaugeMeter {
	return service.GetOrCreateGaugeMeter(name)
}

// GaugeVecMeter a gauge partitioned by label values.
type GaugeVecMeter interface {
	GaugeWithLabel(int64, map[string]string)
}

func GaugeVec(name string, labels []string) GaugeVecMeter {
	return service.GetOrCreateGaugeVecMeter(name, labels)
}
