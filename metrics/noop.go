// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import "net/http"

// noopMetrics implements a no operations metrics service.
type noopMetrics struct{}

func defaultNoopMetrics() Metrics { return &noopMetrics{} }

func (n *noopMetrics) GetOrCreateCountMeter(string) CountMeter { return noop }

func (n *noopMetrics) GetOrCreateCountVecMeter(string, []string) CountVecMeter { return noop }

func (n *noopMetrics) GetOrCreateGaugeMeter(string) GaugeMeter { return noop }

func (n *noopMetrics) GetOrCreateGaugeVecMeter(string, []string) GaugeVecMeter { return noop }

func (n *noopMetrics) GetOrCreateHistogramMeter(string, []int64) HistogramMeter { return noop }

func (n *noopMetrics) GetOrCreateHistogramVecMeter(string, []string, []int64) HistogramVecMeter {
	return noop
}

func (n *noopMetrics) GetOrCreateHandler() http.Handler { return nil }

var noop = noopMeters{}

type noopMeters struct{}

func (n noopMeters) Add(int64) {}

func (n noopMeters) AddWithLabel(int64, map[string]string) {}

func (n noopMeters) Gauge(int64) {}

func (n noopMeters) GaugeWithLabel(int64, map[string]string) {}

func (n noopMeters) Observe(int64) {}

func (n noopMeters) ObserveWithLabels(int64, map[string]string) {}
