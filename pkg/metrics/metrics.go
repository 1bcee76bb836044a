// Copyright 2024 The DevStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes chunk-store gauges and counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	FreeChunks    prometheus.Gauge
	ActiveChunks  prometheus.Gauge
	Sweeps        prometheus.Counter
	Reclaimed     prometheus.Counter
	Frozen        prometheus.Counter
	ChunksWritten prometheus.Counter
	BytesWritten  prometheus.Counter
}

// New builds the collector set and registers it with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FreeChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devstore",
			Name:      "free_chunk_descriptors",
			Help:      "Descriptors currently on the free list.",
		}),
		ActiveChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devstore",
			Name:      "active_chunks",
			Help:      "Published chunks on the active lists.",
		}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devstore",
			Name:      "lifecycle_sweeps_total",
			Help:      "Full-directory sweeps triggered by transaction end.",
		}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devstore",
			Name:      "chunks_reclaimed_total",
			Help:      "Chunks returned to the free list by the sweep.",
		}),
		Frozen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devstore",
			Name:      "chunks_frozen_total",
			Help:      "Chunks marked permanently visible.",
		}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devstore",
			Name:      "chunks_written_total",
			Help:      "Chunks flushed by the encoder.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devstore",
			Name:      "chunk_bytes_written_total",
			Help:      "Encoded chunk bytes flushed by the encoder.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FreeChunks, m.ActiveChunks, m.Sweeps,
			m.Reclaimed, m.Frozen, m.ChunksWritten, m.BytesWritten,
		)
	}
	return m
}
