// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksSent tracks chunks handed to a transport by the delivery layer.
	ChunksSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "chunks_sent_total",
			Help:      "Total number of data chunks sent",
		},
		[]string{"status"}, // first_attempt, retransmit
	)

	// ChunksReceived tracks chunks accepted into a reassembly buffer.
	ChunksReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "chunks_received_total",
			Help:      "Total number of data chunks received",
		},
		[]string{"status"}, // accepted, duplicate, checksum_mismatch
	)

	// GroupsCompleted tracks fully reassembled or fully acknowledged
	// delivery groups.
	GroupsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "groups_completed_total",
			Help:      "Total number of delivery groups completed",
		},
		[]string{"role", "status"}, // sender/receiver, success/timeout
	)

	// DeliveryDuration tracks end-to-end delivery time of one group, from
	// first chunk sent to the final acknowledgment.
	DeliveryDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "group_duration_seconds",
			Help:      "Delivery group completion duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	// PayloadSize tracks the size of payloads handed to the delivery layer
	// before fragmentation.
	PayloadSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "payload_size_bytes",
			Help:      "Size of payloads submitted for delivery",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 12),
		},
	)
)
