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
	// PeersUnhealthy tracks transitions of a peer to the unhealthy state.
	PeersUnhealthy = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "peers_unhealthy_total",
			Help:      "Total number of times a peer was observed unhealthy",
		},
	)

	// ReconnectAttempts tracks reconnection attempts made by the liveness
	// supervisor, by outcome.
	ReconnectAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnection attempts made",
		},
		[]string{"outcome"}, // attempted, succeeded, failed
	)

	// RecoveriesFailed tracks peers for which the retry budget was
	// exhausted.
	RecoveriesFailed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "recoveries_failed_total",
			Help:      "Total number of peers that exhausted their reconnection budget",
		},
	)

	// ActivePeers tracks the number of peers with an authenticated session.
	ActivePeers = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "active_peers",
			Help:      "Number of peers with an authenticated session",
		},
	)

	// NetworkErrorRate tracks the most recent error-rate sample, as a
	// percentage of total messages.
	NetworkErrorRate = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "network_error_rate_percent",
			Help:      "Most recent network-wide error rate, as a percentage",
		},
	)

	// EventLogSize tracks the current number of buffered network events.
	EventLogSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "event_log_size",
			Help:      "Number of events currently held in the network event log",
		},
	)
)
