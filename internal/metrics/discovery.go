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
	// DiscoveryBroadcastsSent tracks UDP discovery broadcasts sent.
	DiscoveryBroadcastsSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "broadcasts_sent_total",
			Help:      "Total number of discovery broadcasts sent",
		},
	)

	// DiscoveryResponsesReceived tracks discovery responses received, by
	// whether the responder was already known.
	DiscoveryResponsesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "responses_received_total",
			Help:      "Total number of discovery responses received",
		},
		[]string{"status"}, // new_peer, known_peer
	)

	// PeersKnown tracks the current size of the discovered-peer set.
	PeersKnown = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "peers_known",
			Help:      "Number of peers currently known to discovery",
		},
	)
)
