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
	// RoutedMessages tracks routing envelopes handled, by strategy and
	// outcome.
	RoutedMessages = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "messages_total",
			Help:      "Total number of routing envelopes handled",
		},
		[]string{"strategy", "outcome"}, // direct/flood/multipath/discover_route; delivered/forwarded/dropped
	)

	// RoutesDropped tracks routing envelopes dropped, by reason.
	RoutesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "dropped_total",
			Help:      "Total number of routing envelopes dropped",
		},
		[]string{"reason"}, // no_route, loop, duplicate, ttl_exceeded
	)

	// RoutingTableSize tracks the number of known destinations in the
	// routing table.
	RoutingTableSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "table_size",
			Help:      "Number of destinations known to the routing table",
		},
	)

	// MessageCacheSize tracks the number of message ids held in the
	// recent-message dedupe cache.
	MessageCacheSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "message_cache_size",
			Help:      "Number of message ids held in the recent-message cache",
		},
	)
)
