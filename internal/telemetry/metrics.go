// Package telemetry exposes the gateway's Prometheus collectors.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamAttempts counts upstream call attempts per provider and outcome.
	UpstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gproxy_upstream_attempts_total",
		Help: "Upstream call attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	// PoolRotations counts credential rotations triggered by disallow marks.
	PoolRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gproxy_pool_rotations_total",
		Help: "Credential rotations after a disallow mark.",
	}, []string{"provider"})

	// DisallowMarks counts disallow marks installed per provider and level.
	DisallowMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gproxy_disallow_marks_total",
		Help: "Disallow marks installed by provider and level.",
	}, []string{"provider", "level"})

	// TokenRefreshes counts OAuth token refreshes per provider and outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gproxy_token_refreshes_total",
		Help: "OAuth token refresh attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
)
