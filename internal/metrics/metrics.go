// Package metrics exposes Prometheus instrumentation for the control plane:
// connected-agent gauge, handshake outcomes, scheduler job health, and
// device-sync transitions. Adapted from the teacher's update-focused
// metrics set to the control-plane's own domain events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helios_agents_connected",
		Help: "Number of agents currently registered with the connection manager.",
	})
	HandshakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helios_handshakes_total",
		Help: "Total number of agent handshake attempts by outcome.",
	}, []string{"outcome"})
	SchedulerJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helios_scheduler_job_duration_seconds",
		Help:    "Duration of periodic scheduler job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	SchedulerJobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helios_scheduler_job_failures_total",
		Help: "Total number of periodic scheduler job executions that returned an error.",
	}, []string{"job"})
	DeviceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helios_device_transitions_total",
		Help: "Total number of device state transitions observed by SyncDevices.",
	}, []string{"transition"})
	ServicesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helios_services_created_total",
		Help: "Total number of services created via CreateService.",
	})
	PingTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helios_ping_timeouts_total",
		Help: "Total number of connections closed after failing to answer a liveness ping in time.",
	})
)
