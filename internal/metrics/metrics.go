// Package metrics exposes Prometheus instrumentation for the hub runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadyQueueLength is the current depth of the hub's ready queue.
	ReadyQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanilla_hub_ready_queue_length",
			Help: "Current number of tasks waiting in the ready queue",
		},
	)

	// TimersLive is the current number of live (non-cancelled) timer entries.
	TimersLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanilla_hub_timers_live",
			Help: "Current number of live timer entries in the timer heap",
		},
	)

	// FDsRegistered is the current number of fds registered with the poller.
	FDsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanilla_hub_fds_registered",
			Help: "Current number of file descriptors registered with the readiness multiplexer",
		},
	)

	// TasksSpawnedTotal is the counter for spawned tasks. No code in this
	// module increments it; the hub's own count is in hub.Stats.
	TasksSpawnedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vanilla_hub_tasks_spawned_total",
			Help: "Total number of tasks spawned",
		},
	)

	// TasksFinishedTotal is the counter for finished tasks. No code in this
	// module increments it; the hub's own count is in hub.Stats.
	TasksFinishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vanilla_hub_tasks_finished_total",
			Help: "Total number of tasks that finished",
		},
	)

	// PipeSendsTotal counts successful pipe sends by primitive kind.
	PipeSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanilla_pipe_sends_total",
			Help: "Total number of successful sends, by primitive kind",
		},
		[]string{"kind"},
	)

	// PipeRecvsTotal counts successful pipe receives by primitive kind.
	PipeRecvsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanilla_pipe_recvs_total",
			Help: "Total number of successful receives, by primitive kind",
		},
		[]string{"kind"},
	)

	// AbandonedTotal counts pipe ends collected without an explicit Close.
	AbandonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vanilla_pipe_abandoned_total",
			Help: "Total number of pipe ends garbage-collected without being closed",
		},
	)

	// TransportConnsActive tracks currently open transport connections.
	TransportConnsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanilla_transport_conns_active",
			Help: "Current number of open transport connections",
		},
	)
)
