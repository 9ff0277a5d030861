package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlaydispatch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	SchedulerBootstrappedGuilds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlaydispatch",
		Name:      "scheduler_bootstrapped_guilds",
		Help:      "Number of guilds with non-terminal jobs re-entered into the dispatcher at startup.",
	})

	SchedulerJobsDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "scheduler_jobs_dispatched_total",
		Help:      "Total number of playback jobs promoted to PLAYING.",
	})

	SchedulerJobsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "scheduler_jobs_failed_total",
		Help:      "Total number of jobs failed before dispatch, by reason.",
	}, []string{"reason"})

	SchedulerWatchdogFiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "scheduler_watchdog_fires_total",
		Help:      "Total number of stale PLAYING jobs released after duration plus lock padding and stale grace elapsed.",
	})

	SchedulerPreemptionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "scheduler_preemptions_total",
		Help:      "Total number of jobs preempted into a resume child.",
	})

	SchedulerActiveGuilds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlaydispatch",
		Name:      "scheduler_active_guild_actors",
		Help:      "Number of guild actors currently resident in the serializer.",
	})

	OverlayConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlaydispatch",
		Name:      "overlay_connected_clients",
		Help:      "Number of currently connected overlay websocket clients across all guilds.",
	})

	OverlayAuthFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "overlay_auth_failures_total",
		Help:      "Total number of rejected overlay handshake attempts.",
	})

	OverlayEventsInTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "overlay_events_in_total",
		Help:      "Total inbound overlay websocket events by type.",
	}, []string{"type"})

	OverlayEventsOutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "overlay_events_out_total",
		Help:      "Total outbound overlay websocket events by type.",
	}, []string{"type"})

	MediaStreamRangeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "media_stream_range_requests_total",
		Help:      "Total media range-streaming requests by response status (206, 416, 200).",
	}, []string{"status"})

	PurgeRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "purge_runs_total",
		Help:      "Total number of purge worker sweeps.",
	})

	PurgeDeletedJobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "purge_deleted_jobs_total",
		Help:      "Total number of terminal playback jobs deleted by the purge worker.",
	})

	PurgeDeletedMediaTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "purge_deleted_media_total",
		Help:      "Total number of expired unpinned media assets deleted by the purge worker.",
	})

	PurgeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "purge_errors_total",
		Help:      "Total number of purge worker sweep failures.",
	})

	PairingCodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "pairing_codes_issued_total",
		Help:      "Total number of overlay pairing codes issued.",
	})

	PairingCodesRedeemedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlaydispatch",
		Name:      "pairing_codes_redeemed_total",
		Help:      "Total number of overlay pairing codes redeemed into a client token.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SchedulerBootstrappedGuilds,
		SchedulerJobsDispatchedTotal,
		SchedulerJobsFailedTotal,
		SchedulerWatchdogFiresTotal,
		SchedulerPreemptionsTotal,
		SchedulerActiveGuilds,
		OverlayConnectedClients,
		OverlayAuthFailuresTotal,
		OverlayEventsInTotal,
		OverlayEventsOutTotal,
		MediaStreamRangeRequestsTotal,
		PurgeRunsTotal,
		PurgeDeletedJobsTotal,
		PurgeDeletedMediaTotal,
		PurgeErrorsTotal,
		PairingCodesIssuedTotal,
		PairingCodesRedeemedTotal,
	)
}
