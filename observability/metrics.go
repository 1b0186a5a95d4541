package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_rooms",
		Help: "Room coordinators currently running",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Authenticated websocket connections",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_commands_total",
		Help: "Client commands processed by rooms",
	}, []string{"command", "code"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages persisted",
	})

	DuplicateSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_duplicate_sends_total",
		Help: "Sends answered by replaying the original ack",
	})

	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_dropped_events_total",
		Help: "Events not delivered to a session",
	}, []string{"reason"})

	SendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_send_duration_seconds",
		Help:    "Time from send command to ack",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	OutboundFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_outbound_frames_total",
		Help: "Event frames written to websockets",
	})

	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_messages_total",
		Help: "Room broadcasts exchanged with other processes",
	}, []string{"direction"})

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method", "route"})

	RateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rate_limit_hits_total",
		Help: "Requests refused by a rate limit",
	}, []string{"scope"})

	// Background
	ArchivedThreads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_archived_threads_total",
		Help: "Closed threads purged after retention",
	})

	WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_worker_restarts_total",
		Help: "Supervised worker restarts after a failure",
	}, []string{"worker"})

	ProcessResidentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_process_resident_bytes",
		Help: "Resident memory of the server process",
	})

	ProcessCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_process_cpu_percent",
		Help: "CPU usage of the server process",
	})
)
