package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "planter_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	commandsEnqueued  prometheus.Counter
	commandOutcomes   *prometheus.CounterVec
	duplicateOutcomes prometheus.Counter

	pushAttempts *prometheus.CounterVec

	fanoutEvents  *prometheus.CounterVec
	fanoutDropped prometheus.Counter

	ingestRequests *prometheus.CounterVec

	socketConnections *prometheus.GaugeVec

	pendingCommands prometheus.Gauge
)

// Init registers metrics and, when db is non-nil, starts a background
// refresher for the DB-backed pending-commands gauge.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		commandsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "commands_enqueued_total",
			Help: "Total commands accepted into the pending queue",
		})
		commandOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_outcomes_total",
				Help: "Terminal command transitions by outcome",
			},
			[]string{"outcome"},
		)
		duplicateOutcomes = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "command_duplicate_outcomes_total",
			Help: "Outcome reports ignored because the command was already terminal",
		})
		pushAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_push_attempts_total",
				Help: "Command push attempts over the persistent channel by result",
			},
			[]string{"result"},
		)
		fanoutEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fanout_events_total",
				Help: "Events published to the fan-out hub by kind",
			},
			[]string{"kind"},
		)
		fanoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "fanout_dropped_total",
			Help: "Fan-out deliveries dropped because a subscriber buffer was full",
		})
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_ingest_total",
				Help: "Telemetry ingest requests by result",
			},
			[]string{"result"},
		)
		socketConnections = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "socket_connections",
				Help: "Open persistent connections by role",
			},
			[]string{"role"},
		)
		pendingCommands = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "pending_commands",
			Help: "Commands currently in pending state",
		})

		prometheus.MustRegister(
			commandsEnqueued,
			commandOutcomes,
			duplicateOutcomes,
			pushAttempts,
			fanoutEvents,
			fanoutDropped,
			ingestRequests,
			socketConnections,
			pendingCommands,
		)

		if db != nil {
			go refreshPendingGauge(db, logger)
		}
	})
}

func refreshPendingGauge(db *sql.DB, logger *log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM device_commands WHERE status = 'pending'`).Scan(&count)
		if err != nil {
			if logger != nil {
				logger.Printf("metrics: pending commands gauge refresh: %v", err)
			}
			continue
		}
		pendingCommands.Set(float64(count))
	}
}

// IncCommandEnqueued counts an accepted command.
func IncCommandEnqueued() {
	if commandsEnqueued != nil {
		commandsEnqueued.Inc()
	}
}

// IncCommandOutcome counts a terminal transition.
func IncCommandOutcome(outcome string) {
	if commandOutcomes != nil {
		commandOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncDuplicateOutcome counts an ignored duplicate outcome report.
func IncDuplicateOutcome() {
	if duplicateOutcomes != nil {
		duplicateOutcomes.Inc()
	}
}

// IncPushAttempt counts a push attempt result.
func IncPushAttempt(ok bool) {
	if pushAttempts == nil {
		return
	}
	result := resultSuccess
	if !ok {
		result = resultError
	}
	pushAttempts.WithLabelValues(result).Inc()
}

// IncFanoutEvent counts a published fan-out event.
func IncFanoutEvent(kind string) {
	if fanoutEvents != nil {
		fanoutEvents.WithLabelValues(kind).Inc()
	}
}

// IncFanoutDropped counts a dropped fan-out delivery.
func IncFanoutDropped() {
	if fanoutDropped != nil {
		fanoutDropped.Inc()
	}
}

// IncIngest counts a telemetry ingest result.
func IncIngest(ok bool) {
	if ingestRequests == nil {
		return
	}
	result := resultSuccess
	if !ok {
		result = resultError
	}
	ingestRequests.WithLabelValues(result).Inc()
}

// AddSocketConnection tracks an opened or closed persistent connection.
func AddSocketConnection(role string, delta float64) {
	if socketConnections != nil {
		socketConnections.WithLabelValues(role).Add(delta)
	}
}
