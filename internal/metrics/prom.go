// Package metrics summarises timelines and exports recorder counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes.
const (
	IngestOpened     = "opened"
	IngestTransition = "transition"
	IngestRecolor    = "recolor"
	IngestUnchanged  = "unchanged"
)

// Persist outcomes.
const (
	PersistWritten   = "written"
	PersistRemoved   = "removed"
	PersistThrottled = "throttled"
	PersistDeferred  = "deferred"
	PersistFailed    = "failed"
)

// Restore outcomes.
const (
	RestoreLoaded    = "loaded"
	RestoreMiss      = "miss"
	RestoreMalformed = "malformed"
	RestoreStale     = "stale"
	RestoreFailed    = "failed"
)

// Migration outcomes.
const (
	MigrationRelocated = "relocated"
	MigrationDeferred  = "deferred"
	MigrationFailed    = "failed"
)

var (
	ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftmonitor",
			Subsystem: "timeline",
			Name:      "observations_total",
			Help:      "Status observations by effect on the segment log.",
		},
		[]string{"outcome"},
	)

	persistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftmonitor",
			Subsystem: "timeline",
			Name:      "persists_total",
			Help:      "Persist attempts by outcome.",
		},
		[]string{"outcome"},
	)

	restoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftmonitor",
			Subsystem: "timeline",
			Name:      "restores_total",
			Help:      "Restore attempts by outcome.",
		},
		[]string{"outcome"},
	)

	migrationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftmonitor",
			Subsystem: "timeline",
			Name:      "migrations_total",
			Help:      "Bucket key changes by outcome.",
		},
		[]string{"outcome"},
	)

	pollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftmonitor",
			Subsystem: "feed",
			Name:      "polls_total",
			Help:      "Status feed polls by result.",
		},
		[]string{"machine", "result"},
	)
)

func ObserveIngest(outcome string)    { ingestTotal.WithLabelValues(outcome).Inc() }
func ObservePersist(outcome string)   { persistTotal.WithLabelValues(outcome).Inc() }
func ObserveRestore(outcome string)   { restoreTotal.WithLabelValues(outcome).Inc() }
func ObserveMigration(outcome string) { migrationTotal.WithLabelValues(outcome).Inc() }

// ObservePoll counts one status feed poll for machine.
func ObservePoll(machine string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	pollTotal.WithLabelValues(machine, result).Inc()
}
