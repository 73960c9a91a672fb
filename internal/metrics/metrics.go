package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	heartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "s1control",
			Subsystem: "presence",
			Name:      "heartbeats_total",
			Help:      "Number of completed presence heartbeats.",
		},
	)
	activeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "s1control",
			Subsystem: "presence",
			Name:      "active_clients",
			Help:      "Live (non-stale) client rows seen by the last heartbeat.",
		},
	)
	isLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "s1control",
			Subsystem: "presence",
			Name:      "is_leader",
			Help:      "Whether this instance won the last leader election (1/0).",
		},
	)
	backupAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "s1control",
			Subsystem: "backup",
			Name:      "attempts_total",
			Help:      "Backup tick outcomes.",
		}, []string{"result"},
	)
	backupLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "s1control",
			Subsystem: "backup",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup written by this instance.",
		},
	)
	commandsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "s1control",
			Subsystem: "command",
			Name:      "executed_total",
			Help:      "Number of logged mutation commands by type.",
		}, []string{"type"},
	)
	commandsUndone = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "s1control",
			Subsystem: "command",
			Name:      "undone_total",
			Help:      "Number of commands reversed via undo.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{heartbeats, activeClients, isLeader, backupAttempts, backupLastSuccess, commandsExecuted, commandsUndone}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register
// has been called.

func IncHeartbeat() {
	if regOK.Load() {
		heartbeats.Inc()
	}
}

func SetActiveClients(n int) {
	if regOK.Load() {
		activeClients.Set(float64(n))
	}
}

func SetLeader(leader bool) {
	if regOK.Load() {
		var v float64
		if leader {
			v = 1
		}
		isLeader.Set(v)
	}
}

func IncBackup(result string) {
	if regOK.Load() {
		backupAttempts.WithLabelValues(result).Inc()
	}
}

func SetLastBackup(t time.Time) {
	if regOK.Load() {
		backupLastSuccess.Set(float64(t.Unix()))
	}
}

func IncCommand(cmdType string) {
	if regOK.Load() {
		commandsExecuted.WithLabelValues(cmdType).Inc()
	}
}

func IncUndo() {
	if regOK.Load() {
		commandsUndone.Inc()
	}
}
