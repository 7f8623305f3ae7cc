package registry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce      sync.Once
	sessionsStarted  prometheus.Counter
	sessionsFinished prometheus.Counter
	sessionsFailed   prometheus.Counter
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
			Name: "cluster_kms_share_move_sessions_started_total",
			Help: "Share move sessions constructed on this node.",
		})
		sessionsFinished = promauto.NewCounter(prometheus.CounterOpts{
			Name: "cluster_kms_share_move_sessions_finished_total",
			Help: "Share move sessions that reached the terminal state cleanly.",
		})
		sessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
			Name: "cluster_kms_share_move_sessions_failed_total",
			Help: "Share move sessions abandoned after a handler failure.",
		})
	})
}
