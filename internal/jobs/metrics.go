package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics はジョブの状態遷移を Prometheus に記録します。
// nil の場合は何も記録しません。
type Metrics struct {
	transitions *prometheus.CounterVec
	waitTime    *prometheus.HistogramVec
	runningTime *prometheus.HistogramVec
}

// NewMetrics は reg にメトリクスを登録します。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobtracker_job_transitions_total",
			Help: "Total number of job status transitions.",
		}, []string{"job_type", "status"}),
		waitTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobtracker_job_wait_seconds",
			Help:    "Time between job creation and start in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"job_type"}),
		runningTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobtracker_job_running_seconds",
			Help:    "Time between job start and end in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"job_type"}),
	}
}

// Transitions はテストや管理画面向けにカウンターを返します。
func (m *Metrics) Transitions() *prometheus.CounterVec {
	return m.transitions
}

func (m *Metrics) observeTransition(jobType string, status Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(jobType, string(status)).Inc()
}

func (m *Metrics) observeWait(jobType string, d time.Duration) {
	if m == nil {
		return
	}
	m.waitTime.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) observeRunning(jobType string, d time.Duration) {
	if m == nil {
		return
	}
	m.runningTime.WithLabelValues(jobType).Observe(d.Seconds())
}
