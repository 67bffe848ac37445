package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"merchant-guard/core/decision"
	"merchant-guard/core/jobs"
)

// AccessMetrics observes decisions and maintenance runs. It is created before
// the engine so it can be passed in as the decision observer.
type AccessMetrics struct {
	decisions  *prometheus.CounterVec
	evaluation *prometheus.HistogramVec
	retention  *prometheus.CounterVec
	purged     *prometheus.CounterVec
}

func NewAccessMetrics() *AccessMetrics {
	return &AccessMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mguard_access_decisions_total",
			Help: "Access decisions by guard, outcome and reason.",
		}, []string{"guard", "outcome", "reason"}),
		evaluation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mguard_access_evaluation_seconds",
			Help:    "Time spent evaluating access checks.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"guard"}),
		retention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mguard_retention_runs_total",
			Help: "Retention job runs by result.",
		}, []string{"result"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mguard_retention_rows_deleted_total",
			Help: "Rows removed by the retention job.",
		}, []string{"table"}),
	}
}

func (m *AccessMetrics) ObserveDecision(d decision.Decision, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "admit"
	if !d.Admit {
		outcome = "deny"
	}
	m.decisions.WithLabelValues(d.Guard, outcome, string(d.Reason)).Inc()
	m.evaluation.WithLabelValues(d.Guard).Observe(elapsed.Seconds())
}

// ObserveRetention matches jobs.Retention.OnRun.
func (m *AccessMetrics) ObserveRetention(rep jobs.Report, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.retention.WithLabelValues("error").Inc()
	} else {
		m.retention.WithLabelValues("ok").Inc()
	}
	m.purged.WithLabelValues("access_attempts").Add(float64(rep.AttemptsDeleted))
	m.purged.WithLabelValues("access_tokens").Add(float64(rep.TokensPurged))
}

func (m *AccessMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.decisions, m.evaluation, m.retention, m.purged}
}

// RecorderStats is the view of the async recorder exported as metrics.
type RecorderStats interface {
	Dropped() int64
	Written() int64
	QueueLen() int
}

type recorderMetricsCollector struct {
	stats RecorderStats

	droppedDesc *prometheus.Desc
	writtenDesc *prometheus.Desc
	queueDesc   *prometheus.Desc
}

func newRecorderMetricsCollector(stats RecorderStats) prometheus.Collector {
	return &recorderMetricsCollector{
		stats: stats,
		droppedDesc: prometheus.NewDesc(
			"mguard_activity_dropped_total",
			"Access attempts dropped because the recorder queue was full.",
			nil, nil,
		),
		writtenDesc: prometheus.NewDesc(
			"mguard_activity_written_total",
			"Access attempts written by the recorder.",
			nil, nil,
		),
		queueDesc: prometheus.NewDesc(
			"mguard_activity_queue_length",
			"Access attempts waiting to be written.",
			nil, nil,
		),
	}
}

func (c *recorderMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.droppedDesc
	ch <- c.writtenDesc
	ch <- c.queueDesc
}

func (c *recorderMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.stats == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(c.stats.Dropped()))
	ch <- prometheus.MustNewConstMetric(c.writtenDesc, prometheus.CounterValue, float64(c.stats.Written()))
	ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(c.stats.QueueLen()))
}
