package main

import (
	"sync"

	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/session"
	"github.com/criyle/go-rtide/worker"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "rtide"
)

var (
	// 1ms -> 10s
	timeBuckets = []float64{
		0.001, 0.002, 0.005, 0.008, 0.010, 0.025, 0.050, 0.075, 0.1, 0.2,
		0.4, 0.6, 0.8, 1.0, 1.5, 2, 5, 10,
	}

	// 10ms -> 60s, including the round trip to the service
	durationBuckets = []float64{
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20, 30, 60,
	}

	// 256KB (1<<8 KB) -> 4GB (1<<22 KB)
	memoryBucket = prometheus.ExponentialBuckets(1<<8, 2, 15)

	metricsSummaryQuantile = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

	runCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "run_total",
		Help:      "Number of finished run cycles",
	}, []string{"outcome", "language"})

	runStaleCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "run_stale_total",
		Help:      "Number of run cycles finished after a newer run started",
	})

	runDurationHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Histogram for the wall time of a run cycle",
		Buckets:   durationBuckets,
	}, []string{"outcome"})

	execTimeHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "time_seconds",
		Help:      "Histogram for the running time reported by the service",
		Buckets:   timeBuckets,
	}, []string{"status"})

	execTimeSummary = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  metricsNamespace,
		Name:       "time",
		Help:       "Summary for the running time reported by the service",
		Objectives: metricsSummaryQuantile,
	}, []string{"status"})

	execMemHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "memory_kilobytes",
		Help:      "Histgram for the memory reported by the service",
		Buckets:   memoryBucket,
	}, []string{"status"})

	execMemSummary = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  metricsNamespace,
		Name:       "memory",
		Help:       "Summary for the memory reported by the service",
		Objectives: metricsSummaryQuantile,
	}, []string{"status"})

	submitErrorCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "submit_error",
		Help:      "Number of submissions that returned error",
	})

	submitWaitHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "submit_wait_seconds",
		Help:      "Histogram for the time a submission waits in the worker queue",
		Buckets:   durationBuckets,
	})

	submitDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "submit_duration_seconds",
		Help:      "Histogram for the round trip of a submission to the service",
		Buckets:   durationBuckets,
	})

	sessionCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "session_created",
		Help:      "Total number of sessions created",
	})

	sessionCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "session_current_total",
		Help:      "Total number of live sessions",
	})
)

func init() {
	prometheus.MustRegister(runCount, runStaleCount, runDurationHist)
	prometheus.MustRegister(execTimeHist, execTimeSummary)
	prometheus.MustRegister(execMemHist, execMemSummary)
	prometheus.MustRegister(submitErrorCount, submitWaitHist, submitDurationHist)
	prometheus.MustRegister(sessionCreated, sessionCurrent)
}

func execObserve(res worker.Response) {
	if res.Error != nil {
		submitErrorCount.Inc()
	}
	submitWaitHist.Observe(res.Wait.Seconds())
	if res.Duration > 0 {
		submitDurationHist.Observe(res.Duration.Seconds())
	}
}

func runObserve(rp ide.RunReport) {
	runCount.WithLabelValues(rp.Outcome, string(rp.Language)).Inc()
	runDurationHist.WithLabelValues(rp.Outcome).Observe(rp.Duration.Seconds())
	if rp.Stale {
		runStaleCount.Inc()
	}
	if rp.Status == "" {
		return
	}
	if rp.Time != nil {
		execTimeHist.WithLabelValues(rp.Status).Observe(*rp.Time)
		execTimeSummary.WithLabelValues(rp.Status).Observe(*rp.Time)
	}
	if rp.Memory != nil {
		execMemHist.WithLabelValues(rp.Status).Observe(*rp.Memory)
		execMemSummary.WithLabelValues(rp.Status).Observe(*rp.Memory)
	}
}

var _ session.Store = &metricsSessionStore{}

type metricsSessionStore struct {
	mu sync.Mutex
	session.Store
	live map[string]struct{}
}

func newMetricsSessionStore(s session.Store) session.Store {
	return &metricsSessionStore{
		Store: s,
		live:  make(map[string]struct{}),
	}
}

func (m *metricsSessionStore) Add(sess *session.Session) (string, error) {
	id, err := m.Store.Add(sess)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.live[id] = struct{}{}
	sessionCreated.Inc()
	sessionCurrent.Inc()
	return id, nil
}

func (m *metricsSessionStore) Remove(id string) bool {
	success := m.Store.Remove(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[id]; !ok {
		return success
	}
	delete(m.live, id)
	sessionCurrent.Dec()
	return success
}
