// Package metrics provides Prometheus metrics for the dynrat solver and calibrator.
package metrics

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by dynrat.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         *prometheus.Registry

	// Solver
	solverSteps      *prometheus.CounterVec
	solverIterations prometheus.Histogram
	solverFailures   *prometheus.CounterVec

	// Calibration
	calibrationRuns       *prometheus.CounterVec
	calibrationIterations prometheus.Histogram
	calibrationDuration   prometheus.Histogram
	calibrationMAPE       prometheus.Gauge
	calibrationRoughness  *prometheus.GaugeVec

	// Quality filter
	measurementsUsed     prometheus.Counter
	measurementsExcluded *prometheus.CounterVec

	// Worker pool
	poolJobs      *prometheus.CounterVec
	poolWorkers   prometheus.Gauge
	poolJobMillis prometheus.Histogram
}

var (
	globalMu      sync.RWMutex
	globalManager = NewManager() //nolint:gochecknoglobals // process-wide metrics manager
)

// NewManager creates a metrics manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "dynrat",
		subsystem:        "rating",
		histogramBuckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89},
		enabled:          true,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.solverSteps = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "solver_steps_total",
		Help:      "Solver time steps by result (converged, steady, failed)",
	}, []string{"result"})

	m.solverIterations = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "solver_iterations",
		Help:      "Newton iterations needed per unsteady time step",
		Buckets:   m.histogramBuckets,
	})

	m.solverFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "solver_failures_total",
		Help:      "Solver failures by error kind",
	}, []string{"kind"})

	m.calibrationRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_runs_total",
		Help:      "Calibration runs by outcome",
	}, []string{"outcome"})

	m.calibrationIterations = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_iterations",
		Help:      "Levenberg-Marquardt iterations per calibration run",
		Buckets:   m.histogramBuckets,
	})

	m.calibrationDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_duration_seconds",
		Help:      "Wall time of calibration runs",
		Buckets:   prometheus.DefBuckets,
	})

	m.calibrationMAPE = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_mape_percent",
		Help:      "Mean absolute percent error of the last calibration",
	})

	m.calibrationRoughness = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_roughness",
		Help:      "Calibrated Manning roughness per subsection",
	}, []string{"subsection"})

	m.measurementsUsed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "measurements_used_total",
		Help:      "Field measurements accepted for calibration",
	})

	m.measurementsExcluded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "measurements_excluded_total",
		Help:      "Field measurements excluded from calibration by reason",
	}, []string{"reason"})

	m.poolJobs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pool_jobs_total",
		Help:      "Worker pool jobs by result",
	}, []string{"result"})

	m.poolWorkers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pool_workers",
		Help:      "Configured worker pool size",
	})

	m.poolJobMillis = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pool_job_duration_milliseconds",
		Help:      "Duration of individual pool jobs",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Registry returns the registry backing this manager.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes every metric of m to path in text exposition format.
func (m *Manager) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTextfile, err)
	}
	return nil
}

// SetGlobal replaces the process-wide manager (tests use a fresh one per case).
func SetGlobal(m *Manager) {
	if m == nil {
		return
	}
	globalMu.Lock()
	globalManager = m
	globalMu.Unlock()
}

// Global returns the process-wide manager.
func Global() *Manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

func current() *Manager {
	m := Global()
	if !m.enabled {
		return nil
	}
	return m
}

// RecordSolverStep counts a solved time step and its iteration count.
func RecordSolverStep(result string, iterations int) {
	if m := current(); m != nil {
		m.solverSteps.WithLabelValues(result).Inc()
		if iterations > 0 {
			m.solverIterations.Observe(float64(iterations))
		}
	}
}

// RecordSolverFailure counts a solver failure of the given kind.
func RecordSolverFailure(kind string) {
	if m := current(); m != nil {
		m.solverFailures.WithLabelValues(kind).Inc()
	}
}

// RecordCalibrationRun counts a finished calibration.
func RecordCalibrationRun(outcome string, iterations int, seconds float64) {
	if m := current(); m != nil {
		m.calibrationRuns.WithLabelValues(outcome).Inc()
		m.calibrationIterations.Observe(float64(iterations))
		m.calibrationDuration.Observe(seconds)
	}
}

// UpdateCalibrationFit publishes the fit of the last calibration.
func UpdateCalibrationFit(mape float64, roughness []float64) {
	if m := current(); m != nil {
		m.calibrationMAPE.Set(mape)
		for i, n := range roughness {
			m.calibrationRoughness.WithLabelValues(strconv.Itoa(i)).Set(n)
		}
	}
}

// RecordMeasurementUsed counts a measurement accepted by the quality filter.
func RecordMeasurementUsed() {
	if m := current(); m != nil {
		m.measurementsUsed.Inc()
	}
}

// RecordMeasurementExcluded counts an excluded measurement per reason.
func RecordMeasurementExcluded(reason string) {
	if m := current(); m != nil {
		m.measurementsExcluded.WithLabelValues(reason).Inc()
	}
}

// UpdatePoolWorkers sets the configured worker count.
func UpdatePoolWorkers(count int) {
	if m := current(); m != nil {
		m.poolWorkers.Set(float64(count))
	}
}

// RecordPoolJob counts a finished pool job and its latency.
func RecordPoolJob(result string, latencyMs float64) {
	if m := current(); m != nil {
		m.poolJobs.WithLabelValues(result).Inc()
		m.poolJobMillis.Observe(latencyMs)
	}
}
