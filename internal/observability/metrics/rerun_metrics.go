package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	RerunItemOutcomeSuccess = "success"
	RerunItemOutcomeFailure = "failure"
)

const (
	RerunReasonDeadlineExceeded     = "deadline_exceeded"
	RerunReasonDBLockTimeout        = "db_lock_timeout"
	RerunReasonSerializationFailure = "serialization_failure"
	RerunReasonUniqueViolation      = "unique_violation"
	RerunReasonNotFound             = "not_found"
	RerunReasonUnknown              = "unknown"
)

const (
	RerunJobStatusCompleted = "completed"
	RerunJobStatusCancelled = "cancelled"
	RerunJobStatusFailed    = "failed"
)

// RerunMetrics captures OCR rerun worker health, scraped from /metrics.
type RerunMetrics struct {
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	itemDuration prometheus.Observer
	items        *prometheus.CounterVec
	itemErrors   *prometheus.CounterVec
	lockSkipped  prometheus.Counter
}

var (
	rerunMetricsOnce sync.Once
	rerunMetrics     *RerunMetrics
)

// NewRerunMetrics returns the process-wide rerun metrics registered on the default registerer.
func NewRerunMetrics(cfg Config) *RerunMetrics {
	rerunMetricsOnce.Do(func() {
		rerunMetrics = newRerunMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return rerunMetrics
}

func newRerunMetrics(registerer prometheus.Registerer, cfg Config) *RerunMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "stocktake"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobsFinished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stocktake_ocr_rerun_jobs_total",
		Help:        "OCR rerun jobs by terminal status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "stocktake_ocr_rerun_job_duration_seconds",
		Help:        "Wall time of OCR rerun jobs from claim to terminal status.",
		Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		ConstLabels: constLabels,
	}, []string{"status"})
	itemDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "stocktake_ocr_rerun_item_duration_seconds",
		Help:        "Per-roll OCR rerun latency including photo fetch and preprocessing.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		ConstLabels: constLabels,
	})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stocktake_ocr_rerun_items_total",
		Help:        "OCR rerun items by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	itemErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stocktake_ocr_rerun_item_errors_total",
		Help:        "OCR rerun item failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	lockSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "stocktake_ocr_rerun_lock_skipped_total",
		Help:        "Jobs skipped because another instance holds the session lock.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobsFinished, jobDuration, itemDuration, items, itemErrors, lockSkipped)

	return &RerunMetrics{
		jobsFinished: jobsFinished,
		jobDuration:  jobDuration,
		itemDuration: itemDuration,
		items:        items,
		itemErrors:   itemErrors,
		lockSkipped:  lockSkipped,
	}
}

// ObserveJob records a job reaching a terminal status.
func (m *RerunMetrics) ObserveJob(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveItem records one processed roll; err is nil on success.
func (m *RerunMetrics) ObserveItem(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.itemDuration.Observe(duration.Seconds())
	if err == nil {
		m.items.WithLabelValues(RerunItemOutcomeSuccess).Inc()
		return
	}
	m.items.WithLabelValues(RerunItemOutcomeFailure).Inc()
	m.itemErrors.WithLabelValues(ClassifyRerunReason(err)).Inc()
}

func (m *RerunMetrics) IncLockSkipped() {
	if m == nil {
		return
	}
	m.lockSkipped.Inc()
}

// ClassifyRerunReason maps item errors to low-cardinality reasons.
func ClassifyRerunReason(err error) string {
	if err == nil {
		return RerunReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return RerunReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RerunReasonNotFound
	}
	if hasPGCode(err, "55P03") {
		return RerunReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return RerunReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return RerunReasonUniqueViolation
	}
	return RerunReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
