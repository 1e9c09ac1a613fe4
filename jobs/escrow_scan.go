package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/ledger/reports"
)

// EscrowScanJob rebuilds the trust reconciliation report and raises an
// alert for every violation. Enforcement happens at post time; this scan
// is the safety net that catches drift from manual database surgery or
// bugs, and it feeds the violation metrics dashboards watch.
type EscrowScanJob struct {
	Reports *reports.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewEscrowScanJob initialises the escrow scan handler.
func NewEscrowScanJob(reportsService *reports.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *EscrowScanJob {
	return &EscrowScanJob{
		Reports: reportsService,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the escrow reconciliation scan.
func (j *EscrowScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("escrow scan: handler not configured")
	}
	var payload EscrowScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", payload.AsOf)
		if err != nil {
			return asynq.SkipRetry
		}
		asOf = parsed
	}

	tracker := j.metrics().Track(TaskEscrowScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("as_of", asOf.Format("2006-01-02")))
	logger.Info("starting escrow scan")

	report, err := j.Reports.Escrow(ctx, asOf)
	if err != nil {
		resultErr = err
		logger.Error("escrow scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, violation := range report.Violations {
		logger.Warn("escrow violation detected", slog.String("violation", violation))
	}
	j.metrics().AddLedgerViolations("escrow", len(report.Violations))

	logger.Info("completed escrow scan",
		slog.Bool("reconciled", report.Reconciled),
		slog.String("held", report.TotalHeld.StringFixed(2)),
		slog.String("owed", report.TotalOwed.StringFixed(2)),
		slog.Int("violations", len(report.Violations)),
	)
	return resultErr
}

func (j *EscrowScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskEscrowScan))
	}
	return slog.Default().With(slog.String("job", TaskEscrowScan))
}

func (j *EscrowScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *EscrowScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
