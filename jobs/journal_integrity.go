package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// JournalIntegrityJob sweeps posted journal entries and flags any whose
// lines do not balance. Posting enforces balance up front, so a hit here
// means corruption outside the application write path.
type JournalIntegrityJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewJournalIntegrityJob initialises the integrity sweep handler.
func NewJournalIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *JournalIntegrityJob {
	return &JournalIntegrityJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type unbalancedEntry struct {
	EntryID int64
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Handle executes the integrity sweep.
func (j *JournalIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("journal integrity: handler not configured")
	}
	var payload JournalIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	since := j.now().AddDate(0, -1, 0)
	if payload.Since != "" {
		parsed, err := time.Parse("2006-01-02", payload.Since)
		if err != nil {
			return asynq.SkipRetry
		}
		since = parsed
	}

	tracker := j.metrics().Track(TaskJournalIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("since", since.Format("2006-01-02")))
	logger.Info("starting journal integrity sweep")

	entries, err := j.scan(ctx, since)
	if err != nil {
		resultErr = err
		logger.Error("integrity sweep failed", slog.Any("error", err))
		return resultErr
	}

	for _, entry := range entries {
		logger.Error("unbalanced journal entry detected",
			slog.Int64("entry_id", entry.EntryID),
			slog.String("debit", entry.Debit.StringFixed(2)),
			slog.String("credit", entry.Credit.StringFixed(2)),
		)
	}
	j.metrics().AddLedgerViolations("unbalanced_entry", len(entries))

	logger.Info("completed journal integrity sweep", slog.Int("unbalanced", len(entries)))
	return resultErr
}

func (j *JournalIntegrityJob) scan(ctx context.Context, since time.Time) ([]unbalancedEntry, error) {
	rows, err := j.Pool.Query(ctx, `SELECT je.id, COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM journal_entries je
JOIN journal_lines jl ON jl.entry_id = je.id
WHERE je.date >= $1
GROUP BY je.id
HAVING SUM(jl.debit) <> SUM(jl.credit)
ORDER BY je.id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []unbalancedEntry
	for rows.Next() {
		var entry unbalancedEntry
		if err := rows.Scan(&entry.EntryID, &entry.Debit, &entry.Credit); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (j *JournalIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskJournalIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskJournalIntegrity))
}

func (j *JournalIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *JournalIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
