package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskEscrowScan reconciles trust holdings against obligations.
	TaskEscrowScan = "ledger:escrow_scan"
	// TaskJournalIntegrity re-verifies the double-entry invariant.
	TaskJournalIntegrity = "ledger:journal_integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// EscrowScanPayload scopes a trust reconciliation run.
type EscrowScanPayload struct {
	AsOf string `json:"asOf,omitempty"`
}

// NewEscrowScanTask constructs an escrow scan task.
func NewEscrowScanTask(payload EscrowScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscrowScan, data), nil
}

// JournalIntegrityPayload scopes an integrity sweep.
type JournalIntegrityPayload struct {
	Since string `json:"since,omitempty"`
}

// NewJournalIntegrityTask constructs a journal integrity task.
func NewJournalIntegrityTask(payload JournalIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskJournalIntegrity, data), nil
}

// IdempotencyCleanupPayload carries the retention override.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
