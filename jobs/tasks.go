package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/venuedesk/venuedesk/internal/jobs"
	"github.com/venuedesk/venuedesk/internal/receipts"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRuleBackfill applies a receipt rule to historical transactions.
	TaskRuleBackfill = "receipts:rule_backfill"
	// TaskDashboardInvalidate purges cached dashboard snapshots.
	TaskDashboardInvalidate = "dashboard:invalidate"
)

const backfillUniqueWindow = 10 * time.Minute

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RuleBackfillPayload identifies where a backfill run resumes.
type RuleBackfillPayload struct {
	RuleID uuid.UUID      `json:"rule_id"`
	Scope  receipts.Scope `json:"scope"`
	Cursor string         `json:"cursor,omitempty"`
}

// NewRuleBackfillTask constructs a backfill task. Identical payloads are
// deduplicated while one is queued or running.
func NewRuleBackfillTask(payload RuleBackfillPayload) (*asynq.Task, error) {
	if payload.Scope == "" {
		payload.Scope = receipts.ScopePending
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRuleBackfill, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Unique(backfillUniqueWindow),
	), nil
}

// NewDashboardInvalidateTask constructs a dashboard purge task.
func NewDashboardInvalidateTask() *asynq.Task {
	return asynq.NewTask(TaskDashboardInvalidate, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}
