package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/venuedesk/venuedesk/internal/jobs"
	"github.com/venuedesk/venuedesk/internal/receipts"
)

const defaultChunksPerTask = 20

// RetroRunner applies one chunk of a rule to historical transactions.
type RetroRunner interface {
	RunRetroactive(ctx context.Context, actor uuid.UUID, req receipts.RetroRequest) (receipts.RetroResult, error)
}

// Enqueuer submits follow-up tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RuleBackfillJob walks a rule over history in keyset chunks. After
// ChunksPerTask chunks it re-enqueues itself from the last cursor so one
// task never holds a worker for the whole table.
type RuleBackfillJob struct {
	Runner        RetroRunner
	Enqueuer      Enqueuer
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	ChunksPerTask int
}

// NewRuleBackfillJob constructs the job handler.
func NewRuleBackfillJob(runner RetroRunner, enqueuer Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RuleBackfillJob {
	return &RuleBackfillJob{Runner: runner, Enqueuer: enqueuer, Logger: logger, Metrics: metrics, ChunksPerTask: defaultChunksPerTask}
}

// Handle executes the backfill job.
func (j *RuleBackfillJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("rule backfill: dependencies not configured")
	}
	var payload RuleBackfillPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("rule backfill: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RuleID == uuid.Nil {
		return fmt.Errorf("rule backfill: missing rule id: %w", asynq.SkipRetry)
	}
	cursor, err := receipts.ParseCursor(payload.Cursor)
	if err != nil {
		return fmt.Errorf("rule backfill: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRuleBackfill)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	log := j.log().With(slog.String("rule_id", payload.RuleID.String()), slog.String("scope", string(payload.Scope)))
	chunks := j.ChunksPerTask
	if chunks <= 0 {
		chunks = defaultChunksPerTask
	}

	var total receipts.RetroResult
	for i := 0; i < chunks; i++ {
		res, err := j.Runner.RunRetroactive(ctx, uuid.Nil, receipts.RetroRequest{RuleID: payload.RuleID, Scope: payload.Scope, Cursor: cursor})
		if err != nil {
			if receipts.IsRetroFatal(err) {
				log.Warn("rule backfill stopped", slog.Any("error", err))
				resultErr = fmt.Errorf("rule backfill: %v: %w", err, asynq.SkipRetry)
				return resultErr
			}
			log.Error("rule backfill chunk", slog.Any("error", err))
			resultErr = err
			return resultErr
		}
		total.Scanned += res.Scanned
		total.Matched += res.Matched
		total.Updated += res.Updated
		j.metrics().AddReclassified("backfill", res.Updated)
		cursor = res.NextCursor
		if res.Done {
			log.Info("rule backfill complete",
				slog.Int("scanned", total.Scanned), slog.Int("matched", total.Matched), slog.Int("updated", total.Updated))
			return resultErr
		}
	}

	next := RuleBackfillPayload{RuleID: payload.RuleID, Scope: payload.Scope}
	if cursor != nil {
		next.Cursor = cursor.String()
	}
	if err := j.requeue(ctx, next); err != nil {
		log.Error("rule backfill requeue", slog.Any("error", err))
		resultErr = err
		return resultErr
	}
	log.Info("rule backfill continuing", slog.String("cursor", next.Cursor), slog.Int("updated", total.Updated))
	return resultErr
}

func (j *RuleBackfillJob) requeue(ctx context.Context, payload RuleBackfillPayload) error {
	if j.Enqueuer == nil {
		return errors.New("rule backfill: enqueuer not configured")
	}
	task, err := NewRuleBackfillTask(payload)
	if err != nil {
		return err
	}
	_, err = j.Enqueuer.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (j *RuleBackfillJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RuleBackfillJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRuleBackfill))
	}
	return slog.Default().With(slog.String("job", TaskRuleBackfill))
}
