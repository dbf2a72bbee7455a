package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Dispatcher enqueues publish tasks to run when a schedule becomes due.
type Dispatcher struct {
	client   *asynq.Client
	timeout  time.Duration
	maxRetry int
	logger   *zap.Logger
}

// NewDispatcher returns a dispatcher whose tasks may run for at most timeout.
func NewDispatcher(client *asynq.Client, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		timeout:  timeout,
		maxRetry: 3,
		logger:   logger.Named("dispatcher"),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, scheduleID string, at time.Time) error {
	task, opts, err := d.newPublishTask(scheduleID, at)
	if err != nil {
		return err
	}

	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue publish task: %w", err)
	}

	d.logger.Debug("publish task scheduled",
		zap.String("schedule_id", scheduleID), zap.String("task_id", info.ID), zap.Time("at", at))
	return nil
}

// newPublishTask builds the task for one due time. The task id includes the
// time, so a schedule moved to a new time gets a new task while the old one
// finds nothing to claim.
func (d *Dispatcher) newPublishTask(scheduleID string, at time.Time) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(PublishSchedulePayload{ScheduleID: scheduleID})
	if err != nil {
		return nil, nil, err
	}

	task := asynq.NewTask(TaskTypePublishSchedule, payload)
	opts := []asynq.Option{
		asynq.ProcessAt(at),
		asynq.TaskID(taskID(scheduleID, at)),
		asynq.MaxRetry(d.maxRetry),
		asynq.Timeout(d.timeout),
	}
	return task, opts, nil
}

func taskID(scheduleID string, at time.Time) string {
	return fmt.Sprintf("%s:%d", scheduleID, at.Unix())
}
