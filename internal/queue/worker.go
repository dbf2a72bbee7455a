package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Worker struct {
	processor Processor
	logger    *zap.Logger
}

func NewWorker(processor Processor, logger *zap.Logger) *Worker {
	return &Worker{
		processor: processor,
		logger:    logger.Named("worker"),
	}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePublishSchedule, w.HandlePublishScheduleTask)
}

func (w *Worker) HandlePublishScheduleTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishSchedulePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode publish payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ScheduleID == "" {
		return fmt.Errorf("publish payload without schedule id: %w", asynq.SkipRetry)
	}

	w.logger.Debug("handling publish task", zap.String("schedule_id", payload.ScheduleID))
	return w.processor.Process(ctx, payload.ScheduleID)
}
