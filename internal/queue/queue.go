// Package queue delivers due schedules to the publisher through asynq.
package queue

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TaskTypePublishSchedule = "schedule:publish"

type PublishSchedulePayload struct {
	ScheduleID string `json:"schedule_id"`
}

// Processor publishes one schedule. It is satisfied by the scheduler service.
type Processor interface {
	Process(ctx context.Context, scheduleID string) error
}

// NewServer builds the asynq server that runs publish tasks in this process.
func NewServer(redisOpt asynq.RedisClientOpt, concurrency int, logger *zap.Logger) *asynq.Server {
	log := logger.Named("asynq")
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Logger:      log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("task failed", zap.String("type", task.Type()), zap.ByteString("payload", task.Payload()), zap.Error(err))
		}),
	})
}
