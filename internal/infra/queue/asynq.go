package queue

import (
	"fmt"
	"time"

	"chatalert/internal/domain/alert"

	"github.com/hibiken/asynq"
)

// queueName is the asynq queue alert tasks run on.
const queueName = "alerts"

// RedisOpt builds the asynq connection options.
func RedisOpt(redisAddr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	}
}

// NewClient creates a new asynq client connected to Redis.
func NewClient(opt asynq.RedisClientOpt) *asynq.Client {
	return asynq.NewClient(opt)
}

// NewServer creates a new asynq server connected to Redis.
func NewServer(opt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 10, // priority weight
				"default": 1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				// Dismissals are only useful while the alert is up: 1s, 2s, 4s...
				return time.Duration(1<<uint(n)) * time.Second
			},
		},
	)
}

// Scheduler schedules delayed alert tasks.
type Scheduler struct {
	client   *asynq.Client
	maxRetry int
}

var _ alert.DismissScheduler = (*Scheduler)(nil)

// NewScheduler creates a scheduler on top of an asynq client.
func NewScheduler(client *asynq.Client, maxRetry int) *Scheduler {
	return &Scheduler{client: client, maxRetry: maxRetry}
}

// ScheduleDismiss enqueues a dismiss task that becomes due after delay.
func (s *Scheduler) ScheduleDismiss(p alert.DismissAlertPayload, delay time.Duration) error {
	task, err := alert.NewDismissAlertTask(p)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	_, err = s.client.Enqueue(task,
		asynq.ProcessIn(delay),
		asynq.MaxRetry(s.maxRetry),
		asynq.Queue(queueName),
		asynq.TaskID("dismiss:"+p.AlertID),
	)
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}

	return nil
}
