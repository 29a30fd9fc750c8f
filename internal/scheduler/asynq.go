package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"showreel/internal/logging"
)

const taskTypeStage = "pipeline:stage"

// Asynq schedules tasks through Redis so delayed work survives restarts.
type Asynq struct {
	client *asynq.Client
	queue  string
}

// NewAsynq connects a task client to the Redis instance at redisURL.
func NewAsynq(redisURL, queueName string) (*Asynq, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Asynq{client: asynq.NewClient(opt), queue: queueName}, nil
}

// Schedule enqueues the task for processing after delay. Retries are owned by
// the pipeline's own failure handling, so asynq-level retry is disabled; a
// redelivered task is harmless because stage claims are guarded.
func (a *Asynq) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode stage task: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(a.queue),
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := a.client.EnqueueContext(ctx, asynq.NewTask(taskTypeStage, payload), opts...); err != nil {
		return fmt.Errorf("enqueue stage task: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (a *Asynq) Close() error {
	return a.client.Close()
}

// Worker consumes stage tasks from Redis and hands them to the pipeline.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds an asynq consumer for the stage task queue.
func NewWorker(redisURL, queueName string, handler Handler, logger *slog.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	log := logging.WithComponent(logger, "scheduler-worker")
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{queueName: 1},
		Logger:      asynqLogger{log},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeStage, func(ctx context.Context, t *asynq.Task) error {
		var task Task
		if err := json.Unmarshal(t.Payload(), &task); err != nil {
			return fmt.Errorf("decode stage task: %w", err)
		}
		return handler(ctx, task)
	})

	return &Worker{server: server, mux: mux}, nil
}

// Start begins consuming tasks in background goroutines.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown drains in-flight tasks and stops the consumer.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// VerifyRedis confirms the Redis instance behind redisURL is reachable before
// the daemon commits to the durable scheduler.
func VerifyRedis(ctx context.Context, redisURL string) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// asynqLogger adapts slog to asynq's logging interface.
type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
