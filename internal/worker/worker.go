package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type JobType string

const (
	// JobTypeDoneCleanup prunes done-lane tasks past the retention window.
	JobTypeDoneCleanup JobType = "done_cleanup"
)

// RetryQueue holds failed jobs awaiting another attempt. It must be part
// of the consumed queue set, otherwise retried jobs are never picked up.
const (
	RetryQueue = "retry_queue"
	DeadQueue  = "dead_queue"
)

type Job struct {
	ID        string                 `json:"id"`
	Type      JobType                `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Attempts  int                    `json:"attempts"`
	MaxTries  int                    `json:"max_tries"`
	CreatedAt time.Time              `json:"created_at"`
	ProcessAt time.Time              `json:"process_at"`
}

type JobHandler func(ctx context.Context, job *Job) error

// Worker drains maintenance jobs from Redis lists. The board runs fine
// without it; the queue only carries housekeeping.
type Worker struct {
	client     *redis.Client
	log        *logrus.Logger
	handlers   map[JobType]JobHandler
	queues     []string
	retryDelay time.Duration
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

type Config struct {
	RedisClient *redis.Client
	Logger      *logrus.Logger
	Queues      []string
	// RetryDelay is the base backoff between attempts. Zero means one
	// minute; tests shrink it.
	RetryDelay time.Duration
}

func New(config Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	retryDelay := config.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Minute
	}

	return &Worker{
		client:     config.RedisClient,
		log:        config.Logger,
		handlers:   make(map[JobType]JobHandler),
		queues:     config.Queues,
		retryDelay: retryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) Start(concurrency int) {
	w.log.WithField("concurrency", concurrency).Info("starting maintenance worker")

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.log.Info("maintenance worker stopped")
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			if err := w.processNextJob(); err != nil {
				w.log.WithError(err).Error("error processing job")
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) processNextJob() error {
	result, err := w.client.BLPop(w.ctx, 5*time.Second, w.queues...).Result()
	if err != nil {
		if err == redis.Nil || w.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	queue := result[0]
	jobData := result[1]

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if time.Now().Before(job.ProcessAt) {
		return w.enqueue(queue, &job)
	}

	return w.executeJob(&job)
}

func (w *Worker) executeJob(job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}

	entry := w.log.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type})
	entry.Debug("processing job")

	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	err := handler(ctx, job)
	if err != nil {
		job.Attempts++
		if job.Attempts < job.MaxTries {
			entry.WithError(err).Warnf("job failed (attempt %d/%d), retrying", job.Attempts, job.MaxTries)
			delay := time.Duration(1<<job.Attempts) * w.retryDelay
			job.ProcessAt = time.Now().Add(delay)
			return w.enqueue(RetryQueue, job)
		}

		entry.WithError(err).Errorf("job failed permanently after %d attempts", job.Attempts)
		return w.moveToDeadQueue(job, err)
	}

	entry.Debug("job completed")
	return nil
}

func (w *Worker) enqueue(queue string, job *Job) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return w.client.RPush(w.ctx, queue, jobData).Err()
}

func (w *Worker) moveToDeadQueue(job *Job, jobErr error) error {
	deadJob := map[string]interface{}{
		"original_job": job,
		"error":        jobErr.Error(),
		"failed_at":    time.Now(),
	}

	deadJobData, err := json.Marshal(deadJob)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	return w.client.RPush(w.ctx, DeadQueue, deadJobData).Err()
}

// JobQueue is the producer side.
type JobQueue struct {
	client *redis.Client
}

func NewJobQueue(client *redis.Client) *JobQueue {
	return &JobQueue{client: client}
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxTries == 0 {
		job.MaxTries = 3
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queue, jobData).Err()
}
