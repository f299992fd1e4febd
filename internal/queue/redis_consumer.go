/**
 * Direct Redis Queue Consumer for the OCR layer worker
 *
 * Compatible with TypeScript RedisQueue implementation.
 * Uses simple Redis LIST operations for perfect compatibility.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errNoJobs = stderrors.New("no jobs available")

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client  *redis.Client
	handler Handler
	events  *EventPublisher
	config  *RedisConsumerConfig
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	Client      *redis.Client
	QueueName   string
	Concurrency int
	MaxRetries  int // used when a job does not carry its own maxRetries
	Handler     Handler
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("Redis client is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "ocrlayer:jobs"
	}

	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:  cfg.Client,
		handler: cfg.Handler,
		events:  NewEventPublisher(cfg.Client, cfg.QueueName),
		config:  cfg,
		logger:  logging.NewLogger("RedisConsumer"),
		ctx:     consumerCtx,
		cancel:  cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer. In-flight jobs see a cancelled
// context and are re-queued.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return nil
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs && c.ctx.Err() == nil {
					c.logger.Warn("Worker error", "worker", id, "error", err)
					// Small delay before trying again
					time.Sleep(1 * time.Second)
				}
			}
		}
	}
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]

	jobData, err := c.client.HGet(c.ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.markFailed(id, id, map[string]interface{}{"error": fmt.Sprintf("invalid job data: %v", err)})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.ID == "" {
		job.ID = id
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = c.config.MaxRetries
	}

	c.markProcessing(&job)

	jobResult, err := c.handler.Handle(c.ctx, &job.Payload)
	if err != nil {
		c.handleFailure(&job, err)
		return nil
	}

	if jobResult.Status == "failed" {
		c.markFailed(job.ID, job.Payload.JobID, jobResult)
		c.logger.Warn("Job finished with every document failed", "job", job.Payload.JobID, "failed", jobResult.Failed)
		return nil
	}

	c.markCompleted(&job, jobResult)
	c.logger.Info("Job completed",
		"job", job.Payload.JobID, "status", jobResult.Status,
		"succeeded", jobResult.Succeeded, "failed", jobResult.Failed)
	return nil
}

// handleFailure re-queues retryable failures until attempts are exhausted
func (c *RedisConsumer) handleFailure(job *RedisJobData, err error) {
	c.logger.Error("Job failed", "job", job.Payload.JobID, "attempt", job.Attempts+1, "error", err)

	job.Attempts++
	if !IsPermanent(err) && job.Attempts < job.MaxRetries {
		// A shutdown interrupts a job; put it back without blocking on the
		// cancelled consumer context
		ctx := context.Background()
		updatedData, _ := json.Marshal(job)
		c.client.HSet(ctx, c.key("data"), job.ID, updatedData)
		c.client.SRem(ctx, c.key("processing"), job.ID)
		c.client.LPush(ctx, c.config.QueueName, job.ID)
		c.logger.Info("Job re-queued for retry",
			"job", job.Payload.JobID, "attempt", job.Attempts, "maxRetries", job.MaxRetries)
		return
	}

	c.markFailed(job.ID, job.Payload.JobID, map[string]interface{}{
		"error":    err.Error(),
		"attempts": job.Attempts,
	})
}

func (c *RedisConsumer) markProcessing(job *RedisJobData) {
	c.client.SAdd(c.ctx, c.key("processing"), job.ID)
	c.publish(job.Payload.JobID, "processing", map[string]interface{}{
		"documents": len(job.Payload.Documents),
		"attempt":   job.Attempts + 1,
	})
}

func (c *RedisConsumer) markCompleted(job *RedisJobData, result *JobResult) {
	ctx := context.Background()
	c.client.SRem(ctx, c.key("processing"), job.ID)
	c.client.SAdd(ctx, c.key("completed"), job.ID)
	if resultData, err := json.Marshal(result); err == nil {
		c.client.HSet(ctx, c.key("results"), job.ID, resultData)
	}
	c.publish(job.Payload.JobID, result.Status, map[string]interface{}{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}

func (c *RedisConsumer) markFailed(id, jobID string, details interface{}) {
	ctx := context.Background()
	c.client.SRem(ctx, c.key("processing"), id)
	c.client.SAdd(ctx, c.key("failed"), id)
	if details != nil {
		if errorData, err := json.Marshal(details); err == nil {
			c.client.HSet(ctx, c.key("errors"), id, errorData)
		}
	}
	c.publish(jobID, "failed", nil)
}

func (c *RedisConsumer) publish(jobID, status string, fields map[string]interface{}) {
	if err := c.events.Publish(context.Background(), jobID, status, fields); err != nil {
		c.logger.Warn("Failed to publish job event", "job", jobID, "status", status, "error", err)
	}
}

// Enqueue pushes a job using the same protocol as the TypeScript producer
func (c *RedisConsumer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	return EnqueueRedisList(ctx, c.client, c.config.QueueName, payload, c.config.MaxRetries)
}

// EnqueueRedisList stores the job in <queue>:data and pushes its id,
// assigning a job id if missing
func EnqueueRedisList(ctx context.Context, client *redis.Client, queueName string, payload *JobPayload, maxRetries int) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}

	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeOCRBatch,
		Payload:    *payload,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := client.TxPipeline()
	pipe.HSet(ctx, fmt.Sprintf("%s:data", queueName), job.ID, data)
	pipe.LPush(ctx, queueName, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	waiting, _ := c.client.LLen(ctx, c.config.QueueName).Result()
	processing, _ := c.client.SCard(ctx, c.key("processing")).Result()
	completed, _ := c.client.SCard(ctx, c.key("completed")).Result()
	failed, _ := c.client.SCard(ctx, c.key("failed")).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
