/**
 * Asynq Queue Consumer for the OCR layer worker
 *
 * Alternative to the Redis list protocol: jobs are asynq tasks of type
 * "ocr-batch" whose payload is a JSON JobPayload.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Consumer handles job consumption through asynq
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler Handler
	events  *EventPublisher
	config  *ConsumerConfig
	logger  *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Handler     Handler
	Events      *EventPublisher // optional
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"type", task.Type(), "retried", retried, "maxRetry", maxRetry, "error", err)
			}),
			Logger:   logger.Sugar(),
			LogLevel: asynq.WarnLevel,
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		server:  server,
		mux:     mux,
		handler: cfg.Handler,
		events:  cfg.Events,
		config:  cfg,
		logger:  logger,
	}

	mux.HandleFunc(TaskTypeOCRBatch, consumer.handleOCRBatch)

	return consumer, nil
}

// retryDelay is exponential backoff: 5s, 10s, 20s, capped at 60s
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleOCRBatch processes one batch task
func (c *Consumer) handleOCRBatch(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			payload.JobID = id
		}
	}

	c.publish(payload.JobID, "processing", map[string]interface{}{"documents": len(payload.Documents)})

	result, err := c.handler.Handle(ctx, &payload)
	if err != nil {
		c.publish(payload.JobID, "failed", map[string]interface{}{"error": err.Error()})
		if IsPermanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	c.publish(payload.JobID, result.Status, map[string]interface{}{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})

	if resultData, err := json.Marshal(result); err == nil {
		if _, err := task.ResultWriter().Write(resultData); err != nil {
			c.logger.Warn("Failed to write task result", "job", payload.JobID, "error", err)
		}
	}
	return nil
}

func (c *Consumer) publish(jobID, status string, fields map[string]interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(context.Background(), jobID, status, fields); err != nil {
		c.logger.Warn("Failed to publish job event", "job", jobID, "status", status, "error", err)
	}
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

// Enqueuer submits batch tasks through asynq
type Enqueuer struct {
	client    *asynq.Client
	queueName string
	maxRetry  int
	timeout   time.Duration
}

// NewEnqueuer creates an asynq client for queueName
func NewEnqueuer(redisURL, queueName string, maxRetry int, timeout time.Duration) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
		maxRetry:  maxRetry,
		timeout:   timeout,
	}, nil
}

// NewTask builds the asynq task for payload, assigning a job id if missing
func NewTask(payload *JobPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeOCRBatch, data), nil
}

// Enqueue submits payload and returns its job id
func (e *Enqueuer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	task, err := NewTask(payload)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.Queue(e.queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(e.maxRetry),
		asynq.Retention(24 * time.Hour),
	}
	if e.timeout > 0 {
		opts = append(opts, asynq.Timeout(e.timeout))
	}

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info.ID, nil
}

// Close releases the asynq client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
