package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventPublisher publishes job lifecycle events on <queue>:events for
// WebSocket streaming
type EventPublisher struct {
	client  *redis.Client
	channel string
}

// NewEventPublisher creates a publisher on an existing client
func NewEventPublisher(client *redis.Client, queueName string) *EventPublisher {
	return &EventPublisher{
		client:  client,
		channel: fmt.Sprintf("%s:events", queueName),
	}
}

// Channel returns the pub/sub channel name
func (p *EventPublisher) Channel() string {
	return p.channel
}

// Publish sends a "job:<status>" event. Extra fields are merged into the
// event body.
func (p *EventPublisher) Publish(ctx context.Context, jobID, status string, fields map[string]interface{}) error {
	eventData, err := json.Marshal(buildEvent(jobID, status, fields, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, eventData).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", status, err)
	}
	return nil
}

func buildEvent(jobID, status string, fields map[string]interface{}, now time.Time) map[string]interface{} {
	event := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		event[k] = v
	}
	event["event"] = fmt.Sprintf("job:%s", status)
	event["jobId"] = jobID
	event["timestamp"] = now.Format(time.RFC3339)
	return event
}

// NewRedisClient parses a redis:// URL and checks connectivity
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
