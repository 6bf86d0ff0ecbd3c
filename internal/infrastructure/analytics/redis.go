package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// RedisPublisher forwards tracking events to a Redis pub/sub channel.
// Delivery is fire-and-forget: failures are logged and never surfaced to
// the caller.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *logrus.Entry
}

func NewRedisPublisher(ctx context.Context, addr, channel string, logger *logrus.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.WithField("component", "analytics"),
	}, nil
}

type trackedEvent struct {
	Event  string         `json:"event"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (p *RedisPublisher) Track(event string, fields map[string]any) {
	payload, err := json.Marshal(trackedEvent{Event: event, At: time.Now(), Fields: fields})
	if err != nil {
		p.logger.WithError(err).WithField("event", event).Warn("failed to encode event")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.logger.WithError(err).WithField("event", event).Warn("failed to publish event")
		}
	}()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LogSink is the fallback Analytics used when Redis is not configured; it
// writes events straight to the structured log.
type LogSink struct {
	logger *logrus.Entry
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "analytics")}
}

func (s *LogSink) Track(event string, fields map[string]any) {
	s.logger.WithField("event", event).WithFields(logrus.Fields(fields)).Info("tracked")
}
