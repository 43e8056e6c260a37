package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"presence-service/internal/domain"
)

// Message types carried in the payload's type field
const (
	TypePresenceTransition = "PRESENCE_TRANSITION"
	TypeRecordChanged      = "RECORD_CHANGED"
)

// Publisher delivers presence notifications to downstream consumers
type Publisher interface {
	PublishTransition(ctx context.Context, event domain.TransitionEvent) error
	PublishRecordChanged(ctx context.Context, event domain.RecordChangedEvent) error
}

// RedisPublisher publishes JSON payloads on redis pub/sub channels
type RedisPublisher struct {
	redis  *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPublisher creates a publisher using channels "<prefix>:transitions" and "<prefix>:records"
func NewRedisPublisher(client *redis.Client, prefix string, logger *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisPublisher{
		redis:  client,
		prefix: prefix,
		logger: logger,
	}
}

// TransitionsChannel returns the channel transition events go to
func (p *RedisPublisher) TransitionsChannel() string {
	return p.prefix + ":transitions"
}

// RecordsChannel returns the channel record change events go to
func (p *RedisPublisher) RecordsChannel() string {
	return p.prefix + ":records"
}

func (p *RedisPublisher) PublishTransition(ctx context.Context, event domain.TransitionEvent) error {
	data, err := transitionPayload(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.TransitionsChannel(), data)
}

func (p *RedisPublisher) PublishRecordChanged(ctx context.Context, event domain.RecordChangedEvent) error {
	data, err := recordChangedPayload(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.RecordsChannel(), data)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, data []byte) error {
	if p.redis == nil {
		return nil
	}
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", domain.ErrTransientIO, channel, err)
	}
	p.logger.Debug("Published presence notification", zap.String("channel", channel))
	return nil
}

type transitionMessage struct {
	Type string `json:"type"`
	domain.TransitionEvent
}

type recordChangedMessage struct {
	Type string `json:"type"`
	domain.RecordChangedEvent
}

func transitionPayload(event domain.TransitionEvent) ([]byte, error) {
	data, err := json.Marshal(transitionMessage{Type: TypePresenceTransition, TransitionEvent: event})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition: %w", err)
	}
	return data, nil
}

func recordChangedPayload(event domain.RecordChangedEvent) ([]byte, error) {
	data, err := json.Marshal(recordChangedMessage{Type: TypeRecordChanged, RecordChangedEvent: event})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record change: %w", err)
	}
	return data, nil
}

// NopPublisher drops every notification. Used when redis is unavailable.
type NopPublisher struct{}

func (NopPublisher) PublishTransition(context.Context, domain.TransitionEvent) error {
	return nil
}

func (NopPublisher) PublishRecordChanged(context.Context, domain.RecordChangedEvent) error {
	return nil
}
