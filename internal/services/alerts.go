package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VitalsAI/go-backend/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EscalationAlert is the entry written to the alert stream.
type EscalationAlert struct {
	SessionID   string    `json:"session_id"`
	Severity    string    `json:"severity"`
	Rule        string    `json:"rule"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AlertPublisher appends escalation flags to a Redis stream for care staff.
type AlertPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

func NewAlertPublisher(client *redis.Client, stream string, logger *zap.Logger) *AlertPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertPublisher{client: client, stream: stream, logger: logger}
}

// NotifyEscalation implements session.Notifier.
func (p *AlertPublisher) NotifyEscalation(ctx context.Context, sessionID string, flag models.EscalationFlag) error {
	alert := EscalationAlert{
		SessionID:   sessionID,
		Severity:    flag.Severity.String(),
		Rule:        flag.Rule,
		Reason:      flag.Reason,
		TriggeredAt: flag.TriggeredAt.UTC(),
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"session_id": sessionID,
			"severity":   alert.Severity,
			"data":       string(data),
			"timestamp":  time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	p.logger.Info("escalation alert published",
		zap.String("session_id", sessionID),
		zap.String("stream", p.stream),
		zap.String("message_id", id),
	)
	return nil
}

// Ping checks the Redis connection.
func (p *AlertPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// NewRedisClient connects to addr and verifies it answers.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}
