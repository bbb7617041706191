package dialoguelog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/config"
	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
	"github.com/apollolytics/dialogue-backend/internal/model/propaganda"
)

// RedisRecorder stores each session's events in a sorted set keyed by session
// ID, scored by event timestamp so a range read returns them in order.
type RedisRecorder struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisRecorder connects to the configured store and verifies it responds.
func NewRedisRecorder(ctx context.Context, cfg config.RedisConfig) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dialogue log store unreachable: %w", err)
	}

	return &RedisRecorder{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
	}, nil
}

// Close releases the underlying connection pool.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func (r *RedisRecorder) SessionInit(ctx context.Context, sessionID, article, mode, originURL string) {
	event := newEvent(sessionID, EventSessionInit, r.now())
	event.Article = article
	event.DialogueMode = mode
	if originURL == "" {
		originURL = "unknown"
	}
	event.OriginURL = originURL
	r.append(ctx, event)
}

func (r *RedisRecorder) PropagandaAnalysis(ctx context.Context, sessionID string, result propaganda.Result) {
	event := newEvent(sessionID, EventPropagandaAnalysis, r.now())
	event.PropagandaResult = result.Data
	r.append(ctx, event)
}

func (r *RedisRecorder) Message(ctx context.Context, sessionID, messageID, role, content string, timing *conversation.Timing) {
	event := newEvent(sessionID, EventMessage, r.now())
	event.MessageID = messageID
	event.Role = role
	event.Content = content
	event.TimingInfo = timing
	r.append(ctx, event)
}

func (r *RedisRecorder) SessionEnd(ctx context.Context, sessionID, reason string) {
	event := newEvent(sessionID, EventSessionEnd, r.now())
	event.Reason = reason
	r.append(ctx, event)
}

// Events returns a session's log in chronological order.
func (r *RedisRecorder) Events(ctx context.Context, sessionID string) ([]Event, error) {
	members, err := r.client.ZRangeByScore(ctx, r.sessionKey(sessionID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dialogue log for %s: %w", sessionID, err)
	}

	events := make([]Event, 0, len(members))
	for _, member := range members {
		var event Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			logrus.WithError(err).WithField("session_id", sessionID).Warn("skipping corrupt dialogue log entry")
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *RedisRecorder) append(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": event.SessionID,
			"event_type": event.EventType,
		}).Error("failed to encode dialogue log event")
		return
	}

	err = r.client.ZAdd(ctx, r.sessionKey(event.SessionID), redis.Z{
		Score:  float64(event.Timestamp),
		Member: payload,
	}).Err()
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": event.SessionID,
			"event_type": event.EventType,
		}).Error("failed to append dialogue log event")
	}
}

func (r *RedisRecorder) sessionKey(sessionID string) string {
	return r.keyPrefix + ":" + sessionID
}
