package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"chatalert/internal/domain/alert"

	"github.com/redis/go-redis/v9"
)

var (
	_ alert.EventPublisher = (*RedisStream)(nil)
	_ alert.EventReader    = (*RedisStream)(nil)
)

const eventField = "event"

// RedisStream carries host commands over one Redis stream per session.
// Every server and worker instance can append; the instance holding the
// viewer's SSE connection reads.
type RedisStream struct {
	client *redis.Client
	maxLen int64
	ttl    time.Duration
}

// NewRedisStream creates a session event stream backed by client. Streams
// are trimmed to maxLen entries and expire ttl after the last write.
func NewRedisStream(client *redis.Client, maxLen int64, ttl time.Duration) *RedisStream {
	if maxLen <= 0 {
		maxLen = 200
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStream{client: client, maxLen: maxLen, ttl: ttl}
}

func streamKey(sessionID string) string {
	return fmt.Sprintf("chatalert:session:%s:events", sessionID)
}

// Publish appends event to the session's stream.
func (s *RedisStream) Publish(ctx context.Context, sessionID string, event alert.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	key := streamKey(sessionID)

	pipe := s.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: s.maxLen,
		Values: map[string]any{eventField: string(payload)},
	})
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending %s event: %w", event.Type, err)
	}
	return nil
}

// Now returns the last stream position before the current millisecond of
// the Redis server clock, which is the clock XADD stamps entries with.
func (s *RedisStream) Now(ctx context.Context) (string, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return "", fmt.Errorf("reading redis time: %w", err)
	}
	return fmt.Sprintf("%d-%d", now.UnixMilli()-1, uint64(math.MaxUint64)), nil
}

// Read blocks up to block for events after lastID. An empty lastID reads
// only entries appended after the call.
func (s *RedisStream) Read(ctx context.Context, sessionID, lastID string, block time.Duration) ([]alert.StreamedEvent, error) {
	if lastID == "" {
		lastID = "$"
	}

	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey(sessionID), lastID},
		Block:   block,
		Count:   100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session stream: %w", err)
	}

	var events []alert.StreamedEvent
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			ev, err := decodeEvent(msg)
			if err != nil {
				slog.Warn("skipping malformed stream entry", "session_id", sessionID, "entry_id", msg.ID, "error", err)
				continue
			}
			events = append(events, alert.StreamedEvent{ID: msg.ID, Event: ev})
		}
	}
	return events, nil
}

// Delete removes the session's stream.
func (s *RedisStream) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, streamKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session stream: %w", err)
	}
	return nil
}

func decodeEvent(msg redis.XMessage) (alert.Event, error) {
	var ev alert.Event
	raw, ok := msg.Values[eventField].(string)
	if !ok {
		return ev, fmt.Errorf("entry has no %q field", eventField)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}
