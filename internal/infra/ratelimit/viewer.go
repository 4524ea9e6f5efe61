package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"chatalert/internal/domain/alert"

	"github.com/redis/go-redis/v9"
)

var _ alert.ViewerRateLimiter = (*RedisViewerLimiter)(nil)

// RedisViewerLimiter caps alerts per viewer using Redis sorted sets.
// It uses a sliding window: each delivered alert is a member scored by its
// timestamp. The throttle's per-conversation cooldown still applies first;
// this cap bounds the total across conversations.
type RedisViewerLimiter struct {
	client     *redis.Client
	maxPerHour int
	window     time.Duration
	now        func() time.Time
}

// NewRedisViewerLimiter creates a new Redis-based per-viewer limiter.
// maxPerHour <= 0 disables the cap.
func NewRedisViewerLimiter(client *redis.Client, maxPerHour int) *RedisViewerLimiter {
	return &RedisViewerLimiter{
		client:     client,
		maxPerHour: maxPerHour,
		window:     time.Hour,
		now:        time.Now,
	}
}

// Allow checks whether another alert may be delivered to viewerID and
// records it if so.
func (r *RedisViewerLimiter) Allow(ctx context.Context, viewerID string) (bool, error) {
	if r.maxPerHour <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("chatalert:ratelimit:viewer:%s", viewerID)
	now := r.now()
	windowStart := now.Add(-r.window)

	pipe := r.client.Pipeline()

	// Remove entries outside the sliding window
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))

	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("checking viewer alert limit: %w", err)
	}

	if countCmd.Val() >= int64(r.maxPerHour) {
		return false, nil
	}

	// Unique member so concurrent alerts in the same nanosecond both count
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(randBytes)),
	}

	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.Expire(ctx, key, r.window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("recording viewer alert: %w", err)
	}

	return true, nil
}
