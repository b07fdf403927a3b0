package redisrepo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// luaSlidingWindow admits a hit when fewer than limit hits fall inside the
// window ending now. Rejected hits are not recorded, so a client that keeps
// retrying is admitted again as soon as its oldest hit ages out.
//
//	KEYS[1] = key
//	ARGV    = now_ms, window_ms, limit, member
//	returns {allowed, count, retry_ms}
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  if retry < 0 then retry = 0 end
  return {0, count, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`

// SlidingWindowLimiter bounds how often one caller may hit a scope, e.g.
// booking creation per client IP.
type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	script *redis.Script

	now    func() time.Time
	member func() string
}

// NewSlidingWindowLimiter allows limit hits per window. A limit below 1 is treated as 1.
func NewSlidingWindowLimiter(
	rdb *redis.Client,
	scope string,
	limit int,
	window time.Duration,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  max(limit, 1),
		window: window,
		script: redis.NewScript(luaSlidingWindow),
		now:    time.Now,
		member: func() string { return randomHex(12) },
	}
}

// Allow records a hit for caller if the window has room. retryAfter tells a
// rejected caller when the next hit would be admitted.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, caller string) (allowed bool, current int64, retryAfter time.Duration, err error) {
	const op = "redisrepo.SlidingWindowLimiter.Allow"

	res, err := l.script.Run(
		ctx,
		l.rdb,
		[]string{KeyRateLimit(l.scope, caller)},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, l.member(),
	).Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("%s:%w", op, err)
	}
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("%s: unexpected script result %v", op, res)
	}

	return toInt(res[0]) == 1, toInt(res[1]), time.Duration(toInt(res[2])) * time.Millisecond, nil
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		x, _ := strconv.ParseInt(t, 10, 64)
		return x
	default:
		return 0
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
