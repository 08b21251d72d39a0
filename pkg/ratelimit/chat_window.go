// Package ratelimit holds limiters shared by every API replica.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"mailchat_server/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mailchat:ratelimit:"

// 윈도우 내 요청 수를 ZSET 으로 관리 (atomic)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local max_requests = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window_ms)

if redis.call('ZCARD', key) < max_requests then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms * 2)
	return 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #oldest > 0 then
	return -(tonumber(oldest[2]) + window_ms - now)
end
return 0
`)

// SlidingWindow allows up to rate+burst requests per key in any one-second
// window, counted in Redis.
type SlidingWindow struct {
	client *redis.Client
	max    int
	window time.Duration
	now    func() time.Time
	seq    func() string
}

func NewSlidingWindow(client *redis.Client, rps float64, burst int) *SlidingWindow {
	limit := int(rps) + burst
	if limit < 1 {
		limit = 1
	}
	return &SlidingWindow{
		client: client,
		max:    limit,
		window: time.Second,
		now:    time.Now,
		seq:    func() string { return strconv.FormatInt(time.Now().UnixNano(), 36) },
	}
}

// Limit is the number of requests allowed per window.
func (l *SlidingWindow) Limit() int { return l.max }

// Allow fails open when Redis is unreachable.
func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.client == nil {
		return true, 0
	}

	now := l.now().UnixMilli()
	result, err := slidingWindowScript.Run(ctx, l.client, []string{keyPrefix + key},
		now,
		l.window.Milliseconds(),
		l.max,
		strconv.FormatInt(now, 10)+"-"+l.seq(),
	).Int64()
	if err != nil {
		logger.WithError(err).Warn("[RateLimit] redis check failed for %s", key)
		return true, 0
	}
	return interpret(result, l.window)
}

// interpret maps the script result: 1 allowed, negative wait in ms, 0 unknown.
func interpret(result int64, window time.Duration) (bool, time.Duration) {
	switch {
	case result == 1:
		return true, 0
	case result < 0:
		return false, time.Duration(-result) * time.Millisecond
	default:
		return false, window
	}
}
