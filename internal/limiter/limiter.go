// Package limiter throttles message sends per user with a Redis fixed window,
// so the limit holds across every node sharing the Redis instance.
package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window on first use,
// atomically.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`

// FixedWindow allows Limit calls per Window for each key.
type FixedWindow struct {
	rdb    *redis.Client
	script *redis.Script
	Prefix string
	Limit  int
	Window time.Duration
}

// NewFixedWindow creates a limiter. A non-positive limit disables limiting.
func NewFixedWindow(rdb *redis.Client, prefix string, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		rdb:    rdb,
		script: redis.NewScript(fixedWindowScript),
		Prefix: prefix,
		Limit:  limit,
		Window: window,
	}
}

// Allow counts one call for key and reports whether it is within the limit.
func (f *FixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	if f.Limit <= 0 {
		return true, nil
	}
	res, err := f.script.Run(ctx, f.rdb, []string{f.Prefix + key}, f.Limit, f.Window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
