package budget

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript checks every counter against its cap before incrementing any
// of them, so the charge is all-or-nothing even under concurrent callers.
// KEYS: counter keys. ARGV: cost, then cap and ttl seconds per key.
var consumeScript = redis.NewScript(`
local cost = tonumber(ARGV[1])
for i, key in ipairs(KEYS) do
	local cap = tonumber(ARGV[2*i])
	local current = tonumber(redis.call('GET', key) or '0')
	if current + cost > cap then
		return 0
	end
end
for i, key in ipairs(KEYS) do
	local ttl = tonumber(ARGV[2*i+1])
	local value = redis.call('INCRBY', key, cost)
	if value == cost then
		redis.call('EXPIRE', key, ttl)
	end
end
return 1
`)

// RedisCounterStore backs budget counters with Redis.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a counter store on the given client.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// ConsumeIfUnder runs the cap-check-then-increment script atomically.
func (s *RedisCounterStore) ConsumeIfUnder(ctx context.Context, entries []CounterEntry, cost int64) (bool, error) {
	keys := make([]string, 0, len(entries))
	argv := make([]interface{}, 0, 1+2*len(entries))
	argv = append(argv, cost)
	for _, e := range entries {
		keys = append(keys, e.Key)
		argv = append(argv, e.Cap, int64(e.TTL/time.Second))
	}

	res, err := consumeScript.Run(ctx, s.client, keys, argv...).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
