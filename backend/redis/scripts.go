package redis

import goredis "github.com/redis/go-redis/v9"

// KEYS[1] counter; ARGV[1] limit; ARGV[2] ttl in ms (<= 0: none).
// Returns {value, 1} after incrementing, {value, 0} when already at the limit.
var incrementBelowScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local cur = 0
if raw then
  cur = tonumber(raw)
  if not cur then
    return redis.error_reply('ERR value is not an integer or out of range')
  end
end
if cur >= tonumber(ARGV[1]) then
  return {cur, 0}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {n, 1}
`)
