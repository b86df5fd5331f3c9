package redisstore

import (
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// The mutex release/extend paths must be atomic on the server: a naive
// GET-then-DEL can delete a lock that expired and was re-acquired between
// the two commands. Both scripts compare the stored token first and report
// the number of affected keys.
var (
	compareAndDelete = redis.NewScript(
		`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

	compareAndExpire = redis.NewScript(
		`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`)
)

// formatScore renders a float for ZRANGEBYSCORE, mapping infinities to
// the -inf/+inf forms the server expects.
func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
