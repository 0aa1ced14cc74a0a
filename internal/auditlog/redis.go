package auditlog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	oracleStream     = "loopagent:audit:oracle_calls"
	capabilityStream = "loopagent:audit:capability_calls"
)

// RedisLog appends audit records to Redis streams. XADD is atomic, so
// interleaved appends from concurrent runs need no extra locking.
type RedisLog struct {
	client *redis.Client
	maxLen int64 // 0 = unbounded
}

// RedisOption configures a RedisLog.
type RedisOption func(*RedisLog)

// WithStreamMaxLen trims each stream to approximately maxLen entries.
func WithStreamMaxLen(maxLen int64) RedisOption {
	return func(l *RedisLog) { l.maxLen = maxLen }
}

// NewRedisLog creates an audit log on the Redis instance at addr.
func NewRedisLog(addr string, opts ...RedisOption) *RedisLog {
	l := &RedisLog{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Close releases the Redis connection.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

// RecordOracleCall appends one oracle-call record to the oracle stream.
func (l *RedisLog) RecordOracleCall(ctx context.Context, call OracleCall) error {
	err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: oracleStream,
		MaxLen: l.maxLen,
		Approx: l.maxLen > 0,
		Values: map[string]any{
			"run_id":     call.RunID,
			"ts":         call.Timestamp,
			"context":    truncateForStorage(call.Context),
			"response":   call.Response,
			"latency_ms": strconv.FormatInt(call.LatencyMs, 10),
			"error":      call.Error,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("audit log: oracle call: %w", err)
	}
	return nil
}

// RecordCapabilityCall appends one capability-invocation record.
func (l *RedisLog) RecordCapabilityCall(ctx context.Context, call CapabilityCall) error {
	err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: capabilityStream,
		MaxLen: l.maxLen,
		Approx: l.maxLen > 0,
		Values: map[string]any{
			"run_id":     call.RunID,
			"ts":         call.Timestamp,
			"capability": call.Capability,
			"args":       call.Args,
			"result":     call.Result,
			"error":      call.Error,
			"latency_ms": strconv.FormatInt(call.LatencyMs, 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("audit log: capability call: %w", err)
	}
	return nil
}
