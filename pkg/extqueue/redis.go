package extqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config configures a RedisQueue connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// VisibilityTimeout bounds how long a Receive'd message stays
	// reserved before it becomes eligible for redelivery to another
	// consumer, guarding against a consumer that crashes mid-process
	// without ever calling Ack or Nack.
	VisibilityTimeout time.Duration
}

// DefaultConfig returns sensible defaults, mirroring the engine's Redis
// cache and rate-limit configuration shape.
func DefaultConfig() Config {
	return Config{
		Addr:              "localhost:6379",
		PoolSize:          10,
		VisibilityTimeout: 30 * time.Second,
	}
}

// wireMessage is the JSON form stored as a sorted-set member.
type wireMessage struct {
	ID            string    `json:"id"`
	Payload       []byte    `json:"payload"`
	Priority      int       `json:"priority"`
	CorrelationID string    `json:"correlation_id"`
	Attempts      int       `json:"attempts"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// RedisQueue implements Queue on top of Redis sorted sets: each
// (queue, priority) tier has its own ready set scored by ready-at, and
// Receive takes the earliest-ready member of the most urgent tier that
// has one; delivered messages move to a
// per-queue processing hash keyed by handle until Ack removes them or
// Nack returns them to the ready set (or the dead-letter list).
type RedisQueue struct {
	client *redis.Client
	vis    time.Duration
}

// NewRedisQueue dials Redis and verifies connectivity before returning.
func NewRedisQueue(ctx context.Context, cfg Config) (*RedisQueue, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("extqueue: redis ping failed: %w", err)
	}

	vis := cfg.VisibilityTimeout
	if vis <= 0 {
		vis = 30 * time.Second
	}
	return &RedisQueue{client: client, vis: vis}, nil
}

// readyKey returns one sorted set per (queue, priority) tier, scored by
// ready-at unix time. Receive scans tiers from most to least urgent so a
// priority ordinal never has to share a score axis with ready-at the way
// a single combined set would.
func readyKey(queueName string, priority int) string {
	return fmt.Sprintf("extqueue:{%s}:ready:%d", queueName, priority)
}
func processingKey(queueName string) string { return "extqueue:{" + queueName + "}:processing" }
func deadKey(queueName string) string       { return "extqueue:{" + queueName + "}:dead" }

// priorityTiers is the range of priority ordinals Receive scans, from
// most to least urgent, matching message.Priority's four-level scale.
var priorityTiers = []int{0, 1, 2, 3}

func (q *RedisQueue) Send(ctx context.Context, queueName string, payload []byte, opts SendOptions) error {
	readyAt := time.Now()
	if opts.Delay > 0 {
		readyAt = readyAt.Add(opts.Delay)
	}
	wm := wireMessage{
		ID:            uuid.NewString(),
		Payload:       payload,
		Priority:      opts.Priority,
		CorrelationID: opts.CorrelationID,
		Attempts:      0,
		EnqueuedAt:    time.Now(),
	}
	encoded, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("extqueue: marshal: %w", err)
	}
	return q.client.ZAdd(ctx, readyKey(queueName, opts.Priority), redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: encoded,
	}).Err()
}

// Receive polls the ready sets, most urgent tier first, for the
// earliest member whose ready-at is at or before now, moving it into the processing
// hash under a fresh handle. It polls rather than blocks natively,
// since a sorted set has no blocking pop with a max-score bound.
func (q *RedisQueue) Receive(ctx context.Context, queueName string, timeout time.Duration) (Message, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 100 * time.Millisecond

	for {
		msg, ok, err := q.tryReceive(ctx, queueName)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return Message{}, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *RedisQueue) tryReceive(ctx context.Context, queueName string) (Message, bool, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())

	var member string
	var tierKey string
	for _, p := range priorityTiers {
		key := readyKey(queueName, p)
		results, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   now,
			Count: 1,
		}).Result()
		if err != nil {
			return Message{}, false, fmt.Errorf("extqueue: zrangebyscore: %w", err)
		}
		if len(results) > 0 {
			member = results[0]
			tierKey = key
			break
		}
	}
	if member == "" {
		return Message{}, false, nil
	}

	removed, err := q.client.ZRem(ctx, tierKey, member).Result()
	if err != nil {
		return Message{}, false, fmt.Errorf("extqueue: zrem: %w", err)
	}
	if removed == 0 {
		// Another consumer already claimed it between the read and the
		// removal; let the caller poll again.
		return Message{}, false, nil
	}

	var wm wireMessage
	if err := json.Unmarshal([]byte(member), &wm); err != nil {
		return Message{}, false, fmt.Errorf("extqueue: unmarshal: %w", err)
	}
	wm.Attempts++

	handle := uuid.NewString()
	reencoded, err := json.Marshal(wm)
	if err != nil {
		return Message{}, false, fmt.Errorf("extqueue: marshal: %w", err)
	}
	if err := q.client.HSet(ctx, processingKey(queueName), handle, reencoded).Err(); err != nil {
		return Message{}, false, fmt.Errorf("extqueue: hset processing: %w", err)
	}
	q.client.Expire(ctx, processingKey(queueName), q.vis)

	return Message{
		Handle:        handle,
		Payload:       wm.Payload,
		Priority:      wm.Priority,
		CorrelationID: wm.CorrelationID,
		Attempts:      wm.Attempts,
		EnqueuedAt:    wm.EnqueuedAt,
	}, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, queueName string, msg Message) error {
	return q.client.HDel(ctx, processingKey(queueName), msg.Handle).Err()
}

func (q *RedisQueue) Nack(ctx context.Context, queueName string, msg Message, requeue bool) error {
	raw, err := q.client.HGet(ctx, processingKey(queueName), msg.Handle).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil // already acked or expired; nothing to do
		}
		return fmt.Errorf("extqueue: hget processing: %w", err)
	}
	if err := q.client.HDel(ctx, processingKey(queueName), msg.Handle).Err(); err != nil {
		return fmt.Errorf("extqueue: hdel processing: %w", err)
	}

	if !requeue {
		return q.client.RPush(ctx, deadKey(queueName), raw).Err()
	}

	var wm wireMessage
	if err := json.Unmarshal([]byte(raw), &wm); err != nil {
		return fmt.Errorf("extqueue: unmarshal: %w", err)
	}
	return q.client.ZAdd(ctx, readyKey(queueName, wm.Priority), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: raw,
	}).Err()
}

// Length sums, across every priority tier's ready set, the members whose
// ready-at has passed, since the contract reports depth for the queue
// as a whole, not per tier, and excludes delayed messages.
func (q *RedisQueue) Length(ctx context.Context, queueName string) (int64, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	var total int64
	for _, p := range priorityTiers {
		n, err := q.client.ZCount(ctx, readyKey(queueName, p), "-inf", now).Result()
		if err != nil {
			return 0, fmt.Errorf("extqueue: zcount: %w", err)
		}
		total += n
	}
	return total, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
