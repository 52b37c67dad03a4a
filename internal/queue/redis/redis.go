package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"backfeed/internal/queue"
)

// Layout:
//
//	<prefix>:q:<queue>   sorted set of pending task names scored by eta (unix ms)
//	<prefix>:t:<name>    hash with queue, attempts, created_ms, last_error, state
//	<prefix>:n:<name>    dedup tombstone, expires after the dedup window
type Queue struct {
	client *goredis.Client
	prefix string
	window time.Duration
	now    func() time.Time
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func New(client *goredis.Client, prefix string, opts queue.Options) *Queue {
	if prefix == "" {
		prefix = "backfeed"
	}
	return &Queue{client: client, prefix: prefix, window: opts.DedupWindow, now: opts.Clock()}
}

// Dial connects to the configured server and verifies it answers.
func Dial(ctx context.Context, cfg Config, opts queue.Options) (*Queue, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.Prefix, opts), nil
}

func (q *Queue) queueKey(name string) string { return q.prefix + ":q:" + name }
func (q *Queue) taskKey(name string) string  { return q.prefix + ":t:" + name }
func (q *Queue) nameKey(name string) string  { return q.prefix + ":n:" + name }

// KEYS: task hash, tombstone, queue zset
// ARGV: name, queue, eta ms, created ms, window ms
var addScript = goredis.NewScript(`
if redis.call("HGET", KEYS[1], "state") == "pending" then
	return 0
end
local window = tonumber(ARGV[5])
if window > 0 then
	if not redis.call("SET", KEYS[2], ARGV[4], "NX", "PX", window) then
		return 0
	end
end
redis.call("HSET", KEYS[1], "queue", ARGV[2], "attempts", 0, "created_ms", ARGV[4], "last_error", "", "state", "pending")
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// KEYS: queue zset
// ARGV: now ms, visibility ms, task key prefix
var claimScript = goredis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #due == 0 then
	return false
end
local name = due[1]
local eta = tonumber(ARGV[1]) + tonumber(ARGV[2])
redis.call("ZADD", KEYS[1], eta, name)
local key = ARGV[3] .. name
local attempts = redis.call("HINCRBY", key, "attempts", 1)
local fields = redis.call("HMGET", key, "created_ms", "last_error")
return {name, tostring(attempts), tostring(eta), fields[1] or "0", fields[2] or ""}
`)

func (q *Queue) Add(ctx context.Context, name, queueName string, countdown time.Duration) error {
	now := q.now()
	res, err := addScript.Run(ctx, q.client,
		[]string{q.taskKey(name), q.nameKey(name), q.queueKey(queueName)},
		name, queueName, now.Add(countdown).UnixMilli(), now.UnixMilli(), q.window.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to add task %s: %w", name, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", queue.ErrTaskExists, name)
	}
	return nil
}

func (q *Queue) Claim(ctx context.Context, queueName string, visibility time.Duration) (*queue.Task, error) {
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.queueKey(queueName)},
		q.now().UnixMilli(), visibility.Milliseconds(), q.prefix+":t:",
	).StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim from %s: %w", queueName, err)
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("unexpected claim reply %v", res)
	}

	attempts, _ := strconv.Atoi(res[1])
	etaMs, _ := strconv.ParseInt(res[2], 10, 64)
	createdMs, _ := strconv.ParseInt(res[3], 10, 64)

	return &queue.Task{
		Name:      res[0],
		Queue:     queueName,
		ETA:       time.UnixMilli(etaMs).UTC(),
		Attempts:  attempts,
		CreatedAt: time.UnixMilli(createdMs).UTC(),
		LastError: res[4],
	}, nil
}

func (q *Queue) pendingQueue(ctx context.Context, name string) (string, error) {
	vals, err := q.client.HMGet(ctx, q.taskKey(name), "queue", "state").Result()
	if err != nil {
		return "", fmt.Errorf("failed to load task %s: %w", name, err)
	}
	queueName, _ := vals[0].(string)
	state, _ := vals[1].(string)
	if queueName == "" || state != "pending" {
		return "", fmt.Errorf("%w: %s", queue.ErrNotFound, name)
	}
	return queueName, nil
}

// Ack drops the task record; the tombstone keeps the name reserved.
func (q *Queue) Ack(ctx context.Context, name string) error {
	queueName, err := q.pendingQueue(ctx, name)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, q.queueKey(queueName), name)
		pipe.Del(ctx, q.taskKey(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack task %s: %w", name, err)
	}
	return nil
}

func (q *Queue) Retry(ctx context.Context, name string, eta time.Time, reason string) error {
	queueName, err := q.pendingQueue(ctx, name)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, q.queueKey(queueName), goredis.Z{Score: float64(eta.UnixMilli()), Member: name})
		pipe.HSet(ctx, q.taskKey(name), "last_error", reason)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to retry task %s: %w", name, err)
	}
	return nil
}

func (q *Queue) DeadLetter(ctx context.Context, name string, reason string) error {
	queueName, err := q.pendingQueue(ctx, name)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, q.queueKey(queueName), name)
		pipe.HSet(ctx, q.taskKey(name), "state", "dead", "last_error", reason)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter task %s: %w", name, err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
