package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
)

var _ repository.RetryQueue = (*RetryQueue)(nil)

// RetryQueue is the compensation queue. Task ids move between a ready list
// and a processing list; payloads live in a hash, lease deadlines in a
// second hash and lease owners in a third, so that an unacked task can be
// reclaimed after a crash and its old holder can no longer ack it.
type RetryQueue struct {
	cli        *redis.Client
	ready      string
	processing string
	leases     string
	payloads   string
	owners     string
	now        func() time.Time
}

func NewRetryQueue(c *Client, name string) *RetryQueue {
	if name == "" {
		name = "compensation"
	}
	return &RetryQueue{
		cli:        c.cli,
		ready:      name + ":ready",
		processing: name + ":processing",
		leases:     name + ":leases",
		payloads:   name + ":tasks",
		owners:     name + ":owners",
		now:        time.Now,
	}
}

func (q *RetryQueue) keys() []string {
	return []string{q.ready, q.processing, q.leases, q.payloads, q.owners}
}

func (q *RetryQueue) Enqueue(ctx context.Context, task *model.RetryTask) error {
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now()
	}
	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal retry task: %w", err)
	}
	_, err = q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.payloads, task.ID, b)
		p.LPush(ctx, q.ready, task.ID)
		return nil
	})
	return err
}

// KEYS: ready, processing, leases, payloads, owners. ARGV: max, deadline_ms, token_prefix.
var luaDequeue = redis.NewScript(`
local out = {}
for i = 1, tonumber(ARGV[1]) do
	local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
	if not id then break end
	local payload = redis.call("HGET", KEYS[4], id)
	if payload then
		local token = ARGV[3] .. ":" .. i
		redis.call("HSET", KEYS[3], id, ARGV[2])
		redis.call("HSET", KEYS[5], id, token)
		table.insert(out, payload)
		table.insert(out, token)
	else
		redis.call("LREM", KEYS[2], 0, id)
	end
end
return out`)

// Dequeue leases up to max tasks. Each task gets its own lease token; the
// deadline is shared, so long batches should Extend before working a task.
func (q *RetryQueue) Dequeue(ctx context.Context, max int, lease time.Duration) ([]*model.RetryTask, error) {
	if max <= 0 {
		return nil, nil
	}
	deadline := q.now().Add(lease).UnixMilli()
	res, err := luaDequeue.Run(ctx, q.cli, q.keys(), max, deadline, ulid.Make().String()).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]*model.RetryTask, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		var t model.RetryTask
		if err := json.Unmarshal([]byte(res[i]), &t); err != nil {
			continue
		}
		t.LeaseToken = res[i+1]
		out = append(out, &t)
	}
	return out, nil
}

// KEYS: leases, owners. ARGV: id, token, deadline_ms.
var luaExtend = redis.NewScript(`
if redis.call("HGET", KEYS[2], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
return 1`)

func (q *RetryQueue) Extend(ctx context.Context, task *model.RetryTask, lease time.Duration) error {
	deadline := q.now().Add(lease).UnixMilli()
	n, err := luaExtend.Run(ctx, q.cli, []string{q.leases, q.owners}, task.ID, task.LeaseToken, deadline).Int()
	return leaseResult(n, err)
}

// KEYS: processing, leases, payloads, owners. ARGV: id, token.
var luaAck = redis.NewScript(`
if redis.call("HGET", KEYS[4], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("HDEL", KEYS[4], ARGV[1])
return 1`)

func (q *RetryQueue) Ack(ctx context.Context, task *model.RetryTask) error {
	n, err := luaAck.Run(ctx, q.cli, q.keys()[1:], task.ID, task.LeaseToken).Int()
	return leaseResult(n, err)
}

// KEYS: ready, processing, leases, payloads, owners. ARGV: id, token, payload.
var luaRequeue = redis.NewScript(`
if redis.call("HGET", KEYS[5], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("HDEL", KEYS[5], ARGV[1])
redis.call("HSET", KEYS[4], ARGV[1], ARGV[3])
redis.call("LPUSH", KEYS[1], ARGV[1])
return 1`)

// Requeue stores the updated task (attempt count, last error) and returns it
// to the back of the ready list.
func (q *RetryQueue) Requeue(ctx context.Context, task *model.RetryTask) error {
	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal retry task: %w", err)
	}
	n, err := luaRequeue.Run(ctx, q.cli, q.keys(), task.ID, task.LeaseToken, b).Int()
	return leaseResult(n, err)
}

func leaseResult(n int, err error) error {
	if err != nil && err != redis.Nil {
		return err
	}
	if n != 1 {
		return domain.ErrLeaseLost
	}
	return nil
}

// KEYS: ready, processing, leases, owners. ARGV: now_ms.
var luaReclaim = redis.NewScript(`
local n = 0
local leases = redis.call("HGETALL", KEYS[3])
for i = 1, #leases, 2 do
	local id = leases[i]
	if tonumber(leases[i + 1]) < tonumber(ARGV[1]) then
		redis.call("LREM", KEYS[2], 0, id)
		redis.call("HDEL", KEYS[3], id)
		redis.call("HDEL", KEYS[4], id)
		redis.call("RPUSH", KEYS[1], id)
		n = n + 1
	end
end
return n`)

// Reclaim returns tasks whose lease has expired to the head of the ready list.
func (q *RetryQueue) Reclaim(ctx context.Context) (int, error) {
	n, err := luaReclaim.Run(ctx, q.cli, []string{q.ready, q.processing, q.leases, q.owners}, q.now().UnixMilli()).Int()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return n, nil
}

// Len counts tasks not yet acked, leased or not.
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	return q.cli.HLen(ctx, q.payloads).Result()
}
