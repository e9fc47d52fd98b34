// Package queue is a durable delayed-job queue on a Redis sorted set. The
// score of each member is its due time in unix milliseconds.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
)

type Kind string

const (
	KindReveal     Kind = "reveal"
	KindDistribute Kind = "distribute"
)

// Job targets one application, or a whole loan when ActivityCommitment is
// empty. At most one job per (kind, target) is queued at a time.
type Job struct {
	Kind               Kind      `json:"kind"`
	LoanID             uint64    `json:"loanId"`
	ActivityCommitment string    `json:"activityCommitment,omitempty"`
	Attempts           int       `json:"attempts"`
	LastError          string    `json:"lastError,omitempty"`
	EnqueuedAt         time.Time `json:"enqueuedAt"`
}

func (j *Job) Key() string {
	return string(j.Kind) + "|" + strconv.FormatUint(j.LoanID, 10) + "|" + j.ActivityCommitment
}

type Queue struct {
	rdb    redis.UniversalClient
	dueKey string
	jobKey string
	now    func() time.Time
}

func New(rdb redis.UniversalClient, prefix string) *Queue {
	return &Queue{
		rdb:    rdb,
		dueKey: prefix + "queue:due",
		jobKey: prefix + "queue:jobs",
		now:    time.Now,
	}
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Enqueue schedules job after delay. A job already queued for the same
// target is kept as is and Enqueue reports false.
func (q *Queue) Enqueue(ctx context.Context, job Job, delay time.Duration) (bool, error) {
	if job.Kind != KindReveal && job.Kind != KindDistribute {
		return false, fmt.Errorf("%w: unknown job kind %q", common.ErrValidation, job.Kind)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}

	key := job.Key()
	var added *redis.IntCmd
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, q.jobKey, key, raw)
		added = p.ZAddNX(ctx, q.dueKey, redis.Z{Score: score(q.now().Add(delay)), Member: key})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: enqueue: %v", common.ErrTransientNetwork, err)
	}
	return added.Val() == 1, nil
}

// Reschedule puts a claimed job back with its updated attempt count.
func (q *Queue) Reschedule(ctx context.Context, job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	key := job.Key()
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey, key, raw)
		p.ZAdd(ctx, q.dueKey, redis.Z{Score: score(q.now().Add(delay)), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: reschedule: %v", common.ErrTransientNetwork, err)
	}
	return nil
}

// Claim removes and returns up to limit due jobs. ZREM decides ownership
// so concurrent workers never claim the same job.
func (q *Queue) Claim(ctx context.Context, limit int) ([]Job, error) {
	keys, err := q.rdb.ZRangeByScore(ctx, q.dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: claim: %v", common.ErrTransientNetwork, err)
	}

	jobs := make([]Job, 0, len(keys))
	for _, key := range keys {
		removed, err := q.rdb.ZRem(ctx, q.dueKey, key).Result()
		if err != nil {
			return jobs, fmt.Errorf("%w: claim: %v", common.ErrTransientNetwork, err)
		}
		if removed == 0 {
			continue
		}

		raw, err := q.rdb.HGet(ctx, q.jobKey, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return jobs, fmt.Errorf("%w: claim: %v", common.ErrTransientNetwork, err)
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			_ = q.rdb.HDel(ctx, q.jobKey, key).Err()
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// doneScript drops the payload unless the job was enqueued again while it
// was being processed.
var doneScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
	return 0
end
return redis.call("HDEL", KEYS[2], ARGV[1])
`)

// Done forgets a claimed job.
func (q *Queue) Done(ctx context.Context, job Job) error {
	return doneScript.Run(ctx, q.rdb, []string{q.dueKey, q.jobKey}, job.Key()).Err()
}

// Len reports how many jobs are scheduled.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.dueKey).Result()
}
