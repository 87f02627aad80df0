package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/metrics"
)

const (
	keyspace = "portal:jobs:"

	JobKeyPrefix  = keyspace + "job:"
	PendingKey    = keyspace + "pending"
	ProcessingKey = keyspace + "processing"
	DelayedKey    = keyspace + "delayed"
	StatsKey      = keyspace + "stats"

	DefaultMaxAttempts = 3
	JobTTL             = 24 * time.Hour
)

// Handler executes one job. A returned error fails the attempt.
type Handler func(ctx context.Context, job *Job) error

// Config tunes the worker pool and its maintenance loop.
type Config struct {
	Workers int
	// RetryBackoff is multiplied by the attempt number.
	RetryBackoff time.Duration
	// StuckAfter is how long a job may sit in processing before it is
	// handed back to pending.
	StuckAfter          time.Duration
	MaintenanceInterval time.Duration
}

var DefaultConfig = Config{
	Workers:             3,
	RetryBackoff:        time.Minute,
	StuckAfter:          10 * time.Minute,
	MaintenanceInterval: 15 * time.Second,
}

func ConfigFromEnv() Config {
	return Config{
		Workers:             env.GetEnvInt("JOB_QUEUE_WORKERS", 5),
		RetryBackoff:        env.GetEnvDuration("JOB_RETRY_BACKOFF", DefaultConfig.RetryBackoff),
		StuckAfter:          env.GetEnvDuration("JOB_STUCK_AFTER", DefaultConfig.StuckAfter),
		MaintenanceInterval: DefaultConfig.MaintenanceInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultConfig.Workers
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultConfig.RetryBackoff
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = DefaultConfig.StuckAfter
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = DefaultConfig.MaintenanceInterval
	}
	return c
}

// Depth is the number of job ids in each Redis list.
type Depth struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
}

// Queue is a Redis backed job queue. Pending ids live in a list, claimed
// ids move to a processing list, and retries wait in a sorted set scored
// by due time until the maintenance loop promotes them.
type Queue struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time

	handlersMu sync.RWMutex
	handlers   map[JobType]Handler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(client *redis.Client, cfg Config) *Queue {
	return &Queue{
		client:   client,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		handlers: make(map[JobType]Handler),
	}
}

// RegisterHandler sets the handler for a job type. Register before Start.
func (q *Queue) RegisterHandler(jobType JobType, handler Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[jobType] = handler
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start launches the workers and the maintenance loop.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	log.Infof("[JobQueue] Starting %d workers", q.cfg.Workers)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	q.wg.Add(1)
	go q.maintain(ctx)
}

// Stop cancels the loops and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel == nil {
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	q.cancel()
	q.wg.Wait()
	q.cancel = nil
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancel != nil
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		job, err := q.claim(ctx)
		switch {
		case err == nil:
			// a claimed job runs to completion even during shutdown
			q.process(context.WithoutCancel(ctx), job)
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
		default:
			log.Errorf("[JobQueue] Worker %d: %v", id, err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	log.Infof("[JobQueue] Worker %d stopped", id)
}

func (q *Queue) maintain(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := q.now()
			if n, err := q.promoteDue(ctx, now); err != nil {
				log.Errorf("[JobQueue] Promoting delayed jobs: %v", err)
			} else if n > 0 {
				log.Infof("[JobQueue] Promoted %d delayed jobs", n)
			}
			if _, err := q.recoverStuck(ctx, now); err != nil {
				log.Errorf("[JobQueue] Recovering stuck jobs: %v", err)
			}
			if depth, err := q.Depth(ctx); err == nil {
				metrics.JobQueueDepth.WithLabelValues("pending").Set(float64(depth.Pending))
				metrics.JobQueueDepth.WithLabelValues("processing").Set(float64(depth.Processing))
				metrics.JobQueueDepth.WithLabelValues("delayed").Set(float64(depth.Delayed))
			}
		}
	}
}

// EnqueueJob stores a job and pushes its id onto the pending list.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload interface{}) (*Job, error) {
	job, err := newJob(uuid.NewString(), jobType, payload, DefaultMaxAttempts, q.now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
		pipe.LPush(ctx, PendingKey, job.ID)
		pipe.HIncrBy(ctx, StatsKey, string(JobStatusPending), 1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	log.Debugf("[JobQueue] Enqueued %s job %s", jobType, job.ID)
	return job, nil
}

// EnqueueEmail queues a send_email job for msg.
func (q *Queue) EnqueueEmail(ctx context.Context, msg mail.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("cannot enqueue email: %w", err)
	}
	_, err := q.EnqueueJob(ctx, JobTypeSendEmail, newSendEmailPayload(msg))
	return err
}

// claim moves the next pending id to processing and loads its job. Ids
// whose record vanished or is unreadable are dropped.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, PendingKey, ProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.GetJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, ProcessingKey, 1, id)
		return nil, fmt.Errorf("load claimed job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) run(ctx context.Context, job *Job) (err error) {
	h, ok := q.handler(job.Type)
	if !ok {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

// process runs one claimed job and settles it: completed jobs are deleted,
// failed ones wait in the delayed set or stay failed once out of attempts.
func (q *Queue) process(ctx context.Context, job *Job) {
	job.start(q.now())
	q.save(ctx, job)

	err := q.run(ctx, job)
	now := q.now()

	if err == nil {
		_, perr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, JobKeyPrefix+job.ID)
			pipe.LRem(ctx, ProcessingKey, 1, job.ID)
			pipe.HIncrBy(ctx, StatsKey, string(JobStatusCompleted), 1)
			return nil
		})
		if perr != nil {
			log.Errorf("[JobQueue] Failed to settle job %s: %v", job.ID, perr)
		}
		metrics.JobsTotal.WithLabelValues(string(job.Type), "completed").Inc()
		return
	}

	job.fail(now, err)
	retry := job.CanRetry()
	var due time.Time
	if retry {
		due = now.Add(q.cfg.RetryBackoff * time.Duration(job.Attempts))
		job.retryAt(now, due)
	}
	data, merr := json.Marshal(job)
	if merr != nil {
		log.Errorf("[JobQueue] Failed to encode job %s: %v", job.ID, merr)
		return
	}

	if retry {
		log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retrying at %s: %v",
			job.ID, job.Attempts, job.MaxAttempts, due.Format(time.RFC3339), err)
		_, perr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
			pipe.ZAdd(ctx, DelayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
			pipe.LRem(ctx, ProcessingKey, 1, job.ID)
			return nil
		})
		if perr != nil {
			log.Errorf("[JobQueue] Failed to schedule retry for job %s: %v", job.ID, perr)
		}
		metrics.JobsTotal.WithLabelValues(string(job.Type), "retry").Inc()
		return
	}

	log.Errorf("[JobQueue] Job %s failed permanently after %d attempts: %v", job.ID, job.Attempts, err)
	_, perr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
		pipe.LRem(ctx, ProcessingKey, 1, job.ID)
		pipe.HIncrBy(ctx, StatsKey, string(JobStatusFailed), 1)
		return nil
	})
	if perr != nil {
		log.Errorf("[JobQueue] Failed to settle job %s: %v", job.ID, perr)
	}
	metrics.JobsTotal.WithLabelValues(string(job.Type), "failed").Inc()
}

func (q *Queue) save(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to encode job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to save job %s: %v", job.ID, err)
	}
}

// promoteDue moves delayed ids whose due time passed back to pending. ZRem
// decides the winner when several instances promote at once.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, DelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, DelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, PendingKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// recoverStuck hands jobs that sat in processing longer than StuckAfter
// back to pending, typically after a worker crashed mid-job.
func (q *Queue) recoverStuck(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.LRange(ctx, ProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Warnf("[JobQueue] Dropping unreadable job %s: %v", id, err)
			}
			q.client.LRem(ctx, ProcessingKey, 1, id)
			continue
		}
		if job.Status != JobStatusProcessing {
			q.client.LRem(ctx, ProcessingKey, 1, id)
			continue
		}
		age := now.Sub(job.startedAt())
		if age <= q.cfg.StuckAfter {
			continue
		}

		log.Warnf("[JobQueue] Recovering %s job %s stuck for %s", job.Type, job.ID, age.Round(time.Second))
		job.requeue(now, "recovered after "+age.Round(time.Second).String()+" in processing")
		data, err := json.Marshal(job)
		if err != nil {
			continue
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
			pipe.LRem(ctx, ProcessingKey, 1, job.ID)
			pipe.RPush(ctx, PendingKey, job.ID)
			return nil
		})
		if err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// GetJob loads a job record. A missing record returns redis.Nil.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+id).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Stats returns lifetime counters per status.
func (q *Queue) Stats(ctx context.Context) (map[JobStatus]int64, error) {
	raw, err := q.client.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return nil, err
	}
	stats := make(map[JobStatus]int64, len(raw))
	for status, count := range raw {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			stats[JobStatus(status)] = n
		}
	}
	return stats, nil
}

func (q *Queue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, PendingKey)
	processing := pipe.LLen(ctx, ProcessingKey)
	delayed := pipe.ZCard(ctx, DelayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, err
	}
	return Depth{Pending: pending.Val(), Processing: processing.Val(), Delayed: delayed.Val()}, nil
}
