// Package taskqueue runs background pipeline work on a small sharded
// in-process queue. Jobs submitted under the same key run FIFO on one worker;
// different keys may run in parallel.
package taskqueue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type queuedJob struct {
	ctx context.Context
	key string
	job Job
}

// backlog holds jobs a shard worker queued onto its own full shard. The
// worker runs it empty before taking from the channel again.
type backlog struct {
	mu   sync.Mutex
	jobs []queuedJob
}

// absorb moves everything buffered in ch behind the current backlog.
func (b *backlog) absorb(ch chan queuedJob) {
	for {
		select {
		case j := <-ch:
			b.jobs = append(b.jobs, j)
		default:
			return
		}
	}
}

func (b *backlog) pop() (queuedJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.jobs) == 0 {
		return queuedJob{}, false
	}
	j := b.jobs[0]
	b.jobs[0] = queuedJob{}
	b.jobs = b.jobs[1:]
	return j, true
}

type workerKey struct{}

type workerMark struct {
	q     *Queue
	shard int
}

// Queue executes Jobs on worker goroutines partitioned by a stable hash of
// the key (e.g. "company:<id>").
type Queue struct {
	cfg    Config
	log    zerolog.Logger
	queues   []chan queuedJob
	backlogs []*backlog

	done   chan struct{}
	closed atomic.Bool

	wg sync.WaitGroup
}

// New constructs the queue and starts its shard workers.
func New(cfg Config, log zerolog.Logger) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:      cfg,
		log:      log.With().Str("component", "taskqueue").Logger(),
		queues:   make([]chan queuedJob, cfg.Shards),
		backlogs: make([]*backlog, cfg.Shards),
		done:     make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		q.queues[i] = ch
		q.backlogs[i] = &backlog{}
		q.wg.Add(1)
		go q.runWorker(i, ch)
	}
	return q
}

// Submit enqueues job on the shard derived from key. ctx is handed to the
// job when it runs; a cancelled ctx skips the job.
//
//   - Returns ErrQueueClosed once Stop has been called.
//   - Returns a *QueueFullError if the shard stays full for EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled while waiting for space.
//
// A job submitting onto its own shard (ctx derived from the one it was run
// with) never waits: when the shard is full the job goes to the shard
// backlog, behind everything already queued.
func (q *Queue) Submit(ctx context.Context, key string, job Job) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	shard := q.shardFor(key)
	ch := q.queues[shard]
	qj := queuedJob{ctx: ctx, key: key, job: job}

	if q.onWorker(ctx, shard) {
		q.enqueueFromWorker(shard, qj)
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	}

	timer := time.NewTimer(q.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- qj:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Go submits a detached job: it runs even if ctx is cancelled. Only the
// values of ctx are kept. Enqueue failures are logged and reported to
// ErrorHandler.
func (q *Queue) Go(ctx context.Context, key string, job Job) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := q.Submit(context.WithoutCancel(ctx), key, job); err != nil {
		q.log.Warn().Err(err).Str("key", key).Msg("background job not enqueued")
		q.handleError(key, err)
	}
}

// Barrier waits until every job submitted for key before the call has run.
func (q *Queue) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	if err := q.Submit(ctx, key, JobFunc(func(context.Context) error {
		close(done)
		return nil
	})); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop drains every shard and waits for the workers to exit. It is
// idempotent and safe for concurrent use.
func (q *Queue) Stop() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.log.Info().Int("shards", q.cfg.Shards).Msg("stopping task queue")
	close(q.done)
	q.wg.Wait()
	q.log.Info().Msg("task queue stopped")
}

// Close lets Queue satisfy io.Closer.
func (q *Queue) Close() error {
	q.Stop()
	return nil
}

func (q *Queue) runWorker(idx int, ch <-chan queuedJob) {
	defer q.wg.Done()
	label := labelFor(idx)
	pending := q.backlogs[idx]

	for {
		if qj, ok := pending.pop(); ok {
			q.execute(idx, qj)
			continue
		}
		select {
		case qj := <-ch:
			q.execute(idx, qj)
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-q.done:
			drained := 0
			for {
				qj, ok := pending.pop()
				if !ok {
					break
				}
				if err := runSafe(q.mark(qj, idx)); err != nil {
					q.fail(label, qj.key, err)
				}
				drained++
			}
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						if err := runSafe(q.mark(qj, idx)); err != nil {
							q.fail(label, qj.key, err)
						}
						drained++
					}
				default:
					if drained > 0 {
						q.log.Info().Int("worker", idx).Int("drained", drained).Msg("drained remaining jobs")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

func (q *Queue) execute(idx int, qj queuedJob) {
	if qj.job == nil {
		return
	}
	if err := qj.ctx.Err(); err != nil {
		q.handleError(qj.key, err)
		return
	}
	label := labelFor(idx)
	qj = q.mark(qj, idx)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = q.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := runSafe(qj)
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if err == nil {
			return
		}
		if isPermanent(err) || attempt >= q.cfg.MaxAttempts {
			q.fail(label, qj.key, err)
			return
		}
		q.log.Debug().Err(err).Str("key", qj.key).Int("attempt", attempt).Msg("job failed, retrying")
		select {
		case <-time.After(exp.NextBackOff()):
		case <-q.done:
			q.fail(label, qj.key, err)
			return
		case <-qj.ctx.Done():
			q.fail(label, qj.key, qj.ctx.Err())
			return
		}
	}
}

// mark tags the job context with the shard running it.
func (q *Queue) mark(qj queuedJob, idx int) queuedJob {
	qj.ctx = context.WithValue(qj.ctx, workerKey{}, workerMark{q: q, shard: idx})
	return qj
}

func (q *Queue) onWorker(ctx context.Context, shard int) bool {
	m, ok := ctx.Value(workerKey{}).(workerMark)
	return ok && m.q == q && m.shard == shard
}

func (q *Queue) enqueueFromWorker(shard int, qj queuedJob) {
	b := q.backlogs[shard]
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case q.queues[shard] <- qj:
		return
	default:
	}
	b.absorb(q.queues[shard])
	b.jobs = append(b.jobs, qj)
}

func (q *Queue) fail(label, key string, err error) {
	failuresTotal.WithLabelValues(label).Inc()
	q.log.Error().Err(err).Str("key", key).Msg("background job failed")
	q.handleError(key, err)
}

// runSafe converts a job panic into an error so one bad job cannot take a
// shard worker down.
func runSafe(qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("job panic: %v", r))
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (q *Queue) handleError(key string, err error) {
	if err == nil || q.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("task queue error handler panicked")
		}
	}()
	q.cfg.ErrorHandler(key, err)
}

func (q *Queue) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(q.cfg.Shards))
}
