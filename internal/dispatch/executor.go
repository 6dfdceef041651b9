// Package dispatch runs relay updates on a fixed set of workers.
//
// Jobs are partitioned by a stable hash of their key, so updates of the same
// chat run one at a time and in arrival order while different chats proceed
// in parallel. Callers must not Submit concurrently for the same key; FIFO
// order relies on that.
package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

type queuedJob struct {
	ctx context.Context
	key string
	job Job
}

// Executor executes Jobs on shard workers.
type Executor struct {
	cfg    Config
	queues []chan queuedJob

	done   chan struct{}
	closed atomic.Bool

	wg sync.WaitGroup
}

// BotKey is the ordering key of a bot's updates. The directory and the
// correlation log are shared by every chat of a bot, so its updates run one
// at a time.
func BotKey(botID int64) string {
	return "bot:" + strconv.FormatInt(botID, 10)
}

// NewExecutor starts the shard workers.
func NewExecutor(cfg Config) *Executor {
	cfg.applyDefaults()
	p := &Executor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job on the shard of key.
//
//   - Returns ErrExecutorClosed after Stop.
//   - Returns a *QueueFullError when the shard stays full for EnqueueTimeout.
//   - Returns ctx.Err() if ctx ends first.
//
// ctx is also the context the job runs with.
func (p *Executor) Submit(ctx context.Context, key string, job Job) error {
	if p.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, key: key, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		queueDepth.WithLabelValues(labelFor(shard)).Set(float64(len(ch)))
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier waits until every job submitted for key before it has run.
func (p *Executor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := p.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop rejects new work, lets every worker drain its queue and waits for
// them. It is idempotent.
func (p *Executor) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cfg.Logger.Info().Int("shards", p.cfg.Shards).Msg("Stopping dispatcher, draining shards")
	close(p.done)
	p.wg.Wait()
	p.cfg.Logger.Info().Msg("Dispatcher stopped")
}

// Close lets Executor satisfy io.Closer.
func (p *Executor) Close() error {
	p.Stop()
	return nil
}

func (p *Executor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			p.execute(label, qj)
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					p.execute(label, qj)
					drained++
				default:
					if drained > 0 {
						p.cfg.Logger.Info().Int("shard", idx).Int("jobs", drained).Msg("Shard drained")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

func (p *Executor) execute(label string, qj queuedJob) {
	if qj.job == nil {
		return
	}
	// a canceled caller must not stall the shard
	if err := qj.ctx.Err(); err != nil {
		p.safeHandleError(qj.key, err)
		return
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxInterval
	exp.Reset()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := p.runSafe(qj)
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if err == nil {
			return
		}
		if isPermanent(err) || attempt >= p.cfg.MaxAttempts {
			p.safeHandleError(qj.key, err)
			return
		}

		select {
		case <-time.After(exp.NextBackOff()):
		case <-p.done:
			// out of time to retry; report what we have
			p.safeHandleError(qj.key, err)
			return
		case <-qj.ctx.Done():
			p.safeHandleError(qj.key, qj.ctx.Err())
			return
		}
	}
}

// runSafe runs the job, turning a panic into a permanent error.
func (p *Executor) runSafe(qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			panicsTotal.Inc()
			err = Permanent(fmt.Errorf("job panic: %v", r))
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *Executor) safeHandleError(key string, err error) {
	if err == nil {
		return
	}
	if p.cfg.ErrorHandler == nil {
		p.cfg.Logger.Warn().Err(err).Str("key", key).Msg("Job failed")
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.cfg.Logger.Error().Interface("panic", r).Msg("Dispatch error handler panic")
			}
		}()
		p.cfg.ErrorHandler(key, err)
	}()
}

func (p *Executor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
