// Package executor serializes outbound LLM calls behind a FIFO queue with
// a concurrency cap, exponential backoff pacing, and a cooldown after
// repeated upstream 429s.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/imedina/evidens/internal/model"
)

// maxPauseDuration caps the cooldown entered after three consecutive 429s
const maxPauseDuration = 120 * time.Second

// Fn is a unit of outbound work. It must return the raw response text.
type Fn func(ctx context.Context) (string, error)

type task struct {
	ctx        context.Context
	fn         Fn
	retryOn429 bool
	enqueuedAt time.Time

	once   sync.Once
	done   chan struct{}
	result string
	err    error
}

func (t *task) settle(result string, err error) {
	t.once.Do(func() {
		t.result = result
		t.err = err
		close(t.done)
	})
}

// Executor is the process-wide throttle for LLM traffic. Tasks run in FIFO
// order, at most MaxConcurrent in flight, with a pacing delay between
// dispatches that grows with consecutive rate-limit hits.
type Executor struct {
	cfg model.ExecutorConfig

	mu          sync.Mutex
	queue       []*task
	active      int
	consecutive int
	lastHit     time.Time
	pausedUntil time.Time

	kick chan struct{}
	quit chan struct{}
}

// New creates an Executor and starts its dispatch loop
func New(cfg model.ExecutorConfig) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = 90 * time.Second
	}

	e := &Executor{
		cfg:  cfg,
		kick: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go e.loop()
	return e
}

// Submit enqueues fn and blocks until it settles or ctx is cancelled.
// When retryOn429 is set, a rate-limited attempt is re-enqueued at the
// head of the queue instead of failing.
func (e *Executor) Submit(ctx context.Context, retryOn429 bool, fn Fn) (string, error) {
	t := &task{
		ctx:        ctx,
		fn:         fn,
		retryOn429: retryOn429,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}

	e.mu.Lock()
	e.queue = append(e.queue, t)
	e.mu.Unlock()
	e.wake()

	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		e.remove(t)
		return "", e.wrapIfThrottled(ctx.Err())
	}
}

// wrapIfThrottled attributes a deadline that fired while the executor
// was backing off or paused to the upstream 429s that stalled the
// queue, so callers report rate limiting rather than a bare timeout.
func (e *Executor) wrapIfThrottled(err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.mu.Lock()
	throttled := e.consecutive > 0 || time.Now().Before(e.pausedUntil)
	e.mu.Unlock()
	if throttled {
		return &model.RateLimitedError{Upstream: "llm", Err: err}
	}
	return err
}

// Throttling reports whether the executor has unresolved rate-limit
// pressure. The analysis pipeline uses this to force sequential mode.
func (e *Executor) Throttling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutive > 0
}

// Paused reports whether the executor is in a post-429 cooldown
func (e *Executor) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Now().Before(e.pausedUntil)
}

// QueueLen returns the number of pending tasks
func (e *Executor) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close stops the dispatch loop. Pending tasks are left unsettled; their
// submitters unblock through their own contexts.
func (e *Executor) Close() {
	close(e.quit)
}

func (e *Executor) loop() {
	for {
		e.mu.Lock()
		now := time.Now()

		if remaining := e.pausedUntil.Sub(now); remaining > 0 {
			e.mu.Unlock()
			e.debugf("paused for %v after repeated 429s", remaining)
			if !e.sleep(remaining) {
				return
			}
			continue
		}

		if e.active >= e.cfg.MaxConcurrent || len(e.queue) == 0 {
			e.mu.Unlock()
			select {
			case <-e.kick:
			case <-e.quit:
				return
			}
			continue
		}

		t := e.queue[0]
		e.queue = e.queue[1:]
		delay := e.currentDelayLocked(now)
		e.mu.Unlock()

		// A cancelled caller's task is drained without invoking it.
		if t.ctx.Err() != nil {
			t.settle("", e.wrapIfThrottled(t.ctx.Err()))
			continue
		}

		if delay > 0 && !e.sleep(delay) {
			t.settle("", context.Canceled)
			return
		}

		e.mu.Lock()
		e.active++
		e.mu.Unlock()
		go e.run(t)
	}
}

func (e *Executor) run(t *task) {
	result, err := t.fn(t.ctx)

	e.mu.Lock()
	e.active--
	switch {
	case err == nil:
		if e.consecutive > 0 {
			e.consecutive--
		}
		e.mu.Unlock()
		t.settle(result, nil)

	case model.IsRateLimited(err):
		e.consecutive++
		e.lastHit = time.Now()
		if e.consecutive >= 3 {
			pause := 2 * e.cfg.RecoveryTime
			if pause > maxPauseDuration {
				pause = maxPauseDuration
			}
			e.pausedUntil = time.Now().Add(pause)
			e.debugf("entering cooldown after %d consecutive 429s", e.consecutive)
		}
		if t.retryOn429 && t.ctx.Err() == nil {
			// Re-enqueue at head so the retry preempts newer work.
			e.queue = append([]*task{t}, e.queue...)
			e.mu.Unlock()
		} else {
			e.mu.Unlock()
			t.settle("", err)
		}

	default:
		// Non-429 errors never perturb pacing.
		e.mu.Unlock()
		t.settle("", err)
	}

	e.wake()
}

// currentDelayLocked computes the pacing delay before the next dispatch:
// max(baseDelay * factor^consecutive, remainingRecovery/2), capped at
// MaxDelay. Callers hold e.mu.
func (e *Executor) currentDelayLocked(now time.Time) time.Duration {
	backoff := time.Duration(float64(e.cfg.BaseDelay) * math.Pow(e.cfg.BackoffFactor, float64(e.consecutive)))

	if !e.lastHit.IsZero() {
		if remaining := e.cfg.RecoveryTime - now.Sub(e.lastHit); remaining > 0 {
			if half := remaining / 2; half > backoff {
				backoff = half
			}
		}
	}

	if backoff > e.cfg.MaxDelay {
		backoff = e.cfg.MaxDelay
	}
	return backoff
}

// remove drains a pending task from the queue. Safe to call regardless of
// the task's state.
func (e *Executor) remove(t *task) {
	e.mu.Lock()
	for i, q := range e.queue {
		if q == t {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

// sleep waits for d, returning false if the executor is closed first
func (e *Executor) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Executor) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Executor) debugf(format string, args ...interface{}) {
	if e.cfg.Debug {
		fmt.Fprintf(os.Stderr, "executor: %s\n", fmt.Sprintf(format, args...))
	}
}
