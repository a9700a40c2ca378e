// Package executor runs one callback invocation with bounded retry and pure
// geometric backoff.
//
// The delay sequence carries no jitter: for InitialDelay d and Multiplier b it
// is exactly d, d·b, d·b², ... This keeps retry timing bit-exact for tests and
// predictable against external rate budgets.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/stats"
	logx "feedwatch/pkg/logx"
)

// Options controls the retry policy for one Run.
type Options struct {
	MaxRetries   int           // retries after the first attempt (default 3)
	InitialDelay time.Duration // delay before the first retry (default 5s)
	Multiplier   int           // geometric growth factor (default 2)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 5 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2
	}
	return o
}

// Recorder receives the per-task lifecycle records. *stats.Store satisfies it.
//
// Guarantees per Run invocation: exactly one RecordStart precedes the first
// attempt, and exactly one of RecordSuccess/RecordFailure follows once the
// run settles.
type Recorder interface {
	RecordStart(k stats.Key)
	RecordSuccess(k stats.Key)
	RecordFailure(k stats.Key, errMsg string)
}

type Executor struct {
	rec Recorder
	log logx.Logger
	bus eventbus.Bus

	// sleep is ctx-aware and injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(rec Recorder, log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{rec: rec, log: log, bus: bus, sleep: sleepCtx}
}

// SetSleep overrides the backoff sleep. Tests only.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn != nil {
		e.sleep = fn
	}
}

// Run executes fn with bounded retry. A run that never succeeds makes exactly
// MaxRetries+1 attempts and returns an *ExhaustedError wrapping the final
// error. NoRetry-marked errors stop retrying immediately and are returned
// unwrapped. Context cancellation aborts the backoff wait and settles the run
// as a failure.
func (e *Executor) Run(ctx context.Context, k stats.Key, fn func(ctx context.Context) error, opt Options) error {
	if fn == nil {
		return NoRetry(errors.New("executor: nil callback"))
	}
	opt = opt.withDefaults()

	start := time.Now()
	e.rec.RecordStart(k)
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: start, Data: TaskEvent{Key: k, Started: start}})
	}

	var err error
	exhausted := false
	attempts := 0
	maxAttempts := opt.MaxRetries + 1
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = e.runOnce(ctx, k, fn)
		if err == nil {
			break
		}

		// Permanent failures skip the remaining attempts.
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			exhausted = true
			break
		}

		delay := backoffDelay(opt, attempt)
		if hint, ok := RetryAfterHint(err); ok {
			delay = hint
		}
		e.log.Debug("task retry scheduled",
			logx.String("task", k.String()),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Any("err", err))
		if serr := e.sleep(ctx, delay); serr != nil {
			err = serr
			break attemptLoop
		}
	}

	dur := time.Since(start)
	if err == nil {
		e.rec.RecordSuccess(k)
		e.log.Debug("task completed",
			logx.String("task", k.String()),
			logx.Duration("dur", dur),
			logx.Int("attempts", attempts))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: TaskEvent{Key: k, Started: start, Duration: dur, Attempts: attempts}})
		}
		return nil
	}

	if exhausted {
		err = &ExhaustedError{Attempts: attempts, Err: err}
	}
	e.rec.RecordFailure(k, err.Error())
	e.log.Warn("task failed",
		logx.String("task", k.String()),
		logx.Any("err", err),
		logx.Duration("dur", dur),
		logx.Int("attempts", attempts))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Data: TaskEvent{Key: k, Started: start, Duration: dur, Attempts: attempts, Error: err.Error()}})
	}
	return err
}

// runOnce guards against callback panics: one bad poll must not crash the
// process or skip the failure record.
func (e *Executor) runOnce(ctx context.Context, k stats.Key, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("task panic",
				logx.String("task", k.String()),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(ctx)
}

// backoffDelay returns the delay after the attempt-th failure (1-based):
// InitialDelay * Multiplier^(attempt-1). Pure geometric, no cap, no jitter.
func backoffDelay(opt Options, attempt int) time.Duration {
	d := opt.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= time.Duration(opt.Multiplier)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// TaskEvent is the payload published on the event bus for task lifecycle events.
type TaskEvent struct {
	Key      stats.Key     `json:"key"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}
