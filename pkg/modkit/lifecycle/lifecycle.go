// Package lifecycle provides a reusable start/stop state machine for a
// single long-running cooperative task, with readiness signaling and a
// bounded stop: a task still running when the stop timeout expires is
// reported as a timeout and left running, not aborted.
//
// It follows the same atomic-state-plus-channel idiom as the reference
// stack's system/framework/lifecycle package, generalized to support
// explicit readiness handshakes and bounded stop.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle's current state.
type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// StopReason describes how Stop concluded.
type StopReason int

const (
	StopFinished StopReason = iota
	StopCancelled
	StopTimeout
)

func (r StopReason) String() string {
	switch r {
	case StopFinished:
		return "finished"
	case StopCancelled:
		return "cancelled"
	case StopTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Start/StartWithReady when the lifecycle is
// not in the Stopped state.
var ErrAlreadyStarted = errors.New("lifecycle: already started")

// Runnable is a task body with no readiness handshake; Start transitions to
// Running immediately after spawning it.
type Runnable func(ctx context.Context) error

// RunnableWithReady is a task body that owns notifying readiness; the caller
// must invoke ready.Notify() exactly once.
type RunnableWithReady func(ctx context.Context, ready *ReadySignal) error

// ReadySignal is a one-shot notification a RunnableWithReady uses to signal
// it has finished its startup work and is now serving.
type ReadySignal struct {
	once sync.Once
	ch   chan struct{}
	lc   *Lifecycle
}

func newReadySignal(lc *Lifecycle) *ReadySignal {
	return &ReadySignal{ch: make(chan struct{}), lc: lc}
}

// Notify signals readiness. Safe to call more than once; only the first call
// has any effect.
func (r *ReadySignal) Notify() {
	r.once.Do(func() {
		close(r.ch)
		if r.lc != nil {
			r.lc.status.CompareAndSwap(int32(StatusStarting), int32(StatusRunning))
		}
	})
}

// Done reports when Notify has been called.
func (r *ReadySignal) Done() <-chan struct{} { return r.ch }

// Lifecycle wraps a single run of a cooperative task.
type Lifecycle struct {
	status atomic.Int32

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	canceled bool
}

// New returns a Lifecycle in the Stopped state.
func New() *Lifecycle {
	l := &Lifecycle{}
	l.status.Store(int32(StatusStopped))
	return l
}

// Status returns the current state.
func (l *Lifecycle) Status() Status { return Status(l.status.Load()) }

// Start spawns fn and transitions immediately to Running.
func (l *Lifecycle) Start(ctx context.Context, fn Runnable) error {
	return l.startCore(ctx, func(ctx context.Context, ready *ReadySignal) error {
		ready.Notify()
		return fn(ctx)
	}, true)
}

// StartWithReady spawns fn in the Starting state; fn must call
// ready.Notify() exactly once to transition to Running. If Stop is called
// before Notify, the task is cancelled while still Starting.
func (l *Lifecycle) StartWithReady(ctx context.Context, fn RunnableWithReady) error {
	return l.startCore(ctx, fn, false)
}

func (l *Lifecycle) startCore(ctx context.Context, fn RunnableWithReady, immediateRunning bool) error {
	if !l.status.CompareAndSwap(int32(StatusStopped), int32(StatusStarting)) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.runErr = nil
	l.canceled = false
	l.mu.Unlock()

	ready := newReadySignal(l)

	if immediateRunning {
		l.status.Store(int32(StatusRunning))
	}

	go func() {
		err := fn(runCtx, ready)
		l.mu.Lock()
		l.runErr = err
		l.mu.Unlock()
		// If the task returned without ever reaching Running (ready never
		// notified, e.g. it failed during startup), fall back to Stopped
		// directly rather than leaving the state machine in Starting.
		l.status.CompareAndSwap(int32(StatusStarting), int32(StatusStopped))
		close(done)
	}()

	return nil
}

// Stop requests the running task to stop, waiting up to timeout for it to
// finish after cancellation. It always leaves the lifecycle in Stopped
// before returning.
func (l *Lifecycle) Stop(timeout time.Duration) StopReason {
	for {
		cur := Status(l.status.Load())
		if cur == StatusStopped {
			return StopFinished
		}
		if cur == StatusStopping {
			break
		}
		if l.status.CompareAndSwap(int32(cur), int32(StatusStopping)) {
			break
		}
	}

	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	alreadyFinished := done == nil
	if !alreadyFinished {
		select {
		case <-done:
			alreadyFinished = true
		default:
		}
	}
	l.canceled = true
	l.mu.Unlock()

	if alreadyFinished {
		l.status.Store(int32(StatusStopped))
		return StopFinished
	}

	if cancel != nil {
		cancel()
	}

	var reason StopReason
	if timeout <= 0 {
		<-done
		reason = StopCancelled
	} else {
		select {
		case <-done:
			reason = StopCancelled
		case <-time.After(timeout):
			reason = StopTimeout
		}
	}

	l.status.Store(int32(StatusStopped))
	return reason
}

// Err returns the error the most recently completed run returned, if any.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runErr
}

// StatefulModule is the narrow interface a stateful module implements: Start spawns
// the module's work, Stop requests it to wind down.
type StatefulModule interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// WithLifecycle adapts an arbitrary Runnable into a StatefulModule backed by
// a Lifecycle, applying a default stop timeout when the caller's Stop
// context carries no deadline of its own.
type WithLifecycle struct {
	lc          *Lifecycle
	run         Runnable
	stopTimeout time.Duration
}

// NewWithLifecycle wraps fn, defaulting the stop timeout to 30s to match the
// registry's default per-module stop timeout.
func NewWithLifecycle(fn Runnable) *WithLifecycle {
	return &WithLifecycle{lc: New(), run: fn, stopTimeout: 30 * time.Second}
}

// WithStopTimeout overrides the default stop timeout.
func (w *WithLifecycle) WithStopTimeout(d time.Duration) *WithLifecycle {
	w.stopTimeout = d
	return w
}

func (w *WithLifecycle) Start(ctx context.Context) error {
	return w.lc.Start(ctx, w.run)
}

func (w *WithLifecycle) Stop(ctx context.Context) error {
	timeout := w.stopTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			timeout = remaining
		}
	}
	reason := w.lc.Stop(timeout)
	if reason == StopTimeout {
		return context.DeadlineExceeded
	}
	return w.lc.Err()
}

// Status exposes the wrapped lifecycle's state.
func (w *WithLifecycle) Status() Status { return w.lc.Status() }
