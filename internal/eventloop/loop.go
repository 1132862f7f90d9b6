package eventloop

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// maxWaitCeiling bounds every readiness wait to limit jitter, per §4.1.
const maxWaitCeiling = 100 * time.Millisecond

// shutdownWaitCeiling bounds the wait once shutdown has been requested, so
// the loop cannot block indefinitely waiting to notice it should exit.
const shutdownWaitCeiling = 1 * time.Second

// EventLoop is the single-threaded cooperative dispatcher composing a
// Clock, TimerList, Selector, and TaskList (§4.1). Every Run call advances
// time, dispatches due timers, runs the task list, then waits for I/O
// readiness bounded by the next-timer deadline (capped at maxWaitCeiling).
type EventLoop struct {
	log     *slog.Logger
	clock   Clock
	Timers  *TimerList
	Tasks   *TaskList
	IO      *Selector
	metrics *loopMetrics

	shutdown atomic.Bool
}

// New constructs an EventLoop. poller is typically the result of
// NewPoller(); observer may be nil.
func New(log *slog.Logger, clock Clock, poller Poller, observer IoObserver) *EventLoop {
	if log == nil {
		log = slog.Default()
	}
	return &EventLoop{
		log:     log,
		clock:   clock,
		Timers:  NewTimerList(clock),
		Tasks:   NewTaskList(),
		IO:      NewSelector(poller, observer),
		metrics: newLoopMetrics(),
	}
}

// RequestShutdown sets the shutdown flag observed at each Run iteration.
// Safe to call from a signal handler or any goroutine.
func (l *EventLoop) RequestShutdown() {
	l.shutdown.Store(true)
}

// ShuttingDown reports whether shutdown has been requested.
func (l *EventLoop) ShuttingDown() bool {
	return l.shutdown.Load()
}

// InstallSignalHandlers arranges for SIGTERM and SIGINT to call
// RequestShutdown. It returns a stop function that should be deferred to
// release the underlying signal.Notify registration.
func (l *EventLoop) InstallSignalHandlers() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			l.log.Info("eventloop: received shutdown signal", "signal", sig.String())
			l.RequestShutdown()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Run advances time, dispatches due timers, runs the task list, then waits
// for I/O readiness bounded by the minimum of the next timer's deadline and
// maxWaitCeiling (or shutdownWaitCeiling, once shutdown is pending). It
// returns after at most one such cycle so the caller can interleave
// shutdown checks, per §4.1.
func (l *EventLoop) Run() error {
	now := l.clock.Now()

	fired := l.Timers.RunDue(now)
	l.metrics.timersFiredAdd(float64(fired))

	ran := l.Tasks.RunOnce()
	l.metrics.tasksRanAdd(float64(ran))

	timeout := l.waitTimeout(now)
	start := l.clock.Now()
	dispatched, err := l.IO.WaitAndDispatch(timeout)
	if err != nil {
		l.log.Warn("eventloop: poller wait failed", "error", err)
		return err
	}
	elapsed := l.clock.Now().Sub(start)
	if elapsed > timeout+20*time.Millisecond {
		l.log.Warn("eventloop: readiness wait overran its budget", "timeout", timeout, "elapsed", elapsed)
	}
	if dispatched {
		l.metrics.ioDispatchedInc()
	}
	return nil
}

func (l *EventLoop) waitTimeout(now time.Time) time.Duration {
	ceiling := maxWaitCeiling
	if l.ShuttingDown() {
		ceiling = shutdownWaitCeiling
	}
	d, ok := l.Timers.NextDelay(now)
	if !ok || d > ceiling {
		return ceiling
	}
	if d < 0 {
		return 0
	}
	return d
}

// RunUntil runs the loop repeatedly until shutdown is requested or ctx is
// cancelled.
func (l *EventLoop) RunUntil(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if l.ShuttingDown() {
			return nil
		}
		if err := l.Run(); err != nil {
			return err
		}
	}
}
