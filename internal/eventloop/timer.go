package eventloop

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/xid"
)

// TimerFunc is invoked when a timer fires. For periodic timers the return
// value decides whether the timer is rescheduled; for one-shot timers it is
// ignored.
type TimerFunc func(now time.Time) (reschedule bool)

// Timer is a handle to a scheduled callback. The zero value is not usable;
// obtain one from TimerList.ScheduleAt/ScheduleAfter/SchedulePeriodic.
type Timer struct {
	id       xid.ID
	expiry   time.Time
	period   time.Duration // zero means one-shot
	priority Priority
	cb       TimerFunc

	index     int    // heap index, maintained by container/heap; -1 when not queued
	seq       uint64 // insertion sequence, breaks expiry ties in FIFO order
	cancelled bool
}

// ID returns the timer's opaque, collision-free handle.
func (t *Timer) ID() xid.ID { return t.id }

// timerHeap is a min-heap ordered by expiry; equal expiries are ordered by
// insertion sequence (seq), which gives FIFO order among ties.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiry.Equal(h[j].expiry) {
		return h[i].seq < h[j].seq
	}
	return h[i].expiry.Before(h[j].expiry)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerList is a min-heap of scheduled callbacks. It is safe for concurrent
// use: the event loop's own goroutine drives it, but signal handlers and
// peer goroutines may cancel or schedule timers concurrently.
type TimerList struct {
	mu    sync.Mutex
	clock Clock
	h     timerHeap
	seq   uint64 // monotonically increasing insertion sequence, for equal-expiry FIFO order
}

// NewTimerList creates an empty timer list driven by clock.
func NewTimerList(clock Clock) *TimerList {
	return &TimerList{
		clock: clock,
		h:     timerHeap{},
	}
}

// ScheduleAt arranges for cb to run at deadline with the given priority.
func (l *TimerList) ScheduleAt(deadline time.Time, priority Priority, cb TimerFunc) *Timer {
	return l.schedule(deadline, 0, priority, cb)
}

// ScheduleAfter arranges for cb to run after delay elapses.
func (l *TimerList) ScheduleAfter(delay time.Duration, priority Priority, cb TimerFunc) *Timer {
	return l.schedule(l.clock.Now().Add(delay), 0, priority, cb)
}

// SchedulePeriodic arranges for cb to run every period, re-arming itself
// (expiry += period, not "now + period", to avoid drift) as long as cb
// returns true.
func (l *TimerList) SchedulePeriodic(period time.Duration, priority Priority, cb TimerFunc) *Timer {
	return l.schedule(l.clock.Now().Add(period), period, priority, cb)
}

func (l *TimerList) schedule(deadline time.Time, period time.Duration, priority Priority, cb TimerFunc) *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := &Timer{
		id:       xid.New(),
		expiry:   deadline,
		period:   period,
		priority: priority,
		cb:       cb,
	}
	l.seq++
	t.seq = l.seq
	heap.Push(&l.h, t)
	return t
}

// Cancel removes t from the list. O(log n). Safe to call more than once,
// or after the timer has already fired.
func (l *TimerList) Cancel(t *Timer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.cancelled = true
	if t.index >= 0 && t.index < len(l.h) && l.h[t.index] == t {
		heap.Remove(&l.h, t.index)
	}
}

// Len reports the number of scheduled (not-yet-fired) timers.
func (l *TimerList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.Len()
}

// NextDelay returns the duration until the next timer is due, or ok=false
// if no timers are scheduled.
func (l *TimerList) NextDelay(now time.Time) (d time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.h.Len() == 0 {
		return 0, false
	}
	next := l.h[0].expiry
	if next.Before(now) {
		return 0, true
	}
	return next.Sub(now), true
}

// RunDue dispatches every timer whose expiry has passed, in deadline order
// with ties broken by registration order, then reinserts periodic timers
// whose callback asked to continue. A timer cancelled by an earlier
// callback in this same pass (including its own) never fires.
//
// Callbacks may themselves schedule or cancel timers — RunDue always reads
// a fresh heap-top snapshot under lock before invoking a callback, so
// mutation from within a callback is safe.
func (l *TimerList) RunDue(now time.Time) (fired int) {
	var rearm []*Timer
	defer func() {
		l.mu.Lock()
		for _, t := range rearm {
			if t.cancelled {
				continue
			}
			l.seq++
			t.seq = l.seq
			t.index = -1
			heap.Push(&l.h, t)
		}
		l.mu.Unlock()
	}()
	for {
		l.mu.Lock()
		if l.h.Len() == 0 {
			l.mu.Unlock()
			return fired
		}
		top := l.h[0]
		if top.expiry.After(now) {
			l.mu.Unlock()
			return fired
		}
		heap.Pop(&l.h)
		l.mu.Unlock()

		if top.cancelled {
			continue
		}
		fired++
		cont := top.cb(now)
		if top.period > 0 && cont && !top.cancelled {
			top.expiry = top.expiry.Add(top.period)
			// An overdue periodic timer is not fast-forwarded to "catch up":
			// it is reinserted only once this pass ends, so it fires again on
			// the next RunDue pass rather than several times in this one.
			rearm = append(rearm, top)
		}
	}
}
