package eventloop

import (
	"sync"

	"github.com/rs/xid"
)

// TaskFunc is invoked when a task runs. For repeated tasks the return value
// decides whether the task is rescheduled; for one-shot tasks it is ignored.
type TaskFunc func() (reschedule bool)

// Task is a runnable background job. Weight governs its share of CPU time
// relative to siblings in the same priority band, via weighted round robin.
type Task struct {
	id       xid.ID
	priority Priority
	weight   int
	cb       TaskFunc
	repeat   bool

	deficit int // WRR deficit counter, replenished by weight each round
	removed bool
}

func (t *Task) ID() xid.ID { return t.id }

type band struct {
	tasks []*Task
}

// TaskList is a priority-banded cooperative runnable queue. Lower-numbered
// priorities are fully drained before lower-priority bands are touched, and
// within a band, weighted round robin apportions turns by weight (§4.1).
type TaskList struct {
	mu    sync.Mutex
	bands map[Priority]*band
}

// NewTaskList creates an empty task list.
func NewTaskList() *TaskList {
	return &TaskList{
		bands: make(map[Priority]*band),
	}
}

// ScheduleTask enqueues a one-shot task.
func (l *TaskList) ScheduleTask(priority Priority, weight int, cb TaskFunc) *Task {
	return l.schedule(priority, weight, false, cb)
}

// ScheduleRepeatedTask enqueues a task that re-arms itself after each run,
// as long as cb returns true.
func (l *TaskList) ScheduleRepeatedTask(priority Priority, weight int, cb TaskFunc) *Task {
	return l.schedule(priority, weight, true, cb)
}

func (l *TaskList) schedule(priority Priority, weight int, repeat bool, cb TaskFunc) *Task {
	if weight < 1 {
		weight = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &Task{id: xid.New(), priority: priority, weight: weight, cb: cb, repeat: repeat, deficit: weight}
	b, ok := l.bands[priority]
	if !ok {
		b = &band{}
		l.bands[priority] = b
	}
	b.tasks = append(b.tasks, t)
	return t
}

// Cancel removes t from the list. Safe to call even if t already ran and
// was not rescheduled.
func (l *TaskList) Cancel(t *Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.removed = true
}

// Len reports the number of tasks currently scheduled across all bands.
func (l *TaskList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, b := range l.bands {
		n += len(b.tasks)
	}
	return n
}

// orderedPriorities returns the set of non-empty priority bands in
// ascending (highest-priority-first) order.
func (l *TaskList) orderedPriorities() []Priority {
	ps := make([]Priority, 0, len(l.bands))
	for p, b := range l.bands {
		if len(b.tasks) > 0 {
			ps = append(ps, p)
		}
	}
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j] < ps[j-1]; j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
	return ps
}

// RunOnce drains every priority band once, strictly in priority order,
// running each band's ready tasks via deficit-round-robin over weight:
// each task gets its deficit counter refilled by its weight at the start
// of the band's pass, then tasks run (consuming one unit of deficit each)
// until every task in the band has run at least once or been skipped for
// insufficient deficit — in practice, with an all-equal weight=1 band this
// degenerates to straightforward FIFO-per-round, and heavier-weighted tasks
// simply get more turns per round than lighter ones.
func (l *TaskList) RunOnce() (ran int) {
	l.mu.Lock()
	priorities := l.orderedPriorities()
	l.mu.Unlock()

	for _, p := range priorities {
		ran += l.runBand(p)
	}
	return ran
}

func (l *TaskList) runBand(p Priority) (ran int) {
	l.mu.Lock()
	b, ok := l.bands[p]
	if !ok {
		l.mu.Unlock()
		return 0
	}
	// Compact out removed tasks and refill deficits for this pass.
	live := b.tasks[:0]
	for _, t := range b.tasks {
		if t.removed {
			continue
		}
		t.deficit += t.weight
		live = append(live, t)
	}
	b.tasks = live
	pending := append([]*Task(nil), b.tasks...)
	l.mu.Unlock()

	progress := true
	for progress {
		progress = false
		for _, t := range pending {
			l.mu.Lock()
			if t.removed || t.deficit < 1 {
				l.mu.Unlock()
				continue
			}
			t.deficit--
			l.mu.Unlock()

			cont := t.cb()
			ran++
			progress = true

			if !t.repeat || !cont {
				l.mu.Lock()
				t.removed = true
				l.mu.Unlock()
			}
		}
	}

	l.mu.Lock()
	live = b.tasks[:0]
	for _, t := range b.tasks {
		if !t.removed {
			live = append(live, t)
		}
	}
	b.tasks = live
	l.mu.Unlock()
	return ran
}
