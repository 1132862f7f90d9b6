package eventloop

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePoller is an in-memory Poller stand-in: Wait returns exactly the
// events queued onto it via pushEvents, ignoring timeout.
type fakePoller struct {
	added   map[int]ClassMask
	queue   [][]ReadyEvent
	closed  bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{added: make(map[int]ClassMask)}
}

func (p *fakePoller) Add(fd int, classes ClassMask) error {
	p.added[fd] = classes
	return nil
}

func (p *fakePoller) Remove(fd int) error {
	delete(p.added, fd)
	return nil
}

func (p *fakePoller) Wait(time.Duration) ([]ReadyEvent, error) {
	if len(p.queue) == 0 {
		return nil, nil
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	return next, nil
}

func (p *fakePoller) Close() error {
	p.closed = true
	return nil
}

func (p *fakePoller) pushEvents(evs ...ReadyEvent) {
	p.queue = append(p.queue, evs)
}

func TestEventLoop_Selector_DispatchesExactlyOnePerCall(t *testing.T) {
	t.Parallel()
	poller := newFakePoller()
	s := NewSelector(poller, nil)

	var calls []string
	require.NoError(t, s.AddIoCb(3, EventRead, PriorityNormal, func(fd int, class EventClass, err error) {
		calls = append(calls, "fd3read")
	}))
	require.NoError(t, s.AddIoCb(5, EventRead, PriorityNormal, func(fd int, class EventClass, err error) {
		calls = append(calls, "fd5read")
	}))

	poller.pushEvents(ReadyEvent{FD: 3, Class: EventRead}, ReadyEvent{FD: 5, Class: EventRead})

	dispatched, err := s.WaitAndDispatch(time.Second)
	require.NoError(t, err)
	require.True(t, dispatched)
	require.Len(t, calls, 1)
}

func TestEventLoop_Selector_HighestPriorityWinsTies(t *testing.T) {
	t.Parallel()
	poller := newFakePoller()
	s := NewSelector(poller, nil)

	var calls []string
	require.NoError(t, s.AddIoCb(3, EventRead, PriorityLow, func(int, EventClass, error) {
		calls = append(calls, "low")
	}))
	require.NoError(t, s.AddIoCb(5, EventRead, PriorityHighest, func(int, EventClass, error) {
		calls = append(calls, "highest")
	}))

	poller.pushEvents(ReadyEvent{FD: 3, Class: EventRead}, ReadyEvent{FD: 5, Class: EventRead})

	dispatched, err := s.WaitAndDispatch(time.Second)
	require.NoError(t, err)
	require.True(t, dispatched)
	require.Equal(t, []string{"highest"}, calls)
}

func TestEventLoop_Selector_RotatesAmongEqualPriorityCandidates(t *testing.T) {
	t.Parallel()
	poller := newFakePoller()
	s := NewSelector(poller, nil)

	var calls []int
	require.NoError(t, s.AddIoCb(3, EventRead, PriorityNormal, func(fd int, class EventClass, err error) {
		calls = append(calls, fd)
	}))
	require.NoError(t, s.AddIoCb(5, EventRead, PriorityNormal, func(fd int, class EventClass, err error) {
		calls = append(calls, fd)
	}))
	require.NoError(t, s.AddIoCb(7, EventRead, PriorityNormal, func(fd int, class EventClass, err error) {
		calls = append(calls, fd)
	}))

	// Same ready set offered on every call; round-robin must rotate through
	// all three fds rather than always picking the same one.
	for i := 0; i < 3; i++ {
		poller.pushEvents(
			ReadyEvent{FD: 3, Class: EventRead},
			ReadyEvent{FD: 5, Class: EventRead},
			ReadyEvent{FD: 7, Class: EventRead},
		)
	}

	for i := 0; i < 3; i++ {
		dispatched, err := s.WaitAndDispatch(time.Second)
		require.NoError(t, err)
		require.True(t, dispatched)
	}

	require.Len(t, calls, 3)
	require.ElementsMatch(t, []int{3, 5, 7}, calls)
	require.Len(t, map[int]struct{}{calls[0]: {}, calls[1]: {}, calls[2]: {}}, 3)
}

func TestEventLoop_Selector_BadDescriptorAlwaysDispatchesAndUnregisters(t *testing.T) {
	t.Parallel()
	poller := newFakePoller()
	s := NewSelector(poller, nil)

	var gotErr error
	require.NoError(t, s.AddIoCb(3, EventRead, PriorityNormal, func(fd int, class EventClass, err error) {
		gotErr = err
	}))

	badErr := errors.New("bad descriptor 3")
	poller.pushEvents(ReadyEvent{FD: 3, Class: EventException, Err: badErr})

	dispatched, err := s.WaitAndDispatch(time.Second)
	require.NoError(t, err)
	require.False(t, dispatched) // the one-dispatch budget is reserved for ready events, not bad-fd scans
	require.ErrorIs(t, gotErr, badErr)

	_, stillRegistered := poller.added[3]
	require.False(t, stillRegistered)
}

func TestEventLoop_Selector_RemoveIoCbWithAnyClassClearsAllSlots(t *testing.T) {
	t.Parallel()
	poller := newFakePoller()
	s := NewSelector(poller, nil)

	require.NoError(t, s.AddIoCb(3, EventRead, PriorityNormal, func(int, EventClass, error) {}))
	require.NoError(t, s.AddIoCb(3, EventWrite, PriorityNormal, func(int, EventClass, error) {}))

	require.NoError(t, s.RemoveIoCb(3, -1))

	_, stillRegistered := poller.added[3]
	require.False(t, stillRegistered)
}
