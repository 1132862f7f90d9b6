package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventLoop_TimerList_FiresInDeadlineThenRegistrationOrder(t *testing.T) {
	t.Parallel()
	clock := NewFakeClock(time.Unix(1000, 0))
	l := NewTimerList(clock)

	var order []int
	l.ScheduleAt(clock.Now().Add(2*time.Second), PriorityNormal, func(time.Time) bool {
		order = append(order, 2)
		return false
	})
	l.ScheduleAt(clock.Now().Add(1*time.Second), PriorityNormal, func(time.Time) bool {
		order = append(order, 0)
		return false
	})
	l.ScheduleAt(clock.Now().Add(1*time.Second), PriorityNormal, func(time.Time) bool {
		order = append(order, 1)
		return false
	})

	clock.Advance(3 * time.Second)
	fired := l.RunDue(clock.Now())

	require.Equal(t, 3, fired)
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestEventLoop_TimerList_CancelledTimerNeverFires(t *testing.T) {
	t.Parallel()
	clock := NewFakeClock(time.Unix(0, 0))
	l := NewTimerList(clock)

	ran := false
	timer := l.ScheduleAfter(time.Second, PriorityNormal, func(time.Time) bool {
		ran = true
		return false
	})
	l.Cancel(timer)

	clock.Advance(2 * time.Second)
	fired := l.RunDue(clock.Now())

	require.Equal(t, 0, fired)
	require.False(t, ran)
}

func TestEventLoop_TimerList_PeriodicReschedulesByExpiryPlusPeriodNotNow(t *testing.T) {
	t.Parallel()
	clock := NewFakeClock(time.Unix(0, 0))
	l := NewTimerList(clock)

	var fires []time.Time
	count := 0
	l.SchedulePeriodic(time.Second, PriorityNormal, func(now time.Time) bool {
		fires = append(fires, now)
		count++
		return count < 3
	})

	// Advance well past all three periods at once; RunDue must not "catch
	// up" by firing faster than one tick per call. Re-armed expiries are
	// 1s, 2s, 3s (old expiry plus period), all <= now, so each of three
	// calls fires once; had the timer been re-armed at now+period, the
	// second call would fire nothing.
	clock.Advance(5 * time.Second)
	fired := l.RunDue(clock.Now())
	require.Equal(t, 1, fired)

	fired += l.RunDue(clock.Now())
	fired += l.RunDue(clock.Now())

	require.Equal(t, 3, fired)
	require.Len(t, fires, 3)
	require.Equal(t, 0, l.Len())
}

func TestEventLoop_TimerList_CallbackCanScheduleDuringDispatch(t *testing.T) {
	t.Parallel()
	clock := NewFakeClock(time.Unix(0, 0))
	l := NewTimerList(clock)

	var secondRan bool
	l.ScheduleAfter(time.Second, PriorityNormal, func(now time.Time) bool {
		l.ScheduleAt(now, PriorityNormal, func(time.Time) bool {
			secondRan = true
			return false
		})
		return false
	})

	clock.Advance(2 * time.Second)
	l.RunDue(clock.Now())

	require.True(t, secondRan)
}

func TestEventLoop_TimerList_NextDelayReportsEarliestDeadline(t *testing.T) {
	t.Parallel()
	clock := NewFakeClock(time.Unix(0, 0))
	l := NewTimerList(clock)

	_, ok := l.NextDelay(clock.Now())
	require.False(t, ok)

	l.ScheduleAfter(5*time.Second, PriorityNormal, func(time.Time) bool { return false })
	l.ScheduleAfter(2*time.Second, PriorityNormal, func(time.Time) bool { return false })

	d, ok := l.NextDelay(clock.Now())
	require.True(t, ok)
	require.Equal(t, 2*time.Second, d)
}
