package rip

import (
	"net/netip"
	"testing"
	"time"

	"github.com/coreroute/corerouted/internal/eventloop"
	"github.com/stretchr/testify/require"
)

func newTestDb(t *testing.T) (*RouteDb, *eventloop.FakeClock, *eventloop.TimerList, *UpdateQueue) {
	t.Helper()
	clock := eventloop.NewFakeClock(time.Unix(0, 0))
	timers := eventloop.NewTimerList(clock)
	queue := NewUpdateQueue()
	db := NewRouteDb(clock, timers, queue)
	db.ExpiryInterval = 3 * time.Second
	db.DeletionInterval = 2 * time.Second
	return db, clock, timers, queue
}

func TestRIP_RouteDb_FirstAdvertisementIsInsertedAndEmitsAdd(t *testing.T) {
	t.Parallel()
	db, _, _, queue := newTestDb(t)
	reader := queue.CreateReader()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", 2, 0, Origin{}, nil, false)

	route, ok := db.FindRoute(prefix)
	require.True(t, ok)
	require.Equal(t, uint32(2), route.Metric)

	ev, ok := queue.Next(reader)
	require.True(t, ok)
	require.Equal(t, ChangeAdd, ev.Kind)
}

func TestRIP_RouteDb_BetterMetricFromDifferentOriginReplaces(t *testing.T) {
	t.Parallel()
	db, _, _, _ := newTestDb(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	peerA := &Peer{}
	peerB := &Peer{}

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", 5, 0, Origin{Peer: peerA}, nil, false)
	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.2"), "eth1", "", 3, 0, Origin{Peer: peerB}, nil, false)

	route, _ := db.FindRoute(prefix)
	require.Equal(t, uint32(3), route.Metric)
	require.Same(t, peerB, route.Origin.Peer)
}

func TestRIP_RouteDb_WorseMetricFromDifferentOriginIsRejected(t *testing.T) {
	t.Parallel()
	db, _, _, _ := newTestDb(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	peerA := &Peer{}
	peerB := &Peer{}

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", 2, 0, Origin{Peer: peerA}, nil, false)
	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.2"), "eth1", "", 5, 0, Origin{Peer: peerB}, nil, false)

	route, _ := db.FindRoute(prefix)
	require.Equal(t, uint32(2), route.Metric)
	require.Same(t, peerA, route.Origin.Peer)
}

func TestRIP_RouteDb_SameOriginRefreshResetsExpiryAndEmitsReplaceOnChange(t *testing.T) {
	t.Parallel()
	db, _, _, queue := newTestDb(t)
	reader := queue.CreateReader()
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	peerA := &Peer{}

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", 2, 0, Origin{Peer: peerA}, nil, false)
	_, _ = queue.Next(reader) // drain the ADD

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", 3, 0, Origin{Peer: peerA}, nil, false)

	ev, ok := queue.Next(reader)
	require.True(t, ok)
	require.Equal(t, ChangeReplace, ev.Kind)
	require.Equal(t, uint32(3), ev.Route.Metric)
}

func TestRIP_RouteDb_ExpiryThenDeletionRemovesRouteAndEmitsDelete(t *testing.T) {
	t.Parallel()
	db, clock, timers, queue := newTestDb(t)
	reader := queue.CreateReader()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", 2, 0, Origin{}, nil, false)
	_, _ = queue.Next(reader) // ADD

	clock.Advance(3 * time.Second)
	timers.RunDue(clock.Now())

	_, ok := db.FindRoute(prefix)
	require.True(t, ok) // still present, now in the deletion phase

	ev, ok := queue.Next(reader)
	require.True(t, ok)
	require.Equal(t, ChangeReplace, ev.Kind)
	require.Equal(t, uint32(RipInfinity), ev.Route.Metric)

	clock.Advance(2 * time.Second)
	timers.RunDue(clock.Now())

	_, ok = db.FindRoute(prefix)
	require.False(t, ok)

	ev, ok = queue.Next(reader)
	require.True(t, ok)
	require.Equal(t, ChangeDelete, ev.Kind)
}

func TestRIP_RouteDb_MetricSixteenBeginsDeletionImmediately(t *testing.T) {
	t.Parallel()
	db, clock, timers, queue := newTestDb(t)
	reader := queue.CreateReader()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", RipInfinity, 0, Origin{}, nil, false)
	ev, ok := queue.Next(reader)
	require.True(t, ok)
	require.Equal(t, ChangeAdd, ev.Kind)

	clock.Advance(2 * time.Second)
	timers.RunDue(clock.Now())

	_, ok = db.FindRoute(prefix)
	require.False(t, ok)
}

func TestRIP_RouteDb_GarbageCollectReclaimsRoutesOfDeadPeers(t *testing.T) {
	t.Parallel()
	db, _, _, queue := newTestDb(t)
	reader := queue.CreateReader()
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	peer := &Peer{}
	peer.MarkDead()

	db.UpdateRoute(prefix, netip.MustParseAddr("10.0.0.1"), "eth0", "", 2, 0, Origin{Peer: peer}, nil, false)
	_, _ = queue.Next(reader)

	n := db.GarbageCollect()

	require.Equal(t, 1, n)
	_, ok := db.FindRoute(prefix)
	require.False(t, ok)
}
