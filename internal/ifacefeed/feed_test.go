package ifacefeed

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIfaceFeed_Lifecycle_StartsThenShutsDown(t *testing.T) {
	t.Parallel()
	f := New(nil)
	require.Equal(t, StatusStarting, f.Status())

	require.NoError(t, f.Start())
	require.Equal(t, StatusRunning, f.Status())

	f.BeginShutdown()
	require.Equal(t, StatusShuttingDown, f.Status())

	f.Shutdown()
	require.Equal(t, StatusShutdown, f.Status())
}

func TestIfaceFeed_FindInterfaceVifAddress_RoundTrip(t *testing.T) {
	t.Parallel()
	f := New(nil)
	addr := netip.MustParseAddr("10.0.0.1")
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	f.SetInterface("eth0", true, nil, 4)
	f.SetVif("eth0", "vif0", true)
	f.SetAddress("eth0", "vif0", addr, true, prefix, 4)

	iface, ok := f.FindInterface("eth0")
	require.True(t, ok)
	require.True(t, iface.Enabled)

	vif, ok := f.FindVif("eth0", "vif0")
	require.True(t, ok)
	require.True(t, vif.Enabled)

	info, ok := f.FindAddress("eth0", "vif0", addr)
	require.True(t, ok)
	require.True(t, info.Enabled)
	require.Equal(t, prefix, info.Prefix)
	require.Equal(t, 4, info.PifIndex)

	_, ok = f.FindAddress("eth0", "vif0", netip.MustParseAddr("10.0.0.2"))
	require.False(t, ok)
}

func TestIfaceFeed_AddressEnabled_RequiresInterfaceVifAndAddressAllEnabled(t *testing.T) {
	t.Parallel()
	f := New(nil)
	addr := netip.MustParseAddr("10.0.0.1")
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	f.SetInterface("eth0", true, nil, 4)
	f.SetVif("eth0", "vif0", true)
	f.SetAddress("eth0", "vif0", addr, true, prefix, 4)
	require.True(t, f.AddressEnabled("eth0", "vif0", addr))

	f.SetVif("eth0", "vif0", false)
	require.False(t, f.AddressEnabled("eth0", "vif0", addr))
	f.SetVif("eth0", "vif0", true)

	f.SetInterface("eth0", false, nil, 4)
	require.False(t, f.AddressEnabled("eth0", "vif0", addr))
	f.SetInterface("eth0", true, nil, 4)

	f.SetAddress("eth0", "vif0", addr, false, prefix, 4)
	require.False(t, f.AddressEnabled("eth0", "vif0", addr))

	require.False(t, f.AddressEnabled("nope", "vif0", addr))
}

func TestIfaceFeed_Resolve_MapsIfindexToInterfaceAndVifName(t *testing.T) {
	t.Parallel()
	f := New(nil)
	f.SetInterface("eth0", true, nil, 7)

	ifname, vifname, ok := f.Resolve(7)
	require.True(t, ok)
	require.Equal(t, "eth0", ifname)
	require.Equal(t, "eth0", vifname)

	_, _, ok = f.Resolve(99)
	require.False(t, ok)
}

func TestIfaceFeed_SetAddress_PublishesDeltaOnlyOnEnabledTransition(t *testing.T) {
	t.Parallel()
	f := New(nil)
	ch, cancel := f.Subscribe()
	defer cancel()

	addr := netip.MustParseAddr("10.0.0.1")
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	f.SetAddress("eth0", "vif0", addr, true, prefix, 4)
	select {
	case d := <-ch:
		require.Equal(t, DeltaAddressUp, d.Kind)
		require.Equal(t, addr, d.Addr)
	case <-time.After(time.Second):
		t.Fatal("expected a delta on enable")
	}

	// Re-setting with the same enabled value (just updating the prefix)
	// must not publish another delta.
	f.SetAddress("eth0", "vif0", addr, true, netip.MustParsePrefix("10.0.0.0/25"), 4)
	select {
	case d := <-ch:
		t.Fatalf("unexpected delta on no-op enabled transition: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}

	f.SetAddress("eth0", "vif0", addr, false, prefix, 4)
	select {
	case d := <-ch:
		require.Equal(t, DeltaAddressDown, d.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a delta on disable")
	}
}

func TestIfaceFeed_RemoveAddress_PublishesDownOnlyIfWasEnabled(t *testing.T) {
	t.Parallel()
	f := New(nil)
	ch, cancel := f.Subscribe()
	defer cancel()

	addr := netip.MustParseAddr("10.0.0.1")
	f.SetAddress("eth0", "vif0", addr, false, netip.Prefix{}, 0)

	f.RemoveAddress("eth0", "vif0", addr)
	select {
	case d := <-ch:
		t.Fatalf("unexpected delta removing a disabled address: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}

	f.SetAddress("eth0", "vif0", addr, true, netip.Prefix{}, 0)
	<-ch // the enable delta

	f.RemoveAddress("eth0", "vif0", addr)
	select {
	case d := <-ch:
		require.Equal(t, DeltaAddressDown, d.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a delta removing an enabled address")
	}

	_, ok := f.FindAddress("eth0", "vif0", addr)
	require.False(t, ok)
}

func TestIfaceFeed_Subscribe_CancelClosesChannel(t *testing.T) {
	t.Parallel()
	f := New(nil)
	ch, cancel := f.Subscribe()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
}

func TestIfaceFeed_Shutdown_ClosesAllSubscriberChannels(t *testing.T) {
	t.Parallel()
	f := New(nil)
	ch1, _ := f.Subscribe()
	ch2, _ := f.Subscribe()

	f.Shutdown()

	_, ok := <-ch1
	require.False(t, ok)
	_, ok = <-ch2
	require.False(t, ok)
}
