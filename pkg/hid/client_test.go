package hid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emubridge/hidhost/pkg/hid"
	"github.com/emubridge/hidhost/pkg/hid/hidtest"
)

type notification struct {
	client *hid.Client
	handle uint32
	event  hid.AttachEvent
}

// recordingClient collects notifications in delivery order.
type recordingClient struct {
	client *hid.Client
	got    []notification
}

func newRecordingClient() *recordingClient {
	rc := &recordingClient{}
	rc.client = hid.NewClient(func(c *hid.Client, slot *hid.Slot, ev hid.AttachEvent) {
		rc.got = append(rc.got, notification{client: c, handle: slot.Handle, event: ev})
	})
	return rc
}

func TestAddClientCatchUpIsSynchronousAndOrdered(t *testing.T) {
	q := &hidtest.Queue{}
	reg := newTestRegistry(q)

	devices := make([]*hidtest.Device, 5)
	handles := make([]uint32, 5)
	for i := range devices {
		devices[i] = hidtest.NewDevice(uint16(i+1), uint16(i+1))
		require.True(t, reg.AttachDevice(devices[i]))
		handles[i] = reg.HandleOf(devices[i])
	}

	rc := newRecordingClient()
	reg.AddClient(rc.client)

	// Catch-up is delivered inline, before AddClient returns, one attach per
	// device in registry order - no queue drain involved.
	require.Len(t, rc.got, 5)
	for i, n := range rc.got {
		require.Equal(t, hid.DeviceAttach, n.event)
		require.Equal(t, handles[i], n.handle, "catch-up order must follow registry order")
		require.Same(t, rc.client, n.client)
	}
}

func TestRemoveClientDeliversDetachCatchUp(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	dev := hidtest.NewDevice(1, 1)
	require.True(t, reg.AttachDevice(dev))

	rc := newRecordingClient()
	reg.AddClient(rc.client)
	rc.got = nil

	reg.RemoveClient(rc.client)
	require.Len(t, rc.got, 1)
	require.Equal(t, hid.DeviceDetach, rc.got[0].event)
	require.Equal(t, 0, reg.ClientCount())
}

func TestRegistryDrivenNotificationsAreQueued(t *testing.T) {
	q := &hidtest.Queue{}
	reg := newTestRegistry(q)

	rc := newRecordingClient()
	reg.AddClient(rc.client)

	dev := hidtest.NewDevice(1, 1)
	require.True(t, reg.AttachDevice(dev))

	// Device churn must never run callbacks inline.
	require.Empty(t, rc.got, "attach notification delivered inline, want queued")
	require.Equal(t, 1, q.Len())

	q.Drain()
	require.Len(t, rc.got, 1)
	require.Equal(t, hid.DeviceAttach, rc.got[0].event)

	reg.DetachDevice(dev)
	require.Len(t, rc.got, 1, "detach notification delivered inline, want queued")
	q.Drain()
	require.Len(t, rc.got, 2)
	require.Equal(t, hid.DeviceDetach, rc.got[1].event)
}

func TestNotificationOrderIsReverseOfSubscription(t *testing.T) {
	// Clients are inserted at the front of the list, so the most recent
	// subscriber is notified first. The ordering is inherited, observable
	// behavior - this test documents it rather than endorsing it.
	q := &hidtest.Queue{}
	reg := newTestRegistry(q)

	var order []string
	first := hid.NewClient(func(*hid.Client, *hid.Slot, hid.AttachEvent) {
		order = append(order, "first")
	})
	second := hid.NewClient(func(*hid.Client, *hid.Slot, hid.AttachEvent) {
		order = append(order, "second")
	})
	reg.AddClient(first)
	reg.AddClient(second)

	require.True(t, reg.AttachDevice(hidtest.NewDevice(1, 1)))
	q.Drain()

	require.Equal(t, []string{"second", "first"}, order)
}

func TestClientCallbackMayReenterRegistry(t *testing.T) {
	// A detach issued from inside a notification callback must not deadlock
	// and must take effect.
	q := &hidtest.Queue{}
	reg := newTestRegistry(q)
	dev := hidtest.NewDevice(1, 1)

	client := hid.NewClient(func(c *hid.Client, slot *hid.Slot, ev hid.AttachEvent) {
		if ev == hid.DeviceAttach {
			reg.DetachDevice(dev)
		}
	})
	reg.AddClient(client)

	require.True(t, reg.AttachDevice(dev))
	q.Drain()

	require.Empty(t, reg.Devices())
	require.Equal(t, hid.MaxDevices, reg.FreeSlots())
}

func TestAddClientCatchUpMayReenterRegistry(t *testing.T) {
	// Synchronous catch-up runs on the registration caller's stack; it must
	// still allow registry re-entry.
	reg := newTestRegistry(&hidtest.Queue{})
	dev := hidtest.NewDevice(1, 1)
	require.True(t, reg.AttachDevice(dev))

	var sawDevices int
	client := hid.NewClient(func(*hid.Client, *hid.Slot, hid.AttachEvent) {
		sawDevices = len(reg.Devices())
	})
	reg.AddClient(client)

	require.Equal(t, 1, sawDevices)
}
