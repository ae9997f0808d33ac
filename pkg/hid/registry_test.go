package hid_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emubridge/hidhost/pkg/hid"
	"github.com/emubridge/hidhost/pkg/hid/hidtest"
)

func newTestRegistry(q hid.CallbackQueue) *hid.Registry {
	return hid.NewRegistry(hid.Config{Queue: q})
}

func TestAttachDetachDevice(t *testing.T) {
	q := &hidtest.Queue{}
	reg := newTestRegistry(q)
	dev := hidtest.NewDevice(0x057e, 0x0337)

	if !reg.AttachDevice(dev) {
		t.Fatal("AttachDevice failed")
	}
	if got := len(reg.Devices()); got != 1 {
		t.Fatalf("attached devices = %d, want 1", got)
	}
	if reg.FreeSlots() != hid.MaxDevices-1 {
		t.Errorf("FreeSlots = %d, want %d", reg.FreeSlots(), hid.MaxDevices-1)
	}

	handle := reg.HandleOf(dev)
	if handle <= hid.InvalidHandle {
		t.Errorf("handle = %d, want > %d", handle, hid.InvalidHandle)
	}

	reg.DetachDevice(dev)
	if got := len(reg.Devices()); got != 0 {
		t.Errorf("attached devices after detach = %d, want 0", got)
	}
	if reg.FreeSlots() != hid.MaxDevices {
		t.Errorf("FreeSlots after detach = %d, want %d", reg.FreeSlots(), hid.MaxDevices)
	}
	if dev.CloseCalls() != 1 {
		t.Errorf("CloseCalls = %d, want 1", dev.CloseCalls())
	}
}

func TestAttachSameDeviceTwiceFails(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	dev := hidtest.NewDevice(1, 2)

	require.True(t, reg.AttachDevice(dev))
	require.False(t, reg.AttachDevice(dev), "second attach of the same device must fail")
	require.Len(t, reg.Devices(), 1)
	require.Equal(t, hid.MaxDevices-1, reg.FreeSlots(), "failed attach must not consume a slot")
}

func TestDetachUnattachedDeviceIsNoOp(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	attached := hidtest.NewDevice(1, 2)
	stranger := hidtest.NewDevice(3, 4)

	require.True(t, reg.AttachDevice(attached))

	reg.DetachDevice(stranger)

	require.Len(t, reg.Devices(), 1)
	require.Equal(t, hid.MaxDevices-1, reg.FreeSlots())
	require.Zero(t, stranger.CloseCalls())
}

func TestPoolExhaustionFailsAttach(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})

	for i := 0; i < hid.MaxDevices; i++ {
		dev := hidtest.NewDevice(uint16(i), uint16(i))
		require.True(t, reg.AttachDevice(dev), "attach %d", i)
	}
	require.Equal(t, 0, reg.FreeSlots())

	extra := hidtest.NewDevice(0xffff, 0xffff)
	require.False(t, reg.AttachDevice(extra), "attach beyond capacity must fail")
	require.Len(t, reg.Devices(), hid.MaxDevices)
}

func TestHandlesStrictlyIncreasing(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	var prev uint32

	for i := 0; i < 300; i++ {
		dev := hidtest.NewDevice(1, 1)
		require.True(t, reg.AttachDevice(dev))
		h := reg.HandleOf(dev)
		require.Greater(t, h, prev, "handles must never repeat across slot reuse")
		prev = h
		reg.DetachDevice(dev)
	}
}

func TestDeviceByHandleLazyOpen(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	dev := hidtest.NewDevice(1, 2)
	require.True(t, reg.AttachDevice(dev))
	handle := reg.HandleOf(dev)

	// Without openIfClosed the device stays closed.
	got := reg.DeviceByHandle(handle, false)
	require.NotNil(t, got)
	require.False(t, dev.Opened())

	// With openIfClosed the first use opens it.
	got = reg.DeviceByHandle(handle, true)
	require.NotNil(t, got)
	require.True(t, dev.Opened())
	require.Equal(t, 1, dev.OpenCalls())

	// Subsequent lookups don't reopen.
	_ = reg.DeviceByHandle(handle, true)
	require.Equal(t, 1, dev.OpenCalls())
}

func TestDeviceByHandleOpenFailure(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	dev := hidtest.NewDevice(1, 2)
	dev.OpenErr = errors.New("open refused")
	require.True(t, reg.AttachDevice(dev))

	got := reg.DeviceByHandle(reg.HandleOf(dev), true)
	require.Nil(t, got, "lookup must fail when lazy open fails")
}

func TestDeviceByHandleUnknown(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	require.Nil(t, reg.DeviceByHandle(99, false))
	require.Nil(t, reg.DeviceByHandle(hid.InvalidHandle, true))
}

func TestDeviceByIDReturnsFirstMatch(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	first := hidtest.NewDevice(0x057e, 0x0337)
	second := hidtest.NewDevice(0x057e, 0x0337)
	require.True(t, reg.AttachDevice(first))
	require.True(t, reg.AttachDevice(second))

	got := reg.DeviceByID(0x057e, 0x0337)
	require.Same(t, first, got)
	require.Nil(t, reg.DeviceByID(0xdead, 0xbeef))
}

// blockingDevice parks Read until released, to hold a transfer in flight.
type blockingDevice struct {
	hidtest.Device
	entered chan struct{}
	release chan struct{}
}

func newBlockingDevice() *blockingDevice {
	d := &blockingDevice{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d.Props = hid.NewProperties(1, 2, 0, 0, 0)
	return d
}

func (d *blockingDevice) Read(msg *hid.ReadMessage) error {
	close(d.entered)
	<-d.release
	msg.BytesRead = 0
	return nil
}

func TestDetachDefersSlotReleaseUntilTransferDrains(t *testing.T) {
	q := &hidtest.Queue{}
	reg := newTestRegistry(q)
	dev := newBlockingDevice()
	require.True(t, reg.AttachDevice(dev))
	handle := reg.HandleOf(dev)

	done := make(chan int32, 1)
	go func() {
		buf := make([]byte, 8)
		done <- reg.Read(handle, buf, nil, nil)
	}()
	<-dev.entered

	// Detach while the read is in flight: the device leaves the registry
	// immediately, but its slot is not reclaimed and Close does not run.
	reg.DetachDevice(dev)
	require.Len(t, reg.Devices(), 0)
	require.Equal(t, hid.MaxDevices-1, reg.FreeSlots())
	require.Zero(t, dev.CloseCalls())

	close(dev.release)
	select {
	case status := <-done:
		require.Equal(t, int32(0), status)
	case <-time.After(5 * time.Second):
		t.Fatal("synchronous read did not complete")
	}

	require.Eventually(t, func() bool {
		return reg.FreeSlots() == hid.MaxDevices && dev.CloseCalls() == 1
	}, 5*time.Second, 10*time.Millisecond,
		"slot release and close must happen once the transfer drains")
}

func TestWhitelistedWithoutPolicyPermitsEverything(t *testing.T) {
	reg := newTestRegistry(&hidtest.Queue{})
	require.True(t, reg.Whitelisted(0x1234, 0x5678))
}

type denyAllPolicy struct{}

func (denyAllPolicy) Allowed(uint16, uint16) bool { return false }

func TestWhitelistedDelegatesToPolicy(t *testing.T) {
	reg := hid.NewRegistry(hid.Config{Queue: &hidtest.Queue{}, Policy: denyAllPolicy{}})
	require.False(t, reg.Whitelisted(0x1234, 0x5678))
}
