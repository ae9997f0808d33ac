package hidhost_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emubridge/hidhost/pkg/backend/emulated"
	"github.com/emubridge/hidhost/pkg/hid"
	"github.com/emubridge/hidhost/pkg/hidlog"
	"github.com/emubridge/hidhost/pkg/whitelist"
)

// TestE2E_DeviceLifecycle drives the full stack: an emulated backend
// announces devices through the whitelist, a client observes attach and
// detach notifications on an event loop, and transfers run in both modes.
func TestE2E_DeviceLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Setup: event loop modelling the guest's execution context.
	loop := hid.NewEventLoop(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()
	defer wg.Wait()
	defer loop.Close()

	wl := whitelist.New(whitelist.Entry{VendorID: 0x057e, ProductID: 0x0337})

	eventPath := filepath.Join(t.TempDir(), "events.cbor")
	events, err := hidlog.NewFileLogger(eventPath)
	require.NoError(t, err)

	reg := hid.NewRegistry(hid.Config{
		Queue:  loop,
		Policy: wl,
		Events: events,
	})
	defer reg.Close()

	// Client registered before any device exists.
	type notification struct {
		handle uint32
		event  hid.AttachEvent
	}
	notifyCh := make(chan notification, 16)
	client := hid.NewClient(func(c *hid.Client, slot *hid.Slot, ev hid.AttachEvent) {
		notifyCh <- notification{handle: slot.Handle, event: ev}
	})
	reg.AddClient(client)

	// Phase 1: backend attach announces the whitelisted pad only.
	pad := emulated.NewDevice(emulated.DeviceConfig{
		VendorID:   0x057e,
		ProductID:  0x0337,
		Descriptor: []byte{0x05, 0x01, 0x09, 0x05},
	})
	camera := emulated.NewDevice(emulated.DeviceConfig{VendorID: 0x046d, ProductID: 0x0825})
	backend := emulated.New(pad, camera)
	reg.AttachBackend(backend)

	var attached notification
	select {
	case attached = <-notifyCh:
	case <-ctx.Done():
		t.Fatal("timed out waiting for attach notification")
	}
	require.Equal(t, hid.DeviceAttach, attached.event)
	require.Len(t, reg.Devices(), 1, "camera is not whitelisted")
	handle := attached.handle

	// Phase 2: synchronous transfers.
	desc := make([]byte, 8)
	require.Equal(t, int32(len(desc)), reg.GetDescriptor(handle, 0x22, 0, 0, desc, nil, nil))
	require.Equal(t, []byte{0x05, 0x01, 0x09, 0x05}, desc[:4])

	require.Equal(t, hid.StatusOK, reg.SetProtocol(handle, 0, 1, nil, nil))
	require.Equal(t, int32(2), reg.Write(handle, []byte{0x11, 0x22}, nil, nil))
	require.Equal(t, [][]byte{{0x11, 0x22}}, pad.Written())

	// A read with no queued input times out.
	buf := make([]byte, 8)
	require.Equal(t, hid.StatusTimeout, reg.Read(handle, buf, nil, nil))

	// Phase 3: asynchronous read completing on the event loop.
	require.NoError(t, pad.QueueInput([]byte{0xaa, 0xbb, 0xcc}))
	resCh := make(chan hid.TransferResult, 1)
	status := reg.Read(handle, buf, func(res hid.TransferResult) {
		resCh <- res
	}, nil)
	require.Equal(t, hid.StatusOK, status)

	select {
	case res := <-resCh:
		require.Equal(t, int32(0), res.Status)
		require.Equal(t, int32(3), res.Length)
		require.Equal(t, []byte{0xaa, 0xbb, 0xcc}, res.Buffer[:3])
	case <-ctx.Done():
		t.Fatal("timed out waiting for async read completion")
	}

	// Phase 4: hot-unplug delivers a detach notification for the same handle.
	backend.Remove(pad)
	select {
	case detached := <-notifyCh:
		require.Equal(t, hid.DeviceDetach, detached.event)
		require.Equal(t, handle, detached.handle)
	case <-ctx.Done():
		t.Fatal("timed out waiting for detach notification")
	}
	require.Equal(t, hid.StatusError, reg.Read(handle, buf, nil, nil),
		"stale handle fails after detach")

	// Phase 5: the event log holds a decodable record of the session.
	require.NoError(t, events.Close())
	f, err := os.Open(eventPath)
	require.NoError(t, err)
	defer f.Close()

	dec := hidlog.NewDecoder(f)
	var categories []hidlog.Category
	for {
		var ev hidlog.Event
		if err := dec.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode event log: %v", err)
		}
		categories = append(categories, ev.Category)
	}
	require.Contains(t, categories, hidlog.CategoryAttach)
	require.Contains(t, categories, hidlog.CategoryDetach)
	require.Contains(t, categories, hidlog.CategoryTransfer)
}

// TestE2E_MultipleClients verifies catch-up for late subscribers and that
// every client sees backend teardown.
func TestE2E_MultipleClients(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	loop := hid.NewEventLoop(64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Close()

	reg := hid.NewRegistry(hid.Config{Queue: loop})
	defer reg.Close()

	backend := emulated.New(
		emulated.NewDevice(emulated.DeviceConfig{VendorID: 1, ProductID: 1}),
		emulated.NewDevice(emulated.DeviceConfig{VendorID: 2, ProductID: 2}),
	)
	reg.AttachBackend(backend)
	require.Len(t, reg.Devices(), 2)

	// A client added after the devices receives synchronous catch-up.
	var mu sync.Mutex
	seen := make(map[uint32]hid.AttachEvent)
	client := hid.NewClient(func(c *hid.Client, slot *hid.Slot, ev hid.AttachEvent) {
		mu.Lock()
		seen[slot.Handle] = ev
		mu.Unlock()
	})
	reg.AddClient(client)

	mu.Lock()
	require.Len(t, seen, 2, "catch-up is synchronous with AddClient")
	mu.Unlock()

	// Backend detach notifies for every device.
	reg.DetachBackend(backend)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range seen {
			if ev != hid.DeviceDetach {
				return false
			}
		}
		return len(seen) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, reg.Devices())
}
