package hid

import "testing"

func TestSlotPoolExhaustion(t *testing.T) {
	p := newSlotPool()

	slots := make([]*Slot, 0, MaxDevices)
	for i := 0; i < MaxDevices; i++ {
		s, ok := p.acquire()
		if !ok {
			t.Fatalf("acquire %d failed, want success", i)
		}
		slots = append(slots, s)
	}

	if _, ok := p.acquire(); ok {
		t.Error("acquire succeeded on exhausted pool, want failure")
	}
	if p.freeCount() != 0 {
		t.Errorf("freeCount = %d, want 0", p.freeCount())
	}

	p.release(slots[0])
	if p.freeCount() != 1 {
		t.Errorf("freeCount after release = %d, want 1", p.freeCount())
	}
	if _, ok := p.acquire(); !ok {
		t.Error("acquire failed after release, want success")
	}
}

func TestHandleGeneratorSkipsInvalidHandle(t *testing.T) {
	p := newSlotPool()

	first := p.nextHandle()
	if first <= InvalidHandle {
		t.Errorf("first handle = %d, want > %d", first, InvalidHandle)
	}

	prev := first
	for i := 0; i < 1000; i++ {
		h := p.nextHandle()
		if h <= prev {
			t.Fatalf("handle %d issued after %d, want strictly increasing", h, prev)
		}
		prev = h
	}
}

func TestHandlesNotReusedAcrossSlotReuse(t *testing.T) {
	p := newSlotPool()
	seen := make(map[uint32]bool)

	// Churn a single slot repeatedly; its storage is reused, handles are not.
	for i := 0; i < 3*MaxDevices; i++ {
		s, ok := p.acquire()
		if !ok {
			t.Fatal("acquire failed")
		}
		s.Handle = p.nextHandle()
		if seen[s.Handle] {
			t.Fatalf("handle %d issued twice", s.Handle)
		}
		seen[s.Handle] = true
		p.release(s)
	}
}

func TestAcquireClearsReusedSlot(t *testing.T) {
	p := newSlotPool()

	s, _ := p.acquire()
	s.Handle = p.nextHandle()
	s.VendorID = 0x057e
	s.ProductID = 0x0337
	p.release(s)

	// Drain until the same storage comes back around.
	for i := 0; i < MaxDevices; i++ {
		got, ok := p.acquire()
		if !ok {
			t.Fatal("acquire failed")
		}
		if got == s {
			if got.Handle != 0 || got.VendorID != 0 || got.ProductID != 0 {
				t.Errorf("reused slot not cleared: %+v", got)
			}
			return
		}
	}
	t.Fatal("released slot never came back around")
}

func TestReleaseUnboundSlotPanics(t *testing.T) {
	p := newSlotPool()
	s, _ := p.acquire()
	p.release(s)

	defer func() {
		if recover() == nil {
			t.Error("double release did not panic")
		}
	}()
	p.release(s)
}

func TestBindSlotCopiesProperties(t *testing.T) {
	props := NewProperties(0x057e, 0x0337, 1, 2, 3)
	props.MaxPacketSizeRX = 64

	var s Slot
	bindSlot(&s, &props)

	if s.VendorID != 0x057e || s.ProductID != 0x0337 {
		t.Errorf("identity not copied: %+v", s)
	}
	if s.InterfaceIndex != 1 || s.InterfaceSubClass != 2 || s.Protocol != 3 {
		t.Errorf("interface fields not copied: %+v", s)
	}
	if s.MaxPacketSizeRX != 64 || s.MaxPacketSizeTX != DefaultMaxPacketSize {
		t.Errorf("packet sizes not copied: %+v", s)
	}
}
