package hid

// MaxDevices is the fixed capacity of the handle slot pool. Exhaustion is a
// first-class attach failure, not a retryable condition.
const MaxDevices = 128

// InvalidHandle is reserved to mean "no handle". The generator never issues
// it; the first dispensed handle is InvalidHandle + 1.
const InvalidHandle uint32 = 1

// Slot is one fixed device-descriptor slot handed to guest clients in
// attach/detach notifications. Slot storage is reused across attachments;
// handles are not.
type Slot struct {
	Handle            uint32
	VendorID          uint16
	ProductID         uint16
	InterfaceIndex    uint8
	InterfaceSubClass uint8
	Protocol          uint8
	MaxPacketSizeRX   uint16
	MaxPacketSizeTX   uint16

	index int
	bound bool
}

// slotPool is an arena of MaxDevices slots plus a FIFO free-index queue and
// the monotonic handle counter. It has no locking of its own; the Registry
// serializes all access.
type slotPool struct {
	slots      [MaxDevices]Slot
	free       []int
	lastHandle uint32
}

func newSlotPool() *slotPool {
	p := &slotPool{lastHandle: InvalidHandle}
	p.free = make([]int, 0, MaxDevices)
	for i := range p.slots {
		p.slots[i].index = i
		p.free = append(p.free, i)
	}
	return p
}

// acquire removes and returns one free slot, cleared of any previous
// occupant. It reports false when the pool is exhausted.
func (p *slotPool) acquire() (*Slot, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	i := p.free[0]
	p.free = p.free[1:]
	s := &p.slots[i]
	*s = Slot{index: i, bound: true}
	return s, true
}

// release returns a previously acquired slot to the free queue. Releasing a
// slot that is not currently bound is a contract violation, kept loud rather
// than ignored so the bug class stays visible.
func (p *slotPool) release(s *Slot) {
	if s == nil || !s.bound {
		panic("hid: release of unbound slot")
	}
	s.bound = false
	p.free = append(p.free, s.index)
}

// nextHandle dispenses the next handle identifier. Handles are process-unique
// and strictly increasing; slot reuse never reuses a handle.
func (p *slotPool) nextHandle() uint32 {
	p.lastHandle++
	return p.lastHandle
}

func (p *slotPool) freeCount() int {
	return len(p.free)
}

// bindSlot copies a device's properties into its freshly acquired slot.
func bindSlot(s *Slot, props *Properties) {
	s.VendorID = props.VendorID
	s.ProductID = props.ProductID
	s.InterfaceIndex = props.InterfaceIndex
	s.InterfaceSubClass = props.InterfaceSubClass
	s.Protocol = props.Protocol
	s.MaxPacketSizeRX = props.MaxPacketSizeRX
	s.MaxPacketSizeTX = props.MaxPacketSizeTX
}
