package hid

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emubridge/hidhost/pkg/hidlog"
)

// Policy decides which device models may be attached. It is consumed here and
// implemented elsewhere (see pkg/whitelist).
type Policy interface {
	Allowed(vendorID, productID uint16) bool
}

// Config configures a Registry. The zero value is usable: callbacks run on
// their own goroutines, every device is permitted, logs are discarded.
type Config struct {
	// Queue receives asynchronous completion callbacks and registry-driven
	// attach/detach notifications. Defaults to GoroutineQueue.
	Queue CallbackQueue

	// Policy is the device permit table exposed to backends via Whitelisted.
	// A nil policy permits everything.
	Policy Policy

	// Logger receives operational logs. Defaults to a discard logger.
	Logger *slog.Logger

	// Events receives structured attach/detach/transfer events.
	// Defaults to hidlog.NoopLogger.
	Events hidlog.Logger

	// Metrics receives transfer and occupancy metrics. Nil disables
	// collection with zero overhead.
	Metrics Metrics

	// MaxWorkers bounds the number of concurrently executing device
	// operations. Defaults to DefaultMaxWorkers.
	MaxWorkers int
}

// DefaultMaxWorkers is the default transfer worker-pool size.
const DefaultMaxWorkers = 16

// entry pairs an attached device with its bound slot and in-flight transfer
// accounting. A device never appears in the registry without a bound slot;
// the two facts change together under the registry lock.
type entry struct {
	device Device
	slot   *Slot

	// inflight counts transfers currently executing against the device.
	// While it is non-zero a detach defers slot release and device close to
	// the last finishing transfer.
	inflight int
	detached bool
}

// Registry owns all shared state of the HID core: the slot pool, the attached
// device list, the client list and the backend list. Every operation goes
// through a Registry instance; there is no ambient global state, so tests can
// run independent instances side by side.
//
// A single mutex serializes state mutation. Client callbacks and device
// capability calls always run with the lock released, so a callback may
// re-enter any Registry operation.
type Registry struct {
	mu       sync.Mutex
	pool     *slotPool
	devices  []*entry
	clients  []*Client
	backends []Backend

	queue   CallbackQueue
	policy  Policy
	log     *slog.Logger
	events  hidlog.Logger
	metrics Metrics
	workers *errgroup.Group

	// pending counts asynchronous submissions parked on a saturated worker
	// pool. Close waits for it before waiting on the pool itself.
	pending sync.WaitGroup
}

// NewRegistry creates a Registry from cfg.
func NewRegistry(cfg Config) *Registry {
	if cfg.Queue == nil {
		cfg.Queue = GoroutineQueue{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Events == nil {
		cfg.Events = hidlog.NoopLogger{}
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}

	workers := &errgroup.Group{}
	workers.SetLimit(cfg.MaxWorkers)

	return &Registry{
		pool:    newSlotPool(),
		queue:   cfg.Queue,
		policy:  cfg.Policy,
		log:     cfg.Logger.With("component", "hid"),
		events:  cfg.Events,
		metrics: cfg.Metrics,
		workers: workers,
	}
}

// Close detaches all backends and waits for in-flight transfer workers to
// drain. The registry must not be used afterwards.
func (r *Registry) Close() error {
	r.DetachAllBackends()
	r.pending.Wait()
	return r.workers.Wait()
}

// AttachDevice attaches dev, binding a fresh handle slot and notifying every
// subscribed client asynchronously. It fails, with no side effect, when dev
// is already attached or the slot pool is exhausted. Backends normally call
// BackendBase.AttachDevice instead, which also records ownership.
func (r *Registry) AttachDevice(dev Device) bool {
	props := dev.Properties()

	r.mu.Lock()
	if r.findEntryLocked(dev) != nil {
		r.mu.Unlock()
		r.log.Debug("attach failed: already attached",
			"vendor_id", props.VendorID, "product_id", props.ProductID)
		return false
	}
	slot, ok := r.pool.acquire()
	if !ok {
		r.mu.Unlock()
		r.log.Debug("attach failed: no free device slots left",
			"vendor_id", props.VendorID, "product_id", props.ProductID)
		return false
	}
	slot.Handle = r.pool.nextHandle()
	bindSlot(slot, props)
	e := &entry{device: dev, slot: slot}
	r.devices = append(r.devices, e)
	clients := make([]*Client, len(r.clients))
	copy(clients, r.clients)
	attached, free := len(r.devices), r.pool.freeCount()
	r.mu.Unlock()

	for _, c := range clients {
		c := c
		r.queue.Post(func() { c.notify(e.slot, DeviceAttach) })
	}

	if r.metrics != nil {
		r.metrics.SetAttachedDevices(attached)
		r.metrics.SetFreeSlots(free)
	}
	r.events.Log(hidlog.Event{
		Timestamp: time.Now(),
		Category:  hidlog.CategoryAttach,
		Handle:    slot.Handle,
		VendorID:  props.VendorID,
		ProductID: props.ProductID,
	})
	r.log.Debug("device attached",
		"vendor_id", props.VendorID, "product_id", props.ProductID, "handle", slot.Handle)
	return true
}

// DetachDevice removes dev from the registry and notifies clients
// asynchronously. Detaching a device that is not attached is a no-op beyond a
// diagnostic. Slot release and the device's Close run once all in-flight
// transfers have drained; Close always runs outside the registry lock.
func (r *Registry) DetachDevice(dev Device) {
	props := dev.Properties()

	r.mu.Lock()
	var e *entry
	for i, cand := range r.devices {
		if cand.device == dev {
			e = cand
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			break
		}
	}
	if e == nil {
		r.mu.Unlock()
		r.log.Debug("detach: device not attached",
			"vendor_id", props.VendorID, "product_id", props.ProductID)
		return
	}
	e.detached = true
	clients := make([]*Client, len(r.clients))
	copy(clients, r.clients)
	drained := e.inflight == 0
	if drained {
		r.pool.release(e.slot)
	}
	attached, free := len(r.devices), r.pool.freeCount()
	r.mu.Unlock()

	for _, c := range clients {
		c := c
		r.queue.Post(func() { c.notify(e.slot, DeviceDetach) })
	}
	if drained {
		if err := dev.Close(); err != nil {
			r.log.Debug("detach: close failed", "handle", e.slot.Handle, "err", err)
		}
	}

	if r.metrics != nil {
		r.metrics.SetAttachedDevices(attached)
		r.metrics.SetFreeSlots(free)
	}
	r.events.Log(hidlog.Event{
		Timestamp: time.Now(),
		Category:  hidlog.CategoryDetach,
		Handle:    e.slot.Handle,
		VendorID:  props.VendorID,
		ProductID: props.ProductID,
	})
	r.log.Debug("device removed",
		"vendor_id", props.VendorID, "product_id", props.ProductID, "handle", e.slot.Handle)
}

// DeviceByHandle returns the attached device bound to handle, or nil. With
// openIfClosed set, a closed device is opened first; if opening fails the
// lookup returns nil. The open attempt runs outside the registry lock.
func (r *Registry) DeviceByHandle(handle uint32, openIfClosed bool) Device {
	r.mu.Lock()
	var dev Device
	for _, e := range r.devices {
		if e.slot.Handle == handle {
			dev = e.device
			break
		}
	}
	r.mu.Unlock()

	if dev == nil {
		return nil
	}
	if openIfClosed && !dev.Opened() {
		if err := dev.Open(); err != nil {
			r.log.Debug("lazy open failed", "handle", handle, "err", err)
			return nil
		}
	}
	return dev
}

// DeviceByID returns the first attached device matching vendorID/productID in
// attach order, or nil.
func (r *Registry) DeviceByID(vendorID, productID uint16) Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.devices {
		p := e.device.Properties()
		if p.VendorID == vendorID && p.ProductID == productID {
			return e.device
		}
	}
	return nil
}

// Devices returns a snapshot of attached devices in attach order.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.devices))
	for i, e := range r.devices {
		out[i] = e.device
	}
	return out
}

// HandleOf returns the handle bound to dev, or InvalidHandle when dev is not
// attached.
func (r *Registry) HandleOf(dev Device) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.findEntryLocked(dev); e != nil {
		return e.slot.Handle
	}
	return InvalidHandle
}

// FreeSlots returns the number of unbound handle slots.
func (r *Registry) FreeSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.freeCount()
}

// Whitelisted reports whether the policy permits the given device model.
// Without a policy every model is permitted.
func (r *Registry) Whitelisted(vendorID, productID uint16) bool {
	if r.policy == nil {
		return true
	}
	return r.policy.Allowed(vendorID, productID)
}

// AttachBackend appends backend to the backend list and invokes its OnAttach,
// which is expected to discover and attach the backend's devices.
func (r *Registry) AttachBackend(b Backend) {
	r.mu.Lock()
	r.backends = append(r.backends, b)
	r.mu.Unlock()
	b.OnAttach(r)
}

// DetachBackend removes backend from the backend list and invokes its
// OnDetach, force-detaching its devices.
func (r *Registry) DetachBackend(b Backend) {
	r.mu.Lock()
	for i, existing := range r.backends {
		if existing == b {
			r.backends = append(r.backends[:i], r.backends[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	b.OnDetach()
}

// DetachAllBackends detaches every backend in attach order.
func (r *Registry) DetachAllBackends() {
	r.mu.Lock()
	backends := r.backends
	r.backends = nil
	r.mu.Unlock()
	for _, b := range backends {
		b.OnDetach()
	}
}

func (r *Registry) findEntryLocked(dev Device) *entry {
	for _, e := range r.devices {
		if e.device == dev {
			return e
		}
	}
	return nil
}

// resolveOp looks up the entry bound to handle and marks one transfer in
// flight on it. Callers must pair it with endOp. With openIfClosed set, a
// closed device is opened outside the lock; on open failure the in-flight
// mark is dropped and nil is returned.
func (r *Registry) resolveOp(handle uint32, openIfClosed bool) *entry {
	r.mu.Lock()
	var e *entry
	for _, cand := range r.devices {
		if cand.slot.Handle == handle {
			e = cand
			break
		}
	}
	if e == nil {
		r.mu.Unlock()
		return nil
	}
	e.inflight++
	r.mu.Unlock()

	if openIfClosed && !e.device.Opened() {
		if err := e.device.Open(); err != nil {
			r.log.Debug("lazy open failed", "handle", handle, "err", err)
			r.endOp(e)
			return nil
		}
	}
	return e
}

// endOp retires one in-flight transfer. If the device was detached while the
// transfer ran and this was the last one, the slot is released and the device
// closed here.
func (r *Registry) endOp(e *entry) {
	r.mu.Lock()
	e.inflight--
	closeNow := e.detached && e.inflight == 0
	if closeNow {
		r.pool.release(e.slot)
	}
	r.mu.Unlock()

	if closeNow {
		if err := e.device.Close(); err != nil {
			r.log.Debug("deferred close failed", "handle", e.slot.Handle, "err", err)
		}
		if r.metrics != nil {
			r.metrics.SetFreeSlots(r.FreeSlots())
		}
	}
}
