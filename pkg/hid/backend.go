package hid

import (
	"sync"

	"github.com/google/uuid"
)

// Backend is a source of devices. A backend owns the devices it discovers and
// mediates their attachment into the registry; it is attached and detached as
// a unit.
type Backend interface {
	// OnAttach transitions the backend to attached and triggers device
	// discovery. Implementations embedding BackendBase call Attach(reg)
	// first, then attach each discovered device via AttachDevice.
	OnAttach(reg *Registry)

	// OnDetach force-detaches every owned device and transitions the backend
	// to detached.
	OnDetach()
}

// BackendBase implements the ownership protocol shared by all backends:
// the owned-device list, the attached flag, and delegation to the registry.
// Concrete backends embed it and add discovery.
type BackendBase struct {
	mu       sync.Mutex
	id       string
	reg      *Registry
	devices  []Device
	attached bool
}

// ID returns the backend's instance identifier, assigned on first Attach.
func (b *BackendBase) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

// Attach marks the backend as attached to reg. Discovery is the embedding
// backend's responsibility.
func (b *BackendBase) Attach(reg *Registry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id == "" {
		b.id = uuid.NewString()
	}
	b.reg = reg
	b.attached = true
}

// Detach force-detaches every owned device, clears the owned list and marks
// the backend detached. Devices are detached outside the backend lock so
// client callbacks may re-enter backend operations.
func (b *BackendBase) Detach() {
	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return
	}
	devices := b.devices
	b.devices = nil
	reg := b.reg
	b.attached = false
	b.mu.Unlock()

	for _, d := range devices {
		reg.DetachDevice(d)
	}
}

// Attached reports whether the backend is currently attached.
func (b *BackendBase) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

// Registry returns the registry the backend is attached to, or nil.
func (b *BackendBase) Registry() *Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return nil
	}
	return b.reg
}

// AttachDevice attaches dev into the registry and records ownership. It
// fails while the backend is detached, or when the registry refuses the
// device.
func (b *BackendBase) AttachDevice(dev Device) bool {
	b.mu.Lock()
	if !b.attached || b.reg == nil {
		b.mu.Unlock()
		return false
	}
	reg := b.reg
	b.mu.Unlock()

	if !reg.AttachDevice(dev) {
		return false
	}

	b.mu.Lock()
	b.devices = append(b.devices, dev)
	b.mu.Unlock()
	return true
}

// DetachDevice detaches dev from the registry and drops ownership. It is a
// no-op while the backend is detached.
func (b *BackendBase) DetachDevice(dev Device) {
	b.mu.Lock()
	if !b.attached || b.reg == nil {
		b.mu.Unlock()
		return
	}
	reg := b.reg
	for i, existing := range b.devices {
		if existing == dev {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	reg.DetachDevice(dev)
}

// Devices returns a snapshot of the backend's owned devices.
func (b *BackendBase) Devices() []Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Device, len(b.devices))
	copy(out, b.devices)
	return out
}

// FindDevice returns the first owned device matching pred, or nil. The scope
// is this backend's devices only, unlike FindDeviceByID.
func (b *BackendBase) FindDevice(pred func(Device) bool) Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if pred(d) {
			return d
		}
	}
	return nil
}

// FindDeviceByID looks up vendorID/productID across the whole registry, not
// just this backend's devices.
func (b *BackendBase) FindDeviceByID(vendorID, productID uint16) Device {
	reg := b.Registry()
	if reg == nil {
		return nil
	}
	return reg.DeviceByID(vendorID, productID)
}

// Whitelisted reports whether the registry's policy permits the given device
// model. A detached backend permits nothing.
func (b *BackendBase) Whitelisted(vendorID, productID uint16) bool {
	reg := b.Registry()
	if reg == nil {
		return false
	}
	return reg.Whitelisted(vendorID, productID)
}
