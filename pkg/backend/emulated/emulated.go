// Package emulated provides a software HID backend. Devices are scriptable:
// input reports are queued by the host application and surface through Read,
// while output traffic is recorded for inspection. The package backs tests
// and controller emulation where no physical hardware is involved.
package emulated

import (
	"fmt"
	"sync"
	"time"

	"github.com/emubridge/hidhost/pkg/hid"
)

// DefaultReadTimeout bounds how long a Read blocks waiting for a queued
// input report before reporting a transfer timeout.
const DefaultReadTimeout = 100 * time.Millisecond

// DeviceConfig describes an emulated device.
type DeviceConfig struct {
	VendorID  uint16
	ProductID uint16

	InterfaceIndex    uint8
	InterfaceSubClass uint8
	Protocol          uint8

	// Descriptor is returned by GetDescriptor requests, truncated or
	// zero-padded to the caller's buffer.
	Descriptor []byte

	// ReadTimeout overrides DefaultReadTimeout when positive.
	ReadTimeout time.Duration

	// QueueSize is the input report queue capacity; defaults to 16.
	QueueSize int
}

// Device is a scriptable software HID device.
type Device struct {
	props       hid.Properties
	descriptor  []byte
	readTimeout time.Duration
	reports     chan []byte

	mu       sync.Mutex
	opened   bool
	idleRate uint8
	protocol uint8
	written  [][]byte
	setRepts []hid.ReportMessage
}

// NewDevice returns a Device built from cfg.
func NewDevice(cfg DeviceConfig) *Device {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Device{
		props: hid.NewProperties(cfg.VendorID, cfg.ProductID,
			cfg.InterfaceIndex, cfg.InterfaceSubClass, cfg.Protocol),
		descriptor:  cfg.Descriptor,
		readTimeout: timeout,
		reports:     make(chan []byte, queueSize),
	}
}

var _ hid.Device = (*Device)(nil)

// Properties implements hid.Device.
func (d *Device) Properties() *hid.Properties { return &d.props }

// Open implements hid.Device. Opening an emulated device never fails.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	return nil
}

// Close implements hid.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}

// Opened implements hid.Device.
func (d *Device) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// GetDescriptor copies the configured descriptor into out.
func (d *Device) GetDescriptor(descType, descIndex uint8, lang uint16, out []byte) error {
	if len(d.descriptor) == 0 {
		return fmt.Errorf("no descriptor configured for %04x:%04x",
			d.props.VendorID, d.props.ProductID)
	}
	copy(out, d.descriptor)
	return nil
}

// SetIdle records the requested idle rate.
func (d *Device) SetIdle(ifIndex, reportID, duration uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idleRate = duration
	return nil
}

// SetProtocol records the requested protocol.
func (d *Device) SetProtocol(ifIndex, protocol uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.protocol = protocol
	return nil
}

// SetReport records the submitted report.
func (d *Device) SetReport(msg *hid.ReportMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setRepts = append(d.setRepts, hid.ReportMessage{
		ReportType: msg.ReportType,
		ReportID:   msg.ReportID,
		Data:       append([]byte(nil), msg.Data...),
	})
	return nil
}

// Read delivers the next queued input report, or hid.ErrTimeout when none
// arrives within the device's read timeout.
func (d *Device) Read(msg *hid.ReadMessage) error {
	select {
	case report := <-d.reports:
		msg.BytesRead = copy(msg.Data, report)
		return nil
	case <-time.After(d.readTimeout):
		return hid.ErrTimeout
	}
}

// Write records the output payload and accepts it in full.
func (d *Device) Write(msg *hid.WriteMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, append([]byte(nil), msg.Data...))
	msg.BytesWritten = len(msg.Data)
	return nil
}

// QueueInput schedules an input report for a future Read. It fails when the
// report queue is full.
func (d *Device) QueueInput(report []byte) error {
	select {
	case d.reports <- append([]byte(nil), report...):
		return nil
	default:
		return fmt.Errorf("input queue full (%d pending)", cap(d.reports))
	}
}

// Written returns a snapshot of payloads received via Write.
func (d *Device) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.written))
	copy(out, d.written)
	return out
}

// Reports returns a snapshot of reports received via SetReport.
func (d *Device) Reports() []hid.ReportMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]hid.ReportMessage, len(d.setRepts))
	copy(out, d.setRepts)
	return out
}

// IdleRate returns the last idle rate set via SetIdle.
func (d *Device) IdleRate() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idleRate
}

// Protocol returns the last protocol set via SetProtocol.
func (d *Device) Protocol() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.protocol
}

// Backend surfaces emulated devices to a registry. Devices may be added
// before or after attachment; the roster survives detach so a re-attached
// backend re-announces its devices.
type Backend struct {
	hid.BackendBase

	rosterMu sync.Mutex
	roster   []*Device
}

// New returns a Backend seeded with the given devices.
func New(devices ...*Device) *Backend {
	b := &Backend{}
	b.roster = append(b.roster, devices...)
	return b
}

var _ hid.Backend = (*Backend)(nil)

// OnAttach implements hid.Backend. Every whitelisted roster device is
// attached to the registry.
func (b *Backend) OnAttach(reg *hid.Registry) {
	b.Attach(reg)

	b.rosterMu.Lock()
	roster := append([]*Device(nil), b.roster...)
	b.rosterMu.Unlock()

	for _, d := range roster {
		if !b.Whitelisted(d.props.VendorID, d.props.ProductID) {
			continue
		}
		b.AttachDevice(d)
	}
}

// OnDetach implements hid.Backend.
func (b *Backend) OnDetach() {
	b.Detach()
}

// Add hot-plugs a device. It joins the roster immediately; when the backend
// is attached and the device is whitelisted it is attached to the registry as
// well. The return value reports whether the device is now visible to the
// registry.
func (b *Backend) Add(d *Device) bool {
	b.rosterMu.Lock()
	b.roster = append(b.roster, d)
	b.rosterMu.Unlock()

	if !b.Attached() || !b.Whitelisted(d.props.VendorID, d.props.ProductID) {
		return false
	}
	return b.AttachDevice(d)
}

// Remove hot-unplugs a device, detaching it from the registry and dropping it
// from the roster.
func (b *Backend) Remove(d *Device) {
	b.rosterMu.Lock()
	for i, existing := range b.roster {
		if existing == d {
			b.roster = append(b.roster[:i], b.roster[i+1:]...)
			break
		}
	}
	b.rosterMu.Unlock()

	b.DetachDevice(d)
}
