// Package hidtest provides scriptable device, backend and queue fakes for
// testing code built on pkg/hid.
package hidtest

import (
	"sync"

	"github.com/emubridge/hidhost/pkg/hid"
)

// Device is a scriptable hid.Device. Error fields default to nil (success);
// set them to force failures. All methods are safe for concurrent use.
type Device struct {
	// Props is the device identity reported by Properties.
	Props hid.Properties

	// OpenErr, when set, makes Open fail.
	OpenErr error
	// Descriptor is copied into the output of GetDescriptor.
	Descriptor []byte
	// DescriptorErr, IdleErr, ProtocolErr, ReportErr force the corresponding
	// control operation to fail.
	DescriptorErr error
	IdleErr       error
	ProtocolErr   error
	ReportErr     error

	// ReadErr forces Read to fail; ReadData is the payload copied into the
	// caller's buffer on success.
	ReadErr  error
	ReadData []byte
	// WriteErr forces Write to fail; WriteLimit caps the bytes accepted per
	// write (0 accepts everything).
	WriteErr   error
	WriteLimit int

	mu         sync.Mutex
	opened     bool
	openCalls  int
	closeCalls int
	reports    []hid.ReportMessage
	written    [][]byte
}

// NewDevice returns a Device with the given identity and default packet
// sizes.
func NewDevice(vendorID, productID uint16) *Device {
	return &Device{Props: hid.NewProperties(vendorID, productID, 0, 0, 0)}
}

// Properties implements hid.Device.
func (d *Device) Properties() *hid.Properties { return &d.Props }

// Open implements hid.Device.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openCalls++
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.opened = true
	return nil
}

// Close implements hid.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	d.opened = false
	return nil
}

// Opened implements hid.Device.
func (d *Device) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// SetOpened forces the open flag without counting an Open call.
func (d *Device) SetOpened(opened bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = opened
}

// OpenCalls returns how many times Open was invoked.
func (d *Device) OpenCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCalls
}

// CloseCalls returns how many times Close was invoked.
func (d *Device) CloseCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCalls
}

// GetDescriptor implements hid.Device by copying Descriptor into out.
func (d *Device) GetDescriptor(descType, descIndex uint8, lang uint16, out []byte) error {
	if d.DescriptorErr != nil {
		return d.DescriptorErr
	}
	copy(out, d.Descriptor)
	return nil
}

// SetIdle implements hid.Device.
func (d *Device) SetIdle(ifIndex, reportID, duration uint8) error {
	return d.IdleErr
}

// SetProtocol implements hid.Device.
func (d *Device) SetProtocol(ifIndex, protocol uint8) error {
	return d.ProtocolErr
}

// SetReport implements hid.Device, recording the report on success.
func (d *Device) SetReport(msg *hid.ReportMessage) error {
	if d.ReportErr != nil {
		return d.ReportErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, hid.ReportMessage{
		ReportType: msg.ReportType,
		ReportID:   msg.ReportID,
		Data:       append([]byte(nil), msg.Data...),
	})
	return nil
}

// Reports returns the reports received so far.
func (d *Device) Reports() []hid.ReportMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]hid.ReportMessage(nil), d.reports...)
}

// Read implements hid.Device, copying ReadData into the request buffer.
func (d *Device) Read(msg *hid.ReadMessage) error {
	if d.ReadErr != nil {
		return d.ReadErr
	}
	msg.BytesRead = copy(msg.Data, d.ReadData)
	return nil
}

// Write implements hid.Device, recording the payload and honoring WriteLimit.
func (d *Device) Write(msg *hid.WriteMessage) error {
	if d.WriteErr != nil {
		return d.WriteErr
	}
	n := len(msg.Data)
	if d.WriteLimit > 0 && n > d.WriteLimit {
		n = d.WriteLimit
	}
	d.mu.Lock()
	d.written = append(d.written, append([]byte(nil), msg.Data[:n]...))
	d.mu.Unlock()
	msg.BytesWritten = n
	return nil
}

// Written returns the payloads accepted so far.
func (d *Device) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.written...)
}

// Compile-time interface satisfaction check.
var _ hid.Device = (*Device)(nil)

// Backend attaches a fixed set of devices on OnAttach.
type Backend struct {
	hid.BackendBase

	// Discover is the device set attached during OnAttach.
	Discover []hid.Device
}

// OnAttach implements hid.Backend.
func (b *Backend) OnAttach(reg *hid.Registry) {
	b.Attach(reg)
	for _, d := range b.Discover {
		b.AttachDevice(d)
	}
}

// OnDetach implements hid.Backend.
func (b *Backend) OnDetach() {
	b.Detach()
}

var _ hid.Backend = (*Backend)(nil)

// Queue is a hid.CallbackQueue that records posted callbacks for manual,
// deterministic draining in tests.
type Queue struct {
	mu  sync.Mutex
	fns []func()
}

// Post implements hid.CallbackQueue.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, fn)
}

// Len returns the number of pending callbacks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

// Drain runs pending callbacks, including any posted while draining, and
// returns how many ran.
func (q *Queue) Drain() int {
	total := 0
	for {
		q.mu.Lock()
		fns := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(fns) == 0 {
			return total
		}
		for _, fn := range fns {
			fn()
		}
		total += len(fns)
	}
}

var _ hid.CallbackQueue = (*Queue)(nil)
