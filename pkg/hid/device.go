package hid

import "errors"

// DefaultMaxPacketSize is the initial RX/TX packet size of a device before its
// backend probes the real endpoint descriptors.
const DefaultMaxPacketSize = 32

// Sentinel errors used by Device implementations. The dispatcher maps them to
// guest status codes at its boundary; everything else becomes StatusError.
var (
	// ErrTimeout reports a timed-out transfer. It is surfaced to the guest as
	// StatusTimeout, distinct from generic failure, so guest retry logic can
	// tell the two apart.
	ErrTimeout = errors.New("transfer timeout")

	// ErrNotOpened reports an operation on a device that is not open.
	ErrNotOpened = errors.New("device not opened")
)

// Properties holds a device's identity, fixed at construction, plus its
// mutable packet sizes. Backends may overwrite MaxPacketSizeRX/TX after
// probing endpoint descriptors; both default to DefaultMaxPacketSize.
type Properties struct {
	VendorID          uint16
	ProductID         uint16
	InterfaceIndex    uint8
	InterfaceSubClass uint8
	Protocol          uint8
	MaxPacketSizeRX   uint16
	MaxPacketSizeTX   uint16
}

// NewProperties returns Properties with the given identity and default packet
// sizes.
func NewProperties(vendorID, productID uint16, ifIndex, subClass, protocol uint8) Properties {
	return Properties{
		VendorID:          vendorID,
		ProductID:         productID,
		InterfaceIndex:    ifIndex,
		InterfaceSubClass: subClass,
		Protocol:          protocol,
		MaxPacketSizeRX:   DefaultMaxPacketSize,
		MaxPacketSizeTX:   DefaultMaxPacketSize,
	}
}

// ReadMessage carries one read request. Data is the destination buffer; the
// device reports how much of it was filled in BytesRead.
type ReadMessage struct {
	Data      []byte
	BytesRead int
}

// WriteMessage carries one write request. Data is the payload; the device
// reports how much it accepted in BytesWritten.
type WriteMessage struct {
	Data         []byte
	BytesWritten int
}

// ReportMessage carries one set-report request.
type ReportMessage struct {
	ReportType uint8
	ReportID   uint8
	Data       []byte
}

// Device is the capability interface a backend implements for each attachable
// interface. The registry holds shared references to attached devices; the
// owning backend remains responsible for final teardown.
//
// Read and Write return nil on success (a zero-byte transfer is a valid
// success), ErrTimeout on timeout, and any other error for a generic transfer
// failure. Implementations are not required to serialize concurrent
// operations on the same device; that is each implementation's own concern.
type Device interface {
	// Properties returns the device's identity and packet sizes. The returned
	// pointer stays valid for the device's lifetime.
	Properties() *Properties

	Open() error
	Close() error
	Opened() bool

	// GetDescriptor fills out with the requested descriptor, truncated to
	// len(out).
	GetDescriptor(descType, descIndex uint8, lang uint16, out []byte) error
	SetIdle(ifIndex, reportID, duration uint8) error
	SetProtocol(ifIndex, protocol uint8) error
	SetReport(msg *ReportMessage) error
	Read(msg *ReadMessage) error
	Write(msg *WriteMessage) error
}
