package hidlog

import "time"

// Event is one captured core event. CBOR encoding uses integer keys for
// compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"2,keyasint"`

	// Handle is the guest-visible device handle, when one is bound.
	Handle uint32 `cbor:"3,keyasint,omitempty"`

	// VendorID/ProductID identify the device model.
	VendorID  uint16 `cbor:"4,keyasint,omitempty"`
	ProductID uint16 `cbor:"5,keyasint,omitempty"`

	// BackendID identifies the backend instance that owns the device, when
	// known.
	BackendID string `cbor:"6,keyasint,omitempty"`

	// Transfer carries operation details for CategoryTransfer events.
	Transfer *TransferEvent `cbor:"7,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryAttach indicates a device was attached to the registry.
	CategoryAttach Category = 0
	// CategoryDetach indicates a device was detached from the registry.
	CategoryDetach Category = 1
	// CategoryTransfer indicates a completed transfer operation.
	CategoryTransfer Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryAttach:
		return "ATTACH"
	case CategoryDetach:
		return "DETACH"
	case CategoryTransfer:
		return "TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// TransferEvent captures one completed transfer operation.
type TransferEvent struct {
	// Op is the operation name (get_descriptor, set_idle, set_protocol,
	// set_report, read, write).
	Op string `cbor:"1,keyasint"`

	// Async indicates the operation completed via the callback queue rather
	// than a blocked caller.
	Async bool `cbor:"2,keyasint,omitempty"`

	// Status is the guest-visible status: a byte count (>= 0) or a negative
	// error sentinel.
	Status int32 `cbor:"3,keyasint"`
}
