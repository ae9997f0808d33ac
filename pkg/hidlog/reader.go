package hidlog

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Reader reads events back from a file written by FileLogger.
type Reader struct {
	f   *os.File
	dec *cbor.Decoder
}

// NewReader opens an event log file for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &Reader{f: f, dec: NewDecoder(f)}, nil
}

// Next returns the next event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	var event Event
	if err := r.dec.Decode(&event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Filter selects events by field. Zero-valued fields match everything.
type Filter struct {
	// Category restricts to one event category.
	Category *Category

	// Handle restricts to events of one device handle.
	Handle *uint32

	// VendorID/ProductID restrict to one device model. Zero means any.
	VendorID  uint16
	ProductID uint16

	// Op restricts transfer events to one operation name. Non-transfer
	// events never match a non-empty Op.
	Op string

	// TimeStart/TimeEnd bound the event timestamp (inclusive).
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Matches reports whether event passes the filter.
func (f Filter) Matches(event Event) bool {
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.Handle != nil && event.Handle != *f.Handle {
		return false
	}
	if f.VendorID != 0 && event.VendorID != f.VendorID {
		return false
	}
	if f.ProductID != 0 && event.ProductID != f.ProductID {
		return false
	}
	if f.Op != "" {
		if event.Transfer == nil || event.Transfer.Op != f.Op {
			return false
		}
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && event.Timestamp.After(*f.TimeEnd) {
		return false
	}
	return true
}
