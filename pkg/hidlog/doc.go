// Package hidlog provides structured event capture for the HID core.
//
// It defines the Logger interface and Event types for recording device
// attach/detach and transfer activity. It is separate from operational
// logging (slog): event capture produces a complete machine-readable trace
// suitable for replaying or diffing guest device traffic.
//
// Applications pick an implementation:
//
//	// Development: events on the console via slog
//	cfg.Events = hidlog.NewSlogAdapter(slog.Default())
//
//	// Capture: binary CBOR file
//	cfg.Events, _ = hidlog.NewFileLogger("trace.hlog")
//
//	// Both at once
//	cfg.Events = hidlog.NewMultiLogger(adapter, file)
//
// Log files are a plain stream of CBOR-encoded events with integer keys;
// NewDecoder reads them back.
package hidlog
