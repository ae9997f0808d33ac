package hidlog

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger. Useful for development when
// you want to see device activity in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}
	if event.Handle != 0 {
		attrs = append(attrs, slog.Uint64("handle", uint64(event.Handle)))
	}
	if event.VendorID != 0 || event.ProductID != 0 {
		attrs = append(attrs,
			slog.Uint64("vendor_id", uint64(event.VendorID)),
			slog.Uint64("product_id", uint64(event.ProductID)),
		)
	}
	if event.BackendID != "" {
		attrs = append(attrs, slog.String("backend_id", event.BackendID))
	}
	if event.Transfer != nil {
		attrs = append(attrs,
			slog.String("op", event.Transfer.Op),
			slog.Bool("async", event.Transfer.Async),
			slog.Int64("status", int64(event.Transfer.Status)),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "hid event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
