package hid

// Metrics provides observability for the HID core.
//
// Implementations can collect transfer counts and pool occupancy. The
// interface is optional - pass nil in Config to disable collection with zero
// overhead. A Prometheus implementation lives in pkg/metrics/prometheus.
type Metrics interface {
	// RecordTransfer records a completed transfer operation.
	//
	// Parameters:
	//   - op: operation name (get_descriptor, set_idle, set_protocol,
	//     set_report, read, write)
	//   - async: whether completion was delivered via the callback queue
	//   - status: guest-visible status (byte count or negative sentinel)
	RecordTransfer(op string, async bool, status int32)

	// SetAttachedDevices updates the current attached-device count.
	SetAttachedDevices(n int)

	// SetFreeSlots updates the current free handle-slot count.
	SetFreeSlots(n int)
}
