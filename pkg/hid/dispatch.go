package hid

import (
	"errors"
	"time"

	"github.com/emubridge/hidhost/pkg/hidlog"
)

// Guest-visible status codes. Values >= 0 are byte counts or plain success.
const (
	// StatusOK is success for control operations, and the immediate return
	// of every accepted asynchronous request.
	StatusOK int32 = 0
	// StatusError is the generic failure sentinel.
	StatusError int32 = -1
	// StatusTimeout is the transfer-timeout sentinel, distinct from
	// StatusError so guest retry logic can differentiate.
	StatusTimeout int32 = -108
)

// TransferResult is delivered through the callback queue when an asynchronous
// transfer completes.
type TransferResult struct {
	// Handle is the device handle the transfer ran against.
	Handle uint32
	// Status is 0 or a negative error sentinel; never a positive byte count.
	Status int32
	// Buffer is the guest buffer involved, when the operation has one.
	Buffer []byte
	// Length is the transferred byte count for read/write (0 on error) and
	// the submitted length for set_report.
	Length int32
	// User is the opaque parameter supplied with the request.
	User any
}

// TransferCallback receives asynchronous completion results. Supplying a
// callback to a dispatch method selects asynchronous mode; nil selects
// synchronous mode.
type TransferCallback func(TransferResult)

// spawn runs fn on the bounded worker pool. It blocks while the pool is
// saturated, which bounds the number of concurrently executing device
// operations.
func (r *Registry) spawn(fn func()) {
	r.workers.Go(func() error {
		fn()
		return nil
	})
}

// spawnAsync hands fn to the worker pool without ever blocking the caller.
// When the pool is saturated a goroutine parks on the submission instead of
// the caller, so accepting an asynchronous request stays immediate.
func (r *Registry) spawnAsync(fn func()) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.spawn(fn)
	}()
}

// syncCall runs fn on the worker pool and blocks the caller until fn's status
// is available. The caller must not hold the registry lock.
func (r *Registry) syncCall(fn func() int32) int32 {
	done := make(chan int32, 1)
	r.spawn(func() { done <- fn() })
	return <-done
}

// observe records a completed operation with metrics and the event log.
func (r *Registry) observe(op string, async bool, handle uint32, status int32) {
	if r.metrics != nil {
		r.metrics.RecordTransfer(op, async, status)
	}
	r.events.Log(hidlog.Event{
		Timestamp: time.Now(),
		Category:  hidlog.CategoryTransfer,
		Handle:    handle,
		Transfer:  &hidlog.TransferEvent{Op: op, Async: async, Status: status},
	})
}

// completeTransfer posts the guest callback onto the callback queue. The
// dispatcher never invokes guest callbacks from its own workers.
func (r *Registry) completeTransfer(cb TransferCallback, res TransferResult) {
	r.queue.Post(func() { cb(res) })
}

// GetDescriptor fetches a descriptor into out. Synchronous success returns
// len(out); asynchronous completion reports status 0 or -1 with no buffer.
func (r *Registry) GetDescriptor(handle uint32, descType, descIndex uint8, lang uint16, out []byte, cb TransferCallback, user any) int32 {
	e := r.resolveOp(handle, true)
	if e == nil {
		r.log.Debug("GetDescriptor: unknown device handle", "handle", handle)
		return StatusError
	}
	if cb == nil {
		return r.syncCall(func() int32 {
			defer r.endOp(e)
			status := StatusError
			if err := e.device.GetDescriptor(descType, descIndex, lang, out); err == nil {
				status = int32(len(out))
			}
			r.observe("get_descriptor", false, e.slot.Handle, status)
			return status
		})
	}
	r.spawnAsync(func() {
		defer r.endOp(e)
		status := StatusOK
		if err := e.device.GetDescriptor(descType, descIndex, lang, out); err != nil {
			status = StatusError
		}
		r.observe("get_descriptor", true, e.slot.Handle, status)
		r.completeTransfer(cb, TransferResult{Handle: e.slot.Handle, Status: status, User: user})
	})
	return StatusOK
}

// SetIdle issues an idle-rate control request. Synchronous mode returns 0 on
// success, -1 on failure.
func (r *Registry) SetIdle(handle uint32, ifIndex, reportID, duration uint8, cb TransferCallback, user any) int32 {
	return r.control("set_idle", handle, func(dev Device) error {
		return dev.SetIdle(ifIndex, reportID, duration)
	}, cb, user)
}

// SetProtocol issues a protocol-select control request. Synchronous mode
// returns 0 on success, -1 on failure.
func (r *Registry) SetProtocol(handle uint32, ifIndex, protocol uint8, cb TransferCallback, user any) int32 {
	return r.control("set_protocol", handle, func(dev Device) error {
		return dev.SetProtocol(ifIndex, protocol)
	}, cb, user)
}

// control is the shared shape of the status-only control operations.
func (r *Registry) control(op string, handle uint32, call func(Device) error, cb TransferCallback, user any) int32 {
	e := r.resolveOp(handle, true)
	if e == nil {
		r.log.Debug("control: unknown device handle", "op", op, "handle", handle)
		return StatusError
	}
	if cb == nil {
		return r.syncCall(func() int32 {
			defer r.endOp(e)
			status := StatusError
			if err := call(e.device); err == nil {
				status = StatusOK
			}
			r.observe(op, false, e.slot.Handle, status)
			return status
		})
	}
	r.spawnAsync(func() {
		defer r.endOp(e)
		status := StatusOK
		if err := call(e.device); err != nil {
			status = StatusError
		}
		r.observe(op, true, e.slot.Handle, status)
		r.completeTransfer(cb, TransferResult{Handle: e.slot.Handle, Status: status, User: user})
	})
	return StatusOK
}

// SetReport submits an output/feature report. Synchronous success returns the
// submitted length; asynchronous completion reports status 0 or -1 along with
// the buffer and its length.
func (r *Registry) SetReport(handle uint32, reportType, reportID uint8, data []byte, cb TransferCallback, user any) int32 {
	e := r.resolveOp(handle, true)
	if e == nil {
		r.log.Debug("SetReport: unknown device handle", "handle", handle)
		return StatusError
	}
	msg := &ReportMessage{ReportType: reportType, ReportID: reportID, Data: data}
	if cb == nil {
		return r.syncCall(func() int32 {
			defer r.endOp(e)
			status := StatusError
			if err := e.device.SetReport(msg); err == nil {
				status = int32(len(data))
			}
			r.observe("set_report", false, e.slot.Handle, status)
			return status
		})
	}
	r.spawnAsync(func() {
		defer r.endOp(e)
		status := StatusOK
		if err := e.device.SetReport(msg); err != nil {
			status = StatusError
		}
		r.observe("set_report", true, e.slot.Handle, status)
		r.completeTransfer(cb, TransferResult{
			Handle: e.slot.Handle,
			Status: status,
			Buffer: data,
			Length: int32(len(data)),
			User:   user,
		})
	})
	return StatusOK
}

// readInternal is the synchronous core shared by both Read modes. A closed
// device fails before the buffer is touched; otherwise the buffer is
// zero-filled up to its length before the device read is issued.
func (r *Registry) readInternal(e *entry, buf []byte) int32 {
	if !e.device.Opened() {
		r.log.Debug("read: device not opened", "handle", e.slot.Handle)
		return StatusError
	}
	clear(buf)
	msg := &ReadMessage{Data: buf}
	err := e.device.Read(msg)
	switch {
	case err == nil:
		return int32(msg.BytesRead)
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	default:
		return StatusError
	}
}

// writeInternal is the synchronous core shared by both Write modes.
func (r *Registry) writeInternal(e *entry, buf []byte) int32 {
	if !e.device.Opened() {
		r.log.Debug("write: device not opened", "handle", e.slot.Handle)
		return StatusError
	}
	msg := &WriteMessage{Data: buf}
	err := e.device.Write(msg)
	switch {
	case err == nil:
		return int32(msg.BytesWritten)
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	default:
		return StatusError
	}
}

// Read transfers input data into buf. Synchronous mode returns the byte count
// (0 is a valid result), StatusError, or StatusTimeout. Asynchronous
// completion carries the error sentinel in Status and the positive byte count
// in Length.
func (r *Registry) Read(handle uint32, buf []byte, cb TransferCallback, user any) int32 {
	e := r.resolveOp(handle, true)
	if e == nil {
		r.log.Debug("Read: unknown device handle", "handle", handle)
		return StatusError
	}
	if cb == nil {
		return r.syncCall(func() int32 {
			defer r.endOp(e)
			status := r.readInternal(e, buf)
			r.observe("read", false, e.slot.Handle, status)
			return status
		})
	}
	r.spawnAsync(func() {
		defer r.endOp(e)
		n := r.readInternal(e, buf)
		r.observe("read", true, e.slot.Handle, n)
		res := TransferResult{Handle: e.slot.Handle, Buffer: buf, User: user}
		if n < 0 {
			res.Status = n
		} else {
			res.Length = n
		}
		r.completeTransfer(cb, res)
	})
	return StatusOK
}

// Write transfers buf to the device. Result mapping matches Read, with
// BytesWritten as the byte count.
func (r *Registry) Write(handle uint32, buf []byte, cb TransferCallback, user any) int32 {
	e := r.resolveOp(handle, true)
	if e == nil {
		r.log.Debug("Write: unknown device handle", "handle", handle)
		return StatusError
	}
	if cb == nil {
		return r.syncCall(func() int32 {
			defer r.endOp(e)
			status := r.writeInternal(e, buf)
			r.observe("write", false, e.slot.Handle, status)
			return status
		})
	}
	r.spawnAsync(func() {
		defer r.endOp(e)
		n := r.writeInternal(e, buf)
		r.observe("write", true, e.slot.Handle, n)
		res := TransferResult{Handle: e.slot.Handle, Buffer: buf, User: user}
		if n < 0 {
			res.Status = n
		} else {
			res.Length = n
		}
		r.completeTransfer(cb, res)
	})
	return StatusOK
}

// DecodeError expands a transfer status code into the two guest-visible
// decode fields. The fields are fixed values; the entry point exists for
// interface completeness.
func (r *Registry) DecodeError(code int32) (uint32, int32) {
	_ = code
	return 0x3FF, -0x7FFF
}
