// Package hid implements the guest-facing device and handle manager of a
// hardware-interface emulation layer: a fixed-capacity handle pool, a device
// registry with attach/detach client notifications, backend ownership of
// discovered devices, and a transfer dispatcher offering synchronous and
// asynchronous modes for descriptor, idle, protocol, report, read and write
// operations.
//
// The package does not talk to hardware itself. Device sources implement the
// Backend and Device interfaces (see pkg/backend for implementations) and a
// Registry ties them together:
//
//	reg := hid.NewRegistry(hid.Config{Queue: loop})
//	reg.AttachBackend(backend)
//
//	client := hid.NewClient(func(c *hid.Client, slot *hid.Slot, ev hid.AttachEvent) {
//	    // attach/detach notification
//	})
//	reg.AddClient(client)
//
//	buf := make([]byte, 32)
//	n := reg.Read(handle, buf, nil, nil) // synchronous
//
// All guest-visible results are signed 32-bit statuses: values >= 0 are byte
// counts (or plain success for control operations), StatusError (-1) is a
// generic failure and StatusTimeout (-108) a transfer timeout.
package hid
