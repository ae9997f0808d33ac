// Package usbhost surfaces physical USB HID devices through gousb/libusb.
// Discovery scans the bus for devices exposing a HID-class interface and
// passing the registry's whitelist; each match is claimed and wrapped as a
// hid.Device backed by its interrupt endpoints.
package usbhost

import (
	"log/slog"

	"github.com/google/gousb"

	"github.com/emubridge/hidhost/pkg/hid"
)

// Config configures the USB host backend.
type Config struct {
	// Logger receives discovery diagnostics; nil discards them.
	Logger *slog.Logger
}

// Backend discovers and owns physical USB HID devices.
type Backend struct {
	hid.BackendBase

	log *slog.Logger
	ctx *gousb.Context
}

// New returns a USB host backend. The libusb context is created on attach
// and released on detach.
func New(cfg Config) *Backend {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Backend{log: log}
}

var _ hid.Backend = (*Backend)(nil)

// OnAttach implements hid.Backend. It opens every whitelisted HID-class
// device on the bus and attaches it to the registry.
func (b *Backend) OnAttach(reg *hid.Registry) {
	b.Attach(reg)
	b.ctx = gousb.NewContext()

	devices, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if !hasHIDInterface(desc) {
			return false
		}
		return b.Whitelisted(uint16(desc.Vendor), uint16(desc.Product))
	})
	// OpenDevices returns the devices it did open alongside the error.
	if err != nil {
		b.log.Warn("USB enumeration finished with errors", "error", err)
	}

	for _, usbDev := range devices {
		dev, err := newDevice(usbDev)
		if err != nil {
			b.log.Warn("skipping USB device",
				"vendor_id", usbDev.Desc.Vendor.String(),
				"product_id", usbDev.Desc.Product.String(),
				"error", err)
			usbDev.Close()
			continue
		}
		if !b.AttachDevice(dev) {
			dev.Close()
			continue
		}
		b.log.Info("attached USB device",
			"vendor_id", usbDev.Desc.Vendor.String(),
			"product_id", usbDev.Desc.Product.String())
	}
}

// OnDetach implements hid.Backend. Owned devices detach first so clients are
// notified before the libusb context goes away.
func (b *Backend) OnDetach() {
	b.Detach()
	if b.ctx != nil {
		if err := b.ctx.Close(); err != nil {
			b.log.Warn("closing libusb context", "error", err)
		}
		b.ctx = nil
	}
}

// hasHIDInterface reports whether any interface alternate setting in any
// configuration is HID class.
func hasHIDInterface(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassHID {
					return true
				}
			}
		}
	}
	return false
}

// hidInterface locates the first HID-class alternate setting of desc.
func hidInterface(desc *gousb.DeviceDesc) (gousb.InterfaceSetting, bool) {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassHID {
					return alt, true
				}
			}
		}
	}
	return gousb.InterfaceSetting{}, false
}
