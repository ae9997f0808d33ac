package usbhost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/emubridge/hidhost/pkg/hid"
)

// transferTimeout bounds interrupt and control transfers.
const transferTimeout = 250 * time.Millisecond

// HID class requests, USB HID 1.11 section 7.2.
const (
	reqSetReport   = 0x09
	reqSetIdle     = 0x0a
	reqSetProtocol = 0x0b
)

// bmRequestType values. gousb has no constant for the standard request
// type; it is 0 and contributes no term.
var (
	standardInRequest = uint8(gousb.ControlIn) | uint8(gousb.ControlDevice)
	classOutRequest   = uint8(gousb.ControlOut) | uint8(gousb.ControlClass) | uint8(gousb.ControlInterface)
)

// device wraps one claimed USB HID interface as a hid.Device.
type device struct {
	props hid.Properties
	dev   *gousb.Device

	cfgNum int
	ifNum  int
	alt    int
	inNum  int
	outNum int
	hasIn  bool
	hasOut bool

	mu   sync.Mutex
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

var _ hid.Device = (*device)(nil)

// newDevice probes usbDev for its HID interface and interrupt endpoints. The
// interface is claimed lazily on Open.
func newDevice(usbDev *gousb.Device) (*device, error) {
	desc := usbDev.Desc
	alt, ok := hidInterface(desc)
	if !ok {
		return nil, errors.New("no HID interface")
	}

	cfgNum := 0
	for num, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, s := range intf.AltSettings {
				if s.Number == alt.Number && s.Alternate == alt.Alternate {
					cfgNum = num
				}
			}
		}
	}

	d := &device{
		props: hid.NewProperties(
			uint16(desc.Vendor), uint16(desc.Product),
			uint8(alt.Number), uint8(alt.SubClass), uint8(alt.Protocol)),
		dev:    usbDev,
		cfgNum: cfgNum,
		ifNum:  alt.Number,
		alt:    alt.Alternate,
	}

	for _, ep := range alt.Endpoints {
		if ep.TransferType != gousb.TransferTypeInterrupt {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			d.inNum = ep.Number
			d.hasIn = true
			d.props.MaxPacketSizeRX = uint16(ep.MaxPacketSize)
		case gousb.EndpointDirectionOut:
			d.outNum = ep.Number
			d.hasOut = true
			d.props.MaxPacketSizeTX = uint16(ep.MaxPacketSize)
		}
	}
	if !d.hasIn {
		return nil, errors.New("no interrupt IN endpoint")
	}

	if err := usbDev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("enabling kernel driver auto-detach: %w", err)
	}
	return d, nil
}

// Properties implements hid.Device.
func (d *device) Properties() *hid.Properties { return &d.props }

// Open claims the HID interface and resolves its interrupt endpoints.
func (d *device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.intf != nil {
		return nil
	}

	cfg, err := d.dev.Config(d.cfgNum)
	if err != nil {
		return fmt.Errorf("selecting configuration %d: %w", d.cfgNum, err)
	}
	intf, err := cfg.Interface(d.ifNum, d.alt)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("claiming interface %d: %w", d.ifNum, err)
	}

	in, err := intf.InEndpoint(d.inNum)
	if err != nil {
		intf.Close()
		cfg.Close()
		return fmt.Errorf("opening interrupt IN endpoint: %w", err)
	}
	var out *gousb.OutEndpoint
	if d.hasOut {
		out, err = intf.OutEndpoint(d.outNum)
		if err != nil {
			intf.Close()
			cfg.Close()
			return fmt.Errorf("opening interrupt OUT endpoint: %w", err)
		}
	}

	d.cfg = cfg
	d.intf = intf
	d.in = in
	d.out = out
	return nil
}

// Close releases the claimed interface and the underlying libusb handle.
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
		d.in = nil
		d.out = nil
	}
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	return d.dev.Close()
}

// Opened implements hid.Device.
func (d *device) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intf != nil
}

// GetDescriptor issues a standard GET_DESCRIPTOR control request.
func (d *device) GetDescriptor(descType, descIndex uint8, lang uint16, out []byte) error {
	_, err := d.dev.Control(standardInRequest, 0x06, descriptorValue(descType, descIndex), lang, out)
	return mapUSBError(err)
}

// SetIdle issues the SET_IDLE class request.
func (d *device) SetIdle(ifIndex, reportID, duration uint8) error {
	_, err := d.dev.Control(classOutRequest, reqSetIdle,
		uint16(duration)<<8|uint16(reportID), uint16(ifIndex), nil)
	return mapUSBError(err)
}

// SetProtocol issues the SET_PROTOCOL class request.
func (d *device) SetProtocol(ifIndex, protocol uint8) error {
	_, err := d.dev.Control(classOutRequest, reqSetProtocol,
		uint16(protocol), uint16(ifIndex), nil)
	return mapUSBError(err)
}

// SetReport issues the SET_REPORT class request against the claimed
// interface.
func (d *device) SetReport(msg *hid.ReportMessage) error {
	_, err := d.dev.Control(classOutRequest, reqSetReport,
		reportValue(msg.ReportType, msg.ReportID), uint16(d.ifNum), msg.Data)
	return mapUSBError(err)
}

// Read performs one interrupt IN transfer.
func (d *device) Read(msg *hid.ReadMessage) error {
	d.mu.Lock()
	in := d.in
	d.mu.Unlock()
	if in == nil {
		return hid.ErrNotOpened
	}

	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()

	n, err := in.ReadContext(ctx, msg.Data)
	if err != nil {
		return mapUSBError(err)
	}
	msg.BytesRead = n
	return nil
}

// Write performs one interrupt OUT transfer, falling back to SET_REPORT when
// the interface has no OUT endpoint.
func (d *device) Write(msg *hid.WriteMessage) error {
	d.mu.Lock()
	out := d.out
	d.mu.Unlock()
	if out == nil {
		err := d.SetReport(&hid.ReportMessage{ReportType: 2, Data: msg.Data})
		if err != nil {
			return err
		}
		msg.BytesWritten = len(msg.Data)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()

	n, err := out.WriteContext(ctx, msg.Data)
	if err != nil {
		return mapUSBError(err)
	}
	msg.BytesWritten = n
	return nil
}

// descriptorValue packs the wValue field of GET_DESCRIPTOR.
func descriptorValue(descType, descIndex uint8) uint16 {
	return uint16(descType)<<8 | uint16(descIndex)
}

// reportValue packs the wValue field of SET_REPORT.
func reportValue(reportType, reportID uint8) uint16 {
	return uint16(reportType)<<8 | uint16(reportID)
}

// mapUSBError folds libusb timeout flavors into hid.ErrTimeout so the
// dispatcher reports them as transfer timeouts.
func mapUSBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gousb.TransferTimedOut),
		errors.Is(err, gousb.ErrorTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return hid.ErrTimeout
	default:
		return err
	}
}
