package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/emubridge/hidhost/pkg/backend/emulated"
	"github.com/emubridge/hidhost/pkg/hid"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive device shell",
	Long: `Open an interactive shell against the registry. Physical devices are
available read-only; emulated devices can be plugged, scripted and removed
to exercise the full transfer surface without hardware.`,
	RunE: runShell,
}

// shellState carries the live session plus the emulated backend the shell
// commands plug devices into.
type shellState struct {
	s   *session
	emu *emulated.Backend
}

func runShell(cmd *cobra.Command, args []string) error {
	s, err := newSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go s.Loop.Run(ctx)

	emu := emulated.New()
	s.Registry.AttachBackend(emu)

	st := &shellState{s: s, emu: emu}

	completer := readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("add"),
		readline.PcItem("remove"),
		readline.PcItem("input"),
		readline.PcItem("read"),
		readline.PcItem("write"),
		readline.PcItem("report"),
		readline.PcItem("descriptor"),
		readline.PcItem("idle"),
		readline.PcItem("protocol"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hidhost> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("hidhost interactive shell, type 'help' for commands")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return nil
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		if err := st.dispatch(fields[0], fields[1:]); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func (st *shellState) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		st.printHelp()
		return nil
	case "list":
		return st.list()
	case "add":
		return st.add(args)
	case "remove":
		return st.remove(args)
	case "input":
		return st.input(args)
	case "read":
		return st.read(args)
	case "write":
		return st.write(args)
	case "report":
		return st.report(args)
	case "descriptor":
		return st.descriptor(args)
	case "idle":
		return st.idle(args)
	case "protocol":
		return st.protocol(args)
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
}

func (st *shellState) printHelp() {
	fmt.Print(`Commands:
  list                            list attached devices
  add <vid> <pid>                 plug an emulated device (hex IDs)
  remove <handle>                 unplug an emulated device
  input <handle> <hex>            queue an input report on an emulated device
  read <handle> [len]             synchronous read
  write <handle> <hex>            synchronous write
  report <handle> <type> <hex>    synchronous set-report
  descriptor <handle> [len]       fetch the report descriptor
  idle <handle> <duration>        set the idle rate
  protocol <handle> <0|1>         select boot or report protocol
  exit                            leave the shell
`)
}

func (st *shellState) list() error {
	devices := st.s.Registry.Devices()
	if len(devices) == 0 {
		fmt.Println("no devices attached")
		return nil
	}
	for _, dev := range devices {
		p := dev.Properties()
		kind := "usb"
		if _, ok := dev.(*emulated.Device); ok {
			kind = "emulated"
		}
		fmt.Printf("  handle=%d  %04x:%04x  interface=%d  %s\n",
			st.s.Registry.HandleOf(dev), p.VendorID, p.ProductID, p.InterfaceIndex, kind)
	}
	return nil
}

func (st *shellState) add(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: add <vid> <pid>")
	}
	vid, err := parseID(args[0])
	if err != nil {
		return err
	}
	pid, err := parseID(args[1])
	if err != nil {
		return err
	}

	dev := emulated.NewDevice(emulated.DeviceConfig{
		VendorID:   vid,
		ProductID:  pid,
		Descriptor: []byte{0x05, 0x01, 0x09, 0x06, 0xa1, 0x01, 0xc0},
	})
	if !st.emu.Add(dev) {
		return fmt.Errorf("device %04x:%04x refused (whitelist or pool exhausted)", vid, pid)
	}
	fmt.Printf("attached handle=%d\n", st.s.Registry.HandleOf(dev))
	return nil
}

func (st *shellState) remove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remove <handle>")
	}
	dev, err := st.emulatedByHandle(args[0])
	if err != nil {
		return err
	}
	st.emu.Remove(dev)
	return nil
}

func (st *shellState) input(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: input <handle> <hex>")
	}
	dev, err := st.emulatedByHandle(args[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid hex payload: %w", err)
	}
	return dev.QueueInput(data)
}

func (st *shellState) read(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: read <handle> [len]")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	size := 64
	if len(args) == 2 {
		if size, err = strconv.Atoi(args[1]); err != nil || size <= 0 {
			return fmt.Errorf("invalid length %q", args[1])
		}
	}

	buf := make([]byte, size)
	status := st.s.Registry.Read(handle, buf, nil, nil)
	if status < 0 {
		fmt.Printf("read failed (status %d)\n", status)
		return nil
	}
	fmt.Printf("read %d bytes: %s\n", status, hex.EncodeToString(buf[:status]))
	return nil
}

func (st *shellState) write(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: write <handle> <hex>")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid hex payload: %w", err)
	}

	status := st.s.Registry.Write(handle, data, nil, nil)
	if status < 0 {
		fmt.Printf("write failed (status %d)\n", status)
		return nil
	}
	fmt.Printf("wrote %d bytes\n", status)
	return nil
}

func (st *shellState) report(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: report <handle> <type> <hex>")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	reportType, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid report type %q", args[1])
	}
	data, err := hex.DecodeString(args[2])
	if err != nil {
		return fmt.Errorf("invalid hex payload: %w", err)
	}

	status := st.s.Registry.SetReport(handle, uint8(reportType), 0, data, nil, nil)
	if status < 0 {
		fmt.Printf("set-report failed (status %d)\n", status)
		return nil
	}
	fmt.Printf("submitted %d bytes\n", status)
	return nil
}

func (st *shellState) descriptor(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: descriptor <handle> [len]")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	size := 64
	if len(args) == 2 {
		if size, err = strconv.Atoi(args[1]); err != nil || size <= 0 {
			return fmt.Errorf("invalid length %q", args[1])
		}
	}

	out := make([]byte, size)
	// 0x22 is the HID report descriptor type.
	status := st.s.Registry.GetDescriptor(handle, 0x22, 0, 0, out, nil, nil)
	if status < 0 {
		fmt.Printf("get-descriptor failed (status %d)\n", status)
		return nil
	}
	fmt.Printf("descriptor: %s\n", hex.EncodeToString(out))
	return nil
}

func (st *shellState) idle(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: idle <handle> <duration>")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	duration, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid duration %q", args[1])
	}

	if status := st.s.Registry.SetIdle(handle, 0, 0, uint8(duration), nil, nil); status != hid.StatusOK {
		fmt.Printf("set-idle failed (status %d)\n", status)
	}
	return nil
}

func (st *shellState) protocol(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: protocol <handle> <0|1>")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	proto, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid protocol %q", args[1])
	}

	if status := st.s.Registry.SetProtocol(handle, 0, uint8(proto), nil, nil); status != hid.StatusOK {
		fmt.Printf("set-protocol failed (status %d)\n", status)
	}
	return nil
}

// emulatedByHandle resolves a handle argument to an emulated device.
func (st *shellState) emulatedByHandle(arg string) (*emulated.Device, error) {
	handle, err := parseHandle(arg)
	if err != nil {
		return nil, err
	}
	dev := st.s.Registry.DeviceByHandle(handle, false)
	if dev == nil {
		return nil, fmt.Errorf("no device with handle %d", handle)
	}
	emuDev, ok := dev.(*emulated.Device)
	if !ok {
		return nil, fmt.Errorf("handle %d is not an emulated device", handle)
	}
	return emuDev, nil
}

func parseHandle(arg string) (uint32, error) {
	handle, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", arg)
	}
	return uint32(handle), nil
}

// parseID parses a 16-bit hex identifier, with or without an 0x prefix.
func parseID(arg string) (uint16, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q (expected hex, e.g. 057e)", arg)
	}
	return uint16(id), nil
}
