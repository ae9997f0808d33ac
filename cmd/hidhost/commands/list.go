package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached HID devices",
	Long: `Enumerate the HID devices currently visible through the whitelist and
print one line per device with its handle, identity and packet sizes.`,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := newSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go s.Loop.Run(ctx)

	devices := s.Registry.Devices()
	if len(devices) == 0 {
		fmt.Println("no devices attached")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tVENDOR\tPRODUCT\tIFACE\tSUBCLASS\tPROTOCOL\tRX\tTX")
	for _, dev := range devices {
		handle := s.Registry.HandleOf(dev)
		p := dev.Properties()
		fmt.Fprintf(w, "%d\t%04x\t%04x\t%d\t%d\t%d\t%d\t%d\n",
			handle, p.VendorID, p.ProductID,
			p.InterfaceIndex, p.InterfaceSubClass, p.Protocol,
			p.MaxPacketSizeRX, p.MaxPacketSizeTX)
	}
	return w.Flush()
}
