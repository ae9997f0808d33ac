package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/emubridge/hidhost/pkg/hid"
	hidprom "github.com/emubridge/hidhost/pkg/metrics/prometheus"
)

var watchMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch device attach and detach events",
	Long: `Subscribe to the registry and print a line for every device attach and
detach until interrupted. With --metrics-addr, transfer and occupancy
metrics are served on /metrics.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9435)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	var metrics hid.Metrics
	if watchMetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		metrics = hidprom.New(promReg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: watchMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Printf("metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	s, err := newSession(metrics)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := hid.NewClient(func(c *hid.Client, slot *hid.Slot, ev hid.AttachEvent) {
		fmt.Printf("%s handle=%d device=%04x:%04x interface=%d\n",
			ev, slot.Handle, slot.VendorID, slot.ProductID, slot.InterfaceIndex)
	})
	s.Registry.AddClient(client)
	defer s.Registry.RemoveClient(client)

	fmt.Println("watching for device events, press Ctrl-C to stop")
	s.Loop.Run(ctx)
	return nil
}
