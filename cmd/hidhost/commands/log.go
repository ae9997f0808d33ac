package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/emubridge/hidhost/pkg/hidlog"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect CBOR event log files",
	Long: `Inspect event log files written with --event-log: view events in a
human-readable form, aggregate statistics, or export to other formats.`,
}

var (
	logViewCategory string
	logViewHandle   uint32
	logViewOp       string

	logExportFormat string
	logExportOutput string
)

var logViewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "Print events in human-readable form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := hidlog.Filter{Op: logViewOp}
		if logViewCategory != "" {
			cat, err := parseCategory(logViewCategory)
			if err != nil {
				return err
			}
			filter.Category = &cat
		}
		if cmd.Flags().Changed("handle") {
			filter.Handle = &logViewHandle
		}
		return runLogView(args[0], filter, os.Stdout)
	},
}

var logStatsCmd = &cobra.Command{
	Use:   "stats <file>",
	Short: "Print aggregate statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogStats(args[0], os.Stdout)
	},
}

var logExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export events to JSONL or CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogExport(args[0], logExportFormat, logExportOutput)
	},
}

func init() {
	logViewCmd.Flags().StringVar(&logViewCategory, "category", "", "only events of this category (attach|detach|transfer)")
	logViewCmd.Flags().Uint32Var(&logViewHandle, "handle", 0, "only events of this device handle")
	logViewCmd.Flags().StringVar(&logViewOp, "op", "", "only transfer events of this operation")

	logExportCmd.Flags().StringVar(&logExportFormat, "format", "jsonl", "output format (jsonl|csv)")
	logExportCmd.Flags().StringVarP(&logExportOutput, "output", "o", "", "output file (default: stdout)")

	logCmd.AddCommand(logViewCmd)
	logCmd.AddCommand(logStatsCmd)
	logCmd.AddCommand(logExportCmd)
	rootCmd.AddCommand(logCmd)
}

// parseCategory maps a flag value to an event category.
func parseCategory(s string) (hidlog.Category, error) {
	switch s {
	case "attach":
		return hidlog.CategoryAttach, nil
	case "detach":
		return hidlog.CategoryDetach, nil
	case "transfer":
		return hidlog.CategoryTransfer, nil
	default:
		return 0, fmt.Errorf("unknown category %q (attach|detach|transfer)", s)
	}
}

// runLogView prints matching events one per line.
func runLogView(path string, filter hidlog.Filter, w io.Writer) error {
	r, err := hidlog.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading event: %w", err)
		}
		if !filter.Matches(event) {
			continue
		}
		formatEvent(w, event)
	}
	return nil
}

// formatEvent writes one human-readable line per event.
func formatEvent(w io.Writer, event hidlog.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s %-8s", ts, event.Category)
	if event.Handle != 0 {
		fmt.Fprintf(w, " handle=%d", event.Handle)
	}
	if event.VendorID != 0 || event.ProductID != 0 {
		fmt.Fprintf(w, " device=%04x:%04x", event.VendorID, event.ProductID)
	}
	if event.BackendID != "" {
		fmt.Fprintf(w, " backend=%s", shortenID(event.BackendID))
	}
	if event.Transfer != nil {
		mode := "sync"
		if event.Transfer.Async {
			mode = "async"
		}
		fmt.Fprintf(w, " op=%s mode=%s status=%d",
			event.Transfer.Op, mode, event.Transfer.Status)
	}
	fmt.Fprintln(w)
}

// shortenID returns the first 8 characters of a backend instance ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// logStats holds aggregate statistics about an event log file.
type logStats struct {
	TotalEvents      int
	EventsByCategory map[hidlog.Category]int
	TransfersByOp    map[string]int
	Errors           int
	Timeouts         int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
	Devices map[uint32]string
}

// runLogStats aggregates the log file and prints a summary.
func runLogStats(path string, w io.Writer) error {
	r, err := hidlog.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	stats := &logStats{
		EventsByCategory: make(map[hidlog.Category]int),
		TransfersByOp:    make(map[string]int),
		Devices:          make(map[uint32]string),
	}

	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByCategory[event.Category]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.Handle != 0 {
			if _, ok := stats.Devices[event.Handle]; !ok && (event.VendorID != 0 || event.ProductID != 0) {
				stats.Devices[event.Handle] = fmt.Sprintf("%04x:%04x", event.VendorID, event.ProductID)
			}
		}

		if event.Transfer != nil {
			stats.TransfersByOp[event.Transfer.Op]++
			switch {
			case event.Transfer.Status == -108:
				stats.Timeouts++
			case event.Transfer.Status < 0:
				stats.Errors++
			}
		}
	}

	printLogStats(w, stats)
	return nil
}

func printLogStats(w io.Writer, stats *logStats) {
	fmt.Fprintf(w, "Total events: %d\n", stats.TotalEvents)
	if !stats.TimeRange.Start.IsZero() {
		fmt.Fprintf(w, "Time range:   %s .. %s (%s)\n",
			stats.TimeRange.Start.UTC().Format(time.RFC3339),
			stats.TimeRange.End.UTC().Format(time.RFC3339),
			stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
	}

	fmt.Fprintln(w, "\nBy category:")
	for _, cat := range []hidlog.Category{hidlog.CategoryAttach, hidlog.CategoryDetach, hidlog.CategoryTransfer} {
		if n := stats.EventsByCategory[cat]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", cat, n)
		}
	}

	if len(stats.TransfersByOp) > 0 {
		ops := make([]string, 0, len(stats.TransfersByOp))
		for op := range stats.TransfersByOp {
			ops = append(ops, op)
		}
		sort.Strings(ops)

		fmt.Fprintln(w, "\nTransfers by operation:")
		for _, op := range ops {
			fmt.Fprintf(w, "  %-16s %d\n", op, stats.TransfersByOp[op])
		}
		fmt.Fprintf(w, "  errors: %d, timeouts: %d\n", stats.Errors, stats.Timeouts)
	}

	if len(stats.Devices) > 0 {
		handles := make([]uint32, 0, len(stats.Devices))
		for h := range stats.Devices {
			handles = append(handles, h)
		}
		sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

		fmt.Fprintln(w, "\nDevices:")
		for _, h := range handles {
			fmt.Fprintf(w, "  handle=%d  %s\n", h, stats.Devices[h])
		}
	}
}

// runLogExport converts the log file to jsonl or csv.
func runLogExport(path, format, output string) error {
	r, err := hidlog.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(r, w)
	case "csv":
		return exportCSV(r, w)
	default:
		return fmt.Errorf("unknown format %q (supported: jsonl, csv)", format)
	}
}

func exportJSONL(r *hidlog.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
	}
}

func exportCSV(r *hidlog.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"timestamp", "category", "handle", "vendor_id", "product_id", "backend_id", "op", "mode", "status"}
	if err := cw.Write(header); err != nil {
		return err
	}

	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading event: %w", err)
		}

		record := []string{
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			event.Category.String(),
			strconv.FormatUint(uint64(event.Handle), 10),
			fmt.Sprintf("%04x", event.VendorID),
			fmt.Sprintf("%04x", event.ProductID),
			event.BackendID,
			"", "", "",
		}
		if event.Transfer != nil {
			record[6] = event.Transfer.Op
			record[7] = "sync"
			if event.Transfer.Async {
				record[7] = "async"
			}
			record[8] = strconv.FormatInt(int64(event.Transfer.Status), 10)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
