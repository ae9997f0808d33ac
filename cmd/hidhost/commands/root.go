// Package commands implements the hidhost CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/emubridge/hidhost/pkg/backend/usbhost"
	"github.com/emubridge/hidhost/pkg/hid"
	"github.com/emubridge/hidhost/pkg/hidlog"
	"github.com/emubridge/hidhost/pkg/whitelist"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	whitelistFile string
	allowAll      bool
	eventLogFile  string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "hidhost",
	Short: "hidhost - HID device host for emulator guests",
	Long: `hidhost surfaces host HID devices (physical USB hardware or emulated
software devices) through a slot-based registry with guest-style handles,
attach/detach notifications and synchronous or asynchronous transfers.

Use "hidhost [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&whitelistFile, "whitelist", "", "path to the device whitelist YAML (default: permit everything)")
	rootCmd.PersistentFlags().BoolVar(&allowAll, "allow-all", false, "ignore the whitelist and permit every device")
	rootCmd.PersistentFlags().StringVar(&eventLogFile, "event-log", "", "append CBOR event records to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(shellCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hidhost %s (%s)\n", Version, Commit)
	},
}

// newLogger builds the slog logger selected by the global flags.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newPolicy loads the whitelist selected by the global flags. Without a
// whitelist file everything is permitted.
func newPolicy() (hid.Policy, error) {
	if allowAll || whitelistFile == "" {
		return whitelist.AllowAll{}, nil
	}
	return whitelist.Load(whitelistFile)
}

// session bundles the pieces every command needs: a registry fed by the USB
// host backend, an event loop for callbacks, and the optional event log.
type session struct {
	Registry *hid.Registry
	Loop     *hid.EventLoop
	USB      *usbhost.Backend

	events *hidlog.FileLogger
	log    *slog.Logger
}

// newSession assembles a registry from the global flags and attaches the USB
// host backend. metrics may be nil. The caller runs s.Loop and closes the
// session when done.
func newSession(metrics hid.Metrics) (*session, error) {
	logger := newLogger()

	policy, err := newPolicy()
	if err != nil {
		return nil, err
	}

	var events hidlog.Logger = hidlog.NoopLogger{}
	var fileLog *hidlog.FileLogger
	if eventLogFile != "" {
		fileLog, err = hidlog.NewFileLogger(eventLogFile)
		if err != nil {
			return nil, fmt.Errorf("opening event log: %w", err)
		}
		events = fileLog
	}

	loop := hid.NewEventLoop(256)
	reg := hid.NewRegistry(hid.Config{
		Queue:   loop,
		Policy:  policy,
		Logger:  logger,
		Events:  events,
		Metrics: metrics,
	})

	usb := usbhost.New(usbhost.Config{Logger: logger})
	reg.AttachBackend(usb)

	return &session{
		Registry: reg,
		Loop:     loop,
		USB:      usb,
		events:   fileLog,
		log:      logger,
	}, nil
}

// Close tears the session down in dependency order.
func (s *session) Close() {
	if err := s.Registry.Close(); err != nil {
		s.log.Warn("closing registry", "error", err)
	}
	s.Loop.Close()
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.log.Warn("closing event log", "error", err)
		}
	}
}
