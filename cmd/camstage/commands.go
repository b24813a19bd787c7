package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/camstage/internal/assign"
	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/config"
	"github.com/muurk/camstage/internal/dhcp"
	"github.com/muurk/camstage/internal/discovery"
	"github.com/muurk/camstage/internal/journal"
	"github.com/muurk/camstage/internal/provision"
	"github.com/muurk/camstage/internal/server"
	"github.com/muurk/camstage/internal/ui"
)

const shutdownTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(responderCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(configCmd)
}

// responderCmd runs the DHCP responder on its own
var responderCmd = &cobra.Command{
	Use:   "responder",
	Short: "Run only the DHCP responder",
	Long: `Run the DHCP responder until interrupted, logging every lease change.

Useful to check that cameras on the bench get addresses before running a
batch. The lease table is printed on exit. Binding port 67 usually needs
root or CAP_NET_BIND_SERVICE.`,
	Example: `  # Serve the pool from the configuration on every interface
  camstage responder

  # Serve only eth1 and expose the lease table over HTTP
  camstage responder --interface eth1 --status-addr :8080`,
	RunE: runResponder,
}

var (
	responderInterfaces []string
	responderStatusAddr string
)

func init() {
	responderCmd.Flags().StringSliceVar(&responderInterfaces, "interface", nil, "Interface to bind (repeatable, overrides responder.interfaces)")
	responderCmd.Flags().StringVar(&responderStatusAddr, "status-addr", "", "Serve the status API on this address")
}

func runResponder(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rc, err := cfg.ResponderConfig()
	if err != nil {
		return err
	}
	if len(responderInterfaces) > 0 {
		rc.Interfaces = responderInterfaces
	}

	srv, err := dhcp.New(rc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	printer := ui.NewPrinter(os.Stdout)
	printer.PrintHeader(ui.NewHeader("DHCP Responder", "camstage responder",
		ui.Param{Key: "Server", Value: rc.ServerIP.String()},
		ui.Param{Key: "Pool", Value: rc.PoolStart.String() + " - " + rc.PoolEnd.String()},
		ui.Param{Key: "Lease time", Value: rc.LeaseDuration.String()},
		ui.Param{Key: "Interfaces", Value: interfaceList(rc.Interfaces)},
	))

	if responderStatusAddr != "" {
		status := server.New(server.Config{Addr: responderStatusAddr}, srv.Store(), nil)
		if err := status.Start(); err != nil {
			_ = srv.Shutdown(context.Background())
			return err
		}
		defer shutdownStatus(status)
		printer.Println(ui.StepNoteStyle.Render("  Status API on http://" + status.Addr().String() + "/api/leases"))
	}

	printer.Println(ui.HelpStyle.Render("Press ctrl+c to stop."))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-srv.Events():
			printer.Println(ui.FormatLeaseEvent(ev))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	printer.Println("")
	printer.Println(ui.RenderLeaseTable(srv.Store().Snapshot(), time.Now()))
	return nil
}

func interfaceList(ifaces []string) string {
	if len(ifaces) == 0 {
		return "all"
	}
	return strings.Join(ifaces, ", ")
}

func shutdownStatus(status *server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = status.Shutdown(ctx)
}

// scanCmd discovers already-addressed cameras
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Axis cameras over mDNS",
	Long: `Scan for Axis cameras announcing _axis-video._tcp over mDNS/DNS-SD.

Cameras found this way already have an address, for example from a site
DHCP server. 'camstage provision --source mdns' provisions them without
running the responder.`,
	Example: `  # Scan for 10 seconds (default)
  camstage scan

  # Quick 3-second scan on one interface
  camstage scan --timeout 3s --interface eth1`,
	RunE: runScan,
}

var (
	scanTimeout   time.Duration
	scanInterface string
)

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "Scan timeout")
	scanCmd.Flags().StringVar(&scanInterface, "interface", "", "Browse on this interface only")
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for Axis cameras (timeout: %s)...\n\n", scanTimeout)

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout
	scanner.Interface = scanInterface

	devices, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("No cameras found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Factory-default cameras without a DHCP server fall back to 192.168.0.90")
		fmt.Println("    and may not announce themselves; use 'camstage responder' instead")
		fmt.Println("  - Check that multicast traffic reaches this host")
		fmt.Println("  - Try increasing --timeout")
		return nil
	}

	fmt.Printf("Found %d camera(s):\n\n", len(devices))
	rows := make([][]string, 0, len(devices))
	for i, d := range devices {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			d.HardwareID,
			fmt.Sprintf("%s:%d", d.Address, d.Port),
			d.Instance,
		})
	}
	fmt.Print(ui.RenderTable([]ui.Column{
		{Title: "#", Width: 4},
		{Title: "HARDWARE ID", Width: 14},
		{Title: "ADDRESS", Width: 22},
		{Title: "NAME", Width: 32},
	}, rows))
	return nil
}

// interfacesCmd lists candidate responder interfaces
var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List interfaces the responder can bind",
	Long: `List up, non-loopback interfaces that carry an IPv4 address.

Pick the bench interface and set responder.interfaces, or pass
--interface to 'camstage responder'. The responder's server_ip should be
this host's address on that interface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ifaces, err := dhcp.ListInterfaces()
		if err != nil {
			return err
		}
		if len(ifaces) == 0 {
			fmt.Println("No IPv4 interfaces are up.")
			return nil
		}
		rows := make([][]string, 0, len(ifaces))
		for _, i := range ifaces {
			rows = append(rows, []string{i.Name, i.Prefix.String(), i.MAC})
		}
		fmt.Print(ui.RenderTable([]ui.Column{
			{Title: "INTERFACE", Width: 16},
			{Title: "ADDRESS", Width: 20},
			{Title: "MAC", Width: 18},
		}, rows))
		return nil
	},
}

// sampleCmd writes an assignment template
var sampleCmd = &cobra.Command{
	Use:   "sample-csv [path]",
	Short: "Write a sample assignment CSV",
	Long: `Write an assignment template with consecutive final addresses.

In positional mode cameras are matched to rows in the order they first
asked for an address. In hardware-id mode each row names the camera's MAC
address and the file carries a MACAddress column.`,
	Example: `  # Ten positional rows to stdout
  camstage sample-csv

  # Hardware-id template for 24 cameras starting at 10.1.2.10
  camstage sample-csv cameras.csv --mode hardware-id --count 24 --base 10.1.2.10`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSample,
}

var (
	sampleMode  string
	sampleCount int
	sampleBase  string
)

func init() {
	sampleCmd.Flags().StringVar(&sampleMode, "mode", string(batch.ModePositional), "Assignment mode (positional, hardware-id)")
	sampleCmd.Flags().IntVar(&sampleCount, "count", 10, "Number of rows")
	sampleCmd.Flags().StringVar(&sampleBase, "base", "192.168.1.100", "First final address")
}

func runSample(cmd *cobra.Command, args []string) error {
	mode, err := batch.ParseMode(sampleMode)
	if err != nil {
		return err
	}
	base, err := netip.ParseAddr(sampleBase)
	if err != nil {
		return fmt.Errorf("invalid --base: %w", err)
	}
	if len(args) == 0 {
		return assign.WriteSample(os.Stdout, mode, sampleCount, base)
	}
	if err := assign.WriteSampleFile(args[0], mode, sampleCount, base); err != nil {
		return err
	}
	fmt.Printf("Wrote %d %s rows to %s\n", sampleCount, mode, args[0])
	return nil
}

// journalCmd replays an event journal
var journalCmd = &cobra.Command{
	Use:   "journal <file>",
	Short: "Print a recorded event journal",
	Long: `Print the progress events recorded with 'camstage provision --journal'.

A journal may hold several runs; filter by run id, device or event kind.`,
	Example: `  # Everything
  camstage journal events.cbor

  # One camera's step results
  camstage journal events.cbor --device 00408c123456 --kind step-completed`,
	Args: cobra.ExactArgs(1),
	RunE: runJournal,
}

var journalFilter struct {
	run    string
	device string
	kind   string
}

func init() {
	journalCmd.Flags().StringVar(&journalFilter.run, "run", "", "Only events of this run id")
	journalCmd.Flags().StringVar(&journalFilter.device, "device", "", "Only events of this hardware id")
	journalCmd.Flags().StringVar(&journalFilter.kind, "kind", "", "Only events of this kind (device-started, step-completed, device-finished)")
}

func runJournal(cmd *cobra.Command, args []string) error {
	r, err := journal.Open(args[0], journal.Filter{
		RunID:    journalFilter.run,
		DeviceID: journalFilter.device,
		Kind:     provision.EventKind(journalFilter.kind),
	})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { _ = r.Close() }()

	count := 0
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Println(journal.Format(ev))
		count++
	}
	if count == 0 {
		fmt.Println("No matching events.")
	}
	return nil
}

// configCmd manages the configuration file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or show the configuration file",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		fmt.Printf("Set provisioning.admin.password or %s before provisioning.\n", config.EnvAdminPassword)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with passwords masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Redacted().Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
