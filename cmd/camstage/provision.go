package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/assign"
	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/config"
	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/dhcp"
	"github.com/muurk/camstage/internal/discovery"
	"github.com/muurk/camstage/internal/journal"
	"github.com/muurk/camstage/internal/logging"
	"github.com/muurk/camstage/internal/provision"
	"github.com/muurk/camstage/internal/report"
	"github.com/muurk/camstage/internal/server"
	"github.com/muurk/camstage/internal/ui"
	"github.com/muurk/camstage/internal/vapix"
)

// Device sources for provision --source.
const (
	sourceDHCP = "dhcp"
	sourceMDNS = "mdns"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Discover and provision a batch of cameras",
	Long: `Discover factory-default cameras and provision them in parallel.

With --source dhcp (the default) the responder hands out temporary
addresses and the batch starts once --expect cameras hold a lease or
--wait elapses. With --source mdns, cameras that already have an address
are found over mDNS instead. If the responder cannot bind its socket the
command falls back to mDNS.

Cameras are matched to the rows of the assignment CSV by discovery order
(positional mode) or by MAC address (hardware-id mode, selected when the
file has a MACAddress column). The plan is shown for confirmation before
anything is written to a camera.

Press ctrl+c once to stop after the steps in flight; press it again to
quit immediately.`,
	Example: `  # Twelve cameras, positional assignment
  camstage provision --assignments cameras.csv --expect 12

  # Cameras already on the network, no confirmation prompt, CBOR journal
  camstage provision --assignments cameras.csv --source mdns --yes --journal run.cbor

  # Plain output with a status API for a dashboard
  camstage provision --assignments cameras.csv --no-live --status-addr :8080`,
	RunE: runProvision,
}

var provisionFlags struct {
	assignments string
	source      string
	expect      int
	wait        time.Duration
	mode        string
	workers     int
	report      string
	json        string
	journal     string
	statusAddr  string
	noLive      bool
	yes         bool
}

func init() {
	f := provisionCmd.Flags()
	f.StringVarP(&provisionFlags.assignments, "assignments", "a", "", "Assignment CSV (required)")
	f.StringVar(&provisionFlags.source, "source", sourceDHCP, "Device source (dhcp, mdns)")
	f.IntVar(&provisionFlags.expect, "expect", 0, "Number of cameras to wait for (default: batch.expect, else the number of rows)")
	f.DurationVar(&provisionFlags.wait, "wait", 0, "How long to wait for cameras (default: batch.wait)")
	f.StringVar(&provisionFlags.mode, "mode", "", "Assignment mode (positional, hardware-id; default: inferred from the CSV)")
	f.IntVar(&provisionFlags.workers, "workers", 0, "Concurrent cameras (default: batch.workers, 0 = min(batch size, 8))")
	f.StringVar(&provisionFlags.report, "report", "", "Inventory CSV path (default: camstage-inventory-<time>.csv)")
	f.StringVar(&provisionFlags.json, "json", "", "Also write a JSON summary to this path")
	f.StringVar(&provisionFlags.journal, "journal", "", "Append every progress event to this CBOR journal")
	f.StringVar(&provisionFlags.statusAddr, "status-addr", "", "Serve the status API on this address (default: batch.status_addr)")
	f.BoolVar(&provisionFlags.noLive, "no-live", false, "Print plain progress lines instead of the live view")
	f.BoolVarP(&provisionFlags.yes, "yes", "y", false, "Skip the confirmation prompt")
	_ = provisionCmd.MarkFlagRequired("assignments")

	rootCmd.AddCommand(provisionCmd)
}

// applyProvisionFlags overrides the batch section with explicit flags.
func applyProvisionFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("expect") {
		cfg.Batch.Expect = provisionFlags.expect
	}
	if flags.Changed("wait") {
		cfg.Batch.Wait = provisionFlags.wait
	}
	if flags.Changed("workers") {
		cfg.Batch.Workers = provisionFlags.workers
	}
	if flags.Changed("status-addr") {
		cfg.Batch.StatusAddr = provisionFlags.statusAddr
	}
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyProvisionFlags(cmd, cfg)

	if provisionFlags.source != sourceDHCP && provisionFlags.source != sourceMDNS {
		return fmt.Errorf("unknown --source %q (want %s or %s)", provisionFlags.source, sourceDHCP, sourceMDNS)
	}

	opts, err := cfg.ProvisionOptions()
	if err != nil {
		return err
	}

	assignments, err := assign.ReadFile(provisionFlags.assignments)
	if err != nil {
		return err
	}
	mode := assignments.Mode
	if provisionFlags.mode != "" {
		if mode, err = batch.ParseMode(provisionFlags.mode); err != nil {
			return err
		}
	}

	expect := cfg.Batch.Expect
	if expect <= 0 {
		expect = len(assignments.Directives)
	}

	printer := ui.NewPrinter(os.Stdout)
	for _, w := range assignments.Warnings {
		printer.Println(ui.WarningTitleStyle.Render("  " + ui.WarningMarker + " " + w))
	}
	if username, overridden := opts.FirmwareClass.InitialAdminUsername(opts.Admin.Username); overridden {
		printer.Println(ui.WarningTitleStyle.Render(fmt.Sprintf("  %s %s requires the first administrator to be %q; %q will not be used",
			ui.WarningMarker, opts.FirmwareClass, username, opts.Admin.Username)))
	}

	collector := report.NewCollector()

	// The responder must outlive discovery: cameras renew their leases
	// while the batch runs.
	var responder *dhcp.Server
	source := provisionFlags.source
	if source == sourceDHCP {
		responder, err = startResponder(cmd.Context(), cfg)
		var bindErr *dhcp.BindError
		switch {
		case errors.As(err, &bindErr):
			printer.Println(ui.ErrorMessageStyle.Render("  " + ui.FailureMarker + " " + bindErr.Error()))
			printer.Println(ui.WarningTitleStyle.Render("  " + ui.WarningMarker + " Falling back to mDNS discovery of cameras that already have an address"))
			source = sourceMDNS
		case err != nil:
			return err
		default:
			defer stopResponder(responder)
		}
	}

	var status *server.Server
	if cfg.Batch.StatusAddr != "" {
		var leases server.LeaseSource
		if responder != nil {
			leases = responder.Store()
		}
		status = server.New(server.Config{Addr: cfg.Batch.StatusAddr}, leases, collector)
		if err := status.Start(); err != nil {
			return err
		}
		defer shutdownStatus(status)
		printer.Println(ui.StepNoteStyle.Render("  Status API on http://" + status.Addr().String() + "/api"))
	}

	printer.Println(ui.StepNoteStyle.Render(fmt.Sprintf("  Waiting up to %s for %d camera(s) via %s...", cfg.Batch.Wait, expect, source)))
	discovered, err := discover(cmd.Context(), cfg, source, responder, expect, printer)
	if err != nil {
		return err
	}
	if len(discovered) < expect {
		printer.Println(ui.WarningTitleStyle.Render(fmt.Sprintf("  %s Only %d of %d expected camera(s) found", ui.WarningMarker, len(discovered), expect)))
	}

	res, err := batch.Resolve(mode, assignments.Directives, discovered)
	if err != nil {
		return err
	}
	if len(res.Targets) == 0 {
		if len(res.Unused) > 0 || len(res.Unassigned) > 0 {
			printer.Println(ui.RenderPlan(res, ui.GetTerminalWidth()))
		}
		return batch.ErrNothingToProvision
	}

	if !provisionFlags.yes && !ui.ConfirmPlan(os.Stdin, os.Stdout, res) {
		return nil
	}

	client := vapix.NewClient(cfg.Provisioning.Scheme, cfg.Provisioning.InsecureTLS)
	client.SetTimeout(opts.CallTimeout)

	var record, broadcast provision.Emitter
	if provisionFlags.journal != "" {
		jw, err := journal.Create(provisionFlags.journal)
		if err != nil {
			return err
		}
		defer func() { _ = jw.Close() }()
		record = jw.Record
	}
	if status != nil {
		broadcast = status.Hub().Broadcast
	}

	// display is switched to the live view before the batch starts.
	display := printer.Emit
	orch := batch.New(client, opts, batch.Config{
		Workers: cfg.Batch.Workers,
		Sink:    collector,
		OnEvent: batch.Fanout(record, broadcast, func(ev provision.Event) { display(ev) }),
	})

	header := ui.NewHeader("Provisioning", "camstage provision",
		ui.Param{Key: "Run", Value: orch.RunID()},
		ui.Param{Key: "Devices", Value: strconv.Itoa(len(res.Targets))},
		ui.Param{Key: "Mode", Value: string(res.Mode)},
		ui.Param{Key: "Workers", Value: strconv.Itoa(orch.Workers(len(res.Targets)))},
		ui.Param{Key: "Firmware", Value: string(opts.FirmwareClass)},
	)
	var view *ui.Live
	if !provisionFlags.noLive && ui.IsTerminal(os.Stdout) && ui.IsTerminal(os.Stdin) {
		view = ui.NewLive(ui.NewBatchModel(header, res.Targets, orch.Cancel), os.Stdin, os.Stdout)
		display = view.Emit
	} else {
		printer.PrintHeader(header)
	}

	summary, forced, runErr := runBatch(cmd.Context(), orch, res.Targets, view, printer)
	if forced {
		return errors.New("provisioning abandoned, reports were not written")
	}
	if runErr != nil {
		return runErr
	}

	reports := collector.Reports()
	if err := writeReports(res, summary, reports, printer); err != nil {
		return err
	}
	printer.PrintResult(ui.NewBatchResult(summary, reports))

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d camera(s) failed", summary.Failed, summary.Total)
	}
	return nil
}

func startResponder(ctx context.Context, cfg *config.Config) (*dhcp.Server, error) {
	rc, err := cfg.ResponderConfig()
	if err != nil {
		return nil, err
	}
	srv, err := dhcp.New(rc)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func stopResponder(srv *dhcp.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Responder shutdown incomplete", zap.Error(err))
	}
}

// discover waits for expect devices from source. An interrupt while waiting
// aborts the command; reaching the deadline proceeds with what was found.
func discover(ctx context.Context, cfg *config.Config, source string, responder *dhcp.Server, expect int, printer *ui.Printer) ([]batch.Discovered, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if source == sourceMDNS {
		scanner := discovery.NewScanner()
		scanner.Timeout = cfg.Batch.Wait
		if len(cfg.Responder.Interfaces) == 1 {
			scanner.Interface = cfg.Responder.Interfaces[0]
		}
		devices, err := scanner.WaitForDevices(ctx, expect)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, errors.New("interrupted while waiting for cameras")
		}
		for _, d := range devices {
			printer.Println(ui.StepCompleteStyle.Render("  " + ui.StepMarkerComplete + " " + d.String()))
		}
		return discovery.ToDiscovered(devices), nil
	}

	deadline := time.NewTimer(cfg.Batch.Wait)
	defer deadline.Stop()
	store := responder.Store()
	for {
		if bound := store.Bound(); len(bound) >= expect {
			return batch.FromLeases(bound), nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.New("interrupted while waiting for cameras")
		case <-deadline.C:
			return batch.FromLeases(store.Bound()), nil
		case ev := <-responder.Events():
			if ev.Kind == dhcp.EventBound || ev.Kind == dhcp.EventExhausted {
				printer.Println(ui.FormatLeaseEvent(ev))
			}
		}
	}
}

// runBatch runs the orchestrator while routing interrupts: the first one
// requests cooperative cancellation, a second one exits at once. forced is
// true when the operator abandoned the live view.
func runBatch(ctx context.Context, orch *batch.Orchestrator, targets []device.Target, view *ui.Live, printer *ui.Printer) (*batch.Summary, bool, error) {
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	returned := make(chan struct{})
	defer close(returned)

	type result struct {
		summary *batch.Summary
		err     error
	}
	finished := make(chan result, 1)
	go func() {
		summary, err := orch.Run(ctx, targets)
		if view != nil {
			view.Finish(summary, err)
		}
		finished <- result{summary, err}
	}()

	go func() {
		select {
		case <-interrupts:
		case <-returned:
			return
		}
		orch.Cancel()
		if view == nil {
			printer.Println(ui.WarningTitleStyle.Render("  " + ui.WarningMarker + " Cancelling: waiting for in-flight steps. Interrupt again to quit now."))
		}
		select {
		case <-interrupts:
		case <-returned:
			return
		}
		logging.Warn("Second interrupt, exiting without reports", zap.String("run_id", orch.RunID()))
		logging.Sync()
		os.Exit(130)
	}()

	if view != nil {
		model, err := view.Run()
		if err != nil {
			// The terminal failed; keep going without the view.
			logging.Warn("Live view failed", zap.Error(err))
		} else if model.Forced() {
			return nil, true, nil
		}
	}

	r := <-finished
	return r.summary, false, r.err
}

func writeReports(res *batch.Resolution, summary *batch.Summary, reports []*provision.DeviceReport, printer *ui.Printer) error {
	now := time.Now()

	path := provisionFlags.report
	if path == "" {
		path = fmt.Sprintf("camstage-inventory-%s.csv", now.Format("20060102-150405"))
	}
	if err := report.WriteInventoryFile(path, reports, now); err != nil {
		return err
	}
	printer.Println(ui.StepNoteStyle.Render("  Inventory written to " + path))

	if provisionFlags.json != "" {
		if err := report.NewSummary(summary, res, reports, now).WriteFile(provisionFlags.json); err != nil {
			return err
		}
		printer.Println(ui.StepNoteStyle.Render("  Summary written to " + provisionFlags.json))
	}
	return nil
}
