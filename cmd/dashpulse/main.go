package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dashpulse/internal/app"
	"dashpulse/internal/config"
	"dashpulse/internal/domain"
)

const usage = `usage: dashpulse [-config path] <command> [args]

commands:
  serve                              run triggers, dispatch and the HTTP API (default)
  import [-dry-run] <file>           import targets from a YAML file
  sweep                              delete events past the retention age once
  admin toggle|reschedule|unescape <ids...>
  export [-since 24h] [-limit 1000]  write recent events as CSV to stdout
  diagnose [-events 10]              report targets, triggers, recent events and bot reachability
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dashpulse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := fs.String("config", "./config.json", "path to config (json or yaml)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "serve":
		return serve(ctx, cfg, stderr)
	case "import":
		return withApp(ctx, cfg, stderr, func(a *app.App) error { return runImport(ctx, a, rest, stdout, stderr) })
	case "sweep":
		return withApp(ctx, cfg, stderr, func(a *app.App) error {
			n, err := a.Sweep(ctx)
			fmt.Fprintf(stdout, "deleted %d events\n", n)
			return err
		})
	case "admin":
		return withApp(ctx, cfg, stderr, func(a *app.App) error { return runAdmin(ctx, a, rest, stdout) })
	case "export":
		return withApp(ctx, cfg, stderr, func(a *app.App) error { return runExport(ctx, a, rest, stdout, stderr) })
	case "diagnose":
		return withApp(ctx, cfg, stderr, func(a *app.App) error { return runDiagnose(ctx, a, rest, stdout, stderr) })
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func serve(ctx context.Context, cfg *config.Config, stderr io.Writer) int {
	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		return 1
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}
	return 0
}

// withApp runs one-shot commands against a wired but idle app.
func withApp(ctx context.Context, cfg *config.Config, stderr io.Writer, fn func(*app.App) error) int {
	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}
	defer a.Close()

	if err := fn(a); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if app.IsUsageError(err) {
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = fmt.Errorf("%w: bad arguments", domain.ErrValidation)

func runImport(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dry := fs.Bool("dry-run", false, "report what would be created without writing")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: import needs exactly one file", errUsage)
	}

	rep, err := a.Import(ctx, fs.Arg(0), *dry)
	if err != nil {
		return err
	}
	prefix := ""
	if rep.DryRun {
		prefix = "[dry-run] "
	}
	fmt.Fprintf(stdout, "%stargets: %d new, %d existing; items: %d new, %d existing\n",
		prefix, rep.TargetsCreated, rep.TargetsExisting, rep.ItemsCreated, rep.ItemsExisting)
	for _, f := range rep.Failures {
		fmt.Fprintf(stdout, "  failed %s: %v\n", f.URL, f.Err)
	}
	return rep.Err()
}

func runAdmin(ctx context.Context, a *app.App, args []string, stdout io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: admin needs an operation and at least one id", errUsage)
	}
	ids := make([]int64, 0, len(args)-1)
	for _, s := range args[1:] {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("%w: bad item id %q", errUsage, s)
		}
		ids = append(ids, id)
	}

	results, err := a.Admin(ctx, args[0], ids)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "%d: %v\n", r.ID, r.Err)
			errs = append(errs, r.Err)
			continue
		}
		fmt.Fprintf(stdout, "%d: ok\n", r.ID)
	}
	return errors.Join(errs...)
}

func runExport(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	since := fs.Duration("since", 24*time.Hour, "how far back to export")
	limit := fs.Int("limit", 1000, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	evs, err := a.Events(ctx, time.Now().Add(-*since), *limit)
	if err != nil {
		return err
	}
	return writeCSV(stdout, evs)
}

func runDiagnose(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("diagnose", flag.ContinueOnError)
	fs.SetOutput(stderr)
	recent := fs.Int("events", 10, "number of recent events to show")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	d, err := a.Diagnose(ctx, *recent)
	if err != nil {
		return err
	}
	now := time.Now()

	fmt.Fprintf(stdout, "targets: %d (%d active)\n", d.Targets, d.ActiveTargets)
	fmt.Fprintln(stdout, "items:")
	for _, ks := range d.Items {
		line := fmt.Sprintf("  %-7s active=%d due=%d", ks.Kind, ks.Active, ks.Due)
		if !ks.NextDue.IsZero() {
			line += fmt.Sprintf(" next in %s", ks.NextDue.Sub(now).Round(time.Second))
		}
		fmt.Fprintln(stdout, line)
	}

	fmt.Fprintln(stdout, "triggers:")
	for _, s := range d.Schedules {
		fmt.Fprintf(stdout, "  %-17s %s\n", s.Name, s.Spec)
	}

	fmt.Fprintf(stdout, "recent events: %d\n", len(d.Events))
	for _, ev := range d.Events {
		fmt.Fprintf(stdout, "  %s %-6s %s status=%s reviewed=%t no_problem=%t\n",
			ev.CreatedAt.UTC().Format(time.RFC3339), ev.Kind, ev.Target.UID, ev.Outcome.Status, ev.Reviewed, ev.NoProblem)
	}

	n := d.Notifier
	switch {
	case !n.Checked:
		fmt.Fprintf(stdout, "notifier: %s (not checked)\n", n.Driver)
	case n.Err != nil:
		fmt.Fprintf(stdout, "notifier: %s %s unreachable\n", n.Driver, n.URL)
	default:
		fmt.Fprintf(stdout, "notifier: %s %s reachable\n", n.Driver, n.URL)
	}

	fmt.Fprintf(stdout, "external url: %s\n", d.ExternalURL)
	for _, w := range d.Warnings {
		fmt.Fprintln(stdout, "warning:", w)
	}
	return nil
}

func writeCSV(w io.Writer, evs []domain.CheckEvent) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"event", "kind", "item", "target", "created_at", "status", "reason", "reviewed", "no_problem", "seen"})
	for _, ev := range evs {
		_ = cw.Write([]string{
			ev.ID,
			string(ev.Kind),
			strconv.FormatInt(ev.ItemID, 10),
			ev.Target.UID,
			ev.CreatedAt.UTC().Format(time.RFC3339),
			string(ev.Outcome.Status),
			string(ev.Outcome.Reason),
			strconv.FormatBool(ev.Reviewed),
			strconv.FormatBool(ev.NoProblem),
			strconv.FormatBool(ev.Seen),
		})
	}
	cw.Flush()
	return cw.Error()
}
