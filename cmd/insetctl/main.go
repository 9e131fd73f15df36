package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/insetd/insetd/internal/control/client"
	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/ui/tui"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	fs := flag.NewFlagSet("insetctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := fs.String("socket", "", "path to insetd control socket")
	timeout := fs.Duration("timeout", 3*time.Second, "control request timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] <command> [args]\n", fs.Name())
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Commands:")
		fmt.Fprintln(fs.Output(), "  status\t\t\tshow per-display controller state")
		fmt.Fprintln(fs.Output(), "  policy [--test pkg]\tshow loaded rules or test a package")
		fmt.Fprintln(fs.Output(), "  reload\t\t\ttrigger a live policy reload")
		fmt.Fprintln(fs.Output(), "  metrics\t\tshow reconciliation counters")
		fmt.Fprintln(fs.Output(), "  watch\t\t\tlaunch the live display dashboard")
		fmt.Fprintln(fs.Output(), "  check --policy <path>\tvalidate a policy file")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Flags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("missing subcommand")
	}

	if args[0] == "check" {
		return runCheck(args[1:], os.Stdout, os.Stderr)
	}

	cli, err := client.New(*socket)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx := context.Background()
	if *timeout > 0 && args[0] != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	switch args[0] {
	case "status":
		return runStatus(ctx, cli, os.Stdout)
	case "policy":
		return runPolicy(ctx, cli, args[1:], os.Stdout)
	case "reload":
		return runReload(ctx, cli)
	case "metrics":
		return runMetrics(ctx, cli, os.Stdout)
	case "watch":
		return runWatch(cli)
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func runStatus(ctx context.Context, cli *client.Client, stdout io.Writer) error {
	status, err := cli.Status(ctx)
	if err != nil {
		return err
	}
	if status.DryRun {
		fmt.Fprintln(stdout, "Mode: dry run")
	}
	if len(status.Displays) == 0 {
		fmt.Fprintln(stdout, "No displays tracked")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISPLAY\tFOCUSED\tREQUESTED\tLAST ERROR")
	for _, d := range status.Displays {
		focused := d.FocusedPackage
		if focused == "" {
			focused = "(unfocused)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.DisplayID, focused, formatSnapshot(d.Snapshot), d.LastPushError)
	}
	return tw.Flush()
}

func runPolicy(ctx context.Context, cli *client.Client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	testPkg := fs.String("test", "", "report the decision a package would receive")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *testPkg != "" {
		result, err := cli.TestPolicy(ctx, *testPkg)
		if err != nil {
			return err
		}
		rule := result.Rule
		if rule == "" {
			rule = "(default)"
		}
		fmt.Fprintf(stdout, "%s: rule %s show=%s hide=%s\n", result.Package, rule, result.Decision.Visible, result.Decision.Hidden)
		return nil
	}

	status, err := cli.Policy(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Policy file: %s\n", status.Path)
	fmt.Fprintf(stdout, "Default: show=%s hide=%s\n", status.Default.Visible, status.Default.Hidden)
	if len(status.Rules) == 0 {
		fmt.Fprintln(stdout, "No rules loaded")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tMATCH\tSHOW\tHIDE")
	for _, rule := range status.Rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rule.Name, rule.Matcher, rule.Show, rule.Hide)
	}
	return tw.Flush()
}

func runReload(ctx context.Context, cli *client.Client) error {
	if err := cli.Reload(ctx); err != nil {
		return err
	}
	fmt.Println("Reload requested")
	return nil
}

func runMetrics(ctx context.Context, cli *client.Client, stdout io.Writer) error {
	report, err := cli.Metrics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Since: %s\n", report.Started.Format(time.RFC1123))
	fmt.Fprintf(stdout, "Totals: reconciles=%d pushes=%d pushErrors=%d registerErrors=%d redundantState=%d redundantFocus=%d\n",
		report.Totals.Reconciles, report.Totals.Pushes, report.Totals.PushErrors,
		report.Totals.RegisterErrors, report.Totals.RedundantState, report.Totals.RedundantFocus)
	if len(report.Displays) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISPLAY\tRECONCILES\tPUSHES\tPUSH ERRS\tLAST PUSH")
	for _, d := range report.Displays {
		last := ""
		if !d.LastPush.IsZero() {
			last = d.LastPush.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", d.DisplayID, d.Reconciles, d.Pushes, d.PushErrors, last)
	}
	return tw.Flush()
}

func runWatch(cli *client.Client) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	renderer := tui.New(cli, os.Stdout)
	if err := renderer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runCheck(args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyPath := fs.String("policy", "", "path to policy file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *policyPath == "" {
		fs.Usage()
		return fmt.Errorf("check requires --policy <path>")
	}

	lintErrs, err := policy.LintFile(*policyPath)
	if err != nil {
		return err
	}
	if len(lintErrs) == 0 {
		fmt.Fprintln(stdout, "Policy OK")
		return nil
	}

	fmt.Fprintf(stderr, "Policy has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return fmt.Errorf("policy validation failed")
}

func formatSnapshot(s insets.Snapshot) string {
	if len(s.Visible) == 0 {
		return "(empty)"
	}
	return s.String()
}
