package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/insetd/insetd/internal/control/client"
	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/registry"
)

const defaultRefresh = 500 * time.Millisecond

// Renderer periodically polls the daemon and renders a textual dashboard.
type Renderer struct {
	Client  *client.Client
	Writer  io.Writer
	Refresh time.Duration
}

// New returns a renderer configured with sensible defaults.
func New(cli *client.Client, w io.Writer) *Renderer {
	return &Renderer{Client: cli, Writer: w, Refresh: defaultRefresh}
}

// Run starts the render loop until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Writer == nil {
		r.Writer = os.Stdout
	}
	if r.Client == nil {
		return fmt.Errorf("tui renderer requires a control client")
	}

	refresh := r.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	fmt.Fprint(r.Writer, "\033[?25l")
	defer fmt.Fprint(r.Writer, "\033[?25h")

	r.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.render(ctx)
		}
	}
}

func (r *Renderer) render(ctx context.Context) {
	status, err := r.Client.Status(ctx)

	var buf bytes.Buffer
	buf.WriteString("\033[H\033[2J")
	buf.WriteString("insetd displays — Ctrl+C to exit\n")
	buf.WriteString(time.Now().Format(time.RFC1123))
	buf.WriteString("\n\n")

	if err != nil {
		buf.WriteString(fmt.Sprintf("error: %v\n", err))
		fmt.Fprint(r.Writer, buf.String())
		return
	}

	if status.DryRun {
		buf.WriteString("Mode: dry run (snapshots are not pushed)\n\n")
	}
	buf.WriteString(renderDisplays(status.Displays))
	fmt.Fprint(r.Writer, buf.String())
}

func renderDisplays(displays []registry.DisplayStatus) string {
	var b strings.Builder
	b.WriteString("Displays:\n")
	if len(displays) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFocused\tRequested\tHost State\tLast Error")
	for _, d := range displays {
		focused := d.FocusedPackage
		if focused == "" {
			focused = "(unfocused)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			d.DisplayID, focused, formatSnapshot(d.Snapshot), formatSnapshot(d.HostState), d.LastPushError)
	}
	tw.Flush()
	b.WriteByte('\n')
	for _, d := range displays {
		if d.Coordinator == nil {
			continue
		}
		fmt.Fprintf(&b, "Display %d coordinator: shows=%d hides=%d pending=%s\n",
			d.DisplayID, d.Coordinator.ShowRequests, d.Coordinator.HideRequests, d.Coordinator.PendingMask)
	}
	return b.String()
}

func formatSnapshot(s insets.Snapshot) string {
	if len(s.Visible) == 0 {
		return "(empty)"
	}
	return s.String()
}
