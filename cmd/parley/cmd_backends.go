package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/elee1766/parley/src/conversation"
	"github.com/elee1766/parley/src/registry"
	"github.com/elee1766/parley/src/theme"
)

// BackendsCmd lists registered backends
type BackendsCmd struct {
	Format string `enum:"table,json" default:"table" help:"Output format (table, json)"`
}

func (c *BackendsCmd) Run(ctx context.Context, cli *CLI) error {
	rt, a, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer a.Close()

	entries := a.Session.ListBackends()
	current := a.Session.Backend()

	switch c.Format {
	case "json":
		return writeJSON(cli.Out, backendRows(entries, current))
	default:
		return printBackends(cli.Out, entries, current, rt.styles)
	}
}

type backendRow struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	StreamingMode string `json:"streaming_mode"`
	Available     bool   `json:"available"`
	Default       bool   `json:"default"`
}

func backendRows(entries []registry.Entry, current string) []backendRow {
	rows := make([]backendRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, backendRow{
			Name:          e.Name,
			Provider:      e.Descriptor.Provider,
			Model:         e.Descriptor.Model,
			StreamingMode: string(e.Descriptor.StreamingMode()),
			Available:     e.Available,
			Default:       e.Name == current,
		})
	}
	return rows
}

const modelColumnWidth = 32

// printBackends writes the backend table. The current backend is marked
// in the DEFAULT column.
func printBackends(out io.Writer, entries []registry.Entry, current string, styles theme.Styles) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, styles.Muted.Render("No backends registered."))
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFAMILY\tMODEL\tSTREAMING\tAVAILABLE\tDEFAULT")
	for _, r := range backendRows(entries, current) {
		mark := ""
		if r.Default {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Provider, theme.Truncate(r.Model, modelColumnWidth),
			r.StreamingMode, yesNo(r.Available), mark)
	}
	return w.Flush()
}

// InfoCmd shows the session state
type InfoCmd struct{}

func (c *InfoCmd) Run(ctx context.Context, cli *CLI) error {
	rt, a, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer a.Close()

	return writeJSON(cli.Out, a.Session.Info())
}

// printSummary writes conversation counts as aligned lines.
func printSummary(out io.Writer, s conversation.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Conversation:\t%s\n", s.ConversationID)
	fmt.Fprintf(w, "Messages:\t%d (%d user, %d assistant)\n", s.TotalMessages, s.UserMessages, s.AssistantMessages)
	if s.EvictedMessages > 0 {
		fmt.Fprintf(w, "Evicted:\t%d\n", s.EvictedMessages)
	}
	if s.LastMessageTime != nil {
		fmt.Fprintf(w, "Last message:\t%s\n", s.LastMessageTime.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "System prompt:\t%s\n", theme.Truncate(s.SystemPrompt, 60))
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
