package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/elee1766/parley/src/config"
)

// ChatCmd starts the interactive chat
type ChatCmd struct {
	Stream bool   `help:"Stream replies as they are generated"`
	Load   string `type:"path" help:"Import a conversation export before starting"`
}

func (c *ChatCmd) Run(ctx context.Context, cli *CLI) error {
	rt, a, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer a.Close()

	r := &repl{
		session: a.Session,
		fs:      cli.Fs,
		out:     cli.Out,
		styles:  rt.styles,
		stream:  c.Stream || rt.cfg.UI.Stream,
		logger:  rt.logger,
	}
	if c.Load != "" {
		if err := importSession(cli.Fs, a.Session, c.Load); err != nil {
			return err
		}
	}

	editor := newLineEditor(config.GetHistoryPath(), a.Registry.Names())
	defer editor.Close()
	return r.run(ctx, editor)
}

// lineEditor provides input history and line editing for the chat loop.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

// newLineEditor creates a lineEditor, loading history from historyFile.
// Backend names complete after /switch.
func newLineEditor(historyFile string, backends []string) *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completer(backends))

	e := &lineEditor{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return e
}

// Prompt reads a line, adding non-empty input to the history.
func (e *lineEditor) Prompt(prompt string) (string, error) {
	input, err := e.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and restores the terminal.
func (e *lineEditor) Close() {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0o755); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = e.line.WriteHistory(f)
			f.Close()
		}
	}
	e.line.Close()
}

var slashCommands = []string{
	"/backends", "/clear", "/export ", "/help", "/import ", "/info",
	"/quit", "/stream", "/summary", "/switch ", "/system ",
}

// completer completes slash commands and backend names after /switch.
func completer(backends []string) func(string) []string {
	return func(line string) []string {
		var out []string
		if rest, ok := strings.CutPrefix(line, "/switch "); ok {
			for _, name := range backends {
				if strings.HasPrefix(name, rest) {
					out = append(out, "/switch "+name)
				}
			}
			return out
		}
		for _, cmd := range slashCommands {
			if strings.HasPrefix(cmd, line) {
				out = append(out, cmd)
			}
		}
		return out
	}
}
