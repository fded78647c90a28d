package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/elee1766/parley/src/aisdk"
)

// AskCmd sends a single prompt
type AskCmd struct {
	Text   []string `arg:"" help:"The prompt text to send"`
	Stream bool     `help:"Stream the reply as it is generated"`
	Load   string   `type:"path" help:"Import a conversation export before asking"`
	Save   string   `type:"path" help:"Export the conversation after the reply"`
	Output string   `short:"o" enum:"text,json" default:"text" help:"Output format (text, json)"`
}

func (c *AskCmd) Run(ctx context.Context, cli *CLI) error {
	text := strings.TrimSpace(strings.Join(c.Text, " "))
	if text == "" {
		return fmt.Errorf("prompt text is required: %w", aisdk.ErrInvalidRequest)
	}

	rt, a, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer a.Close()

	if c.Load != "" {
		if err := importSession(cli.Fs, a.Session, c.Load); err != nil {
			return err
		}
	}

	r := &repl{
		session: a.Session,
		fs:      cli.Fs,
		out:     cli.Out,
		styles:  rt.styles,
		stream:  c.Stream && c.Output == "text",
		logger:  rt.logger,
		bare:    true,
	}

	var replyErr error
	if c.Output == "json" {
		reply, err := a.Session.Chat(ctx, text)
		if err != nil {
			return err
		}
		if err := writeJSON(cli.Out, askResult{
			Backend: reply.Backend,
			Content: reply.Content,
			Error:   aisdk.KindName(reply.Err),
			Summary: a.Session.Summary(),
		}); err != nil {
			return err
		}
		replyErr = reply.Err
	} else {
		replyErr = r.send(ctx, text)
	}

	if c.Save != "" {
		if err := exportSession(cli.Fs, a.Session, c.Save); err != nil {
			return err
		}
	}
	return replyErr
}

type askResult struct {
	Backend string `json:"backend"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Summary any    `json:"summary"`
}
