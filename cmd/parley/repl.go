package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/afero"

	"github.com/elee1766/parley/src/agent"
	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/theme"
)

// lineReader reads one line of user input.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// repl runs the interactive chat loop over a session.
type repl struct {
	session *agent.Session
	fs      afero.Fs
	out     io.Writer
	styles  theme.Styles
	stream  bool
	logger  *slog.Logger

	// bare omits the role label before replies.
	bare bool
}

const replHelp = `Commands:
  /clear            forget the conversation, keep the system prompt
  /system [text]    show or replace the system prompt
  /switch <name>    use another backend
  /backends         list backends
  /summary          show conversation counts
  /info             show session details as JSON
  /export <path>    write the conversation to a file
  /import <path>    replace the conversation from a file
  /stream           toggle streaming replies
  /quit             leave
`

// run reads input until EOF, an aborted prompt, /quit or ctx ends.
func (r *repl) run(ctx context.Context, in lineReader) error {
	fmt.Fprintf(r.out, "%s\n", r.styles.Muted.Render(fmt.Sprintf(
		"Chatting with %s. Type /help for commands.", r.session.Backend())))

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := in.Prompt("You: ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if r.command(ctx, input) {
				return nil
			}
			continue
		}
		if err := r.send(ctx, input); err != nil {
			r.printError(err)
		}
	}
}

// send delivers one user message and prints the reply. A failed reply is
// printed like any other and reported as the returned error.
func (r *repl) send(ctx context.Context, text string) error {
	if !r.bare {
		fmt.Fprint(r.out, r.styles.RoleLabel(aisdk.RoleAssistant))
	}

	if !r.stream {
		reply, err := r.session.Chat(ctx, text)
		if err != nil {
			fmt.Fprintln(r.out)
			return err
		}
		fmt.Fprintln(r.out, r.styles.Reply(reply.Content))
		return reply.Err
	}

	stream, err := r.session.ChatStream(ctx, text)
	if err != nil {
		fmt.Fprintln(r.out)
		return err
	}
	err = aisdk.StreamToCallback(stream, func(fragment string) error {
		_, werr := io.WriteString(r.out, fragment)
		return werr
	})
	fmt.Fprintln(r.out)
	if err != nil {
		return err
	}
	return lastReplyError(r.session)
}

// command handles a slash command and reports whether the loop should end.
func (r *repl) command(ctx context.Context, input string) bool {
	name, arg := parseCommand(input)

	var err error
	switch name {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprint(r.out, replHelp)
	case "clear":
		if err = r.session.Clear(); err == nil {
			r.notice("Conversation cleared.")
		}
	case "system":
		if arg == "" {
			fmt.Fprintln(r.out, r.session.Conversation().SystemPrompt())
			break
		}
		if err = r.session.SetSystemPrompt(arg); err == nil {
			r.notice("System prompt updated.")
		}
	case "switch":
		if arg == "" {
			err = fmt.Errorf("usage: /switch <name>: %w", aisdk.ErrInvalidRequest)
			break
		}
		if err = r.session.SwitchBackend(arg); err == nil {
			r.notice("Switched to " + arg + ".")
		}
	case "backends":
		err = printBackends(r.out, r.session.ListBackends(), r.session.Backend(), r.styles)
	case "summary":
		printSummary(r.out, r.session.Summary())
	case "info":
		err = writeJSON(r.out, r.session.Info())
	case "export":
		err = r.exportTo(arg)
	case "import":
		err = r.importFrom(arg)
	case "stream":
		r.stream = !r.stream
		r.notice(fmt.Sprintf("Streaming %s.", onOff(r.stream)))
	default:
		err = fmt.Errorf("unknown command /%s, try /help", name)
	}

	if err != nil {
		r.printError(err)
	}
	return false
}

func (r *repl) exportTo(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /export <path>: %w", aisdk.ErrInvalidRequest)
	}
	if err := exportSession(r.fs, r.session, path); err != nil {
		return err
	}
	r.notice("Exported to " + path + ".")
	return nil
}

func (r *repl) importFrom(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /import <path>: %w", aisdk.ErrInvalidRequest)
	}
	if err := importSession(r.fs, r.session, path); err != nil {
		return err
	}
	r.notice(fmt.Sprintf("Imported %d messages from %s.", r.session.Summary().TotalMessages, path))
	return nil
}

func (r *repl) notice(msg string) {
	fmt.Fprintln(r.out, r.styles.Success.Render(msg))
}

func (r *repl) printError(err error) {
	r.logger.Debug("command failed", "error_kind", aisdk.KindName(err), "error", err)
	fmt.Fprintln(r.out, r.styles.Error.Render("Error: "+err.Error()))
}

// parseCommand splits "/name rest of line" into name and argument.
func parseCommand(input string) (string, string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, arg, _ := strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// lastReplyError reports the failure recorded on the latest assistant
// message, if any.
func lastReplyError(s *agent.Session) error {
	msgs := s.Conversation().Messages()
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != aisdk.RoleAssistant {
		return nil
	}
	if failed, _ := last.Metadata["error"].(bool); !failed {
		return nil
	}
	kind, _ := last.Metadata["error_kind"].(string)
	backend, _ := last.Metadata["backend"].(string)
	return fmt.Errorf("backend %s failed: %w", backend, kindByName(kind))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
