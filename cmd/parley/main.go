package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/spf13/afero"
)

// CLI represents the main CLI structure
type CLI struct {
	ConfigFile  string   `name:"config" short:"c" type:"path" help:"Config file (JSON or YAML) applied over the user config"`
	Backend     string   `short:"b" env:"PARLEY_BACKEND" help:"Backend to use, e.g. ollama-llama2"`
	Offline     bool     `help:"Register only the offline echo backend"`
	NoColor     bool     `env:"NO_COLOR" help:"Disable colored output"`
	LogLevel    string   `help:"Log level: debug, info, warn or error (overrides logging.level)"`
	Temperature *float64 `help:"Sampling temperature override"`
	MaxTokens   *int     `help:"Maximum tokens to generate"`
	System      string   `short:"s" help:"System prompt override"`
	History     *int     `help:"Maximum number of non-system messages kept"`

	Chat     ChatCmd     `cmd:"" default:"1" help:"Start an interactive chat (default)"`
	Ask      AskCmd      `cmd:"" help:"Send a single prompt"`
	Backends BackendsCmd `cmd:"" help:"List registered backends"`
	Info     InfoCmd     `cmd:"" help:"Show session information"`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of a file format"`
	Config   ConfigCmd   `cmd:"" help:"Configuration commands"`

	Out io.Writer `kong:"-"`
	Fs  afero.Fs  `kong:"-"`
}

func main() {
	cli := CLI{Out: os.Stdout, Fs: afero.NewOsFs()}
	kctx := kong.Parse(&cli,
		kong.Name("parley"),
		kong.Description("Chat with hosted and local language models"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(&cli); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
