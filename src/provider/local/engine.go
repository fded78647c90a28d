package local

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/afero"
)

// Options are the sampling options handed to an Engine.
type Options struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
	Stop        []string
}

// Engine performs blocking, CPU-bound inference. Implementations need not be
// safe for concurrent Generate calls; the backend bounds concurrency.
type Engine interface {
	// Check reports whether the engine could be loaded on this machine.
	Check(ctx context.Context) error
	// Load prepares the engine. It is called at most once successfully.
	Load(ctx context.Context) error
	// Generate produces a completion for prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Close() error
}

// CommandEngine runs a llama.cpp style command line binary once per request.
// A zero Fs reads the host file system.
type CommandEngine struct {
	Binary    string
	ModelPath string
	Threads   int

	// ExtraArgs are appended after the generated arguments.
	ExtraArgs []string

	Fs afero.Fs

	lookPath  func(string) (string, error)
	available func(ctx context.Context) (uint64, error)
	resolved  string
}

// NewCommandEngine creates an engine for binary and model.
func NewCommandEngine(binary, modelPath string, fs afero.Fs) *CommandEngine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &CommandEngine{
		Binary:    binary,
		ModelPath: modelPath,
		Fs:        fs,
	}
}

func availableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Check verifies the binary is installed, the model file exists and enough
// memory is free to map it.
func (e *CommandEngine) Check(ctx context.Context) error {
	if e.Binary == "" {
		return fmt.Errorf("no inference binary configured")
	}
	if _, err := e.look(e.Binary); err != nil {
		return fmt.Errorf("inference binary %q not found: %w", e.Binary, err)
	}
	if e.ModelPath == "" {
		return fmt.Errorf("no model path configured")
	}
	info, err := e.fs().Stat(e.ModelPath)
	if err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path %q is a directory", e.ModelPath)
	}

	free, err := e.freeMemory(ctx)
	if err != nil {
		// Memory stats are unavailable on some platforms; let the load decide.
		return nil
	}
	if uint64(info.Size()) > free {
		return fmt.Errorf("model needs %d bytes but only %d are available", info.Size(), free)
	}
	return nil
}

// Load resolves the binary path after a successful Check.
func (e *CommandEngine) Load(ctx context.Context) error {
	if err := e.Check(ctx); err != nil {
		return err
	}
	path, err := e.look(e.Binary)
	if err != nil {
		return err
	}
	e.resolved = path
	return nil
}

func (e *CommandEngine) look(name string) (string, error) {
	if e.lookPath == nil {
		return exec.LookPath(name)
	}
	return e.lookPath(name)
}

func (e *CommandEngine) freeMemory(ctx context.Context) (uint64, error) {
	if e.available == nil {
		return availableMemory(ctx)
	}
	return e.available(ctx)
}

func (e *CommandEngine) fs() afero.Fs {
	if e.Fs == nil {
		return afero.NewOsFs()
	}
	return e.Fs
}

// Args builds the command line for one request.
func (e *CommandEngine) Args(prompt string, opts Options) []string {
	args := []string{
		"-m", e.ModelPath,
		"-p", prompt,
		"-n", strconv.Itoa(opts.MaxTokens),
		"--temp", strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"--top-p", strconv.FormatFloat(opts.TopP, 'f', -1, 64),
		"--no-display-prompt",
	}
	if opts.TopK > 0 {
		args = append(args, "--top-k", strconv.Itoa(opts.TopK))
	}
	if e.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.Threads))
	}
	for _, s := range opts.Stop {
		args = append(args, "-r", s)
	}
	return append(args, e.ExtraArgs...)
}

// Generate runs the binary and returns its standard output. Cancelling ctx
// kills the process.
func (e *CommandEngine) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	bin := e.resolved
	if bin == "" {
		bin = e.Binary
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, e.Args(prompt, opts)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return "", fmt.Errorf("%s: %w: %s", e.Binary, err, msg)
	}

	out := stdout.String()
	out = strings.TrimPrefix(out, prompt)
	for _, s := range opts.Stop {
		out = strings.TrimSuffix(strings.TrimRight(out, " \n"), s)
	}
	return strings.TrimSpace(out), nil
}

// Close implements Engine. The binary holds no state between requests.
func (e *CommandEngine) Close() error {
	return nil
}
