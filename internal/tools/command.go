package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"mvdan.cc/sh/v3/shell"

	paqerrors "github.com/conneroisu/paq/internal/errors"
)

// Command is an external program configured as a single shell-like string,
// e.g. "nodeunit --reporter verbose".
type Command struct {
	Name   string
	Line   string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// argv splits the command line. Variables expand from the process
// environment.
func (c Command) argv() ([]string, error) {
	fields, err := shell.Fields(c.Line, os.Getenv)
	if err != nil {
		return nil, paqerrors.NewValidationError(paqerrors.ErrCodeValidationFailed, fmt.Sprintf("parse %s command %q: %v", c.Name, c.Line, err))
	}
	if len(fields) == 0 {
		return nil, paqerrors.NewValidationError(paqerrors.ErrCodeValidationFailed, c.Name+" command is empty")
	}
	return fields, nil
}

// Run executes the command with extra arguments appended and streams its
// output. A missing executable or a non-zero exit becomes a tool error
// carrying code.
func (c Command) Run(ctx context.Context, code string, args ...string) error {
	argv, err := c.argv()
	if err != nil {
		return err
	}
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdout = writerOr(c.Stdout, os.Stdout)
	cmd.Stderr = writerOr(c.Stderr, os.Stderr)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return paqerrors.NewToolError(code, c.Name, "interrupted", ctx.Err())
		}
		if errors.Is(err, exec.ErrNotFound) {
			return paqerrors.NewToolError(paqerrors.ErrCodeToolNotFound, c.Name, "executable not found: "+argv[0], err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return paqerrors.NewToolError(code, c.Name, fmt.Sprintf("exited with status %d", exitErr.ExitCode()), err).
				WithContext("exit_code", exitErr.ExitCode())
		}
		return paqerrors.NewToolError(code, c.Name, "failed to run", err)
	}
	return nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// TestRunner runs the configured test command against a test path.
type TestRunner struct {
	Command Command
}

// NewTestRunner creates a runner for commandLine.
func NewTestRunner(commandLine string, stdout, stderr io.Writer) *TestRunner {
	return &TestRunner{Command: Command{
		Name:   "test",
		Line:   commandLine,
		Stdout: stdout,
		Stderr: stderr,
	}}
}

// Run runs the tests at path.
func (r *TestRunner) Run(ctx context.Context, path string) error {
	return r.Command.Run(ctx, paqerrors.ErrCodeTestFailed, path)
}

// DocGenerator produces documentation for a list of sources.
type DocGenerator interface {
	Name() string
	Generate(ctx context.Context, sources []string) error
}

// CommandDocGenerator invokes an external documentation tool as
// `<command> --output <dir> <sources...>`.
type CommandDocGenerator struct {
	Command Command
	Output  string
}

// NewDocGenerator creates a generator named name.
func NewDocGenerator(name, commandLine, output string, stdout, stderr io.Writer) *CommandDocGenerator {
	return &CommandDocGenerator{
		Command: Command{
			Name:   name,
			Line:   commandLine,
			Stdout: stdout,
			Stderr: stderr,
		},
		Output: output,
	}
}

// Name returns the generator name.
func (g *CommandDocGenerator) Name() string {
	return g.Command.Name
}

// Generate creates the output directory and runs the tool.
func (g *CommandDocGenerator) Generate(ctx context.Context, sources []string) error {
	if err := os.MkdirAll(g.Output, 0o755); err != nil {
		return paqerrors.NewIOError(paqerrors.ErrCodeWriteFailed, "create documentation directory", err).WithPath(g.Output)
	}

	args := make([]string, 0, len(sources)+2)
	args = append(args, "--output", g.Output)
	args = append(args, sources...)
	return g.Command.Run(ctx, paqerrors.ErrCodeDocFailed, args...)
}
