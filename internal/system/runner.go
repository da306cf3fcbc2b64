package system

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner executes external programs on behalf of the migration steps.
// Output of Run is streamed to the operator log; Output captures stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	RunWithInput(ctx context.Context, stdin []byte, name string, args ...string) error
}

// Exec runs commands on the host.
type Exec struct {
	Log io.Writer
}

// NewExec returns a Runner that echoes every command line to log.
func NewExec(log io.Writer) *Exec {
	return &Exec{Log: log}
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) error {
	cmd := e.command(ctx, name, args)
	cmd.Stdout = e.Log
	cmd.Stderr = e.Log
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", commandLine(name, args), err)
	}
	return nil
}

func (e *Exec) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := e.command(ctx, name, args)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = e.Log
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w", commandLine(name, args), err)
	}
	return out.Bytes(), nil
}

func (e *Exec) RunWithInput(ctx context.Context, stdin []byte, name string, args ...string) error {
	cmd := e.command(ctx, name, args)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = e.Log
	cmd.Stderr = e.Log
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", commandLine(name, args), err)
	}
	return nil
}

func (e *Exec) command(ctx context.Context, name string, args []string) *exec.Cmd {
	fmt.Fprintf(e.Log, "[eos-upgrade] $ %s\n", commandLine(name, args))
	cmd := exec.CommandContext(ctx, name, args...)
	// Tools like lpstat and ostree localise their output; parsers expect C.
	cmd.Env = append(cmd.Environ(), "LC_ALL=C")
	cmd.Dir = "/"
	return cmd
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// IsRoot reports whether the process runs with superuser privilege.
func IsRoot() bool {
	return os.Geteuid() == 0
}
