// Package systemtest provides in-memory stand-ins for the host collaborators
// so migration steps can be exercised without touching the machine.
package systemtest

import (
	"context"
	"fmt"
	"strings"
)

// Call records one command invocation.
type Call struct {
	Name  string
	Args  []string
	Stdin []byte
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// FakeRunner records commands and answers them from canned tables keyed by
// the full command line.
type FakeRunner struct {
	Calls   []Call
	Outputs map[string]string
	Errors  map[string]error
	// Hook, when set, runs for every call after it is recorded and before
	// the tables are consulted. A non-nil error short-circuits the call.
	Hook func(c Call) error
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Outputs: make(map[string]string),
		Errors:  make(map[string]error),
	}
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := f.record(Call{Name: name, Args: args})
	return err
}

func (f *FakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := f.record(Call{Name: name, Args: args})
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (f *FakeRunner) RunWithInput(ctx context.Context, stdin []byte, name string, args ...string) error {
	_, err := f.record(Call{Name: name, Args: args, Stdin: stdin})
	return err
}

func (f *FakeRunner) record(c Call) (string, error) {
	f.Calls = append(f.Calls, c)
	if f.Hook != nil {
		if err := f.Hook(c); err != nil {
			return "", err
		}
	}
	line := c.String()
	if err, ok := f.Errors[line]; ok {
		return "", err
	}
	return f.Outputs[line], nil
}

// Commands returns every recorded command line in order.
func (f *FakeRunner) Commands() []string {
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.String()
	}
	return out
}

// Ran reports whether the exact command line was executed.
func (f *FakeRunner) Ran(line string) bool {
	for _, c := range f.Calls {
		if c.String() == line {
			return true
		}
	}
	return false
}

// RanPrefix reports whether any command line starts with prefix.
func (f *FakeRunner) RanPrefix(prefix string) bool {
	for _, c := range f.Calls {
		if strings.HasPrefix(c.String(), prefix) {
			return true
		}
	}
	return false
}

// Find returns the first call with the exact command line.
func (f *FakeRunner) Find(line string) (Call, bool) {
	for _, c := range f.Calls {
		if c.String() == line {
			return c, true
		}
	}
	return Call{}, false
}

// FakeMounter records mount table operations.
type FakeMounter struct {
	Ops []string
	Err error
}

func (m *FakeMounter) BindMount(source, target string) error {
	m.Ops = append(m.Ops, fmt.Sprintf("bind %s %s", source, target))
	return m.Err
}

func (m *FakeMounter) Unmount(target string) error {
	m.Ops = append(m.Ops, "umount "+target)
	return m.Err
}

func (m *FakeMounter) Sync() {
	m.Ops = append(m.Ops, "sync")
}
