package execx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner abstracts command execution so packages can be unit-tested without
// touching real system networking (ip/ovs-vsctl/tc).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewOSRunner(stdout, stderr io.Writer) *OSRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &OSRunner{Stdout: stdout, Stderr: stderr}
}

func (r *OSRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = r.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return err
	}
	if stderr.Len() > 0 && r.Stderr != nil {
		_, _ = io.Copy(r.Stderr, &stderr)
	}
	return nil
}

// Output runs a command and returns its combined output. On failure the
// returned error is an *ExitError carrying that output.
func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", &ExitError{Cmd: commandLine(name, args), Output: strings.TrimSpace(buf.String()), Err: err}
	}
	return strings.TrimSpace(buf.String()), nil
}

// ExitError reports a failed command together with what it printed.
type ExitError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, e.Output)
}

func (e *ExitError) Unwrap() error { return e.Err }

// IsNotExist reports whether err looks like iproute2/ovs complaining about a
// missing device, namespace or bridge.
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"Cannot find device", "does not exist", "No such file", "no bridge named", "not found"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsExist reports whether err is an "already exists" failure.
func IsExist(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "File exists") || strings.Contains(err.Error(), "already exists"))
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
