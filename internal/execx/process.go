package execx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// State is the lifecycle of a background job.
type State string

const (
	StateSpawned  State = "spawned"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateKilled   State = "killed"
)

// JobSpec describes a background job. Stdout and stderr both go to LogPath.
type JobSpec struct {
	Name    string
	Argv    []string
	Dir     string
	Env     []string
	LogPath string
}

// Process is a handle on a detached background job. The child runs in its
// own process group so the whole tree can be signalled on teardown.
type Process struct {
	Name    string
	Host    string
	LogPath string
	Started time.Time

	cmd  *exec.Cmd
	done chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

// Start launches spec in the background and returns once the child exists.
// The job outlives any caller context; stop it with Terminate.
func Start(host string, spec JobSpec) (*Process, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("job %q: empty command", spec.Name)
	}
	if spec.LogPath == "" {
		return nil, fmt.Errorf("job %q: log path is required", spec.Name)
	}
	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
		return nil, err
	}
	logFile, err := os.Create(spec.LogPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Process{
		Name:    spec.Name,
		Host:    host,
		LogPath: spec.LogPath,
		cmd:     cmd,
		done:    make(chan struct{}),
		state:   StateSpawned,
	}
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start %s: %w", commandLine(spec.Argv[0], spec.Argv[1:]), err)
	}
	p.Started = time.Now()
	p.setState(StateRunning)

	go func() {
		err := cmd.Wait()
		_ = logFile.Close()
		p.mu.Lock()
		p.err = err
		if p.state != StateKilled {
			p.state = StateFinished
		}
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// Pid returns the child's process ID.
func (p *Process) Pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the child's exit error once it has finished.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the child exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate sends SIGTERM to the job's process tree, escalating to SIGKILL
// if it is still alive after grace. It is a no-op for finished jobs.
func (p *Process) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.setState(StateKilled)

	p.signalTree(unix.SIGTERM)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	p.signalTree(unix.SIGKILL)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("job %q (pid %d) did not exit after SIGKILL", p.Name, p.Pid())
	}
}

// signalTree signals the process group and every descendant, including
// ones that moved to a different group.
func (p *Process) signalTree(sig syscall.Signal) {
	pid := p.Pid()
	if pid <= 0 {
		return
	}
	descendants := collectDescendants(int32(pid))
	_ = unix.Kill(-pid, sig)
	for _, d := range descendants {
		_ = d.SendSignal(sig)
	}
}

func collectDescendants(pid int32) []*process.Process {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := cur.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
