package execx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

func TestStart_WritesLogAndFinishes(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	logPath := filepath.Join(t.TempDir(), "nested", "h1_output.txt")
	p, err := Start("h1", JobSpec{Name: "echo", Argv: []string{"sh", "-c", "echo hello"}, LogPath: logPath})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Host != "h1" || p.Started.IsZero() {
		t.Fatalf("handle=%+v", p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p.State() != StateFinished {
		t.Fatalf("state=%s", p.State())
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(data)) != "hello" {
		t.Fatalf("log=%q", string(data))
	}
}

func TestTerminate_KillsProcessTree(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	logPath := filepath.Join(t.TempDir(), "sleep.txt")
	p, err := Start("h4", JobSpec{Name: "sleeper", Argv: []string{"sh", "-c", "sleep 30 & sleep 30; wait"}, LogPath: logPath})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.State() != StateRunning {
		t.Fatalf("state=%s", p.State())
	}

	if err := p.Terminate(time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("process not done after Terminate")
	}
	if p.State() != StateKilled {
		t.Fatalf("state=%s", p.State())
	}
}

func TestTerminate_FinishedIsNoop(t *testing.T) {
	t.Parallel()

	p, err := Start("h2", JobSpec{Name: "true", Argv: []string{"true"}, LogPath: filepath.Join(t.TempDir(), "x.txt")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Done()
	if err := p.Terminate(10 * time.Millisecond); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if p.State() != StateFinished {
		t.Fatalf("state=%s", p.State())
	}
}

func TestStart_RejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	if _, err := Start("h1", JobSpec{Name: "empty", LogPath: filepath.Join(t.TempDir(), "x.txt")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsNotExist(t *testing.T) {
	t.Parallel()

	if !IsNotExist(&ExitError{Cmd: "ip netns del x", Output: "Cannot remove namespace file: No such file or directory"}) {
		t.Fatal("expected not-exist")
	}
	if IsNotExist(nil) {
		t.Fatal("nil is not not-exist")
	}
	if !IsExist(&ExitError{Cmd: "ip link add", Output: "RTNETLINK answers: File exists"}) {
		t.Fatal("expected exist")
	}
}
