package pidfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stashd.pid")
	pf := New(path)

	if err := pf.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	running, pid, err := pf.CheckRunning()
	if err != nil {
		t.Fatalf("CheckRunning failed: %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Errorf("expected own pid %d running, got %d running=%v", os.Getpid(), pid, running)
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file still exists after Remove")
	}
}

func TestCreateRefusesLiveInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stashd.pid")

	if err := New(path).Create(); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	// Same live pid from a second PIDFile looks like a running instance.
	if err := New(path).Create(); err == nil {
		t.Error("expected second Create to refuse")
	}
}

func TestCreateReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stashd.pid")

	// Pid 1 is init; use an absurdly high pid that cannot be alive.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pf := New(path)
	if err := pf.Create(); err != nil {
		t.Fatalf("Create over stale file failed: %v", err)
	}

	_, pid, err := pf.CheckRunning()
	if err != nil {
		t.Fatalf("CheckRunning failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("stale file not replaced: pid %d", pid)
	}
}

func TestRemoveMissingFileIsNoop(t *testing.T) {
	pf := New(filepath.Join(t.TempDir(), "stashd.pid"))
	if err := pf.Remove(); err != nil {
		t.Errorf("Remove of missing file failed: %v", err)
	}
}
