package joblock

import (
	"os"
	"testing"

	"github.com/johnjoeallen/timevault/internal/pathutil"
)

func TestDryRunAcquireIsANoop(t *testing.T) {
	lock, err := Acquire("dry-run-job", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock != nil {
		t.Errorf("expected nil lock for a dry run, got %+v", lock)
	}
	lock.Release()
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	const job = "joblock-roundtrip"
	path, err := pathutil.JobLockPath(job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(path)

	lock, err := Acquire(job, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pathutil.Exists(path) {
		t.Fatal("expected lock file to exist after Acquire")
	}
	lock.Release()
	if pathutil.Exists(path) {
		t.Error("expected lock file to be removed after Release")
	}
}

func TestSecondAcquireFailsWhileFirstHeld(t *testing.T) {
	const job = "joblock-contended"
	path, err := pathutil.JobLockPath(job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(path)

	first, err := Acquire(job, false)
	if err != nil {
		t.Fatalf("unexpected error acquiring first lock: %v", err)
	}
	defer first.Release()

	if _, err := Acquire(job, false); err == nil {
		t.Fatal("expected second acquire to fail while the first holder's PID is still alive")
	}
}

func TestAcquireReclaimsLockFromDeadPID(t *testing.T) {
	const job = "joblock-stale"
	path, err := pathutil.JobLockPath(job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(path)

	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("seed stale lock file: %v", err)
	}

	lock, err := Acquire(job, false)
	if err != nil {
		t.Fatalf("expected a lock held by a nonexistent PID to be reclaimed: %v", err)
	}
	lock.Release()
}
