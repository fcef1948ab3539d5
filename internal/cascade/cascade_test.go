package cascade

import (
	"testing"

	"github.com/johnjoeallen/timevault/internal/config"
)

func disk(id, uuid string) config.BackupDisk {
	return config.BackupDisk{DiskID: id, FsUUID: uuid}
}

func TestAllowedDisksWithNoRestrictionReturnsAllConnected(t *testing.T) {
	connected := []config.BackupDisk{disk("a", "uuid-a"), disk("b", "uuid-b")}
	job := config.Job{Name: "home"}
	got := allowedDisks(job, connected, nil)
	if len(got) != 2 {
		t.Fatalf("got %d disks, want 2", len(got))
	}
}

func TestAllowedDisksFiltersByDiskIDs(t *testing.T) {
	connected := []config.BackupDisk{disk("a", "uuid-a"), disk("b", "uuid-b"), disk("c", "uuid-c")}
	job := config.Job{Name: "home", DiskIDs: []string{"b", "c"}}
	got := allowedDisks(job, connected, nil)
	if len(got) != 2 || got[0].DiskID != "b" || got[1].DiskID != "c" {
		t.Fatalf("got %v, want disks b and c in connected order", got)
	}
}

func TestAllowedDisksExcludesDisconnectedDiskIDs(t *testing.T) {
	connected := []config.BackupDisk{disk("a", "uuid-a")}
	job := config.Job{Name: "home", DiskIDs: []string{"a", "ghost"}}
	got := allowedDisks(job, connected, nil)
	if len(got) != 1 || got[0].DiskID != "a" {
		t.Fatalf("got %v, want only disk a", got)
	}
}

func TestPlanFailsWhenJobHasNoConnectedDisk(t *testing.T) {
	jobs := []config.Job{{Name: "home", DiskIDs: []string{"never-connected"}}}
	disks := []config.BackupDisk{disk("primary", "uuid-primary")}
	if _, _, err := Plan(jobs, disks); err == nil {
		t.Fatal("expected error when no configured disk is actually connected")
	}
}

func TestWithExtraExcludesAppendsWithoutMutatingInput(t *testing.T) {
	jobs := []config.Job{{Name: "home", Excludes: []string{"*.log"}}}
	got := withExtraExcludes(jobs, []string{"*.cache"})
	if len(got[0].Excludes) != 2 || got[0].Excludes[0] != "*.log" || got[0].Excludes[1] != "*.cache" {
		t.Fatalf("got excludes %v, want [*.log *.cache]", got[0].Excludes)
	}
	if len(jobs[0].Excludes) != 1 {
		t.Errorf("expected the original job's excludes slice to be untouched, got %v", jobs[0].Excludes)
	}
}

func TestWithExtraExcludesNoopOnEmpty(t *testing.T) {
	jobs := []config.Job{{Name: "home", Excludes: []string{"*.log"}}}
	got := withExtraExcludes(jobs, nil)
	if len(got) != 1 || len(got[0].Excludes) != 1 || got[0].Excludes[0] != "*.log" {
		t.Fatalf("got %v, want excludes unchanged", got)
	}
}

func TestWithOnlyExcludesDropsExistingExcludes(t *testing.T) {
	jobs := []config.Job{{Name: "home", Excludes: []string{"*.log", "*.tmp"}}}
	got := withOnlyExcludes(jobs, nil)
	if len(got[0].Excludes) != 0 {
		t.Errorf("expected every configured exclude to be dropped, got %v", got[0].Excludes)
	}
	if len(jobs[0].Excludes) != 2 {
		t.Errorf("expected the original job's excludes to be untouched, got %v", jobs[0].Excludes)
	}
}

func TestPlanFailsForEveryJobWhenNoDiskIsConnected(t *testing.T) {
	// No real /dev/disk/by-uuid entries exist in the test environment, so
	// Plan necessarily fails at the "no connected allowed disk" check for
	// any job. This exercises that every job hits the same failure rather
	// than a partial, inconsistent plan.
	jobs := []config.Job{
		{Name: "home"},
		{Name: "archive"},
	}
	disks := []config.BackupDisk{disk("primary", "uuid-primary")}
	_, _, err := Plan(jobs, disks)
	if err == nil {
		t.Fatal("expected error: no disks are connected in the test environment")
	}
}
