package admin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/diskdiscover"
	"github.com/johnjoeallen/timevault/internal/identity"
)

func writeRawConfig(t *testing.T, contents string) *config.RawDocument {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	doc, err := config.LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw: %v", err)
	}
	return doc
}

func TestHumanSize(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  string
	}{
		{0, "0.1 MB"},
		{50_000, "0.1 MB"},
		{5_000_000, "5.00 MB"},
		{50_000_000, "50.0 MB"},
		{500_000_000, "500 MB"},
		{5_000_000_000, "5.00 GB"},
		{5_000_000_000_000, "5.00 TB"},
		{5_000_000_000_000_000, "5.00 PB"},
	}
	for _, tc := range cases {
		if got := HumanSize(tc.bytes); got != tc.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tc.bytes, got, tc.want)
		}
	}
}

func TestSelectEntryByDiskID(t *testing.T) {
	doc := writeRawConfig(t, `
backupDisks:
  - diskId: primary
    fsUuid: 1111-2222
  - diskId: backup2
    fsUuid: 3333-4444
jobs: []
`)
	idx, fsUUID, diskID, err := selectEntry(doc, "backup2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != 1 || fsUUID != "3333-4444" || diskID != "backup2" {
		t.Errorf("got (%d, %s, %s), want (1, 3333-4444, backup2)", idx, fsUUID, diskID)
	}
}

func TestSelectEntryAmbiguousDiskID(t *testing.T) {
	doc := writeRawConfig(t, `
backupDisks:
  - diskId: dup
    fsUuid: 1111-2222
  - diskId: dup
    fsUuid: 3333-4444
jobs: []
`)
	if _, _, _, err := selectEntry(doc, "dup", ""); err == nil {
		t.Fatal("expected error for ambiguous disk-id")
	}
}

func TestSelectEntryUnknownDiskID(t *testing.T) {
	doc := writeRawConfig(t, `
backupDisks: []
jobs: []
`)
	if _, _, _, err := selectEntry(doc, "ghost", ""); err == nil {
		t.Fatal("expected error for unknown disk-id")
	}
}

func TestSelectEntryByFsUUIDNotYetEnrolled(t *testing.T) {
	doc := writeRawConfig(t, `
backupDisks: []
jobs: []
`)
	idx, _, _, err := selectEntry(doc, "", "9999-0000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != -1 {
		t.Errorf("expected -1 for an fs-uuid with no config match, got %d", idx)
	}
}

func TestDuplicateConfiguredIDs(t *testing.T) {
	disks := []config.BackupDisk{
		{DiskID: "a", FsUUID: "1111"},
		{DiskID: "b", FsUUID: "2222"},
		{DiskID: "a", FsUUID: "3333"},
	}
	got := duplicateConfiguredIDs(disks)
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("duplicateConfiguredIDs = %v, want [a]", got)
	}
}

func TestDuplicateDiscoveredIDs(t *testing.T) {
	disks := []config.BackupDisk{
		{DiskID: "a", FsUUID: "1111"},
	}
	candidates := []diskdiscover.Candidate{
		{Identity: &identity.Identity{DiskID: "a", FsUUID: "9999"}},
	}
	got := duplicateDiscoveredIDs(disks, candidates)
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("duplicateDiscoveredIDs = %v, want [a] (same disk-id, mismatched fs-uuid)", got)
	}
}

func TestDuplicateDiscoveredIDsAgreeingIsNotDuplicate(t *testing.T) {
	disks := []config.BackupDisk{
		{DiskID: "a", FsUUID: "1111"},
	}
	candidates := []diskdiscover.Candidate{
		{Identity: &identity.Identity{DiskID: "a", FsUUID: "1111"}},
	}
	got := duplicateDiscoveredIDs(disks, candidates)
	if len(got) != 0 {
		t.Errorf("expected no duplicates when discovered identity matches configured entry, got %v", got)
	}
}

func TestUnenrollRequiresASelector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backupDisks: []\njobs: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Unenroll(path, UnenrollArgs{}); err == nil {
		t.Fatal("expected error when neither --disk-id nor --fs-uuid is given")
	}
}

func TestUnenrollRejectsUnsafeDiskID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backupDisks: []\njobs: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Unenroll(path, UnenrollArgs{DiskID: "../escape"}); err == nil {
		t.Fatal("expected error for unsafe disk-id")
	}
}

func TestUnenrollRemovesConfiguredDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backupDisks:\n  - diskId: primary\n    fsUuid: 1111-2222\njobs: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Unenroll(path, UnenrollArgs{DiskID: "primary"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, err := config.LoadRaw(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(doc.BackupDisks()) != 0 {
		t.Errorf("expected backup disk to be removed, got %v", doc.BackupDisks())
	}
}
