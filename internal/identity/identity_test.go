package identity

import (
	"path/filepath"
	"testing"

	"github.com/johnjoeallen/timevault/internal/fstype"
)

func TestVerifyAcceptsMatchingIdentity(t *testing.T) {
	id := New("diskA", "uuid-123", fstype.Ext4)
	if err := Verify(id, "diskA", "uuid-123"); err != nil {
		t.Fatalf("expected identity freshly created by New to verify against its own fields: %v", err)
	}
}

func TestVerifyRejectsDiskIDMismatch(t *testing.T) {
	id := New("diskA", "uuid-123", fstype.Ext4)
	err := Verify(id, "diskB", "uuid-123")
	if err == nil {
		t.Fatal("expected error for mismatched disk-id")
	}
}

func TestVerifyRejectsFsUUIDMismatch(t *testing.T) {
	id := New("diskA", "uuid-123", fstype.Ext4)
	if err := Verify(id, "diskA", "uuid-999"); err == nil {
		t.Fatal("expected error for mismatched fs-uuid")
	}
}

func TestVerifyRejectsUnknownVersion(t *testing.T) {
	id := New("diskA", "uuid-123", fstype.Ext4)
	id.Version = Version + 1
	if err := Verify(id, "diskA", "uuid-123"); err == nil {
		t.Fatal("expected error for a version this build does not understand")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	original := New("diskA", "uuid-123", fstype.Btrfs)

	if err := Write(path, original); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	loaded, err := Read(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if loaded.DiskID != original.DiskID || loaded.FsUUID != original.FsUUID {
		t.Errorf("round trip mismatch: got %+v, want %+v", loaded, original)
	}
	if loaded.FsType == nil || *loaded.FsType != "btrfs" {
		t.Errorf("expected fsType btrfs to round-trip, got %v", loaded.FsType)
	}
}

func TestPathJoinsIdentityFileName(t *testing.T) {
	got := Path("/mnt/disk")
	want := filepath.Join("/mnt/disk", ".timevault")
	if got != want {
		t.Errorf("Path(...) = %s, want %s", got, want)
	}
}
