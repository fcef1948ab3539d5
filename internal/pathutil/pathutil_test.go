package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsSafeName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"daily-backup", true},
		{"job_01.v2", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../etc", false},
		{"has space", false},
		{"slash/in/name", false},
		{"trailing/", false},
	}
	for _, tc := range cases {
		if got := IsSafeName(tc.name); got != tc.want {
			t.Errorf("IsSafeName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestJobLockPathRejectsUnsafeNames(t *testing.T) {
	if _, err := JobLockPath("../escape"); err == nil {
		t.Fatal("expected error for unsafe job name")
	}
	path, err := JobLockPath("daily")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/var/run/timevault.daily.pid" {
		t.Errorf("unexpected lock path: %s", path)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !Exists(present) {
		t.Error("expected Exists to report true for a file that was just created")
	}
	if Exists(filepath.Join(dir, "absent")) {
		t.Error("expected Exists to report false for a path that was never created")
	}
}

func TestListEntriesExcludesDotEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := ListEntries(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(entries), entries)
	}
}

func TestCreateTempDirIsUniqueAcrossCalls(t *testing.T) {
	base := t.TempDir()
	first, err := CreateTempDir(base, "probe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := CreateTempDir(base, "probe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Errorf("expected distinct temp dirs, got %s twice", first)
	}
	for _, d := range []string{first, second} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Errorf("expected %s to be a directory", d)
		}
	}
}
