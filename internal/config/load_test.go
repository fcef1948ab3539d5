package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
backupDisks:
  - diskId: primary
    fsUuid: 1111-2222
jobs:
  - name: home
    source: /home
    copies: 7
  - name: archive
    source: /srv/archive
    copies: 3
    run: demand
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(cfg.Jobs))
	}
	if cfg.Jobs[0].RunPolicy != Auto {
		t.Errorf("expected default run policy Auto, got %v", cfg.Jobs[0].RunPolicy)
	}
	if cfg.Jobs[1].RunPolicy != Demand {
		t.Errorf("expected run policy Demand, got %v", cfg.Jobs[1].RunPolicy)
	}
	if cfg.MountBase != DefaultMountBase {
		t.Errorf("expected default mount base, got %s", cfg.MountBase)
	}
}

func TestLoadRejectsDuplicateJobNames(t *testing.T) {
	path := writeConfig(t, `
backupDisks: []
jobs:
  - name: home
    source: /home
    copies: 1
  - name: home
    source: /other
    copies: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate job name")
	}
}

func TestLoadRejectsUnsafeJobName(t *testing.T) {
	path := writeConfig(t, `
backupDisks: []
jobs:
  - name: "not a safe name"
    source: /home
    copies: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsafe job name")
	}
}

func TestLoadRejectsUnknownDiskIDReference(t *testing.T) {
	path := writeConfig(t, `
backupDisks:
  - diskId: primary
    fsUuid: 1111-2222
jobs:
  - name: home
    source: /home
    copies: 1
    diskIds: [ghost]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for disk-id not present in backupDisks")
	}
}

func TestLoadRejectsInvalidRunPolicy(t *testing.T) {
	path := writeConfig(t, `
backupDisks: []
jobs:
  - name: home
    source: /home
    copies: 1
    run: sometimes
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid run policy")
	}
}

func TestLoadRejectsDuplicateFsUUID(t *testing.T) {
	path := writeConfig(t, `
backupDisks:
  - diskId: a
    fsUuid: 1111-2222
  - diskId: b
    fsUuid: 1111-2222
jobs: []
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate fs-uuid")
	}
}

func TestLoadMergesGlobalAndJobExcludes(t *testing.T) {
	path := writeConfig(t, `
backupDisks: []
excludes: ["*.tmp"]
jobs:
  - name: home
    source: /home
    copies: 1
    excludes: ["*.log"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Jobs[0].Excludes) != 2 {
		t.Fatalf("expected global and job excludes merged, got %v", cfg.Jobs[0].Excludes)
	}
}
