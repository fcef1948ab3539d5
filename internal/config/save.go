package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// RawDocument is the mutable, round-trippable form of the config file used
// by administrative operations (enroll/unenroll/rename): it preserves the
// exact wire shape rather than the validated, resolved RuntimeConfig.
type RawDocument struct {
	wire wireConfig
}

// LoadRaw reads path into a RawDocument without running job/disk
// validation, so administrative operations can mutate and rewrite a
// config file even if it wouldn't currently load cleanly as a
// RuntimeConfig.
func LoadRaw(path string) (*RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, timeverr.Messagef("open config %s: %v", path, err)
	}
	var w wireConfig
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, timeverr.NewConfigError(timeverr.ConfigParse, err.Error())
	}
	return &RawDocument{wire: w}, nil
}

// BackupDisks returns the raw document's enrolled disks.
func (d *RawDocument) BackupDisks() []BackupDisk {
	out := make([]BackupDisk, 0, len(d.wire.BackupDisks))
	for _, w := range d.wire.BackupDisks {
		out = append(out, BackupDisk{
			DiskID:       w.DiskID,
			FsUUID:       w.FsUUID,
			Label:        w.Label,
			MountOptions: w.MountOptions,
		})
	}
	return out
}

// MountBase returns the configured (or default) mount base.
func (d *RawDocument) MountBase() string {
	if d.wire.MountBase != nil {
		return *d.wire.MountBase
	}
	return DefaultMountBase
}

// AppendBackupDisk appends a newly enrolled disk to the document.
func (d *RawDocument) AppendBackupDisk(disk BackupDisk) {
	d.wire.BackupDisks = append(d.wire.BackupDisks, wireBackupDisk{
		DiskID:       disk.DiskID,
		FsUUID:       disk.FsUUID,
		Label:        disk.Label,
		MountOptions: disk.MountOptions,
	})
}

// RemoveBackupDisk removes the disk at index i.
func (d *RawDocument) RemoveBackupDisk(i int) {
	d.wire.BackupDisks = append(d.wire.BackupDisks[:i], d.wire.BackupDisks[i+1:]...)
}

// RenameBackupDisk updates the disk-id of the entry at index i in place.
func (d *RawDocument) RenameBackupDisk(i int, newID string) {
	d.wire.BackupDisks[i].DiskID = newID
}

// FindByDiskID returns the indices of every entry whose disk-id matches.
func (d *RawDocument) FindByDiskID(diskID string) []int {
	var idx []int
	for i, w := range d.wire.BackupDisks {
		if w.DiskID == diskID {
			idx = append(idx, i)
		}
	}
	return idx
}

// FindByFsUUID returns the index of the entry with the given fs-uuid, or
// -1 if none matches.
func (d *RawDocument) FindByFsUUID(fsUUID string) int {
	for i, w := range d.wire.BackupDisks {
		if w.FsUUID == fsUUID {
			return i
		}
	}
	return -1
}

// Save writes the document back to path as a whole-file replacement: the
// new content is written to a sibling temp file and renamed into place so
// a crash mid-write never leaves a truncated config file.
func (d *RawDocument) Save(path string) error {
	data, err := yaml.Marshal(&d.wire)
	if err != nil {
		return timeverr.Messagef("encode config: %v", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".timevault-config-*.tmp")
	if err != nil {
		return timeverr.Messagef("create temp config in %s: %v", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return timeverr.Messagef("write %s: %v", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return timeverr.Messagef("close %s: %v", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return timeverr.Messagef("replace %s: %v", path, err)
	}
	return nil
}
