// Package diskreg resolves configured backup disks against the physical
// disks currently connected to the host, and mounts them under guard.
package diskreg

import (
	"os"
	"path/filepath"

	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/mount"
	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

const (
	DefaultBackupMountOpts  = "rw,nodev,nosuid,noexec"
	DefaultRestoreMountOpts = "ro,nodev,nosuid,noexec"
)

const byUUIDDir = "/dev/disk/by-uuid"

// MountOptionsForBackup returns disk's configured mount options, or the
// restrictive backup default if none were set.
func MountOptionsForBackup(disk config.BackupDisk) string {
	if disk.MountOptions != nil {
		return *disk.MountOptions
	}
	return DefaultBackupMountOpts
}

// MountOptionsForRestore always returns the read-only restore default:
// restore mounts never honor a disk's configured backup mount options.
func MountOptionsForRestore(config.BackupDisk) string {
	return DefaultRestoreMountOpts
}

// DevicePathForUUID returns the stable by-uuid device symlink path for a
// filesystem UUID. It does not check existence.
func DevicePathForUUID(fsUUID string) string {
	return filepath.Join(byUUIDDir, fsUUID)
}

// ConnectedDisksInOrder returns the subset of disks whose by-uuid device
// symlink currently exists, preserving config order.
func ConnectedDisksInOrder(disks []config.BackupDisk) []config.BackupDisk {
	var out []config.BackupDisk
	for _, d := range disks {
		if pathutil.Exists(DevicePathForUUID(d.FsUUID)) {
			out = append(out, d)
		}
	}
	return out
}

func connectedUUIDSet(disks []config.BackupDisk) map[string]struct{} {
	set := make(map[string]struct{}, len(disks))
	for _, d := range ConnectedDisksInOrder(disks) {
		set[d.FsUUID] = struct{}{}
	}
	return set
}

// SelectDisk resolves which single configured disk a job should run
// against: a non-empty diskID pins the choice (and requires that disk be
// connected); otherwise exactly one connected disk must exist.
func SelectDisk(disks []config.BackupDisk, diskID string) (config.BackupDisk, error) {
	return selectFromConnected(disks, diskID, connectedUUIDSet(disks))
}

func selectFromConnected(disks []config.BackupDisk, diskID string, connected map[string]struct{}) (config.BackupDisk, error) {
	if len(disks) == 0 {
		return config.BackupDisk{}, timeverr.NewDiskError(timeverr.Other,
			"no backup disks enrolled; run `timevault disk enroll ...`")
	}
	if diskID != "" {
		disk, ok := findByID(disks, diskID)
		if !ok {
			return config.BackupDisk{}, timeverr.NewDiskError(timeverr.Other,
				"disk-id "+diskID+" not found in config")
		}
		if _, ok := connected[disk.FsUUID]; !ok {
			return config.BackupDisk{}, timeverr.NewDiskError(timeverr.Other,
				"disk-id "+disk.DiskID+" not connected")
		}
		return disk, nil
	}
	var matches []config.BackupDisk
	for _, d := range disks {
		if _, ok := connected[d.FsUUID]; ok {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return config.BackupDisk{}, timeverr.NewDiskError(timeverr.NoDiskConnected, "")
	case 1:
		return matches[0], nil
	default:
		return config.BackupDisk{}, timeverr.NewDiskError(timeverr.MultipleDisksConnected, "")
	}
}

// SelectFirstConnected resolves a disk the same way SelectDisk does, but
// when diskID is empty it picks the first connected disk in config order
// instead of requiring exactly one, giving a deterministic choice among
// several connected disks.
func SelectFirstConnected(disks []config.BackupDisk, diskID string) (config.BackupDisk, error) {
	connected := ConnectedDisksInOrder(disks)
	if len(disks) == 0 {
		return config.BackupDisk{}, timeverr.NewDiskError(timeverr.Other,
			"no backup disks enrolled; run `timevault disk enroll ...`")
	}
	if diskID != "" {
		disk, ok := findByID(disks, diskID)
		if !ok {
			return config.BackupDisk{}, timeverr.NewDiskError(timeverr.Other,
				"disk-id "+diskID+" not found in config")
		}
		found := false
		for _, c := range connected {
			if c.FsUUID == disk.FsUUID {
				found = true
				break
			}
		}
		if !found {
			return config.BackupDisk{}, timeverr.NewDiskError(timeverr.Other,
				"disk-id "+disk.DiskID+" not connected")
		}
		return disk, nil
	}
	if len(connected) == 0 {
		return config.BackupDisk{}, timeverr.NewDiskError(timeverr.NoDiskConnected, "")
	}
	return connected[0], nil
}

func findByID(disks []config.BackupDisk, diskID string) (config.BackupDisk, bool) {
	for _, d := range disks {
		if d.DiskID == diskID {
			return d, true
		}
	}
	return config.BackupDisk{}, false
}

// EnsureDiskNotMounted fails if device already appears in the mount table.
func EnsureDiskNotMounted(device string) error {
	mounted, err := mount.DeviceIsMounted(device)
	if err != nil {
		return err
	}
	if mounted {
		return timeverr.NewDiskError(timeverr.Other, "device "+device+" is already mounted")
	}
	return nil
}

// MountDiskGuarded mounts disk's device under mountBase/<fsUUID>, creating
// the mountpoint directory (mode 0700) if needed, and returns a Guard that
// unmounts it on release along with the resolved mountpoint path.
func MountDiskGuarded(disk config.BackupDisk, mountBase, options string) (*mount.Guard, string, error) {
	device := DevicePathForUUID(disk.FsUUID)
	if !pathutil.Exists(device) {
		return nil, "", timeverr.NewDiskError(timeverr.Other, "device "+device+" not found")
	}
	if err := EnsureDiskNotMounted(device); err != nil {
		return nil, "", err
	}
	if err := pathutil.EnsureBaseDir(mountBase); err != nil {
		return nil, "", err
	}
	mountpoint := filepath.Join(mountBase, disk.FsUUID)
	info, err := os.Stat(mountpoint)
	switch {
	case err == nil && !info.IsDir():
		return nil, "", timeverr.NewDiskError(timeverr.Other,
			"mountpoint "+mountpoint+" exists and is not a directory")
	case err != nil && os.IsNotExist(err):
		if err := os.MkdirAll(mountpoint, 0o700); err != nil {
			return nil, "", timeverr.Messagef("create %s: %v", mountpoint, err)
		}
		if err := os.Chmod(mountpoint, 0o700); err != nil {
			return nil, "", timeverr.Messagef("chmod %s: %v", mountpoint, err)
		}
	case err != nil:
		return nil, "", timeverr.Messagef("stat %s: %v", mountpoint, err)
	}

	already, err := mount.MountpointIsMounted(mountpoint)
	if err != nil {
		return nil, "", err
	}
	if already {
		return nil, "", timeverr.NewDiskError(timeverr.Other, "mountpoint "+mountpoint+" is already in use")
	}

	if err := mount.MountDevice(device, mountpoint, options); err != nil {
		return nil, "", err
	}
	return mount.NewGuard(mountpoint, false), mountpoint, nil
}
