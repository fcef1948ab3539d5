package main

import (
	"fmt"
	"path/filepath"

	"github.com/johnjoeallen/timevault/internal/cascade"
	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/diskreg"
	"github.com/johnjoeallen/timevault/internal/fstype"
	"github.com/johnjoeallen/timevault/internal/identity"
	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/procrun"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// newBackupMountVerify composes the mount-then-verify-identity-and-fstype
// sequence every disk in a cascade run must pass before jobs run against
// it: this composition belongs to the driver, not to internal/cascade,
// since cascade itself has no opinion on filesystem types or identity
// files.
func newBackupMountVerify(mode procrun.RunMode) cascade.MountVerify {
	return func(disk config.BackupDisk, mountBase, options string) (string, func(), error) {
		if mode.DryRun {
			return filepath.Join(mountBase, disk.FsUUID), func() {}, nil
		}

		guard, mountpoint, err := diskreg.MountDiskGuarded(disk, mountBase, options)
		if err != nil {
			return "", nil, err
		}
		release := func() { guard.Release() }

		if err := verifyMountedDisk(disk, mountpoint); err != nil {
			release()
			return "", nil, err
		}
		return mountpoint, release, nil
	}
}

func verifyMountedDisk(disk config.BackupDisk, mountpoint string) error {
	identityPath := identity.Path(mountpoint)
	if !pathutil.Exists(identityPath) {
		return timeverr.NewDiskError(timeverr.IdentityMismatch,
			fmt.Sprintf("file missing at %s; expected diskId %s fsUuid %s (run `timevault disk enroll ...`)",
				identityPath, disk.DiskID, disk.FsUUID))
	}
	id, err := identity.Read(identityPath)
	if err != nil {
		return timeverr.Messagef("identity file invalid: %v", err)
	}
	if err := identity.Verify(id, disk.DiskID, disk.FsUUID); err != nil {
		return err
	}

	device := diskreg.DevicePathForUUID(disk.FsUUID)
	fsType, err := fstype.Detect(device)
	if err != nil {
		return err
	}
	if !fsType.IsAllowed() {
		return timeverr.NewDiskError(timeverr.Other, "unsupported filesystem type "+fsType.String())
	}
	if id.FsType != nil && *id.FsType != fsType.String() {
		return timeverr.NewDiskError(timeverr.IdentityMismatch,
			fmt.Sprintf("fsType mismatch: expected %s, got %s", *id.FsType, fsType.String()))
	}
	return nil
}
