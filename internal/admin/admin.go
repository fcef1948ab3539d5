// Package admin implements the administrative disk lifecycle: enroll,
// rename, unenroll, discover, and the operator-facing restore mount and
// unmount commands. Unlike the backup engine it mutates the config file
// in place and talks to disks that are not already known-good.
package admin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/diskdiscover"
	"github.com/johnjoeallen/timevault/internal/diskreg"
	"github.com/johnjoeallen/timevault/internal/fstype"
	"github.com/johnjoeallen/timevault/internal/identity"
	"github.com/johnjoeallen/timevault/internal/mount"
	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// diskAddAllowedEntries lists the directory entries tolerated on an
// otherwise-empty candidate filesystem (ext* reserves lost+found on mkfs).
var diskAddAllowedEntries = map[string]struct{}{"lost+found": {}}

// ResolveFsUUID returns fsUUID directly if set, otherwise resolves device
// to its filesystem UUID by scanning /dev/disk/by-uuid for the symlink
// that canonicalizes to the same real device.
func ResolveFsUUID(fsUUID, device string) (string, error) {
	if fsUUID != "" {
		return fsUUID, nil
	}
	if device == "" {
		return "", timeverr.Messagef("disk enroll requires --fs-uuid or --device")
	}
	deviceReal, err := filepath.EvalSymlinks(device)
	if err != nil {
		return "", timeverr.Messagef("resolve %s: %v", device, err)
	}
	entries, err := os.ReadDir("/dev/disk/by-uuid")
	if err != nil {
		return "", timeverr.Messagef("read /dev/disk/by-uuid: %v", err)
	}
	for _, e := range entries {
		linkPath := filepath.Join("/dev/disk/by-uuid", e.Name())
		target, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			continue
		}
		if target == deviceReal {
			return e.Name(), nil
		}
	}
	return "", timeverr.Messagef("no filesystem UUID found for device %s", device)
}

// EnrollArgs carries the operator-supplied parameters for Enroll.
type EnrollArgs struct {
	DiskID       string
	FsUUID       string
	Device       string
	Label        *string
	MountOptions *string
	Force        bool
}

// Enroll binds a physical disk to a disk-id in the config file: the disk is
// mounted read-write, its identity file is read or created, and the
// resulting entry is appended to the config. A disk with an existing
// identity must have its disk-id confirmed by --force before being
// reassigned.
func Enroll(configPath string, args EnrollArgs) error {
	doc, err := config.LoadRaw(configPath)
	if err != nil {
		return err
	}

	fsUUID, err := ResolveFsUUID(args.FsUUID, args.Device)
	if err != nil {
		return err
	}
	if doc.FindByFsUUID(fsUUID) >= 0 {
		return timeverr.NewDiskError(timeverr.Other, "fs-uuid "+fsUUID+" already enrolled")
	}

	device := diskreg.DevicePathForUUID(fsUUID)
	if !pathutil.Exists(device) {
		return timeverr.NewDiskError(timeverr.Other, "device "+device+" not found")
	}
	if err := diskreg.EnsureDiskNotMounted(device); err != nil {
		return err
	}

	fsType, err := fstype.Detect(device)
	if err != nil {
		return err
	}
	if fsType.IsRejected() || !fsType.IsAllowed() {
		return timeverr.NewDiskError(timeverr.Other, "unsupported filesystem type "+fsType.String())
	}

	mountBase := doc.MountBase()
	if err := pathutil.EnsureBaseDir(mountBase); err != nil {
		return err
	}
	mountpoint, err := pathutil.CreateTempDir(mountBase, "add")
	if err != nil {
		return err
	}
	if err := mount.MountDevice(device, mountpoint, diskreg.DefaultBackupMountOpts); err != nil {
		return err
	}
	guard := mount.NewGuard(mountpoint, false)
	defer guard.Release()

	identityPath := identity.Path(mountpoint)
	diskID := strings.TrimSpace(args.DiskID)
	existingIdentity := false
	if pathutil.Exists(identityPath) {
		existing, err := identity.Read(identityPath)
		if err != nil {
			return err
		}
		if existing.FsUUID != fsUUID {
			return timeverr.NewDiskError(timeverr.Other,
				fmt.Sprintf("fsUuid mismatch: expected %s, got %s", fsUUID, existing.FsUUID))
		}
		switch {
		case diskID != "" && !args.Force:
			if diskID != existing.DiskID {
				return timeverr.NewDiskError(timeverr.Other,
					fmt.Sprintf("disk-id %s does not match identity disk-id %s (use --force to reinitialize)",
						diskID, existing.DiskID))
			}
		case diskID == "":
			diskID = existing.DiskID
		}
		existingIdentity = !args.Force
	} else if diskID == "" {
		return timeverr.Messagef("disk enroll requires --disk-id")
	}

	if !pathutil.IsSafeName(diskID) {
		return timeverr.Messagef("disk-id %s must use only letters, digits, '.', '-', '_'", diskID)
	}
	if len(doc.FindByDiskID(diskID)) > 0 {
		return timeverr.NewDiskError(timeverr.Other, "disk-id "+diskID+" already enrolled")
	}

	if !existingIdentity {
		empty, err := isDiskEmpty(mountpoint)
		if err != nil {
			return err
		}
		if !empty && !args.Force {
			entries, err := listUnexpectedEntries(mountpoint)
			if err != nil {
				return err
			}
			return timeverr.NewDiskError(timeverr.DiskNotEmpty, strings.Join(entries, ", "))
		}
	}

	if args.Force || !existingIdentity {
		if err := identity.Write(identityPath, identity.New(diskID, fsUUID, fsType)); err != nil {
			return err
		}
	}
	guard.Release()

	doc.AppendBackupDisk(config.BackupDisk{
		DiskID:       diskID,
		FsUUID:       fsUUID,
		Label:        args.Label,
		MountOptions: args.MountOptions,
	})
	return doc.Save(configPath)
}

func isDiskEmpty(root string) (bool, error) {
	entries, err := pathutil.ListEntries(root)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if _, ok := diskAddAllowedEntries[e]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func listUnexpectedEntries(root string) ([]string, error) {
	entries, err := pathutil.ListEntries(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if _, ok := diskAddAllowedEntries[e]; !ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// RenameArgs selects the disk to rename and the disk-id to give it.
type RenameArgs struct {
	DiskID string
	FsUUID string
	NewID  string
}

// Rename assigns a new disk-id to an enrolled disk, updating both the
// config entry and (if the disk is currently connected) its on-disk
// identity file. A disk-id-only selector must be unique in the config;
// an fs-uuid selector may optionally be narrowed by disk-id.
func Rename(configPath string, args RenameArgs) error {
	if !pathutil.IsSafeName(args.NewID) {
		return timeverr.Messagef("disk-id %s must use only letters, digits, '.', '-', '_'", args.NewID)
	}
	if args.DiskID == "" && args.FsUUID == "" {
		return timeverr.Messagef("disk rename requires --disk-id or --fs-uuid")
	}

	doc, err := config.LoadRaw(configPath)
	if err != nil {
		return err
	}
	if len(doc.FindByDiskID(args.NewID)) > 0 {
		return timeverr.Messagef("disk-id %s already exists", args.NewID)
	}

	idx, fsUUID, oldID, err := selectEntry(doc, args.DiskID, args.FsUUID)
	if err != nil {
		return err
	}

	if idx >= 0 {
		doc.RenameBackupDisk(idx, args.NewID)
		if err := doc.Save(configPath); err != nil {
			return err
		}
		device := diskreg.DevicePathForUUID(fsUUID)
		if !pathutil.Exists(device) {
			return nil
		}
		disks := doc.BackupDisks()
		disk := disks[idx]
		guard, mountpoint, err := diskreg.MountDiskGuarded(disk, doc.MountBase(), diskreg.MountOptionsForBackup(disk))
		if err != nil {
			return err
		}
		defer guard.Release()
		return updateIdentityDiskID(mountpoint, fsUUID, oldID, args.NewID)
	}

	if args.FsUUID == "" {
		return timeverr.Messagef("disk rename requires --fs-uuid when disk-id is not in config")
	}
	device := diskreg.DevicePathForUUID(args.FsUUID)
	if !pathutil.Exists(device) {
		return timeverr.NewDiskError(timeverr.Other, "device "+device+" not found")
	}
	if err := diskreg.EnsureDiskNotMounted(device); err != nil {
		return err
	}
	mountBase := doc.MountBase()
	if err := pathutil.EnsureBaseDir(mountBase); err != nil {
		return err
	}
	mountpoint, err := pathutil.CreateTempDir(mountBase, "rename")
	if err != nil {
		return err
	}
	if err := mount.MountDevice(device, mountpoint, diskreg.DefaultBackupMountOpts); err != nil {
		return err
	}
	guard := mount.NewGuard(mountpoint, true)
	defer guard.Release()
	return updateIdentityDiskID(mountpoint, args.FsUUID, "", args.NewID)
}

func updateIdentityDiskID(mountpoint, expectedFsUUID, expectedDiskID, newID string) error {
	identityPath := identity.Path(mountpoint)
	if !pathutil.Exists(identityPath) {
		return timeverr.NewDiskError(timeverr.IdentityMismatch,
			fmt.Sprintf("file missing at %s; expected diskId %s fsUuid %s (run `timevault disk enroll ...`)",
				identityPath, expectedDiskID, expectedFsUUID))
	}
	existing, err := identity.Read(identityPath)
	if err != nil {
		return err
	}
	if existing.FsUUID != expectedFsUUID {
		return timeverr.NewDiskError(timeverr.IdentityMismatch,
			fmt.Sprintf("fsUuid mismatch: expected %s, got %s", expectedFsUUID, existing.FsUUID))
	}
	existing.DiskID = newID
	return identity.Write(identityPath, existing)
}

// selectEntry resolves the config index identified by diskID and/or
// fsUUID, mirroring the selector rules shared by rename and unenroll: an
// fs-uuid selector may be narrowed by disk-id; a disk-id-only selector
// must match exactly one config entry. Returns idx -1 when fsUUID was
// given but matches no config entry, so the caller can fall back to
// operating on a not-yet-enrolled disk.
func selectEntry(doc *config.RawDocument, diskID, fsUUID string) (idx int, resolvedFsUUID, resolvedDiskID string, err error) {
	disks := doc.BackupDisks()
	if fsUUID != "" {
		i := doc.FindByFsUUID(fsUUID)
		if i >= 0 && (diskID == "" || disks[i].DiskID == diskID) {
			return i, disks[i].FsUUID, disks[i].DiskID, nil
		}
		return -1, "", "", nil
	}
	matches := doc.FindByDiskID(diskID)
	switch len(matches) {
	case 0:
		return 0, "", "", timeverr.Messagef("disk-id not found in config; use --fs-uuid")
	case 1:
		i := matches[0]
		return i, disks[i].FsUUID, disks[i].DiskID, nil
	default:
		return 0, "", "", timeverr.Messagef("multiple disks with disk-id; use --fs-uuid to disambiguate")
	}
}

// UnenrollArgs selects the disk to drop from the config.
type UnenrollArgs struct {
	DiskID string
	FsUUID string
}

// Unenroll removes a disk's config entry. It never touches the disk
// itself or its identity file, so re-enrolling later recovers the same
// disk-id without --force.
func Unenroll(configPath string, args UnenrollArgs) error {
	if args.DiskID != "" && !pathutil.IsSafeName(args.DiskID) {
		return timeverr.Messagef("disk-id %s must use only letters, digits, '.', '-', '_'", args.DiskID)
	}
	if args.DiskID == "" && args.FsUUID == "" {
		return timeverr.Messagef("disk unenroll requires --disk-id or --fs-uuid")
	}

	doc, err := config.LoadRaw(configPath)
	if err != nil {
		return err
	}
	idx, _, _, err := selectEntry(doc, args.DiskID, args.FsUUID)
	if err != nil {
		return err
	}
	if idx < 0 {
		return timeverr.Messagef("disk not found in config")
	}
	doc.RemoveBackupDisk(idx)
	return doc.Save(configPath)
}

// MountForRestore mounts a configured disk read-only for inspection or
// manual restore, returning the mountpoint path it chose. The caller owns
// unmounting it, typically with UnmountRestore.
func MountForRestore(configPath, diskID string) (string, error) {
	doc, err := config.LoadRaw(configPath)
	if err != nil {
		return "", err
	}
	disk, err := diskreg.SelectDisk(doc.BackupDisks(), diskID)
	if err != nil {
		return "", err
	}

	device := diskreg.DevicePathForUUID(disk.FsUUID)
	if !pathutil.Exists(device) {
		return "", timeverr.NewDiskError(timeverr.Other, "device "+device+" not found")
	}
	if err := diskreg.EnsureDiskNotMounted(device); err != nil {
		return "", err
	}

	userMountBase := doc.MountBase()
	if err := pathutil.EnsureBaseDir(userMountBase); err != nil {
		return "", err
	}
	mountpoint, err := pathutil.CreateTempDir(userMountBase, "tv")
	if err != nil {
		return "", err
	}
	already, err := mount.MountpointIsMounted(mountpoint)
	if err != nil {
		return "", err
	}
	if already {
		return "", timeverr.NewDiskError(timeverr.Other, "mountpoint "+mountpoint+" is already in use")
	}

	options := diskreg.MountOptionsForRestore(disk)
	if err := mount.MountDevice(device, mountpoint, options); err != nil {
		return "", err
	}

	identityPath := identity.Path(mountpoint)
	if !pathutil.Exists(identityPath) {
		_ = mount.UnmountPath(mountpoint)
		return "", timeverr.NewDiskError(timeverr.IdentityMismatch,
			fmt.Sprintf("file missing at %s; expected diskId %s fsUuid %s (run `timevault disk enroll ...`)",
				identityPath, disk.DiskID, disk.FsUUID))
	}
	id, err := identity.Read(identityPath)
	if err != nil {
		_ = mount.UnmountPath(mountpoint)
		return "", timeverr.Messagef("identity file invalid: %v", err)
	}
	if err := identity.Verify(id, disk.DiskID, disk.FsUUID); err != nil {
		_ = mount.UnmountPath(mountpoint)
		return "", err
	}

	fsType, err := fstype.Detect(device)
	if err != nil {
		_ = mount.UnmountPath(mountpoint)
		return "", err
	}
	if !fsType.IsAllowed() {
		_ = mount.UnmountPath(mountpoint)
		return "", timeverr.NewDiskError(timeverr.Other, "unsupported filesystem type "+fsType.String())
	}
	if id.FsType != nil && *id.FsType != fsType.String() {
		_ = mount.UnmountPath(mountpoint)
		return "", timeverr.NewDiskError(timeverr.IdentityMismatch,
			fmt.Sprintf("fsType mismatch: expected %s, got %s", *id.FsType, fsType.String()))
	}

	return mountpoint, nil
}

// UnmountRestore unmounts a restore mountpoint, resolving it from the
// tracked mount table under userMountBase when mountpoint is empty. It
// refuses to pick a mountpoint automatically when more than one is live,
// since guessing wrong would unmount the wrong disk.
func UnmountRestore(configPath, mountpoint string) error {
	doc, err := config.LoadRaw(configPath)
	if err != nil {
		return err
	}
	userMountBase := doc.MountBase()

	if mountpoint == "" {
		mounts, err := mount.FindMountsUnder(userMountBase)
		if err != nil {
			return err
		}
		switch len(mounts) {
		case 0:
			return timeverr.NewDiskError(timeverr.Other, "no timevault mounts found")
		case 1:
			mountpoint = mounts[0]
		default:
			return timeverr.NewDiskError(timeverr.Other, "multiple timevault mounts found; unmount manually")
		}
	}

	if err := mount.UnmountPath(mountpoint); err != nil {
		return err
	}
	if strings.HasPrefix(mountpoint, userMountBase) {
		_ = os.Remove(mountpoint)
	}
	return nil
}

// Inspect mounts a disk read-only, runs fn against the mountpoint, and
// always unmounts afterward regardless of fn's outcome.
func Inspect(configPath, diskID string, fn func(mountpoint string) error) error {
	mountpoint, err := MountForRestore(configPath, diskID)
	if err != nil {
		return err
	}
	fnErr := fn(mountpoint)
	unmountErr := UnmountRestore(configPath, mountpoint)
	if fnErr != nil {
		return fnErr
	}
	return unmountErr
}

// Discover lists every disk plausibly relevant to administration, sorted
// by filesystem UUID, along with any duplicate disk-id warnings that
// should be printed before and after the listing.
func Discover(configPath string) (candidates []diskdiscover.Candidate, preWarnings, postWarnings []string, err error) {
	doc, err := config.LoadRaw(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	disks := doc.BackupDisks()
	preWarnings = duplicateDiskIDWarnings(duplicateConfiguredIDs(disks))

	candidates, err = diskdiscover.ListCandidates(disks, doc.MountBase())
	if err != nil {
		return nil, preWarnings, nil, err
	}
	diskdiscover.SortByUUID(candidates)

	postWarnings = duplicateDiskIDWarnings(duplicateDiscoveredIDs(disks, candidates))
	return candidates, preWarnings, postWarnings, nil
}

func duplicateDiskIDWarnings(dupes []string) []string {
	if len(dupes) == 0 {
		return nil
	}
	return []string{
		fmt.Sprintf("duplicate disk-id(s) found: %s (rename with `timevault disk rename --fs-uuid <uuid> --new-id <id>`)",
			strings.Join(dupes, ", ")),
	}
}

func duplicateConfiguredIDs(disks []config.BackupDisk) []string {
	seen := map[string]struct{}{}
	dupes := map[string]struct{}{}
	for _, d := range disks {
		if _, ok := seen[d.DiskID]; ok {
			dupes[d.DiskID] = struct{}{}
		}
		seen[d.DiskID] = struct{}{}
	}
	return sortedKeys(dupes)
}

func duplicateDiscoveredIDs(disks []config.BackupDisk, candidates []diskdiscover.Candidate) []string {
	ids := map[string]map[string]struct{}{}
	for _, d := range disks {
		if ids[d.DiskID] == nil {
			ids[d.DiskID] = map[string]struct{}{}
		}
		ids[d.DiskID][d.FsUUID] = struct{}{}
	}
	for _, c := range candidates {
		if c.Identity == nil {
			continue
		}
		id := c.Identity.DiskID
		if ids[id] == nil {
			ids[id] = map[string]struct{}{}
		}
		ids[id][c.Identity.FsUUID] = struct{}{}
	}
	dupes := map[string]struct{}{}
	for id, uuids := range ids {
		if len(uuids) > 1 {
			dupes[id] = struct{}{}
		}
	}
	return sortedKeys(dupes)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HumanSize renders a byte count the way `timevault disk discover` reports
// capacity: MB up to PB, with fewer decimal places as the value grows.
func HumanSize(bytes uint64) string {
	units := []string{"MB", "GB", "TB", "PB"}
	value := float64(bytes) / 1_000_000
	idx := 0
	for value >= 1000.0 && idx+1 < len(units) {
		value /= 1000.0
		idx++
	}
	switch {
	case value < 0.1:
		return fmt.Sprintf("0.1 %s", units[idx])
	case value < 10.0:
		return fmt.Sprintf("%.2f %s", value, units[idx])
	case value < 100.0:
		return fmt.Sprintf("%.1f %s", value, units[idx])
	default:
		return fmt.Sprintf("%.0f %s", value, units[idx])
	}
}
