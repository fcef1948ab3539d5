// Package diskdiscover enumerates the physical disks visible to the host
// and classifies each as a candidate (or not) for enrollment or restore,
// tagging every candidate with the reasons it was surfaced.
package diskdiscover

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/diskreg"
	"github.com/johnjoeallen/timevault/internal/fstype"
	"github.com/johnjoeallen/timevault/internal/identity"
	"github.com/johnjoeallen/timevault/internal/mount"
	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// allowedEmptyEntries lists the directory entries tolerated on an
// otherwise-empty candidate filesystem (ext* reserves lost+found on mkfs).
var allowedEmptyEntries = map[string]struct{}{"lost+found": {}}

// Candidate describes one physical disk surfaced during discovery, along
// with every signal that justified surfacing it.
type Candidate struct {
	UUID      string
	Device    string
	MountedAt string // empty if not currently mounted
	Empty     *bool
	Removable *bool
	Reasons       []string
	Identity      *identity.Identity
	Enrolled      bool
	FsType        *fstype.FsType
	CapacityBytes *uint64
}

func statfsCapacity(mountpoint string) *uint64 {
	var st unix.Statfs_t
	if err := unix.Statfs(mountpoint, &st); err != nil {
		return nil
	}
	capacity := uint64(st.Blocks) * uint64(st.Bsize)
	return &capacity
}

const byUUIDDir = "/dev/disk/by-uuid"

// ListCandidates walks every filesystem UUID the kernel currently exposes
// and reports the ones plausibly relevant to backup administration: swap
// members, RAID members, and disallowed filesystem types are skipped
// outright; everything else is speculatively mounted (if not already
// mounted) to inspect emptiness and any existing timevault identity, then
// unmounted again before returning.
func ListCandidates(enrolledDisks []config.BackupDisk, userMountBase string) ([]Candidate, error) {
	enrolled := make(map[string]struct{}, len(enrolledDisks))
	for _, d := range enrolledDisks {
		enrolled[d.FsUUID] = struct{}{}
	}
	swapDevices := loadSwapDevices()

	entries, err := os.ReadDir(byUUIDDir)
	if err != nil {
		return nil, timeverr.Messagef("read %s: %v", byUUIDDir, err)
	}

	var candidates []Candidate
	for _, e := range entries {
		uuid := e.Name()
		linkPath := filepath.Join(byUUIDDir, uuid)
		device, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			return nil, timeverr.Messagef("resolve %s: %v", linkPath, err)
		}

		if _, skip := swapDevices[device]; skip {
			continue
		}
		if isRAIDMember(device) {
			continue
		}

		fsType, detectErr := fstype.Detect(device)
		var fsTypePtr *fstype.FsType
		if detectErr == nil {
			fsTypePtr = &fsType
			if fsType.IsRejected() || !fsType.IsAllowed() {
				continue
			}
		}

		cand, ok, err := inspectOne(uuid, device, fsTypePtr, enrolled, userMountBase)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

func inspectOne(uuid, device string, fsType *fstype.FsType, enrolled map[string]struct{}, userMountBase string) (Candidate, bool, error) {
	_, enrolledFlag := enrolled[uuid]

	mountedAt, err := mount.FindDeviceMountpoint(device)
	if err != nil {
		return Candidate{}, false, err
	}

	var tempMount string
	mountpoint := mountedAt
	if mountpoint == "" {
		probe, err := pathutil.CreateTempDir(userMountBase, "discover")
		if err != nil {
			return Candidate{}, false, err
		}
		if err := mount.MountDeviceSilent(device, probe, diskreg.DefaultRestoreMountOpts); err != nil {
			removable := isRemovableDevice(device)
			var reasons []string
			if removable != nil && *removable {
				reasons = append(reasons, "removable", "probe-failed")
			}
			_ = os.Remove(probe)
			if len(reasons) == 0 {
				return Candidate{}, false, nil
			}
			return Candidate{
				UUID:      uuid,
				Device:    device,
				Removable: removable,
				Reasons:   reasons,
				Enrolled:  enrolledFlag,
				FsType:    fsType,
			}, true, nil
		}
		tempMount = probe
		mountpoint = probe
	}

	empty, emptyErr := isDiskEmpty(mountpoint)
	var emptyPtr *bool
	if emptyErr == nil {
		emptyPtr = &empty
	}
	capacity := statfsCapacity(mountpoint)

	var ident *identity.Identity
	idPath := identity.Path(mountpoint)
	if pathutil.Exists(idPath) {
		if id, err := identity.Read(idPath); err == nil {
			ident = id
		}
	}

	removable := isRemovableDevice(device)
	var reasons []string
	if removable != nil && *removable {
		reasons = append(reasons, "removable")
	}
	if emptyPtr != nil && *emptyPtr {
		reasons = append(reasons, "mounted-empty")
	}
	if ident != nil {
		reasons = append(reasons, "timevault-identity")
	}
	if enrolledFlag {
		reasons = append(reasons, "enrolled")
	}

	if tempMount != "" {
		_ = mount.UnmountPath(tempMount)
		_ = os.Remove(tempMount)
	}

	if len(reasons) == 0 {
		return Candidate{}, false, nil
	}

	return Candidate{
		UUID:          uuid,
		Device:        device,
		MountedAt:     mountedAt,
		Empty:         emptyPtr,
		Removable:     removable,
		Reasons:       reasons,
		Identity:      ident,
		Enrolled:      enrolledFlag,
		FsType:        fsType,
		CapacityBytes: capacity,
	}, true, nil
}

func loadSwapDevices() map[string]struct{} {
	out := map[string]struct{}{}
	data, err := os.ReadFile("/proc/swaps")
	if err != nil {
		return out
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) <= 1 {
		return out
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if real, err := filepath.EvalSymlinks(fields[0]); err == nil {
			out[real] = struct{}{}
		}
	}
	return out
}

// baseBlockDeviceName strips a partition suffix from a device basename:
// nvme0n1p3 and mmcblk0p2 lose their "pN" tail, everything else loses its
// trailing digit run (sda1 -> sda).
func baseBlockDeviceName(device string) string {
	name := filepath.Base(device)
	if (strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk")) && strings.Contains(name, "p") {
		if pos := strings.LastIndex(name, "p"); pos >= 0 && pos+1 < len(name) {
			tail := name[pos+1:]
			if _, err := strconv.Atoi(tail); err == nil {
				return name[:pos]
			}
		}
	}
	trimmed := strings.TrimRight(name, "0123456789")
	return trimmed
}

func isRemovableDevice(device string) *bool {
	base := baseBlockDeviceName(device)
	if base == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join("/sys/block", base, "removable"))
	if err != nil {
		return nil
	}
	switch strings.TrimSpace(string(data)) {
	case "1":
		v := true
		return &v
	case "0":
		v := false
		return &v
	default:
		return nil
	}
}

func isRAIDMember(device string) bool {
	name := filepath.Base(device)
	base := baseBlockDeviceName(device)
	if base == "" {
		return false
	}
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "md") {
			continue
		}
		slaves, err := os.ReadDir(filepath.Join("/sys/block", e.Name(), "slaves"))
		if err != nil {
			continue
		}
		for _, s := range slaves {
			if s.Name() == name || s.Name() == base {
				return true
			}
		}
	}
	return false
}

func isDiskEmpty(root string) (bool, error) {
	entries, err := pathutil.ListEntries(root)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if _, ok := allowedEmptyEntries[e]; ok {
			continue
		}
		return false, nil
	}
	return true, nil
}

// SortByUUID orders candidates deterministically for display.
func SortByUUID(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].UUID < candidates[j].UUID })
}
