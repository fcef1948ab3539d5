// Package mount reads the kernel mount table and performs guarded
// mount/unmount operations. It also owns the process-wide registry of
// currently-held mountpoints that the signal-handling task consults to
// tear everything down on SIGINT/SIGTERM.
package mount

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/johnjoeallen/timevault/internal/procrun"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

const mountsPath = "/proc/self/mounts"

type entry struct {
	device     string
	mountpoint string
}

func readMounts() ([]entry, error) {
	f, err := os.Open(mountsPath)
	if err != nil {
		return nil, timeverr.Messagef("read %s: %v", mountsPath, err)
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, entry{device: fields[0], mountpoint: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, timeverr.Messagef("read %s: %v", mountsPath, err)
	}
	return entries, nil
}

// canonical resolves a path via filepath.EvalSymlinks, falling back to the
// literal path when resolution fails (e.g. the mount-table device entry no
// longer exists).
func canonical(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}

// DeviceIsMounted reports whether device appears as the source of any
// mount table entry, comparing canonicalized device paths.
func DeviceIsMounted(device string) (bool, error) {
	mp, err := FindDeviceMountpoint(device)
	if err != nil {
		return false, err
	}
	return mp != "", nil
}

// FindDeviceMountpoint returns the mountpoint for device, or "" if it is
// not currently mounted.
func FindDeviceMountpoint(device string) (string, error) {
	entries, err := readMounts()
	if err != nil {
		return "", err
	}
	want := canonical(device)
	for _, e := range entries {
		if canonical(e.device) == want {
			return e.mountpoint, nil
		}
	}
	return "", nil
}

// MountpointIsMounted reports whether mountpoint is the target of any
// mount table entry, compared as a literal path.
func MountpointIsMounted(mountpoint string) (bool, error) {
	entries, err := readMounts()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.mountpoint == mountpoint {
			return true, nil
		}
	}
	return false, nil
}

// FindMountsUnder returns every mountpoint nested under base, in no
// particular order.
func FindMountsUnder(base string) ([]string, error) {
	entries, err := readMounts()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.mountpoint == base || strings.HasPrefix(e.mountpoint, strings.TrimSuffix(base, "/")+"/") {
			out = append(out, e.mountpoint)
		}
	}
	return out, nil
}

// MountDevice invokes `mount -o <opts> <dev> <mp>`, tracking the
// mountpoint in the process-wide registry on success so the signal task
// can release it.
func MountDevice(device, mountpoint, opts string) error {
	rc, err := procrun.Run("mount", []string{"-o", opts, device, mountpoint}, procrun.RunMode{})
	if err != nil {
		return timeverr.Messagef("mount %s: %v", device, err)
	}
	if rc != 0 {
		return timeverr.NewDiskError(timeverr.MountFailure, device+" failed with exit code "+strconv.Itoa(rc))
	}
	Track(mountpoint)
	return nil
}

// MountDeviceSilent is the same as MountDevice but suppresses all output,
// for speculative probing during disk discovery.
func MountDeviceSilent(device, mountpoint, opts string) error {
	rc, err := procrun.RunSilent("mount", []string{"-o", opts, device, mountpoint})
	if err != nil {
		return timeverr.Messagef("mount %s: %v", device, err)
	}
	if rc != 0 {
		return timeverr.NewDiskError(timeverr.MountFailure, device+" failed with exit code "+strconv.Itoa(rc))
	}
	Track(mountpoint)
	return nil
}

// UnmountPath invokes `umount <mp>`, untracking it regardless of outcome
// (best-effort: a failed umount still stops being our responsibility to
// retry automatically — callers that need certainty inspect the error).
func UnmountPath(mountpoint string) error {
	defer Untrack(mountpoint)
	rc, err := procrun.Run("umount", []string{mountpoint}, procrun.RunMode{})
	if err != nil {
		return timeverr.Messagef("umount %s: %v", mountpoint, err)
	}
	if rc != 0 {
		return timeverr.NewDiskError(timeverr.UmountFailure, mountpoint+" failed with exit code "+strconv.Itoa(rc))
	}
	return nil
}


// Guard exclusively owns the right to unmount a specific mountpoint (and
// optionally remove its directory) and releases it on scope exit,
// including crash and signal-driven teardown. Errors on release are
// swallowed: release is best-effort, since the process is either already
// exiting on error or the invariant is re-established by explicit retries
// elsewhere.
type Guard struct {
	Mountpoint string
	removeDir  bool
	released   bool
}

// NewGuard wraps an already-mounted mountpoint. removeDir controls whether
// Release also attempts to rmdir the mountpoint afterward.
func NewGuard(mountpoint string, removeDir bool) *Guard {
	return &Guard{Mountpoint: mountpoint, removeDir: removeDir}
}

// Release unmounts the guarded mountpoint exactly once. Safe to call
// multiple times or via defer alongside an explicit call.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	_ = UnmountPath(g.Mountpoint)
	if g.removeDir {
		_ = os.Remove(g.Mountpoint)
	}
}

var (
	trackedMu sync.Mutex
	tracked   = map[string]struct{}{}
)

// Track records mountpoint in the process-wide registry consulted by
// TeardownAll. Writers are the mount/unmount helpers in this package;
// readers are the signal-handling task.
func Track(mountpoint string) {
	trackedMu.Lock()
	defer trackedMu.Unlock()
	tracked[mountpoint] = struct{}{}
}

// Untrack removes mountpoint from the registry.
func Untrack(mountpoint string) {
	trackedMu.Lock()
	defer trackedMu.Unlock()
	delete(tracked, mountpoint)
}

// TrackedMountpoints returns a snapshot of currently tracked mountpoints,
// longest path first so children unmount before parents.
func TrackedMountpoints() []string {
	trackedMu.Lock()
	defer trackedMu.Unlock()
	out := make([]string, 0, len(tracked))
	for mp := range tracked {
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// TeardownAll unmounts every tracked mountpoint, longest path first. It is
// invoked by the signal-handling task before process exit; errors are
// swallowed since the process is already on its way out.
func TeardownAll() {
	for _, mp := range TrackedMountpoints() {
		_ = UnmountPath(mp)
	}
}
