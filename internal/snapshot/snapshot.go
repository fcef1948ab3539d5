// Package snapshot runs a single job's backup cycle against an already
// mounted destination disk: lock, expire, seed from the prior snapshot via
// hardlinks, rsync, and atomically repoint "current".
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/joblock"
	"github.com/johnjoeallen/timevault/internal/logging"
	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/procrun"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

const currentMarker = "current"
const identityMarker = ".timevault"

// Run executes one backup cycle per job in jobs, against destRoot (an
// already-mounted disk root). Jobs run sequentially: each takes its own
// lock, so a concurrent invocation against a different job on the same
// disk is never blocked by this one.
func Run(jobs []config.Job, rsyncExtra []string, mode procrun.RunMode, destRoot string, log *logging.Logger) error {
	for _, job := range jobs {
		if err := runOne(job, rsyncExtra, mode, destRoot, log); err != nil {
			return timeverr.Messagef("job %s: %v", job.Name, err)
		}
	}
	return nil
}

// PrintJobDetails writes a human-readable summary of a job's static
// configuration, used by --print-order.
func PrintJobDetails(job config.Job) {
	excludes := "<none>"
	if len(job.Excludes) > 0 {
		excludes = joinComma(job.Excludes)
	}
	diskIDs := "<any>"
	if len(job.DiskIDs) > 0 {
		diskIDs = joinComma(job.DiskIDs)
	}
	fmt.Printf("job: %s\n", job.Name)
	fmt.Printf("  source: %s\n", job.Source)
	fmt.Printf("  backup dir: %s\n", job.Name)
	fmt.Printf("  copies: %d\n", job.Copies)
	fmt.Printf("  run: %s\n", job.RunPolicy)
	fmt.Printf("  excludes: %s\n", excludes)
	fmt.Printf("  disks: %s\n", diskIDs)
}

func joinComma(items []string) string {
	out := items[0]
	for _, s := range items[1:] {
		out += ", " + s
	}
	return out
}

func runOne(job config.Job, rsyncExtra []string, mode procrun.RunMode, destRoot string, log *logging.Logger) error {
	lock, err := joblock.Acquire(job.Name, mode.DryRun)
	if err != nil {
		return err
	}
	defer lock.Release()

	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}
	tmpDir := filepath.Join(home, "tmp")
	excludesFile := filepath.Join(tmpDir, "timevault.excludes")
	if mode.DryRun {
		log.Printf("dry-run: would write excludes file %s", excludesFile)
	} else {
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return timeverr.Messagef("create %s: %v", tmpDir, err)
		}
		if err := writeExcludesFile(job, excludesFile); err != nil {
			return err
		}
	}

	backupDay := time.Now().AddDate(0, 0, -1).Format("20060102")
	log.Verbosef("  backup day: %s", backupDay)

	dest, err := resolveJobDest(job, destRoot)
	if err != nil {
		return err
	}
	if mode.Verbose {
		log.Printf("job: %s", job.Name)
		log.Printf("  run: %s", job.RunPolicy)
		log.Printf("  source: %s", job.Source)
		log.Printf("  backup dir: %s", dest)
		log.Printf("  copies: %d", job.Copies)
		log.Printf("  excludes: %d", len(job.Excludes))
	}

	if !pathutil.Exists(dest) {
		if mode.DryRun {
			log.Printf("dry-run: mkdir -p %s", dest)
		} else if err := os.MkdirAll(dest, 0o755); err != nil {
			return timeverr.Messagef("create %s: %v", dest, err)
		}
	}

	if err := expireOldBackups(job, dest, mode, log); err != nil {
		return err
	}

	current := filepath.Join(dest, currentMarker)
	backupDir := filepath.Join(dest, backupDay)

	if pathutil.Exists(current) && !pathutil.Exists(backupDir) {
		if mode.DryRun {
			log.Printf("dry-run: mkdir -p %s", backupDir)
		} else {
			if err := os.MkdirAll(backupDir, 0o755); err != nil {
				return timeverr.Messagef("create %s: %v", backupDir, err)
			}
			if err := seedFromCurrent(current, backupDir, mode, log); err != nil {
				return err
			}
		}
	}

	rc := 1
	for attempt := 1; attempt <= 3; attempt++ {
		rc, err = runRsync(job.Source, backupDir, excludesFile, rsyncExtra, mode)
		if err != nil {
			return err
		}
		if rc == 0 || rc == 24 {
			break
		}
		if attempt < 3 {
			log.Printf("rsync failed with exit code %d; retrying (%d/3)", rc, attempt+1)
		}
	}
	rsyncOK := rc == 0 || rc == 24
	if !rsyncOK {
		log.Printf("rsync failed with exit code %d; current not updated", rc)
		return nil
	}

	if !pathutil.Exists(backupDir) {
		return nil
	}
	return updateCurrentSymlink(dest, backupDay, mode, log)
}

func writeExcludesFile(job config.Job, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return timeverr.Messagef("create %s: %v", path, err)
	}
	defer f.Close()
	for _, e := range job.Excludes {
		if _, err := fmt.Fprintln(f, e); err != nil {
			return timeverr.Messagef("write %s: %v", path, err)
		}
	}
	return nil
}

func resolveJobDest(job config.Job, destRoot string) (string, error) {
	if !pathutil.IsSafeName(job.Name) {
		return "", timeverr.Messagef("job %s name must use only letters, digits, '.', '-', '_'", job.Name)
	}
	return filepath.Join(destRoot, job.Name), nil
}

func expireOldBackups(job config.Job, dest string, mode procrun.RunMode, log *logging.Logger) error {
	if !pathutil.Exists(dest) {
		return nil
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		return timeverr.Messagef("read %s: %v", dest, err)
	}
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if name == currentMarker || name == identityMarker {
			continue
		}
		backups = append(backups, name)
	}
	sort.Strings(backups)
	if len(backups) <= job.Copies {
		return nil
	}

	toDelete := len(backups) - job.Copies
	for _, name := range backups[:toDelete] {
		target := filepath.Join(dest, name)
		info, err := os.Lstat(target)
		if err != nil {
			return timeverr.Messagef("stat %s: %v", target, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			log.Printf("skip symlink delete: %s", target)
			continue
		}
		if !info.IsDir() {
			log.Printf("skip non-dir delete: %s", target)
			continue
		}
		if mode.SafeMode || mode.DryRun {
			if mode.DryRun {
				log.Printf("dry-run: rm -rf %s", target)
			} else {
				log.Printf("skip delete (safe-mode): %s", target)
			}
			continue
		}
		log.Printf("delete: %s", target)
		if err := os.RemoveAll(target); err != nil {
			return timeverr.Messagef("remove %s: %v", target, err)
		}
	}
	return nil
}

// seedFromCurrent walks the prior snapshot and recreates it under dest via
// hardlinks for regular files, so rsync's in-place writes only touch bytes
// that actually changed while every untouched file still occupies a single
// block of disk.
func seedFromCurrent(source, dest string, mode procrun.RunMode, log *logging.Logger) error {
	if resolved, err := filepath.EvalSymlinks(source); err == nil {
		source = resolved
	}
	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(source, path)
		if relErr != nil || rel == "." {
			return nil
		}
		target := filepath.Join(dest, rel)

		if info.Mode()&os.ModeSymlink != 0 {
			if mode.DryRun {
				log.Printf("dry-run: skip symlink %s", path)
			}
			return nil
		}
		if info.IsDir() {
			if mode.DryRun {
				log.Printf("dry-run: mkdir -p %s", target)
				return nil
			}
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode().IsRegular() {
			if mode.DryRun {
				log.Printf("dry-run: ln %s %s", path, target)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.Link(path, target)
		}
		return nil
	})
}

func updateCurrentSymlink(dest, backupDay string, mode procrun.RunMode, log *logging.Logger) error {
	currentLink := filepath.Join(dest, currentMarker)
	meta, statErr := os.Lstat(currentLink)
	if statErr == nil {
		isSymlinkOrFile := meta.Mode()&os.ModeSymlink != 0 || meta.Mode().IsRegular()
		if isSymlinkOrFile {
			if mode.SafeMode || mode.DryRun {
				if mode.DryRun {
					log.Printf("dry-run: rm -f %s", currentLink)
				} else {
					log.Printf("skip remove (safe-mode): %s", currentLink)
				}
			} else if err := os.Remove(currentLink); err != nil {
				return timeverr.Messagef("remove %s: %v", currentLink, err)
			}
		} else if meta.IsDir() {
			log.Printf("skip updating current (directory exists): %s", currentLink)
			return nil
		}
	}

	if _, err := os.Lstat(currentLink); os.IsNotExist(err) {
		if mode.DryRun {
			log.Printf("dry-run: ln -s %s %s", backupDay, currentLink)
			return nil
		}
		if mode.SafeMode {
			log.Printf("skip create (safe-mode): %s", currentLink)
			return nil
		}
		if err := os.Symlink(backupDay, currentLink); err != nil {
			return timeverr.Messagef("symlink %s -> %s: %v", currentLink, backupDay, err)
		}
	}
	return nil
}
