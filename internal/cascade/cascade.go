// Package cascade plans and runs a backup invocation across every
// connected disk a job is allowed to land on: each job's group of jobs
// runs first against its primary disk, then — if cascading is enabled —
// replicated onto the job's other allowed disks by rsyncing from the
// primary's freshly produced snapshot instead of the job's original
// source.
package cascade

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/diskreg"
	"github.com/johnjoeallen/timevault/internal/logging"
	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/pristine"
	"github.com/johnjoeallen/timevault/internal/procrun"
	"github.com/johnjoeallen/timevault/internal/snapshot"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// Group is a primary disk and every job that runs on it first.
type Group struct {
	Primary config.BackupDisk
	Jobs    []config.Job
}

// Plan computes allowed(job) for every job and groups jobs by their
// primary disk (allowed(job)[0]), in catalog order. A job with no
// connected allowed disk aborts planning with exit code 2.
func Plan(jobs []config.Job, disks []config.BackupDisk) ([]Group, map[string][]config.BackupDisk, error) {
	connected := diskreg.ConnectedDisksInOrder(disks)
	byUUID := make(map[string]config.BackupDisk, len(connected))
	for _, d := range connected {
		byUUID[d.FsUUID] = d
	}

	allowed := make(map[string][]config.BackupDisk, len(jobs))
	primaryOf := make(map[string]config.BackupDisk, len(jobs))
	for _, job := range jobs {
		jobAllowed := allowedDisks(job, connected, byUUID)
		if len(jobAllowed) == 0 {
			return nil, nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
				"job "+job.Name+" has no connected allowed disk")
		}
		allowed[job.Name] = jobAllowed
		primaryOf[job.Name] = jobAllowed[0]
	}

	order := make(map[string]int, len(connected))
	for i, d := range connected {
		order[d.FsUUID] = i
	}

	groupsByUUID := map[string]*Group{}
	var groupOrder []string
	for _, job := range jobs {
		primary := primaryOf[job.Name]
		g, ok := groupsByUUID[primary.FsUUID]
		if !ok {
			g = &Group{Primary: primary}
			groupsByUUID[primary.FsUUID] = g
			groupOrder = append(groupOrder, primary.FsUUID)
		}
		g.Jobs = append(g.Jobs, job)
	}
	sort.Slice(groupOrder, func(i, j int) bool { return order[groupOrder[i]] < order[groupOrder[j]] })

	groups := make([]Group, 0, len(groupOrder))
	for _, uuid := range groupOrder {
		groups = append(groups, *groupsByUUID[uuid])
	}
	return groups, allowed, nil
}

func allowedDisks(job config.Job, connected []config.BackupDisk, byUUID map[string]config.BackupDisk) []config.BackupDisk {
	if len(job.DiskIDs) == 0 {
		return connected
	}
	want := make(map[string]struct{}, len(job.DiskIDs))
	for _, id := range job.DiskIDs {
		want[id] = struct{}{}
	}
	var out []config.BackupDisk
	for _, d := range connected {
		if _, ok := want[d.DiskID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Options carries the run-wide flags cascade.Run consults beyond each
// job's own configuration.
type Options struct {
	MountOptions        func(config.BackupDisk) string
	RsyncExtra          []string
	Mode                procrun.RunMode
	Cascade             bool
	ExcludePristine     bool
	ExcludePristineOnly bool
}

// MountVerify mounts disk under mountBase with the given options,
// verifies its filesystem type and on-disk identity, and returns the
// mountpoint alongside a release func. The caller is responsible for
// calling the returned release exactly once.
type MountVerify func(disk config.BackupDisk, mountBase, options string) (mountpoint string, release func(), err error)

// Run executes the full cascade plan: every group's jobs on their primary
// disk, then (if enabled) a second pass per job onto its other allowed
// disks, sourced from the primary's own output.
func Run(groups []Group, allowed map[string][]config.BackupDisk, mountBase string, opts Options, mountVerify MountVerify, log *logging.Logger) error {
	for _, group := range groups {
		primaryMount, release, err := mountVerify(group.Primary, mountBase, opts.MountOptions(group.Primary))
		if err != nil {
			return err
		}

		jobsToRun := group.Jobs
		if opts.ExcludePristineOnly {
			jobsToRun = withOnlyExcludes(jobsToRun, nil)
		}
		if opts.ExcludePristine || opts.ExcludePristineOnly {
			excludes, err := pristine.BuildExcludes(context.Background(), log)
			if err != nil {
				release()
				return err
			}
			jobsToRun = withExtraExcludes(jobsToRun, excludes)
		}

		if err := snapshot.Run(jobsToRun, opts.RsyncExtra, opts.Mode, primaryMount, log); err != nil {
			release()
			return err
		}

		if opts.Cascade {
			if err := runCascadeTargets(group, allowed, primaryMount, mountBase, opts, mountVerify, log); err != nil {
				release()
				return err
			}
		}

		release()
	}

	if !opts.Mode.DryRun {
		if _, err := procrun.Run("sync", nil, procrun.RunMode{}); err != nil {
			return err
		}
	}
	return nil
}

func runCascadeTargets(group Group, allowed map[string][]config.BackupDisk, primaryMount, mountBase string, opts Options, mountVerify MountVerify, log *logging.Logger) error {
	for _, job := range group.Jobs {
		for _, target := range allowed[job.Name][1:] {
			source := filepath.Join(primaryMount, job.Name, "current")
			if !pathutil.Exists(source) {
				if opts.Mode.DryRun {
					log.Printf("dry-run: skip cascade of %s to %s (no snapshot on primary)", job.Name, target.DiskID)
					continue
				}
				return timeverr.Messagef("cascade: job %s has no snapshot on primary disk to replicate", job.Name)
			}

			mountpoint, release, err := mountVerify(target, mountBase, opts.MountOptions(target))
			if err != nil {
				return err
			}
			cascaded := job
			cascaded.Source = source
			err = snapshot.Run([]config.Job{cascaded}, opts.RsyncExtra, opts.Mode, mountpoint, log)
			release()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// withOnlyExcludes replaces every job's configured excludes with base,
// used by --exclude-pristine-only to drop every manually configured
// exclude so the run skips nothing but pristine package-manager files.
func withOnlyExcludes(jobs []config.Job, base []string) []config.Job {
	out := make([]config.Job, len(jobs))
	for i, j := range jobs {
		j.Excludes = append([]string{}, base...)
		out[i] = j
	}
	return out
}

func withExtraExcludes(jobs []config.Job, extra []string) []config.Job {
	if len(extra) == 0 {
		return jobs
	}
	out := make([]config.Job, len(jobs))
	for i, j := range jobs {
		j.Excludes = append(append([]string{}, j.Excludes...), extra...)
		out[i] = j
	}
	return out
}

// DescribeJobs prints the static details of every job in catalog order,
// the rendering --print-order uses.
func DescribeJobs(jobs []config.Job) {
	for _, job := range jobs {
		snapshot.PrintJobDetails(job)
	}
}
