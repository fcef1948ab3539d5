package main

import (
	"fmt"
	"time"

	"github.com/johnjoeallen/timevault/internal/cascade"
	"github.com/johnjoeallen/timevault/internal/config"
	"github.com/johnjoeallen/timevault/internal/diskreg"
	"github.com/johnjoeallen/timevault/internal/logging"
	"github.com/johnjoeallen/timevault/internal/procrun"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

const bannerFormat = "02-01-2006 15:04"

// backupCommand is go-flags' entry point for the default "backup"
// subcommand; Execute exits the process itself via runAndExit, matching
// every other subcommand's exit-code-then-terminate contract.
type backupCommand struct{}

func (c *backupCommand) Execute(args []string) error {
	runAndExit(func() error { return runBackup(runMode(), args) })
	return nil
}

func runBackup(mode procrun.RunMode, _ []string) error {
	fmt.Println(time.Now().Format(bannerFormat))

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	if len(cfg.BackupDisks) == 0 {
		return timeverr.Messagef("no backup disks enrolled; run `timevault disk enroll ...`")
	}
	mode.Verbose = mode.Verbose || cfg.Options.Verbose
	mode.SafeMode = mode.SafeMode || cfg.Options.Safe

	jobsToRun, err := selectJobs(cfg.Jobs, opts.Job)
	if err != nil {
		return err
	}

	if opts.PrintOrder {
		cascade.DescribeJobs(jobsToRun)
		return nil
	}

	if mode.Verbose {
		fmt.Printf("loaded config %s with %d job(s)\n", configPath(), len(jobsToRun))
	}

	groups, allowed, err := cascade.Plan(jobsToRun, cfg.BackupDisks)
	if err != nil {
		return err
	}

	rsyncExtra := append(append([]string{}, cfg.Options.ExtraRsyncArgs...), opts.Rsync...)
	log := logging.New("timevault", mode.Verbose)

	runOpts := cascade.Options{
		MountOptions:        diskreg.MountOptionsForBackup,
		RsyncExtra:          rsyncExtra,
		Mode:                mode,
		Cascade:             opts.Cascade || cfg.Options.Cascade,
		ExcludePristine:     opts.ExcludePristine || cfg.Options.ExcludePristine,
		ExcludePristineOnly: opts.ExcludePristineOnly,
	}

	if err := cascade.Run(groups, allowed, cfg.MountBase, runOpts, newBackupMountVerify(mode), log); err != nil {
		if _, ok := err.(timeverr.ExitCoder); ok || isJobLockedError(err) {
			return err
		}
		return timeverr.Messagef("backup failed: %v", err)
	}

	fmt.Println(time.Now().Format(bannerFormat))
	return nil
}

// selectJobs resolves the CLI's repeatable --job flag against the
// catalog: an empty selection runs every auto-run job; an explicit
// selection requires every named job to exist and be runnable (not
// disabled with run: off).
func selectJobs(jobs []config.Job, selected []string) ([]config.Job, error) {
	if len(selected) == 0 {
		var out []config.Job
		for _, j := range jobs {
			if j.RunPolicy == config.Auto {
				out = append(out, j)
			}
		}
		if len(out) == 0 {
			return nil, timeverr.Messagef("no jobs matched (no auto jobs enabled); aborting")
		}
		return out, nil
	}

	want := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		want[name] = struct{}{}
	}
	byName := make(map[string]config.Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name] = j
	}

	var out []config.Job
	for _, name := range selected {
		j, ok := byName[name]
		if !ok {
			continue
		}
		if j.RunPolicy == config.Off {
			fmt.Printf("job disabled (off): %s\n", j.Name)
			return nil, timeverr.NewConfigError(timeverr.ConfigInvalid, "requested job(s) are disabled; aborting")
		}
		out = append(out, j)
	}
	if len(out) != len(want) {
		for name := range want {
			if _, ok := byName[name]; !ok {
				fmt.Printf("job not found: %s\n", name)
			}
		}
		return nil, timeverr.NewConfigError(timeverr.ConfigInvalid, "no such job(s) found; aborting")
	}
	return out, nil
}
