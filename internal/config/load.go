package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// Load parses the YAML config file at path into a validated RuntimeConfig.
func Load(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, timeverr.Messagef("open config %s: %v", path, err)
	}
	var wire wireConfig
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return nil, timeverr.NewConfigError(timeverr.ConfigParse, err.Error())
	}
	return fromWire(&wire)
}

func parseRunPolicy(value string) (RunPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return Auto, nil
	case "demand":
		return Demand, nil
	case "off":
		return Off, nil
	default:
		return Auto, fmt.Errorf("invalid run policy %s; expected auto, demand, or off", value)
	}
}

func fromWire(w *wireConfig) (*RuntimeConfig, error) {
	diskIDs := map[string]struct{}{}
	duplicateDiskIDs := map[string]struct{}{}
	fsUUIDs := map[string]struct{}{}

	disks := make([]BackupDisk, 0, len(w.BackupDisks))
	for _, d := range w.BackupDisks {
		if _, dup := diskIDs[d.DiskID]; dup {
			duplicateDiskIDs[d.DiskID] = struct{}{}
		}
		diskIDs[d.DiskID] = struct{}{}
		if _, dup := fsUUIDs[d.FsUUID]; dup {
			return nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
				fmt.Sprintf("duplicate fs-uuid %s; remove or fix duplicates", d.FsUUID))
		}
		fsUUIDs[d.FsUUID] = struct{}{}
		disks = append(disks, BackupDisk{
			DiskID:       d.DiskID,
			FsUUID:       d.FsUUID,
			Label:        d.Label,
			MountOptions: d.MountOptions,
		})
	}

	if len(duplicateDiskIDs) > 0 {
		list := make([]string, 0, len(duplicateDiskIDs))
		for id := range duplicateDiskIDs {
			list = append(list, id)
		}
		sort.Strings(list)
		fmt.Println()
		fmt.Printf("WARNING: duplicate disk-id(s) found: %s (rename with `timevault disk rename --fs-uuid <uuid> --new-id <id>`)\n",
			strings.Join(list, ", "))
		fmt.Println()
	}

	names := map[string]struct{}{}
	jobs := make([]Job, 0, len(w.Jobs))
	for _, j := range w.Jobs {
		if strings.TrimSpace(j.Name) == "" {
			return nil, timeverr.NewConfigError(timeverr.ConfigInvalid, "job name is required")
		}
		if !pathutil.IsSafeName(j.Name) {
			return nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
				fmt.Sprintf("job %s name must use only letters, digits, '.', '-', '_'", j.Name))
		}
		if _, dup := names[j.Name]; dup {
			return nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
				fmt.Sprintf("duplicate job name %s", j.Name))
		}
		names[j.Name] = struct{}{}

		if strings.TrimSpace(j.Source) == "" {
			return nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
				fmt.Sprintf("job %s: source path is empty", j.Name))
		}

		policy, err := parseRunPolicy(j.Run)
		if err != nil {
			return nil, timeverr.NewConfigError(timeverr.ConfigInvalid, fmt.Sprintf("job %s: %v", j.Name, err))
		}

		var jobDiskIDs []string
		if j.DiskIDs != nil {
			seen := map[string]struct{}{}
			for _, raw := range j.DiskIDs {
				if !pathutil.IsSafeName(raw) {
					return nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
						fmt.Sprintf("job %s: disk-id %s must use only letters, digits, '.', '-', '_'", j.Name, raw))
				}
				if _, dup := duplicateDiskIDs[raw]; dup {
					return nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
						fmt.Sprintf("job %s: disk-id %s is duplicated in config", j.Name, raw))
				}
				if _, ok := diskIDs[raw]; !ok {
					return nil, timeverr.NewConfigError(timeverr.ConfigInvalid,
						fmt.Sprintf("job %s: disk-id %s not found in backupDisks", j.Name, raw))
				}
				if _, dup := seen[raw]; !dup {
					seen[raw] = struct{}{}
					jobDiskIDs = append(jobDiskIDs, raw)
				}
			}
		}

		excludes := append([]string{}, w.Excludes...)
		excludes = append(excludes, j.Excludes...)

		jobs = append(jobs, Job{
			Name:      j.Name,
			Source:    j.Source,
			Copies:    j.Copies,
			RunPolicy: policy,
			Excludes:  excludes,
			DiskIDs:   jobDiskIDs,
		})
	}

	mountBase := DefaultMountBase
	if w.MountBase != nil {
		mountBase = *w.MountBase
	}
	userMountBase := DefaultUserMountBase
	if w.UserMountBase != nil {
		userMountBase = *w.UserMountBase
	}

	opts := Options{}
	if w.Options != nil {
		if w.Options.ExcludePristine != nil {
			opts.ExcludePristine = *w.Options.ExcludePristine
		}
		if w.Options.Cascade != nil {
			opts.Cascade = *w.Options.Cascade
		}
		if w.Options.Verbose != nil {
			opts.Verbose = *w.Options.Verbose
		}
		if w.Options.Safe != nil {
			opts.Safe = *w.Options.Safe
		}
		opts.ExtraRsyncArgs = w.Options.Rsync
	}

	return &RuntimeConfig{
		Jobs:           jobs,
		BackupDisks:    disks,
		MountBase:      mountBase,
		UserMountBase:  userMountBase,
		Options:        opts,
		GlobalExcludes: w.Excludes,
	}, nil
}
