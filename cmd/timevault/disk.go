package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/johnjoeallen/timevault/internal/admin"
	"github.com/johnjoeallen/timevault/internal/discoverui"
)

// diskCommand groups every `timevault disk <verb>` subcommand. go-flags
// dispatches to whichever leaf's Execute matches the parsed verb.
type diskCommand struct {
	Enroll   diskEnrollCommand   `command:"enroll" description:"bind a physical disk to a disk-id"`
	Discover diskDiscoverCommand `command:"discover" description:"list candidate backup disks"`
	Unenroll diskUnenrollCommand `command:"unenroll" description:"remove a disk from the config"`
	Rename   diskRenameCommand   `command:"rename" description:"change an enrolled disk's disk-id"`
	Mount    diskMountCommand    `command:"mount" description:"mount an enrolled disk read-only for restore"`
	Umount   diskUmountCommand   `command:"umount" description:"unmount a restore mount"`
	Inspect  diskInspectCommand  `command:"inspect" description:"mount, list its contents, and unmount"`
}

type diskEnrollCommand struct {
	FsUUID       string `long:"fs-uuid" description:"filesystem UUID of the disk to enroll"`
	Device       string `long:"device" description:"device path to resolve a filesystem UUID from"`
	Label        string `long:"label" description:"human-readable label stored alongside the disk-id"`
	MountOptions string `long:"mount-options" description:"override the default backup mount options"`
	Force        bool   `long:"force" description:"reinitialize identity or accept a non-empty disk"`
}

func (c *diskEnrollCommand) Execute(args []string) error {
	runAndExit(func() error {
		return admin.Enroll(configPath(), admin.EnrollArgs{
			DiskID:       opts.DiskID,
			FsUUID:       c.FsUUID,
			Device:       c.Device,
			Label:        optionalString(c.Label),
			MountOptions: optionalString(c.MountOptions),
			Force:        c.Force,
		})
	})
	return nil
}

type diskDiscoverCommand struct{}

func (c *diskDiscoverCommand) Execute(args []string) error {
	runAndExit(func() error {
		if discoverui.IsInteractive() {
			fmt.Fprintln(os.Stderr, "scanning connected disks...")
		}
		candidates, pre, post, err := admin.Discover(configPath())
		if err != nil {
			return err
		}
		discoverui.PrintWarnings(os.Stdout, pre)
		discoverui.PrintCandidates(os.Stdout, candidates)
		discoverui.PrintWarnings(os.Stdout, post)
		return nil
	})
	return nil
}

type diskUnenrollCommand struct {
	FsUUID string `long:"fs-uuid" description:"filesystem UUID of the disk to remove"`
}

func (c *diskUnenrollCommand) Execute(args []string) error {
	runAndExit(func() error {
		return admin.Unenroll(configPath(), admin.UnenrollArgs{DiskID: opts.DiskID, FsUUID: c.FsUUID})
	})
	return nil
}

type diskRenameCommand struct {
	FsUUID string `long:"fs-uuid" description:"filesystem UUID of the disk to rename"`
	NewID  string `long:"new-id" required:"true" description:"new disk-id to assign"`
}

func (c *diskRenameCommand) Execute(args []string) error {
	runAndExit(func() error {
		return admin.Rename(configPath(), admin.RenameArgs{
			DiskID: opts.DiskID,
			FsUUID: c.FsUUID,
			NewID:  c.NewID,
		})
	})
	return nil
}

type diskMountCommand struct{}

func (c *diskMountCommand) Execute(args []string) error {
	runAndExit(func() error {
		mountpoint, err := admin.MountForRestore(configPath(), opts.DiskID)
		if err != nil {
			return err
		}
		fmt.Println(mountpoint)
		return nil
	})
	return nil
}

type diskUmountCommand struct {
	Mountpoint string `long:"mountpoint" description:"restore mountpoint to unmount (auto-detected if omitted)"`
}

func (c *diskUmountCommand) Execute(args []string) error {
	runAndExit(func() error {
		return admin.UnmountRestore(configPath(), c.Mountpoint)
	})
	return nil
}

type diskInspectCommand struct{}

// Execute mounts the selected disk read-only, prints its top-level
// entries, then unmounts — a quick sanity check before committing to a
// full restore.
func (c *diskInspectCommand) Execute(args []string) error {
	runAndExit(func() error {
		return admin.Inspect(configPath(), opts.DiskID, func(mountpoint string) error {
			f, err := os.Open(mountpoint)
			if err != nil {
				return err
			}
			defer f.Close()
			names, err := f.Readdirnames(-1)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(os.Stdout)
			defer w.Flush()
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
			return nil
		})
	})
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
