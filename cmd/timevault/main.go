// Command timevault is the CLI driver: it parses arguments into a Command
// plus a RunMode and hands both to the internal packages that actually
// mount disks, lock jobs, and run snapshots. It owns nothing but argument
// parsing, signal-driven mount teardown, and exit code mapping.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/johnjoeallen/timevault/internal/mount"
	"github.com/johnjoeallen/timevault/internal/procrun"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

const defaultConfigPath = "/etc/timevault/config.yaml"

// globalOptions carries every flag shared across subcommands, matching the
// CLI surface in spec: dry-run/safe/verbose mode plus job selection and
// the cascade/pristine toggles every backup invocation consults.
type globalOptions struct {
	DryRun              bool     `long:"dry-run" description:"narrate every action without performing it"`
	Safe                bool     `long:"safe" description:"never delete: suppress rsync deletion and backup expiry"`
	Verbose             bool     `short:"v" long:"verbose" description:"print extra progress detail"`
	Config              string   `long:"config" description:"path to the job catalog" default:"/etc/timevault/config.yaml"`
	Job                 []string `long:"job" description:"run only the named job (repeatable)"`
	PrintOrder          bool     `long:"print-order" description:"print the planned job order and exit"`
	DiskID              string   `long:"disk-id" description:"select a specific enrolled disk"`
	Cascade             bool     `long:"cascade" description:"replicate each job onto every other allowed disk"`
	ExcludePristine     bool     `long:"exclude-pristine" description:"also exclude unmodified package-manager files"`
	ExcludePristineOnly bool     `long:"exclude-pristine-only" description:"exclude nothing but pristine package files"`
	Rsync               []string `long:"rsync" description:"extra arguments appended to every rsync invocation"`

	Backup backupCommand `command:"backup" description:"run configured backup jobs (default)"`
	Disk   diskCommand   `command:"disk" description:"manage enrolled backup disks"`
}

var opts globalOptions

func main() {
	setupSignalHandler()

	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true

	args, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// go-flags dispatches to a subcommand's Execute automatically, which
	// runAndExit's itself before returning. A bare invocation leaves
	// parser.Active nil, so the default "backup" command still runs.
	if parser.Active == nil {
		runAndExit(func() error { return runBackup(runMode(), args) })
	}
}

// runMode translates the parsed global flags into the procrun.RunMode the
// engine packages consult.
func runMode() procrun.RunMode {
	return procrun.RunMode{DryRun: opts.DryRun, SafeMode: opts.Safe, Verbose: opts.Verbose}
}

func configPath() string {
	if opts.Config != "" {
		return opts.Config
	}
	return defaultConfigPath
}

// setupSignalHandler tears down every mount this process is tracking
// before exiting, so a SIGINT mid-restore never leaves a disk mounted
// under /run/timevault.
func setupSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "received termination signal; unmounting tracked disks")
		mount.TeardownAll()
		os.Exit(1)
	}()
}

// runAndExit runs fn and terminates the process with the exit code its
// error maps to, printing the error's message first exactly as every
// subcommand below expects (mirroring the disk-error print-then-exit
// pattern used throughout the engine).
func runAndExit(fn func() error) {
	err := fn()
	if err == nil {
		os.Exit(0)
	}
	fmt.Println(exitMessage(err))
	os.Exit(exitCode(err))
}

// exitCode resolves the process exit code for err, adding the one case
// timeverr's taxonomy doesn't carry a dedicated kind for: a job already
// locked by a concurrent invocation always exits 3.
func exitCode(err error) int {
	if isJobLockedError(err) {
		return 3
	}
	return timeverr.ExitCode(err)
}

func exitMessage(err error) string {
	msg := err.Error()
	if isJobLockedError(err) {
		return msg
	}
	if strings.HasPrefix(msg, "failed to lock ") {
		return msg + " (need write permission; try sudo or adjust permissions)"
	}
	return msg
}

func isJobLockedError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "job ") && strings.HasSuffix(msg, " is already running")
}
