// Package procrun invokes external tools on behalf of the engine, honoring
// dry-run and verbose echoing uniformly so every subsystem that shells out
// (mount, blkid, SYNC, sync) goes through the same path.
package procrun

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// RunMode carries the three cross-cutting flags every engine operation
// consults: whether to actually perform side effects, whether to hold back
// destructive operations, and whether to narrate progress.
type RunMode struct {
	DryRun   bool
	SafeMode bool
	Verbose  bool
}

func printCommand(name string, args []string) {
	fmt.Printf("%s %s\n", name, strings.Join(args, " "))
}

// Run invokes name with args, returning its exit code. In dry-run, the
// command is never executed and 0 is returned; verbose or dry-run echoes
// the command line first.
func Run(name string, args []string, mode RunMode) (int, error) {
	if mode.Verbose || mode.DryRun {
		printCommand(name, args)
	}
	if mode.DryRun {
		return 0, nil
	}
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 1, timeverr.Messagef("%s: %v", name, err)
	}
	return 0, nil
}

// RunSilent is the same as Run but redirects stdout/stderr to /dev/null
// and ignores RunMode.Verbose — used for speculative probing during disk
// discovery where the command's chatter is pure noise.
func RunSilent(name string, args []string) (int, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 1, timeverr.Messagef("%s: %v", name, err)
	}
	return 0, nil
}

// RunNiced prepends "nice -n19 ionice -c3 -n7" to argv and delegates to
// Run. Snapshot copy and SYNC invocations flow through this helper so they
// never starve the rest of the system of I/O or CPU.
func RunNiced(args []string, mode RunMode) (int, error) {
	full := append([]string{"-n19", "ionice", "-c3", "-n7"}, args...)
	return Run("nice", full, mode)
}

// Output runs name with args and returns its trimmed stdout. Used for
// tools like blkid whose result is consumed rather than just its exit
// status.
func Output(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", timeverr.Messagef("%s: %v", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}
