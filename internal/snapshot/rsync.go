package snapshot

import (
	"strings"

	"github.com/johnjoeallen/timevault/internal/procrun"
)

// runRsync shells out to rsync -ar for a single job cycle, niced and
// ioniced so it never starves the rest of the host. --delete-after and
// --delete-excluded are suppressed in safe mode, which only ever adds
// files to a backup directory, never removes them.
func runRsync(source, backupDir, excludesFile string, extra []string, mode procrun.RunMode) (int, error) {
	source = ensureTrailingSlash(source)
	backupDir = ensureTrailingSlash(backupDir)

	args := []string{
		"rsync", "-ar", "--stats",
		"--exclude-from=" + excludesFile,
	}
	if !mode.SafeMode {
		args = append(args, "--delete-after", "--delete-excluded")
	}
	args = append(args, extra...)
	args = append(args, source, backupDir)
	return procrun.RunNiced(args, mode)
}

func ensureTrailingSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}
