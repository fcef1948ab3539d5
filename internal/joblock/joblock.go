// Package joblock implements the PID-file locking that keeps two backup
// invocations from touching the same job concurrently.
package joblock

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/johnjoeallen/timevault/internal/pathutil"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// Lock is a held job lock. Release deletes the PID file if (and only if)
// it still belongs to this process, so a lock stolen by stale-holder
// detection is never deleted out from under its new owner.
type Lock struct {
	path string
}

// Acquire takes the lock for jobName, retrying up to 3 times: each
// collision with an existing lock file is resolved by checking whether
// its recorded PID is still alive in /proc, and removing the file if not.
// A dryRun acquisition is a no-op that always succeeds with a nil Lock,
// since a dry run never mutates job state worth serializing.
func Acquire(jobName string, dryRun bool) (*Lock, error) {
	if dryRun {
		return nil, nil
	}
	path, err := pathutil.JobLockPath(jobName)
	if err != nil {
		return nil, err
	}
	ok, err := lockFile(path)
	if err != nil {
		return nil, timeverr.Messagef("failed to lock %s: %v", path, err)
	}
	if !ok {
		return nil, timeverr.Messagef("job %s is already running", jobName)
	}
	return &Lock{path: path}, nil
}

// Release drops the lock, deleting its PID file only if it still records
// this process's PID and this process is still alive.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	_ = unlockFile(l.path)
}

func lockFile(path string) (bool, error) {
	for i := 0; i < 3; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil {
				return false, werr
			}
			if cerr != nil {
				return false, cerr
			}
			return true, nil
		}
		if !os.IsExist(err) {
			return false, err
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				continue
			}
			return false, rerr
		}
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil {
			if pathutil.Exists("/proc/" + strconv.Itoa(pid)) {
				return false, nil
			}
		}
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return false, rerr
		}
	}
	return false, nil
}

func unlockFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	pid := strings.TrimSpace(string(data))
	if pid == "" {
		return nil
	}
	if pid != strconv.Itoa(os.Getpid()) {
		return nil
	}
	if !pathutil.Exists("/proc/" + pid) {
		return nil
	}
	return os.Remove(path)
}
