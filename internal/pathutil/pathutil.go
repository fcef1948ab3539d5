// Package pathutil implements the path and naming admission rules shared
// by every subsystem that derives an on-disk path segment from
// user-supplied input: job names, disk-ids, and the temp/mount directories
// timevault creates on their behalf.
package pathutil

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// IsSafeName reports whether s is non-empty, not "." or "..", and made up
// only of ASCII alphanumerics and '.', '-', '_'. This is the admissible
// form for any on-disk path segment derived from user input.
func IsSafeName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// JobLockPath returns the PID-file path for a job name, after verifying
// the name is safe.
func JobLockPath(name string) (string, error) {
	if !IsSafeName(name) {
		return "", timeverr.Messagef("job %s name must use only letters, digits, '.', '-', '_'", name)
	}
	return fmt.Sprintf("/var/run/timevault.%s.pid", name), nil
}

// EnsureBaseDir creates path with mode 0700 if missing. If path already
// exists it must be a directory owned by uid 0, and its mode is
// unconditionally reset to 0700. This is the admission rule for every
// root-owned runtime directory timevault maintains (mount roots,
// user-mount roots).
func EnsureBaseDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return timeverr.Messagef("stat %s: %v", path, err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return timeverr.Messagef("create %s: %v", path, err)
		}
		info, err = os.Stat(path)
		if err != nil {
			return timeverr.Messagef("stat %s: %v", path, err)
		}
	} else if !info.IsDir() {
		return timeverr.Messagef("%s is not a directory", path)
	}

	if st, ok := info.Sys().(*unix.Stat_t); ok && st.Uid != 0 {
		return timeverr.Messagef("%s must be owned by root", path)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		return timeverr.Messagef("chmod %s: %v", path, err)
	}
	return nil
}

// CreateTempDir mints a unique subdirectory of base with mode 0700, whose
// name encodes prefix, pid, a UTC millisecond timestamp, and a short UUID
// tail so concurrent invocations never collide even when the millisecond
// clock doesn't advance between them.
func CreateTempDir(base, prefix string) (string, error) {
	if err := EnsureBaseDir(base); err != nil {
		return "", err
	}
	ts := time.Now().UTC().Format("20060102150405.000")
	name := fmt.Sprintf("%s-%d-%s-%s", prefix, os.Getpid(), ts, uuid.NewString()[:8])
	candidate := fmt.Sprintf("%s/%s", base, name)
	if err := os.MkdirAll(candidate, 0o700); err != nil {
		return "", timeverr.Messagef("create %s: %v", candidate, err)
	}
	if err := os.Chmod(candidate, 0o700); err != nil {
		return "", timeverr.Messagef("chmod %s: %v", candidate, err)
	}
	return candidate, nil
}

// Exists reports whether path can be stat'd, following symlinks.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ListEntries lists the names of entries directly under path, excluding
// "." and "..".
func ListEntries(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, timeverr.Messagef("read %s: %v", path, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
