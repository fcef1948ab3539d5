// Package pristine builds the exclude list that keeps package-manager-owned
// files that are still byte-identical to what the package manager installed
// out of backups, trading a cheap mtime-keyed cache for redundant SHA-256
// hashing on every run.
package pristine

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/johnjoeallen/timevault/internal/logging"
	"github.com/johnjoeallen/timevault/internal/timeverr"

	sysconf "github.com/tklauser/go-sysconf"
)

const (
	osReleasePath    = "/etc/os-release"
	cacheRelPath     = ".cache/timevault/pristine-cache.json"
	cacheFileVersion = 1
)

// PackageManager identifies the package database consulted for the
// currently-installed file manifest.
type PackageManager int

const (
	Dpkg PackageManager = iota
	Rpm
	Pacman
)

func (m PackageManager) String() string {
	switch m {
	case Dpkg:
		return "dpkg"
	case Rpm:
		return "rpm"
	case Pacman:
		return "pacman"
	default:
		return "unknown"
	}
}

// OsInfo is the subset of /etc/os-release fields needed to pick a package
// manager.
type OsInfo struct {
	IsLinux   bool
	ID        string
	IDLike    []string
	Name      string
	VersionID string
}

func (o OsInfo) String() string {
	var parts []string
	if o.IsLinux {
		parts = append(parts, "linux")
	} else {
		parts = append(parts, "other")
	}
	if o.ID != "" {
		parts = append(parts, "id="+o.ID)
	}
	if len(o.IDLike) > 0 {
		parts = append(parts, "id_like="+strings.Join(o.IDLike, ","))
	}
	if o.VersionID != "" {
		parts = append(parts, "version_id="+o.VersionID)
	}
	return strings.Join(parts, " ")
}

type cacheEntry struct {
	Mtime int64  `json:"mtime"`
	Hash  string `json:"hash"`
	Dirty bool   `json:"dirty"`
}

type cacheFile struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// BuildExcludes computes the rsync exclude list of package-managed files
// that are still pristine. It returns an empty (not nil) list, rather than
// an error, when the host's package manager can't be identified: pristine
// exclusion is an optimization, never a hard requirement for a backup to
// run.
func BuildExcludes(ctx context.Context, log *logging.Logger) ([]string, error) {
	log.Verbosef("pristine: detect operating system")
	osInfo, err := detectOS()
	if err != nil {
		return nil, err
	}
	log.Verbosef("pristine: os %s", osInfo)

	manager, ok := detectPackageManager(osInfo)
	if !ok {
		log.Verbosef("pristine: package manager unknown")
		return []string{}, nil
	}
	log.Verbosef("pristine: package manager %s", manager)

	cacheFilePath, err := cachePath()
	if err != nil {
		return nil, err
	}
	log.Verbosef("pristine: cache %s", cacheFilePath)

	cache := loadCache(cacheFilePath, log)

	files, err := listPackageFiles(ctx, manager, log)
	if err != nil {
		return nil, err
	}

	newEntries, stats, err := refreshEntries(ctx, files, cache.Entries, log)
	if err != nil {
		return nil, err
	}
	cache.Entries = newEntries

	if err := saveCache(cacheFilePath, cache, log); err != nil {
		return nil, err
	}
	log.Verbosef("pristine: cache stats reused=%d hashed=%d pristine=%d dirty=%d",
		stats.reused, stats.hashed, stats.pristine, stats.dirty)

	excludes := make([]string, 0, len(cache.Entries))
	for path, entry := range cache.Entries {
		if !entry.Dirty {
			excludes = append(excludes, path)
		}
	}
	sort.Strings(excludes)
	return excludes, nil
}

type refreshStats struct {
	reused, hashed, pristine, dirty int
}

// refreshEntries walks every candidate file, reusing cached hashes whose
// mtime hasn't moved and re-hashing (in parallel, bounded by CPU count) the
// rest. A file whose content no longer matches its cached hash is marked
// dirty and keeps its ORIGINAL pristine hash, so a file whose bytes are later
// restored to what the package manager installed is pristine again on the
// next refresh. Because the first observed hash is kept, a file replaced by a
// package upgrade stays dirty on every later run; deleting the cache file
// resets it.
func refreshEntries(ctx context.Context, files []string, existing map[string]cacheEntry, log *logging.Logger) (map[string]cacheEntry, refreshStats, error) {
	type result struct {
		path   string
		entry  cacheEntry
		reused bool
		skip   bool
	}

	results := make([]result, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount())

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() {
				results[i] = result{skip: true}
				return nil
			}
			mtime := info.ModTime().Unix()

			if prior, ok := existing[path]; ok && prior.Mtime == mtime {
				results[i] = result{path: path, entry: prior, reused: true}
				return nil
			}

			if prior, ok := existing[path]; ok {
				currentHash, err := hashFile(path)
				if err != nil {
					log.Verbosef("pristine: hash failed %s (%v)", path, err)
					results[i] = result{skip: true}
					return nil
				}
				results[i] = result{path: path, entry: cacheEntry{
					Mtime: mtime,
					Hash:  prior.Hash,
					Dirty: currentHash != prior.Hash,
				}}
				return nil
			}

			currentHash, err := hashFile(path)
			if err != nil {
				log.Verbosef("pristine: hash failed %s (%v)", path, err)
				results[i] = result{skip: true}
				return nil
			}
			results[i] = result{path: path, entry: cacheEntry{Mtime: mtime, Hash: currentHash, Dirty: false}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, refreshStats{}, timeverr.Messagef("pristine: %v", err)
	}

	out := make(map[string]cacheEntry, len(files))
	var stats refreshStats
	for _, r := range results {
		if r.skip {
			continue
		}
		if r.reused {
			stats.reused++
		} else {
			stats.hashed++
		}
		if r.entry.Dirty {
			stats.dirty++
		} else {
			stats.pristine++
		}
		out[r.path] = r.entry
	}
	return out, stats, nil
}

func workerCount() int {
	n, err := sysconf.Sysconf(sysconf.SC_NPROCESSORS_ONLN)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return int(n)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func cachePath() (string, error) {
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}
	return filepath.Join(home, cacheRelPath), nil
}

func loadCache(path string, log *logging.Logger) cacheFile {
	data, err := os.ReadFile(path)
	if err != nil {
		return cacheFile{Version: cacheFileVersion, Entries: map[string]cacheEntry{}}
	}
	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		log.Verbosef("pristine: cache read failed (%v)", err)
		return cacheFile{Version: cacheFileVersion, Entries: map[string]cacheEntry{}}
	}
	if cache.Version == 0 {
		cache.Version = cacheFileVersion
	}
	if cache.Entries == nil {
		cache.Entries = map[string]cacheEntry{}
	}
	return cache
}

func saveCache(path string, cache cacheFile, log *logging.Logger) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return timeverr.Messagef("create %s: %v", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return timeverr.Messagef("encode pristine cache: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return timeverr.Messagef("write %s: %v", path, err)
	}
	log.Verbosef("pristine: cache updated")
	return nil
}

func detectOS() (OsInfo, error) {
	if runtime.GOOS != "linux" {
		return OsInfo{IsLinux: false}, nil
	}
	data, err := os.ReadFile(osReleasePath)
	if err != nil {
		return OsInfo{}, timeverr.Messagef("read %s: %v", osReleasePath, err)
	}
	return parseOsRelease(string(data)), nil
}

func parseOsRelease(content string) OsInfo {
	info := OsInfo{IsLinux: true}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value := strings.Trim(strings.TrimSpace(raw), `"'`)
		switch key {
		case "ID":
			info.ID = value
		case "ID_LIKE":
			info.IDLike = strings.Fields(value)
		case "NAME":
			info.Name = value
		case "VERSION_ID":
			info.VersionID = value
		}
	}
	return info
}

func detectPackageManager(info OsInfo) (PackageManager, bool) {
	if !info.IsLinux {
		return 0, false
	}
	if matchesID(info, "debian", "ubuntu", "linuxmint") {
		return Dpkg, true
	}
	if matchesID(info, "rhel", "fedora", "centos", "rocky", "almalinux", "amzn") {
		return Rpm, true
	}
	if matchesID(info, "arch", "manjaro", "endeavouros") {
		return Pacman, true
	}
	return 0, false
}

func matchesID(info OsInfo, ids ...string) bool {
	for _, id := range ids {
		if info.ID == id {
			return true
		}
		for _, like := range info.IDLike {
			if like == id {
				return true
			}
		}
	}
	return false
}

func listPackageFiles(ctx context.Context, manager PackageManager, log *logging.Logger) ([]string, error) {
	log.Verbosef("pristine: enumerate package-managed files")
	var files []string
	var err error
	switch manager {
	case Dpkg:
		files, err = listDpkgFiles(log)
	case Rpm:
		files, err = listCommandFiles(ctx, "rpm", []string{"-qal"}, log)
	case Pacman:
		files, err = listCommandFiles(ctx, "pacman", []string{"-Qlq"}, log)
	default:
		return nil, timeverr.Messagef("pristine: unknown package manager")
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func listDpkgFiles(log *logging.Logger) ([]string, error) {
	const infoDir = "/var/lib/dpkg/info"
	entries, err := os.ReadDir(infoDir)
	if err != nil {
		return nil, timeverr.Messagef("read dpkg info dir failed: %v", err)
	}
	seen := map[string]struct{}{}
	listCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".list" {
			continue
		}
		path := filepath.Join(infoDir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			log.Verbosef("pristine: skip %s (%v)", path, err)
			continue
		}
		listCount++
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if strings.HasPrefix(line, "/") {
				seen[line] = struct{}{}
			}
		}
		f.Close()
	}
	log.Verbosef("pristine: dpkg lists %d", listCount)
	log.Verbosef("pristine: dpkg files %d", len(seen))
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return out, nil
}

func listCommandFiles(ctx context.Context, name string, args []string, log *logging.Logger) ([]string, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, timeverr.Messagef("%s not found: %v", name, err)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, timeverr.Messagef("%s failed: %v", name, err)
	}
	var files []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "/") {
			files = append(files, line)
		}
	}
	log.Verbosef("pristine: %s files %d", name, len(files))
	return files, nil
}
