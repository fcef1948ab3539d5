// Package identity reads, writes, and verifies the on-disk ".timevault"
// identity file that binds a configured disk-id to a physical filesystem
// UUID.
package identity

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johnjoeallen/timevault/internal/fstype"
	"github.com/johnjoeallen/timevault/internal/timeverr"
)

// Version is the only identity schema version timevault currently writes
// or accepts.
const Version = 1

const fileName = ".timevault"

// Identity is the persisted identity file, written on enrollment and on
// rename, read on every backup, mount-for-restore, and rename.
type Identity struct {
	Version uint32  `yaml:"version"`
	DiskID  string  `yaml:"diskId"`
	FsUUID  string  `yaml:"fsUuid"`
	FsType  *string `yaml:"fsType,omitempty"`
	Created string  `yaml:"created"`
}

// Path returns the identity file path for a disk mounted at root.
func Path(root string) string {
	return filepath.Join(root, fileName)
}

// Read loads and decodes the identity file at path. Unknown fields are
// tolerated for forward compatibility.
func Read(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, timeverr.Messagef("open %s: %v", path, err)
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, timeverr.Messagef("parse %s: %v", path, err)
	}
	return &id, nil
}

// Write encodes and persists id to path.
func Write(path string, id *Identity) error {
	data, err := yaml.Marshal(id)
	if err != nil {
		return timeverr.Messagef("encode identity: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return timeverr.Messagef("write %s: %v", path, err)
	}
	return nil
}

// New builds a fresh identity for enrollment, stamped with the current
// time.
func New(diskID, fsUUID string, fsType fstype.FsType) *Identity {
	typeName := fsType.String()
	return &Identity{
		Version: Version,
		DiskID:  diskID,
		FsUUID:  fsUUID,
		FsType:  &typeName,
		Created: time.Now().UTC().Format(time.RFC3339),
	}
}

// Verify checks that id matches the expected disk-id and fs-uuid, and
// that its version is the one timevault understands.
func Verify(id *Identity, expectedDiskID, expectedFsUUID string) error {
	if id.Version != Version {
		return timeverr.NewDiskError(timeverr.IdentityMismatch,
			fmtMismatch("version", Version, id.Version))
	}
	if id.DiskID != expectedDiskID {
		return timeverr.NewDiskError(timeverr.IdentityMismatch,
			"diskId mismatch: expected "+expectedDiskID+", got "+id.DiskID)
	}
	if id.FsUUID != expectedFsUUID {
		return timeverr.NewDiskError(timeverr.IdentityMismatch,
			"fsUuid mismatch: expected "+expectedFsUUID+", got "+id.FsUUID)
	}
	return nil
}

func fmtMismatch(field string, want, got any) string {
	return field + " mismatch: expected " + toStr(want) + ", got " + toStr(got)
}

func toStr(v any) string {
	switch t := v.(type) {
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case string:
		return t
	default:
		return ""
	}
}
