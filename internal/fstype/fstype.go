// Package fstype classifies device filesystem types via blkid and decides
// which types timevault will write to.
package fstype

import (
	"strings"

	"github.com/johnjoeallen/timevault/internal/procrun"
)

// FsType is the tagged variant described in spec §3: the named Linux
// filesystems plus Zfs are allowed; a fixed set of "Other" names are
// rejected outright; anything else is merely unrecognized.
type FsType struct {
	name string // canonical lower-case name; "" only for the zero value
}

var (
	Ext2  = FsType{"ext2"}
	Ext3  = FsType{"ext3"}
	Ext4  = FsType{"ext4"}
	Xfs   = FsType{"xfs"}
	Jfs   = FsType{"jfs"}
	Btrfs = FsType{"btrfs"}
	Zfs   = FsType{"zfs"}
	F2fs  = FsType{"f2fs"}
)

var allowed = map[string]struct{}{
	"ext2": {}, "ext3": {}, "ext4": {}, "xfs": {}, "jfs": {},
	"btrfs": {}, "zfs": {}, "f2fs": {},
}

var rejectedNames = map[string]struct{}{
	"vfat": {}, "fat": {}, "fat32": {}, "exfat": {}, "ntfs": {},
	"hfsplus": {}, "hfs": {}, "apfs": {}, "iso9660": {}, "udf": {}, "msdos": {},
}

// Other constructs an FsType for a name outside the named variants.
func Other(name string) FsType { return FsType{name} }

// Parse maps a lower-cased, trimmed blkid TYPE value to an FsType.
func Parse(value string) FsType {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "zfs_member" {
		name = "zfs"
	}
	return FsType{name}
}

func (f FsType) String() string { return f.name }

// IsAllowed reports whether f is one of the named variants or Zfs.
func (f FsType) IsAllowed() bool {
	_, ok := allowed[f.name]
	return ok
}

// IsRejected reports whether f is an "Other" name known to be unsuitable
// for backup (removable-media and cross-platform filesystems).
func (f FsType) IsRejected() bool {
	_, ok := rejectedNames[f.name]
	return ok
}

// Equal compares two FsType values by their canonical name.
func (f FsType) Equal(other FsType) bool { return f.name == other.name }

// Detect invokes `blkid -o value -s TYPE <device>` and maps the result
// through Parse.
func Detect(device string) (FsType, error) {
	out, err := procrun.Output("blkid", "-o", "value", "-s", "TYPE", device)
	if err != nil {
		return FsType{}, err
	}
	return Parse(out), nil
}
