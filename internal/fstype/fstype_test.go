package fstype

import "testing"

func TestParseNormalizesCaseAndWhitespace(t *testing.T) {
	got := Parse("  EXT4\n")
	if !got.Equal(Ext4) {
		t.Errorf("Parse(%q) = %v, want ext4", "  EXT4\n", got)
	}
}

func TestParseMapsZfsMemberToZfs(t *testing.T) {
	got := Parse("zfs_member")
	if !got.Equal(Zfs) {
		t.Errorf("Parse(zfs_member) = %v, want zfs", got)
	}
}

func TestIsAllowed(t *testing.T) {
	for _, f := range []FsType{Ext2, Ext3, Ext4, Xfs, Jfs, Btrfs, Zfs, F2fs} {
		if !f.IsAllowed() {
			t.Errorf("%v should be allowed", f)
		}
	}
	if Other("vfat").IsAllowed() {
		t.Error("vfat should not be allowed")
	}
}

func TestIsRejected(t *testing.T) {
	for _, name := range []string{"vfat", "fat", "fat32", "exfat", "ntfs", "hfsplus", "hfs", "apfs", "iso9660", "udf", "msdos"} {
		if !Other(name).IsRejected() {
			t.Errorf("%s should be rejected", name)
		}
	}
	if Ext4.IsRejected() {
		t.Error("ext4 should not be rejected")
	}
}

func TestUnrecognizedIsNeitherAllowedNorRejected(t *testing.T) {
	f := Parse("reiserfs")
	if f.IsAllowed() || f.IsRejected() {
		t.Errorf("reiserfs should be unrecognized, got allowed=%v rejected=%v", f.IsAllowed(), f.IsRejected())
	}
}

func TestEqualComparesByCanonicalName(t *testing.T) {
	if !Parse("XFS").Equal(Xfs) {
		t.Error("Parse(XFS) should equal Xfs")
	}
	if Ext2.Equal(Ext3) {
		t.Error("Ext2 should not equal Ext3")
	}
}
