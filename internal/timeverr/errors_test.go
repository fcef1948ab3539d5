package timeverr

import "testing"

func TestDiskErrorExitCodes(t *testing.T) {
	cases := []struct {
		kind DiskKind
		want int
	}{
		{NoDiskConnected, 10},
		{MultipleDisksConnected, 11},
		{IdentityMismatch, 12},
		{DiskNotEmpty, 13},
		{MountFailure, 14},
		{UmountFailure, 14},
		{Other, 2},
	}
	for _, tc := range cases {
		err := NewDiskError(tc.kind, "detail")
		if got := err.ExitCode(); got != tc.want {
			t.Errorf("DiskKind(%d).ExitCode() = %d, want %d", tc.kind, got, tc.want)
		}
		if got := ExitCode(err); got != tc.want {
			t.Errorf("ExitCode(DiskError) = %d, want %d", got, tc.want)
		}
	}
}

func TestConfigErrorExitCodeIsAlwaysTwo(t *testing.T) {
	for _, kind := range []ConfigKind{ConfigParse, ConfigInvalid} {
		err := NewConfigError(kind, "detail")
		if got := err.ExitCode(); got != 2 {
			t.Errorf("ConfigKind(%d).ExitCode() = %d, want 2", kind, got)
		}
	}
}

func TestMessageDefaultsToExitCodeOne(t *testing.T) {
	if got := ExitCode(Messagef("boom")); got != 1 {
		t.Errorf("ExitCode(Message) = %d, want 1", got)
	}
}

func TestExitCodeNilIsZero(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
}

func TestDiskErrorMessages(t *testing.T) {
	cases := []struct {
		kind DiskKind
		want string
	}{
		{NoDiskConnected, "no enrolled backup disk connected"},
		{MultipleDisksConnected, "multiple enrolled backup disks connected; specify --disk-id"},
	}
	for _, tc := range cases {
		if got := NewDiskError(tc.kind, "").Error(); got != tc.want {
			t.Errorf("DiskKind(%d).Error() = %q, want %q", tc.kind, got, tc.want)
		}
	}
}
