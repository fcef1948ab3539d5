package mount

import "testing"

func TestFindDeviceMountpointReturnsEmptyForUnknownDevice(t *testing.T) {
	mp, err := FindDeviceMountpoint("/dev/does-not-exist-tv-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mp != "" {
		t.Errorf("expected empty mountpoint for an unmounted device, got %s", mp)
	}
}

func TestMountpointIsMountedRootIsAlwaysMounted(t *testing.T) {
	mounted, err := MountpointIsMounted("/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mounted {
		t.Error("expected / to always appear in the mount table")
	}
}

func TestMountpointIsMountedReportsFalseForArbitraryPath(t *testing.T) {
	mounted, err := MountpointIsMounted("/not/a/real/mountpoint/tv-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mounted {
		t.Error("expected an arbitrary non-mountpoint path to report false")
	}
}

func TestCanonicalFallsBackToLiteralPathWhenUnresolvable(t *testing.T) {
	got := canonical("/not/a/real/path/tv-test")
	if got != "/not/a/real/path/tv-test" {
		t.Errorf("canonical(unresolvable) = %s, want the literal path back", got)
	}
}

func TestTrackUntrackRoundTrip(t *testing.T) {
	Track("/mnt/tv-test-a")
	Track("/mnt/tv-test-ab")
	defer Untrack("/mnt/tv-test-a")
	defer Untrack("/mnt/tv-test-ab")

	mps := TrackedMountpoints()
	found := map[string]bool{}
	for _, mp := range mps {
		found[mp] = true
	}
	if !found["/mnt/tv-test-a"] || !found["/mnt/tv-test-ab"] {
		t.Fatalf("expected both tracked mountpoints present, got %v", mps)
	}

	var idxA, idxAB int
	for i, mp := range mps {
		if mp == "/mnt/tv-test-a" {
			idxA = i
		}
		if mp == "/mnt/tv-test-ab" {
			idxAB = i
		}
	}
	if idxAB > idxA {
		t.Errorf("expected the longer path to sort first, got order %v", mps)
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := NewGuard("/not/a/real/mountpoint/tv-test", false)
	g.Release()
	g.Release()
}

func TestNilGuardReleaseIsSafe(t *testing.T) {
	var g *Guard
	g.Release()
}
