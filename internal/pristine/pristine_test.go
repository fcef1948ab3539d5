package pristine

import "testing"

func TestParseOsReleaseDebian(t *testing.T) {
	info := parseOsRelease(`
PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
NAME="Debian GNU/Linux"
VERSION_ID="12"
ID=debian
`)
	if info.ID != "debian" || info.Name != "Debian GNU/Linux" || info.VersionID != "12" {
		t.Errorf("unexpected parse: %+v", info)
	}
	if !info.IsLinux {
		t.Error("expected IsLinux true")
	}
}

func TestParseOsReleaseHandlesIDLikeAndComments(t *testing.T) {
	info := parseOsRelease(`
# a comment
ID=ubuntu
ID_LIKE="debian"
`)
	if info.ID != "ubuntu" {
		t.Errorf("got ID=%s, want ubuntu", info.ID)
	}
	if len(info.IDLike) != 1 || info.IDLike[0] != "debian" {
		t.Errorf("got IDLike=%v, want [debian]", info.IDLike)
	}
}

func TestParseOsReleaseSkipsMalformedLines(t *testing.T) {
	info := parseOsRelease("not a key value line\nID=arch\n")
	if info.ID != "arch" {
		t.Errorf("got ID=%s, want arch", info.ID)
	}
}

func TestDetectPackageManagerByID(t *testing.T) {
	cases := []struct {
		id   string
		want PackageManager
		ok   bool
	}{
		{"debian", Dpkg, true},
		{"ubuntu", Dpkg, true},
		{"fedora", Rpm, true},
		{"rocky", Rpm, true},
		{"arch", Pacman, true},
		{"manjaro", Pacman, true},
		{"alpine", 0, false},
	}
	for _, tc := range cases {
		got, ok := detectPackageManager(OsInfo{IsLinux: true, ID: tc.id})
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("detectPackageManager(id=%s) = (%v, %v), want (%v, %v)", tc.id, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDetectPackageManagerFallsBackToIDLike(t *testing.T) {
	got, ok := detectPackageManager(OsInfo{IsLinux: true, ID: "pop", IDLike: []string{"ubuntu", "debian"}})
	if !ok || got != Dpkg {
		t.Errorf("expected pop to resolve via ID_LIKE match to Dpkg, got (%v, %v)", got, ok)
	}
}

func TestDetectPackageManagerRequiresLinux(t *testing.T) {
	if _, ok := detectPackageManager(OsInfo{IsLinux: false, ID: "debian"}); ok {
		t.Error("expected no package manager detected on a non-Linux OsInfo")
	}
}

func TestMatchesID(t *testing.T) {
	info := OsInfo{ID: "pop", IDLike: []string{"ubuntu", "debian"}}
	if !matchesID(info, "debian") {
		t.Error("expected matchesID to find debian via ID_LIKE")
	}
	if matchesID(info, "fedora") {
		t.Error("did not expect matchesID to find fedora")
	}
}
