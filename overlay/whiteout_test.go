package overlay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTranslateWhiteout(t *testing.T) {
	dstDir := t.TempDir()
	if err := TranslateWhiteout(dstDir, "removed.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, ".wh.removed.txt")); err != nil {
		t.Errorf("expected OCI whiteout marker, got error: %v", err)
	}
}

func TestPreserveOpaqueDir(t *testing.T) {
	dstDir := t.TempDir()
	if err := PreserveOpaqueDir(dstDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, OpaqueMarker)); err != nil {
		t.Errorf("expected opaque marker, got error: %v", err)
	}
}

func TestIsWhiteoutMarkerName(t *testing.T) {
	cases := []struct {
		name       string
		wantHidden string
		wantOK     bool
	}{
		{".wh.foo", "foo", true},
		{OpaqueMarker, "", false},
		{"foo", "", false},
		{".wh.", "", true},
	}
	for _, tc := range cases {
		hidden, ok := IsWhiteoutMarkerName(tc.name)
		if ok != tc.wantOK || hidden != tc.wantHidden {
			t.Errorf("IsWhiteoutMarkerName(%q) = (%q, %v), want (%q, %v)", tc.name, hidden, ok, tc.wantHidden, tc.wantOK)
		}
	}
}

func TestFilterDanglingWhiteouts(t *testing.T) {
	dstDir := t.TempDir()
	baseDir := t.TempDir()

	// "kept" is hidden in a base that still has it; "gone" hides a base
	// entry that no longer exists, so its whiteout is dangling.
	if err := os.WriteFile(filepath.Join(baseDir, "kept"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := TranslateWhiteout(dstDir, "kept"); err != nil {
		t.Fatal(err)
	}
	if err := TranslateWhiteout(dstDir, "gone"); err != nil {
		t.Fatal(err)
	}

	if err := FilterDanglingWhiteouts(dstDir, baseDir); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dstDir, ".wh.kept")); err != nil {
		t.Errorf("whiteout for an entry still present in base should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, ".wh.gone")); !os.IsNotExist(err) {
		t.Error("whiteout for an entry absent from base should be removed")
	}
}

func TestMakeWhiteoutAndIsWhiteout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wh")
	if err := MakeWhiteout(path); err != nil {
		t.Skipf("mknod unsupported in this environment: %v", err)
	}
	ok, err := IsWhiteout(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected IsWhiteout to recognize a freshly created whiteout device")
	}
}

func TestMarkAndIsOpaqueDir(t *testing.T) {
	dir := t.TempDir()
	if err := MarkOpaqueDir(dir); err != nil {
		t.Skipf("xattr unsupported on this filesystem: %v", err)
	}
	ok, err := IsOpaqueDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected IsOpaqueDir to recognize a freshly marked directory")
	}
}
