package overlay

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const opaqueXattr = "trusted.overlay.opaque"

// WhiteoutPrefix is the OCI-form marker prefix for a deleted entry.
const WhiteoutPrefix = ".wh."

// OpaqueMarker is the OCI-form marker file name for an opaque directory.
const OpaqueMarker = ".wh..wh..opq"

// IsWhiteout reports whether the file at path is an overlayfs whiteout:
// a character device with major/minor 0/0.
func IsWhiteout(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, xerrors.Errorf("lstat %s: %v", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return false, nil
	}
	major := unix.Major(uint64(st.Rdev))
	minor := unix.Minor(uint64(st.Rdev))
	return major == 0 && minor == 0, nil
}

// IsOpaqueDir reports whether dir is marked opaque via the
// trusted.overlay.opaque xattr.
func IsOpaqueDir(dir string) (bool, error) {
	buf := make([]byte, 8)
	n, err := unix.Lgetxattr(dir, opaqueXattr, buf)
	if err != nil {
		if err == unix.ENODATA || err == unix.ENOTSUP || os.IsNotExist(err) {
			return false, nil
		}
		return false, xerrors.Errorf("lgetxattr %s: %v", dir, err)
	}
	return string(buf[:n]) == "y", nil
}

// MakeWhiteout creates an overlayfs whiteout (character device 0/0) at
// path, used when the engine itself needs to record a deletion inside an
// overlay layer directory.
func MakeWhiteout(path string) error {
	if err := unix.Mknod(path, unix.S_IFCHR|0o000, int(unix.Mkdev(0, 0))); err != nil {
		return xerrors.Errorf("mknod whiteout %s: %v", path, err)
	}
	return nil
}

// MarkOpaqueDir sets the trusted.overlay.opaque xattr on dir.
func MarkOpaqueDir(dir string) error {
	if err := unix.Setxattr(dir, opaqueXattr, []byte("y"), 0); err != nil {
		return xerrors.Errorf("setxattr %s: %v", dir, err)
	}
	return nil
}

// TranslateWhiteout writes an OCI-style whiteout file ".wh.<name>" in
// dstDir (creating dstDir if needed) for an overlayfs whiteout named name.
// No whiteout device node is created at the destination.
func TranslateWhiteout(dstDir, name string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return xerrors.Errorf("mkdir %s: %v", dstDir, err)
	}
	dst := filepath.Join(dstDir, WhiteoutPrefix+name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.Errorf("create whiteout marker %s: %v", dst, err)
	}
	return f.Close()
}

// PreserveOpaqueDir writes the OCI opaque marker file inside dstDir,
// which must already exist as the migrated counterpart of an opaque
// overlay directory.
func PreserveOpaqueDir(dstDir string) error {
	marker := filepath.Join(dstDir, OpaqueMarker)
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.Errorf("create opaque marker %s: %v", marker, err)
	}
	return f.Close()
}

// IsWhiteoutMarkerName reports whether name is an OCI whiteout marker
// (".wh.<name>", but not the opaque marker itself) and returns the name
// of the entry it hides.
func IsWhiteoutMarkerName(name string) (hidden string, ok bool) {
	if name == OpaqueMarker {
		return "", false
	}
	if !strings.HasPrefix(name, WhiteoutPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, WhiteoutPrefix), true
}

// FilterDanglingWhiteouts walks dstDir (the destination of an
// overlay-to-stage or overlay-to-prime migration) and removes any OCI
// whiteout marker whose hidden name has no corresponding entry in
// baseDir, since there is nothing left for such a whiteout to hide.
func FilterDanglingWhiteouts(dstDir, baseDir string) error {
	return filepath.Walk(dstDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		hidden, ok := IsWhiteoutMarkerName(info.Name())
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(dstDir, filepath.Dir(path))
		if err != nil {
			return err
		}
		target := filepath.Join(baseDir, rel, hidden)
		if _, err := os.Lstat(target); os.IsNotExist(err) {
			if err := os.Remove(path); err != nil {
				return xerrors.Errorf("remove dangling whiteout %s: %v", path, err)
			}
		} else if err != nil {
			return xerrors.Errorf("lstat %s: %v", target, err)
		}
		return nil
	})
}
