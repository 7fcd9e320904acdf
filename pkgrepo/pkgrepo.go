// Package pkgrepo is a deliberately thin, local PackageRepository: it
// resolves package names against a directory of pre-fetched archives
// instead of reaching out to any real OS package manager, and unpacks
// whichever archive format it finds (a raw cpio stream, as an rpm's
// payload would be, or a gzipped tarball, as a deb's data member would
// be) into a part's package directory. Real network fetching and
// repository metadata are out of scope per the external-interfaces
// boundary; this exists so the engine is runnable end to end against a
// local fixture cache.
package pkgrepo

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"partcraft/perrors"
)

// Repository resolves and fetches packages from a flat cache directory.
// Each available package is a single archive file named
// "<name>_<version>.cpio" or "<name>_<version>.tar.gz"; ResolvePackages
// picks the highest version present for each requested name.
type Repository struct {
	CacheDir string
}

// New constructs a Repository backed by cacheDir.
func New(cacheDir string) *Repository {
	return &Repository{CacheDir: cacheDir}
}

// candidate is one cached archive's parsed name/version/path.
type candidate struct {
	name    string
	version string
	path    string
}

func (r *Repository) candidates() ([]candidate, error) {
	entries, err := os.ReadDir(r.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := e.Name()
		for _, suffix := range []string{".cpio", ".tar.gz"} {
			if strings.HasSuffix(base, suffix) {
				base = strings.TrimSuffix(base, suffix)
				break
			}
		}
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		out = append(out, candidate{
			name:    base[:idx],
			version: base[idx+1:],
			path:    filepath.Join(r.CacheDir, e.Name()),
		})
	}
	return out, nil
}

// ResolvePackages expands each requested name to "name_version", picking
// the highest version cached for that name. A name already carrying a
// "_version" suffix is returned unchanged if that exact archive exists.
func (r *Repository) ResolvePackages(names []string) ([]string, error) {
	all, err := r.candidates()
	if err != nil {
		return nil, err
	}

	exact := make(map[string]bool, len(all))
	for _, c := range all {
		exact[c.name+"_"+c.version] = true
	}

	resolved := make([]string, 0, len(names))
	for _, name := range names {
		if exact[name] {
			resolved = append(resolved, name)
			continue
		}
		var best *candidate
		for i := range all {
			c := &all[i]
			if c.name != name {
				continue
			}
			if best == nil || versionLess(best.version, c.version) {
				best = c
			}
		}
		if best == nil {
			return nil, &perrors.StagePackageNotFound{Package: name}
		}
		resolved = append(resolved, best.name+"_"+best.version)
	}
	sort.Strings(resolved)
	return resolved, nil
}

// versionLess reports whether a sorts before b, preferring semver
// comparison when both parse as semver (tolerating a missing "v"
// prefix) and falling back to a plain string comparison otherwise:
// distribution package versions are rarely pure semver, and a string
// sort is a better tiebreak than a meaningless semver.Compare result.
func versionLess(a, b string) bool {
	av, bv := maybeV(a), maybeV(b)
	if semver.IsValid(av) && semver.IsValid(bv) {
		return semver.Compare(av, bv) < 0
	}
	return a < b
}

func maybeV(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// FetchPackages unpacks each resolved package archive into destDir,
// concurrently: unpacking is CPU/IO-bound per archive and independent
// across packages, so an errgroup fans the work out the same way the
// engine's own Pull step fans out concurrent downloads.
func (r *Repository) FetchPackages(ctx context.Context, names []string, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	all, err := r.candidates()
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]candidate, len(all))
	for _, c := range all {
		byKey[c.name+"_"+c.version] = c
	}

	fetched := make([]string, len(names))
	g, _ := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			c, ok := byKey[name]
			if !ok {
				return &perrors.StagePackageNotFound{Package: name}
			}
			if err := unpack(c.path, destDir); err != nil {
				return xerrors.Errorf("unpack %s: %v", name, err)
			}
			fetched[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetched, nil
}

// unpack extracts archivePath (a raw cpio stream or a gzipped tar) into
// destDir, preserving relative paths and regular-file permissions.
func unpack(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.HasSuffix(archivePath, ".tar.gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		return unpackTar(tar.NewReader(gz), destDir)
	}
	return unpackCpio(cpio.NewReader(f), destDir)
}

func unpackTar(tr *tar.Reader, destDir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

// unpackCpio walks a cpio stream, switching on the Header.Mode type bits
// the same way the teacher's own cpio image builder sets them
// (cpio.ModeDir|perm, cpio.ModeSymlink|perm, or plain perm bits for a
// regular file).
func unpackCpio(cr *cpio.Reader, destDir string) error {
	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		perm := os.FileMode(hdr.Mode & 0o7777)
		switch {
		case hdr.Mode&cpio.ModeDir == cpio.ModeDir:
			if err := os.MkdirAll(target, perm); err != nil {
				return err
			}
		case hdr.Mode&cpio.ModeSymlink == cpio.ModeSymlink:
			link, err := io.ReadAll(cr)
			if err != nil {
				return err
			}
			if err := os.Symlink(string(link), target); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, cr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
