package source

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"partcraft/parts"
)

func mustParseRFC3339(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}

func TestLocalDirPullCopiesFiles(t *testing.T) {
	workDir := t.TempDir()
	fixture := t.TempDir()
	if err := os.WriteFile(filepath.Join(fixture, "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	s := NewLocalDir(fixture)
	details, err := s.Pull(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if details["source-dir"] != fixture {
		t.Errorf("unexpected details: %v", details)
	}
	if _, err := os.Stat(filepath.Join(p.SrcDir(), "main.go")); err != nil {
		t.Errorf("expected file copied into src dir: %v", err)
	}
}

func TestLocalDirCheckIfOutdatedMissingStateIsOutdated(t *testing.T) {
	s := NewLocalDir(t.TempDir())
	outdated, err := s.CheckIfOutdated(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatal(err)
	}
	if !outdated {
		t.Error("expected a missing state file to count as outdated")
	}
}

func TestLocalDirCheckIfOutdatedDetectsNewerSource(t *testing.T) {
	stateDir := t.TempDir()
	statePath := filepath.Join(stateDir, "pull.yaml")
	if err := os.WriteFile(statePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	oldTime := mustParseRFC3339(t, "2020-01-01T00:00:00Z")
	if err := os.Chtimes(statePath, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	newTime := mustParseRFC3339(t, "2030-01-01T00:00:00Z")
	if err := os.Chtimes(filepath.Join(srcDir, "f"), newTime, newTime); err != nil {
		t.Fatal(err)
	}

	s := NewLocalDir(srcDir)
	outdated, err := s.CheckIfOutdated(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if !outdated {
		t.Error("expected a source file newer than the state file to count as outdated")
	}
}

func TestTarGzPullExtractsArchive(t *testing.T) {
	workDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "src.tar.gz")
	writeTestTarGz(t, archivePath, map[string]string{"README": "hello"})

	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	s := NewTarGz(archivePath)
	if _, err := s.Pull(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(p.SrcDir(), "README"))
	if err != nil {
		t.Fatalf("expected archive extracted into src dir: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestTarGzCheckIfOutdatedComparesArchiveMtime(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "src.tar.gz")
	writeTestTarGz(t, archivePath, map[string]string{"f": "x"})

	statePath := filepath.Join(t.TempDir(), "pull.yaml")
	if err := os.WriteFile(statePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	newTime := mustParseRFC3339(t, "2030-01-01T00:00:00Z")
	if err := os.Chtimes(archivePath, newTime, newTime); err != nil {
		t.Fatal(err)
	}

	s := NewTarGz(archivePath)
	outdated, err := s.CheckIfOutdated(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if !outdated {
		t.Error("expected a newer archive to count as outdated")
	}
}

func writeTestTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}
