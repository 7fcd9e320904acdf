package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
options:
  arch: amd64
parts:
  libfoo:
    plugin: make
    source: ./libfoo-src
    source-type: local
    stage:
      - "*"
  app:
    plugin: make
    after: ["libfoo"]
    source: ./app-src
    stage:
      - "*"
`

func writeProjectFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "parts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesPartsAndOptions(t *testing.T) {
	dir := t.TempDir()
	path := writeProjectFile(t, dir, fixtureYAML)

	proj, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, "amd64", proj.Options["arch"])
	require.Len(t, proj.PartList, 2)
	assert.Equal(t, "libfoo", proj.PartList[0].Name)
	assert.Equal(t, "app", proj.PartList[1].Name)
}

func TestLoadRejectsCycle(t *testing.T) {
	dir := t.TempDir()
	path := writeProjectFile(t, dir, `
parts:
  a:
    after: ["b"]
  b:
    after: ["a"]
`)
	if _, err := Load(path, dir); err == nil {
		t.Fatal("expected an error for a cyclic after-graph")
	}
}

func TestCollaboratorsWiresLocalDirSourceByDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeProjectFile(t, dir, fixtureYAML)

	proj, err := Load(path, dir)
	if err != nil {
		t.Fatal(err)
	}
	collab := proj.Collaborators()
	if _, ok := collab.Sources["libfoo"]; !ok {
		t.Error("expected a source handler wired for libfoo")
	}
	if _, ok := collab.Sources["app"]; !ok {
		t.Error("expected a source handler wired for app (bare source URI defaults to local dir)")
	}
	if collab.Packages == nil {
		t.Error("expected a package repository wired")
	}
}

func TestSourceHandlerFactoryReturnsNilForSourcelessPart(t *testing.T) {
	dir := t.TempDir()
	path := writeProjectFile(t, dir, `
parts:
  nosrc:
    plugin: nil
`)
	proj, err := Load(path, dir)
	if err != nil {
		t.Fatal(err)
	}
	factory := proj.SourceHandlerFactory()
	part := proj.PartList[0]
	sh, err := factory(part)
	if err != nil {
		t.Fatal(err)
	}
	if sh != nil {
		t.Error("expected no source handler for a part with no source")
	}
}
