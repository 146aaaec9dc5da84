package sc2mapkit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, base string, layers []Layer, mutate func(*Config)) (*Builder, *stubPacker) {
	t.Helper()
	packer := &stubPacker{}
	cfg := Config{
		Layers:  layers,
		MapName: "TestMap",
		OutDir:  filepath.Join(base, "out"),
		Packer:  packer,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBuilder(cfg)
	require.NoError(t, err)
	return b, packer
}

func TestBuildOverlaysLayers(t *testing.T) {
	base := t.TempDir()
	b, packer := newTestBuilder(t, base, threeLayers(t, base), nil)

	res, err := b.Build(context.Background())
	require.NoError(t, err)

	merged := readTree(t, b.ScratchDir())
	assert.Equal(t, map[string]string{
		"Base.SC2Data/file.xml": "<v>3</v>",
		"data.txt":              "keep me",
		"new.txt":               "added on top",
		"stable.json":           `{"id":"abc","version":"1.2.3","game":"5.0.11"}`,
	}, merged)

	assert.Equal(t, 4, res.Files)
	assert.Empty(t, res.Warnings)
	assert.NotEmpty(t, res.Fingerprint)
	assert.Equal(t, 1, packer.packs)

	archive, err := os.ReadFile(b.ArchivePath())
	require.NoError(t, err)
	assert.Contains(t, string(archive), "Base.SC2Data/file.xml=<v>3</v>")
}

func TestBuildMissingSourceAborts(t *testing.T) {
	base := t.TempDir()
	layers := threeLayers(t, base)
	require.NoError(t, os.RemoveAll(layers[1].Root))
	b, packer := newTestBuilder(t, base, layers, nil)

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSource)
	assert.Contains(t, err.Error(), "patch")
	assert.Equal(t, 0, packer.packs)

	_, err = os.Stat(b.ScratchDir())
	assert.True(t, os.IsNotExist(err), "no scratch tree may be left behind")
	_, err = os.Stat(b.ArchivePath())
	assert.True(t, os.IsNotExist(err), "no archive may be produced")
}

func TestBuildLayerMustBeDirectory(t *testing.T) {
	base := t.TempDir()
	layers := threeLayers(t, base)
	require.NoError(t, os.RemoveAll(layers[2].Root))
	require.NoError(t, os.WriteFile(layers[2].Root, []byte("a file, not a dir"), 0o644))
	b, _ := newTestBuilder(t, base, layers, nil)

	_, err := b.Build(context.Background())
	assert.ErrorIs(t, err, ErrMissingSource)
}

func TestBuildRefusesToClobberArchive(t *testing.T) {
	base := t.TempDir()
	b, packer := newTestBuilder(t, base, threeLayers(t, base), nil)

	require.NoError(t, os.MkdirAll(filepath.Dir(b.ArchivePath()), 0o755))
	require.NoError(t, os.WriteFile(b.ArchivePath(), []byte("the old archive"), 0o644))

	_, err := b.Build(context.Background())
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, 0, packer.packs)

	old, err := os.ReadFile(b.ArchivePath())
	require.NoError(t, err)
	assert.Equal(t, "the old archive", string(old))
}

func TestBuildRefusesToClobberScratch(t *testing.T) {
	base := t.TempDir()
	b, _ := newTestBuilder(t, base, threeLayers(t, base), nil)

	writeTree(t, b.ScratchDir(), map[string]string{"leftover.txt": "from last time"})

	_, err := b.Build(context.Background())
	assert.ErrorIs(t, err, ErrDestinationExists)

	stale := readTree(t, b.ScratchDir())
	assert.Equal(t, map[string]string{"leftover.txt": "from last time"}, stale)
}

func TestForceRebuildIsDeterministic(t *testing.T) {
	base := t.TempDir()
	b, _ := newTestBuilder(t, base, threeLayers(t, base), func(cfg *Config) {
		cfg.Force = true
	})

	first, err := b.Build(context.Background())
	require.NoError(t, err)
	firstArchive, err := os.ReadFile(b.ArchivePath())
	require.NoError(t, err)

	second, err := b.Build(context.Background())
	require.NoError(t, err)
	secondArchive, err := os.ReadFile(b.ArchivePath())
	require.NoError(t, err)

	assert.Equal(t, firstArchive, secondArchive)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Files, second.Files)
}

func TestPackFailureKeepsOldArchive(t *testing.T) {
	base := t.TempDir()
	b, packer := newTestBuilder(t, base, threeLayers(t, base), func(cfg *Config) {
		cfg.Force = true
	})
	packer.fail = errors.New("container exploded")
	packer.writePartial = true

	require.NoError(t, os.MkdirAll(filepath.Dir(b.ArchivePath()), 0o755))
	require.NoError(t, os.WriteFile(b.ArchivePath(), []byte("the old archive"), 0o644))

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pack")
	assert.Contains(t, err.Error(), "container exploded")

	old, err := os.ReadFile(b.ArchivePath())
	require.NoError(t, err)
	assert.Equal(t, "the old archive", string(old), "a failed pack must not touch the previous archive")

	_, err = os.Stat(b.ArchivePath() + ".partial")
	assert.True(t, os.IsNotExist(err), "no partial file may be left behind")
}

func TestMergeWarnsWithoutStableJSON(t *testing.T) {
	base := t.TempDir()
	layers := threeLayers(t, base)
	require.NoError(t, os.Remove(filepath.Join(layers[1].Root, "stable.json")))
	b, _ := newTestBuilder(t, base, layers, nil)

	res, err := b.Merge(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no stable.json")
}

func TestMergeExcludesJunkFiles(t *testing.T) {
	base := t.TempDir()
	layers := threeLayers(t, base)
	writeTree(t, layers[0].Root, map[string]string{
		".DS_Store":              "junk",
		"Base.SC2Data/Thumbs.db": "junk",
		"notes.bak":              "mine",
	})
	b, _ := newTestBuilder(t, base, layers, func(cfg *Config) {
		cfg.Excludes = []string{"**/*.bak"}
	})

	_, err := b.Merge(context.Background())
	require.NoError(t, err)

	merged := readTree(t, b.ScratchDir())
	assert.NotContains(t, merged, ".DS_Store")
	assert.NotContains(t, merged, "Base.SC2Data/Thumbs.db")
	assert.NotContains(t, merged, "notes.bak")
	assert.Contains(t, merged, "data.txt")
}

func TestNewBuilderStripsArchiveSuffix(t *testing.T) {
	b, _ := newTestBuilder(t, t.TempDir(), []Layer{{Name: "map", Root: "."}}, func(cfg *Config) {
		cfg.MapName = "AutomatonLE.SC2Map"
	})
	assert.Equal(t, "AutomatonLE", b.MapName())
	assert.Equal(t, "AutomatonLE.SC2Map", filepath.Base(b.ArchivePath()))
	assert.Equal(t, "AutomatonLE", filepath.Base(b.ScratchDir()))
}

func TestNewBuilderValidates(t *testing.T) {
	_, err := NewBuilder(Config{MapName: "", Layers: []Layer{{Name: "map", Root: "."}}})
	assert.Error(t, err)

	_, err = NewBuilder(Config{MapName: "X"})
	assert.Error(t, err)
}
