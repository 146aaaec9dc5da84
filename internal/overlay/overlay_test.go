package overlay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLayer(t *testing.T, root string, files map[string]string) Layer {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return Layer{Name: filepath.Base(root), Root: root}
}

func readAll(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestMergeUnionAndPrecedence(t *testing.T) {
	base := t.TempDir()
	low := writeLayer(t, filepath.Join(base, "low"), map[string]string{
		"shared.txt":    "low",
		"only-low.txt":  "low",
		"sub/deep.txt":  "low",
		"sub/other.txt": "low",
	})
	mid := writeLayer(t, filepath.Join(base, "mid"), map[string]string{
		"shared.txt":   "mid",
		"sub/deep.txt": "mid",
	})
	high := writeLayer(t, filepath.Join(base, "high"), map[string]string{
		"shared.txt":    "high",
		"only-high.txt": "high",
	})

	dest := filepath.Join(base, "dest")
	stats, err := Merge([]Layer{low, mid, high}, dest, Options{})
	require.NoError(t, err)

	want := map[string]string{
		"shared.txt":    "high",
		"only-low.txt":  "low",
		"only-high.txt": "high",
		"sub/deep.txt":  "mid",
		"sub/other.txt": "low",
	}
	if diff := cmp.Diff(want, readAll(t, dest)); diff != "" {
		t.Errorf("merged tree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, stats.Files)
	assert.Equal(t, 2, stats.Replaced)
}

func TestMergeIsDeterministic(t *testing.T) {
	base := t.TempDir()
	layers := []Layer{
		writeLayer(t, filepath.Join(base, "a"), map[string]string{"x.txt": "1", "y.txt": "1"}),
		writeLayer(t, filepath.Join(base, "b"), map[string]string{"y.txt": "2", "z.txt": "2"}),
	}

	destA := filepath.Join(base, "destA")
	destB := filepath.Join(base, "destB")
	_, err := Merge(layers, destA, Options{})
	require.NoError(t, err)
	_, err = Merge(layers, destB, Options{})
	require.NoError(t, err)

	assert.Equal(t, readAll(t, destA), readAll(t, destB))

	fpA, err := Fingerprint(destA)
	require.NoError(t, err)
	fpB, err := Fingerprint(destB)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}

func TestMergeExcludes(t *testing.T) {
	base := t.TempDir()
	l := writeLayer(t, filepath.Join(base, "src"), map[string]string{
		"keep.txt":             "yes",
		".DS_Store":            "no",
		"sub/.DS_Store":        "no",
		"sub/desktop.ini":      "no",
		"sub/map.orig":         "no",
		"Thumbs.db":            "no",
		"textures/skin.bak":    "no",
		"textures/skin.dds":    "yes",
		"triggers/main.galaxy": "yes",
	})

	dest := filepath.Join(base, "dest")
	excludes := append(append([]string{}, DefaultExcludes...), "**/*.bak")
	_, err := Merge([]Layer{l}, dest, Options{Excludes: excludes})
	require.NoError(t, err)

	got := readAll(t, dest)
	want := map[string]string{
		"keep.txt":             "yes",
		"textures/skin.dds":    "yes",
		"triggers/main.galaxy": "yes",
	}
	assert.Equal(t, want, got)
}

func TestMergeRejectsBadExcludePattern(t *testing.T) {
	base := t.TempDir()
	l := writeLayer(t, filepath.Join(base, "src"), map[string]string{"a.txt": "1"})
	_, err := Merge([]Layer{l}, filepath.Join(base, "dest"), Options{Excludes: []string{"[broken"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exclude pattern")
}

func TestMergeXMLDisabledReplacesWholesale(t *testing.T) {
	base := t.TempDir()
	low := writeLayer(t, filepath.Join(base, "low"), map[string]string{
		"UnitData.xml": `<Catalog><CUnit id="Marine"/></Catalog>`,
	})
	high := writeLayer(t, filepath.Join(base, "high"), map[string]string{
		"UnitData.xml": `<Catalog><CUnit id="Reaper"/></Catalog>`,
	})

	dest := filepath.Join(base, "dest")
	_, err := Merge([]Layer{low, high}, dest, Options{})
	require.NoError(t, err)

	got := readAll(t, dest)["UnitData.xml"]
	assert.Equal(t, `<Catalog><CUnit id="Reaper"/></Catalog>`, got)
}

func TestMergeXMLFoldsLayers(t *testing.T) {
	base := t.TempDir()
	low := writeLayer(t, filepath.Join(base, "low"), map[string]string{
		"UnitData.xml": `<Catalog><CUnit id="Marine" race="Terr"><Speed value="2.25"/></CUnit></Catalog>`,
	})
	high := writeLayer(t, filepath.Join(base, "high"), map[string]string{
		"UnitData.xml": `<Catalog><CUnit id="Marine" race="Terran"/><CUnit id="Reaper"/></Catalog>`,
	})

	dest := filepath.Join(base, "dest")
	stats, err := Merge([]Layer{low, high}, dest, Options{MergeXML: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MergedXML)

	got := readAll(t, dest)["UnitData.xml"]
	assert.Contains(t, got, `race="Terran"`, "higher layer attributes overwrite")
	assert.Contains(t, got, `<Speed value="2.25">`, "lower layer children survive")
	assert.Contains(t, got, `id="Reaper"`, "new entries append")
	assert.Equal(t, 1, strings.Count(got, `id="Marine"`), "entries pair by id")
}

func TestMergeXMLSingleLayerCopiesThrough(t *testing.T) {
	base := t.TempDir()
	// Odd spacing and a comment survive only if the bytes are untouched.
	raw := "<Catalog>\n\t<!-- hands off -->\n\t<CUnit   id=\"Marine\"/>\n</Catalog>\n"
	low := writeLayer(t, filepath.Join(base, "low"), map[string]string{"UnitData.xml": raw})
	high := writeLayer(t, filepath.Join(base, "high"), map[string]string{"other.txt": "x"})

	dest := filepath.Join(base, "dest")
	_, err := Merge([]Layer{low, high}, dest, Options{MergeXML: true})
	require.NoError(t, err)

	assert.Equal(t, raw, readAll(t, dest)["UnitData.xml"])
}

func TestMergeXMLInvalidLayerSkipped(t *testing.T) {
	base := t.TempDir()
	valid := `<Catalog><CUnit id="Marine"/></Catalog>`
	low := writeLayer(t, filepath.Join(base, "low"), map[string]string{"UnitData.xml": valid})
	high := writeLayer(t, filepath.Join(base, "high"), map[string]string{"UnitData.xml": `<Catalog><CUnit`})

	dest := filepath.Join(base, "dest")
	stats, err := Merge([]Layer{low, high}, dest, Options{MergeXML: true})
	require.NoError(t, err)

	require.Len(t, stats.Warnings, 1)
	assert.Contains(t, stats.Warnings[0], "invalid XML")
	assert.Contains(t, stats.Warnings[0], "high")
	assert.Equal(t, valid, readAll(t, dest)["UnitData.xml"], "the valid layer passes through unchanged")
	assert.Equal(t, 0, stats.MergedXML)
}

func TestMergeXMLAllLayersInvalid(t *testing.T) {
	base := t.TempDir()
	low := writeLayer(t, filepath.Join(base, "low"), map[string]string{"UnitData.xml": `<Catalog><broken`})
	high := writeLayer(t, filepath.Join(base, "high"), map[string]string{"UnitData.xml": `also not xml`})

	dest := filepath.Join(base, "dest")
	stats, err := Merge([]Layer{low, high}, dest, Options{MergeXML: true})
	require.NoError(t, err)

	assert.Len(t, stats.Warnings, 2)
	assert.Equal(t, `<Catalog><broken`, readAll(t, dest)["UnitData.xml"], "first layer bytes are the fallback")
}

func TestFingerprint(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	writeLayer(t, a, map[string]string{"x.txt": "same", "sub/y.txt": "same"})
	b := filepath.Join(base, "b")
	writeLayer(t, b, map[string]string{"x.txt": "same", "sub/y.txt": "same"})

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB, "identical trees fingerprint identically")

	require.NoError(t, os.WriteFile(filepath.Join(b, "x.txt"), []byte("different"), 0o644))
	fpChanged, err := Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpChanged, "content changes the fingerprint")

	c := filepath.Join(base, "c")
	writeLayer(t, c, map[string]string{"x.txt": "same", "sub/z.txt": "same"})
	fpRenamed, err := Fingerprint(c)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpRenamed, "paths change the fingerprint")
}
