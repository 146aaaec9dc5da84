package sc2mapkit

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubPacker writes a deterministic listing of the source tree instead of a
// real archive, so tests can compare archive contents byte for byte.
type stubPacker struct {
	packs        int
	fail         error
	writePartial bool
}

func (p *stubPacker) Pack(_ context.Context, srcDir, destFile string) error {
	p.packs++
	if p.fail != nil {
		if p.writePartial {
			if err := os.WriteFile(destFile, []byte("partial garbage"), 0o644); err != nil {
				return err
			}
		}
		return p.fail
	}
	var rels []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(rels)
	var b strings.Builder
	for _, rel := range rels {
		data, err := os.ReadFile(filepath.Join(srcDir, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "%s=%s\n", rel, data)
	}
	return os.WriteFile(destFile, []byte(b.String()), 0o644)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
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

// threeLayers builds the standard map < patch < extra setup used by most
// builder tests.
func threeLayers(t *testing.T, base string) []Layer {
	t.Helper()
	layers := []Layer{
		{Name: "map", Root: filepath.Join(base, "map")},
		{Name: "patch", Root: filepath.Join(base, "patch")},
		{Name: "extra", Root: filepath.Join(base, "extra")},
	}
	writeTree(t, layers[0].Root, map[string]string{
		"Base.SC2Data/file.xml": "<v>1</v>",
		"data.txt":              "keep me",
	})
	writeTree(t, layers[1].Root, map[string]string{
		"Base.SC2Data/file.xml": "<v>2</v>",
		"stable.json":           `{"id":"abc","version":"1.2.3","game":"5.0.11"}`,
	})
	writeTree(t, layers[2].Root, map[string]string{
		"Base.SC2Data/file.xml": "<v>3</v>",
		"new.txt":               "added on top",
	})
	return layers
}
