// Package overlay materializes a layered last-writer-wins merge of source
// trees into a destination directory.
package overlay

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/exp/maps"

	"github.com/voidforge/sc2mapkit/internal/catalog"
)

// Layer is one source tree, identified by the name shown in output.
type Layer struct {
	Name string
	Root string
}

// DefaultExcludes are junk files that never belong in a packed map.
var DefaultExcludes = []string{
	"**/.DS_Store",
	"**/Thumbs.db",
	"**/desktop.ini",
	"**/*.orig",
}

type Options struct {
	// Excludes are doublestar patterns matched against slash-separated
	// relative paths.
	Excludes []string
	// MergeXML folds .xml files across layers node by node instead of
	// letting the highest layer replace them.
	MergeXML bool
}

type Stats struct {
	Files     int
	Bytes     int64
	Replaced  int
	MergedXML int
	Warnings  []string
}

// Merge overlays the layers onto destDir, lowest precedence first. The
// final content at any relative path equals the content from the highest
// layer that carries that path; directories are unioned, never deleted.
func Merge(layers []Layer, destDir string, opts Options) (*Stats, error) {
	for _, pat := range opts.Excludes {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pat)
		}
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	rels, err := collect(layers, opts.Excludes)
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	for _, rel := range rels {
		if err := mergeOne(layers, rel, destDir, opts, stats); err != nil {
			return nil, fmt.Errorf("merge %s: %w", rel, err)
		}
	}
	return stats, nil
}

// collect walks every layer and returns the sorted union of file paths,
// relative to the layer roots.
func collect(layers []Layer, excludes []string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, l := range layers {
		err := filepath.WalkDir(l.Root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(l.Root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if excluded(rel, excludes) {
				return nil
			}
			seen[rel] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	rels := maps.Keys(seen)
	sort.Strings(rels)
	return rels, nil
}

func excluded(rel string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func mergeOne(layers []Layer, rel, destDir string, opts Options, stats *Stats) error {
	dest := filepath.Join(destDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if opts.MergeXML && strings.EqualFold(path.Ext(rel), ".xml") {
		return mergeXML(layers, rel, dest, stats)
	}

	var src string
	holders := 0
	for _, l := range layers {
		p := filepath.Join(l.Root, filepath.FromSlash(rel))
		if _, err := os.Stat(p); err == nil {
			src = p
			holders++
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	n, err := copyFile(src, dest)
	if err != nil {
		return err
	}
	stats.Files++
	stats.Bytes += n
	if holders > 1 {
		stats.Replaced++
	}
	return nil
}

// mergeXML folds the layers that carry rel, low to high. A layer that does
// not parse is skipped with a warning; when only one layer parses, its
// bytes are copied through unchanged.
func mergeXML(layers []Layer, rel, dest string, stats *Stats) error {
	var doc *catalog.Node
	var raw []byte
	first := true
	for _, l := range layers {
		p := filepath.Join(l.Root, filepath.FromSlash(rel))
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		next, perr := catalog.Parse(data)
		if first {
			first = false
			raw = data
			if perr != nil {
				stats.Warnings = append(stats.Warnings,
					fmt.Sprintf("skipping invalid XML %s in %s layer: %v", rel, l.Name, perr))
			} else {
				doc = next
			}
			continue
		}
		if perr != nil {
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("skipping invalid XML %s in %s layer: %v", rel, l.Name, perr))
			continue
		}
		if doc == nil {
			doc = next
			raw = data
			continue
		}
		doc = catalog.Merge(doc, next)
		raw = nil
		stats.MergedXML++
	}

	out := raw
	if out == nil {
		rendered, err := catalog.Render(doc)
		if err != nil {
			return err
		}
		out = rendered
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return err
	}
	stats.Files++
	stats.Bytes += int64(len(out))
	return nil
}

func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}
