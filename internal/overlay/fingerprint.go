package overlay

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/minio/highwayhash"
)

var fingerprintKey = []byte("sc2mapkit.tree.fingerprint.key00")

// Fingerprint hashes every file under dir, by sorted relative path and
// content. Two trees with identical paths and bytes always produce the
// same value.
func Fingerprint(dir string) (string, error) {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		return "", err
	}
	var rels []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(rels)
	for _, rel := range rels {
		_, _ = io.WriteString(h, rel)
		_, _ = h.Write([]byte{0})
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
