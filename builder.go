package sc2mapkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"

	"github.com/voidforge/sc2mapkit/internal/mpq"
	"github.com/voidforge/sc2mapkit/internal/overlay"
)

// Layer is one source directory of a build. Later layers take precedence
// over earlier ones when they carry the same relative path.
type Layer = overlay.Layer

// Packer turns a finished map tree into a single archive file.
type Packer = mpq.Packer

// Config describes one map build.
type Config struct {
	// Layers are applied in order, lowest precedence first.
	Layers []Layer
	// MapName names the output; a .SC2Map suffix is stripped if present.
	MapName string
	// OutDir holds the scratch tree and the packed archive. Defaults to
	// "Output" under the working directory.
	OutDir string
	// Force replaces an existing scratch tree and archive.
	Force bool
	// MergeXML merges catalog XML files across layers instead of letting
	// the highest layer replace them wholesale.
	MergeXML bool
	// Excludes are extra doublestar patterns skipped during the merge, on
	// top of overlay.DefaultExcludes.
	Excludes []string
	// Packer defaults to the mpqcli docker packer.
	Packer Packer
}

// Result describes a finished build.
type Result struct {
	MapName     string
	ScratchDir  string
	ArchivePath string
	Files       int
	Bytes       int64
	MergedXML   int
	Fingerprint string
	Warnings    []string
	Elapsed     time.Duration
}

type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) (*Builder, error) {
	cfg.MapName = strings.TrimSuffix(cfg.MapName, ".SC2Map")
	if cfg.MapName == "" {
		return nil, fmt.Errorf("map name is required")
	}
	if len(cfg.Layers) == 0 {
		return nil, fmt.Errorf("at least one source layer is required")
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "Output"
	}
	if cfg.Packer == nil {
		cfg.Packer = mpq.NewCommandPacker("")
	}
	return &Builder{cfg: cfg}, nil
}

func (b *Builder) MapName() string { return b.cfg.MapName }

// ScratchDir is where the merged tree is materialized.
func (b *Builder) ScratchDir() string {
	return filepath.Join(b.cfg.OutDir, b.cfg.MapName)
}

// ArchivePath is where the packed map ends up.
func (b *Builder) ArchivePath() string {
	return filepath.Join(b.cfg.OutDir, b.cfg.MapName+".SC2Map")
}

// Build merges all layers and packs the result. It aborts before touching
// anything when a source is missing, and without force it aborts when the
// scratch tree or the archive already exists.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	res, err := b.Merge(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.Pack(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Merge runs the overlay without packing. The returned Result has no
// archive yet; hand it to Pack to finish the build.
func (b *Builder) Merge(_ context.Context) (*Result, error) {
	start := time.Now()
	for _, l := range b.cfg.Layers {
		info, err := os.Stat(l.Root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%s layer at %s: %w", l.Name, l.Root, ErrMissingSource)
			}
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s layer at %s is not a directory: %w", l.Name, l.Root, ErrMissingSource)
		}
	}

	scratch := b.ScratchDir()
	archive := b.ArchivePath()
	if _, err := os.Stat(scratch); err == nil {
		if !b.cfg.Force {
			return nil, fmt.Errorf("scratch tree %s: %w (use --force)", scratch, ErrDestinationExists)
		}
		if err := os.RemoveAll(scratch); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if _, err := os.Stat(archive); err == nil {
		if !b.cfg.Force {
			return nil, fmt.Errorf("archive %s: %w (use --force)", archive, ErrDestinationExists)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	names := make([]string, len(b.cfg.Layers))
	for i, l := range b.cfg.Layers {
		names[i] = l.Name
	}
	color.Printf("Merging <grey>%s</> into %s\n", strings.Join(names, " < "), scratch)

	opts := overlay.Options{
		Excludes: append(append([]string{}, overlay.DefaultExcludes...), b.cfg.Excludes...),
		MergeXML: b.cfg.MergeXML,
	}
	stats, err := overlay.Merge(b.cfg.Layers, scratch, opts)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	warnings := append([]string{}, stats.Warnings...)
	if _, err := os.Stat(filepath.Join(scratch, "stable.json")); os.IsNotExist(err) {
		warnings = append(warnings, "no stable.json in the merged map, the game patch layer should provide one")
	}
	for _, w := range warnings {
		color.Printf("<yellow>%s</>\n", w)
	}

	fp, err := overlay.Fingerprint(scratch)
	if err != nil {
		return nil, err
	}

	return &Result{
		MapName:     b.cfg.MapName,
		ScratchDir:  scratch,
		ArchivePath: archive,
		Files:       stats.Files,
		Bytes:       stats.Bytes,
		MergedXML:   stats.MergedXML,
		Fingerprint: fp,
		Warnings:    warnings,
		Elapsed:     time.Since(start),
	}, nil
}

// Pack archives the merged tree. The archive is written to a temporary
// path first and renamed over the destination only once packing succeeded,
// so a failed pack never leaves a partial archive behind and an existing
// archive survives the failure untouched.
func (b *Builder) Pack(ctx context.Context, res *Result) error {
	start := time.Now()
	color.Printf("Packing <grey>%s</>\n", res.ArchivePath)
	tmp := res.ArchivePath + ".partial"
	if err := b.cfg.Packer.Pack(ctx, res.ScratchDir, tmp); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			color.Printf("<yellow>could not remove %s: %s</>\n", tmp, rmErr)
		}
		return fmt.Errorf("pack: %w", err)
	}
	if err := os.Rename(tmp, res.ArchivePath); err != nil {
		return err
	}
	res.Elapsed += time.Since(start)
	color.Printf("<green>Packed %s</> (%d files, %d bytes, tree %s) in %s\n",
		res.ArchivePath, res.Files, res.Bytes, res.Fingerprint, res.Elapsed.Round(time.Millisecond))
	return nil
}
