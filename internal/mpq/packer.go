// Package mpq packs a map directory into a single MPQ archive.
package mpq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gookit/color"
)

// DefaultImage is the mpqcli container used when no other image is given.
const DefaultImage = "ghcr.io/thegraydot/mpqcli:latest"

// Packer turns a finished map tree into a single archive file.
type Packer interface {
	Pack(ctx context.Context, srcDir, destFile string) error
}

// CommandPacker shells out to mpqcli through docker. The source tree is
// mounted read-only; the archive is produced in a staging directory next
// to destFile and renamed into place.
type CommandPacker struct {
	Image string

	run func(ctx context.Context, name string, args ...string) error
}

func NewCommandPacker(image string) *CommandPacker {
	if image == "" {
		image = DefaultImage
	}
	return &CommandPacker{Image: image}
}

func (p *CommandPacker) Pack(ctx context.Context, srcDir, destFile string) error {
	srcDir, err := filepath.Abs(srcDir)
	if err != nil {
		return err
	}
	destFile, err = filepath.Abs(destFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return err
	}
	stage, err := os.MkdirTemp(filepath.Dir(destFile), ".mpq-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	out := filepath.Join(stage, "output.mpq")
	args := []string{
		"run", "--rm",
		"-v", srcDir + ":/data/map:ro",
		"-v", stage + ":/data/output",
		p.Image,
		"create", "/data/map", "--output", "/data/output/output.mpq",
	}
	run := p.run
	if run == nil {
		run = runCommand
	}
	if err := run(ctx, "docker", args...); err != nil {
		return fmt.Errorf("mpqcli: %w", err)
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("mpqcli produced no archive at %s", out)
	}
	return os.Rename(out, destFile)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	color.Printf("Running cmd <grey>%s %s</>\n", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204

	outbuf := bytes.NewBuffer(nil)
	cmd.Stdout = io.MultiWriter(os.Stdout, outbuf)
	cmd.Stderr = io.MultiWriter(os.Stderr, outbuf)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(outbuf.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, lastLine(msg))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
