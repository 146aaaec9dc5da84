package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/erikgeiser/promptkit/confirmation"
	"github.com/gookit/color"
	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"
	"golang.org/x/term"

	sc2mapkit "github.com/voidforge/sc2mapkit"
	"github.com/voidforge/sc2mapkit/internal/mpq"
)

//go:embed version.json
var versionFS embed.FS

func printHelp() {
	fmt.Println("usage: build_sc2map [command]")
	fmt.Println("")
	fmt.Println("<MapFolder> <GamePatch> <ExtraFixes> <MapName>         Build a map archive from the three layers")
	fmt.Println("watch <MapFolder> <GamePatch> <ExtraFixes> <MapName>   Rebuild on changes and serve build status")
	fmt.Println("info <dir> [<dir> ...]                                 Show layer sizes and stable.json details")
	fmt.Println("clean                                                  Remove the output directory")
	fmt.Println("version                                                Shows version installed")
	fmt.Println("")
	fmt.Println("Layers merge in argument order, later layers overwrite earlier ones.")
	fmt.Println("Pass -h after any command to see its flags.")
}

func main() {
	a := newApp()
	if err := a.exec(); err != nil {
		color.Printf("<red>error:</> %s\n", err)
		os.Exit(1)
	}
}

type app struct {
	mpqImage string
}

func newApp() *app {
	return &app{
		mpqImage: os.Getenv("SC2MAPKIT_MPQCLI_IMAGE"),
	}
}

func (a *app) exec() error {
	if len(os.Args) == 1 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		return a.version()
	case "watch":
		return a.watch(os.Args[2:])
	case "info":
		return a.info(os.Args[2:])
	case "clean":
		return a.clean(os.Args[2:])
	case "help", "-h", "--help":
		printHelp()
		return nil
	default:
		return a.build(os.Args[1:])
	}
}

func (a *app) version() error {
	f, err := versionFS.ReadFile("version.json")
	if err != nil {
		return err
	}
	fmt.Printf("Version is %s\n", gjson.GetBytes(f, "version").String())
	return nil
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type buildFlags struct {
	force    bool
	mergeXML bool
	out      string
	image    string
	excludes multiFlag
}

func (a *app) buildFlagSet(name string) (*flag.FlagSet, *buildFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	bf := &buildFlags{}
	fs.BoolVar(&bf.force, "force", false, "replace existing output")
	fs.BoolVar(&bf.mergeXML, "merge-xml", false, "merge catalog XML files node by node instead of replacing them")
	fs.StringVar(&bf.out, "out", "Output", "output directory")
	fs.StringVar(&bf.image, "image", a.mpqImage, "mpqcli container image")
	fs.Var(&bf.excludes, "exclude", "glob of paths to skip, repeatable")
	return fs, bf
}

var buildArgNames = []string{"<MapFolder>", "<GamePatch>", "<ExtraFixes>", "<MapName>"}

// parsePositional accepts flags before and after the positional arguments,
// so `build_sc2map Maps/Base Patch Fixes MyMap -force` works.
func parsePositional(fs *flag.FlagSet, args []string, names []string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	pos := fs.Args()
	if len(pos) > len(names) {
		if err := fs.Parse(pos[len(names):]); err != nil {
			return nil, err
		}
		pos = append(pos[:len(names):len(names)], fs.Args()...)
	}
	if len(pos) != len(names) {
		return nil, fmt.Errorf("expected %s", strings.Join(names, " "))
	}
	return pos, nil
}

func (a *app) buildConfig(pos []string, bf *buildFlags) (sc2mapkit.Config, error) {
	layerNames := []string{"map", "patch", "extra"}
	layers := make([]sc2mapkit.Layer, 0, len(layerNames))
	for i, root := range pos[:len(layerNames)] {
		abs, err := filepath.Abs(root)
		if err != nil {
			return sc2mapkit.Config{}, err
		}
		layers = append(layers, sc2mapkit.Layer{Name: layerNames[i], Root: abs})
	}
	out, err := filepath.Abs(bf.out)
	if err != nil {
		return sc2mapkit.Config{}, err
	}
	return sc2mapkit.Config{
		Layers:   layers,
		MapName:  pos[3],
		OutDir:   out,
		Force:    bf.force,
		MergeXML: bf.mergeXML,
		Excludes: bf.excludes,
		Packer:   mpq.NewCommandPacker(bf.image),
	}, nil
}

func (a *app) build(args []string) error {
	fs, bf := a.buildFlagSet("build")
	pos, err := parsePositional(fs, args, buildArgNames)
	if err != nil {
		return err
	}
	cfg, err := a.buildConfig(pos, bf)
	if err != nil {
		return err
	}
	b, err := sc2mapkit.NewBuilder(cfg)
	if err != nil {
		return err
	}
	_, err = b.Build(context.Background())
	return err
}

func (a *app) info(args []string) error {
	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	if err := infoCmd.Parse(args); err != nil {
		return err
	}
	dirs := infoCmd.Args()
	if len(dirs) == 0 {
		fmt.Println("Requires at least one layer directory")
		os.Exit(1)
	}

	gameVersions := map[string]string{}
	for _, dir := range dirs {
		files := 0
		var size int64
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			files++
			size += info.Size()
			return nil
		})
		if err != nil {
			return err
		}
		color.Printf("<grey>%s</>: %d files, %d bytes\n", dir, files, size)

		raw, err := os.ReadFile(filepath.Join(dir, "stable.json"))
		if err != nil {
			color.Printf("  <yellow>no stable.json</>\n")
			continue
		}
		for _, field := range []string{"id", "version", "game"} {
			if v := gjson.GetBytes(raw, field); v.Exists() {
				fmt.Printf("  %s: %s\n", field, v.String())
			}
		}
		if v := gjson.GetBytes(raw, "game"); v.Exists() {
			gameVersions[dir] = v.String()
		}
	}

	var baseDir, base string
	for _, dir := range dirs {
		v, ok := gameVersions[dir]
		if !ok {
			continue
		}
		if base == "" {
			baseDir, base = dir, v
			continue
		}
		if semver.Compare("v"+base, "v"+v) != 0 {
			color.Printf("<yellow>game version mismatch:</> %s has %s, %s has %s\n", baseDir, base, dir, v)
		}
	}
	return nil
}

func (a *app) clean(args []string) error {
	cleanCmd := flag.NewFlagSet("clean", flag.ExitOnError)
	out := cleanCmd.String("out", "Output", "output directory")
	yes := cleanCmd.Bool("yes", false, "skip the confirmation prompt")
	if err := cleanCmd.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*out); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Nothing at %s\n", *out)
			return nil
		}
		return err
	}
	if !*yes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Println("Requires -yes when stdin is not a terminal")
			os.Exit(1)
		}
		input := confirmation.New(fmt.Sprintf("Remove everything under %s?", *out), confirmation.No)
		ok, err := input.RunPrompt()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted")
			return nil
		}
	}
	if err := os.RemoveAll(*out); err != nil {
		return err
	}
	color.Printf("<green>Removed</> %s\n", *out)
	return nil
}
