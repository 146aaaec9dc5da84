package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/gookit/color"

	"github.com/voidforge/sc2mapkit/internal/checks"
	"github.com/voidforge/sc2mapkit/internal/gamectl"
)

func main() {
	serverURL := os.Getenv("SC2MAPKIT_SERVER")
	if serverURL == "" {
		serverURL = gamectl.DefaultBridgeURL
	}

	mapName := flag.String("map", "", "map name to validate")
	batch := flag.Int("batch", checks.DefaultBatch, "parallel check sessions")
	timeout := flag.Int("timeout", checks.DefaultTimeout, "step budget per probe")
	server := flag.String("server", serverURL, "game control server")
	suitePath := flag.String("suite", "", "probe suite YAML, built-in suite when empty")
	reportPath := flag.String("report", "", "write the full report JSON here")
	historyPath := flag.String("history", "", "append a run summary to this history file")
	opponent := flag.String("opponent", "passive", "opponent behavior")
	flag.Parse()

	if *mapName == "" {
		fmt.Println("Requires -map <map name>")
		flag.Usage()
		os.Exit(1)
	}

	suite := checks.DefaultSuite()
	if *suitePath != "" {
		var err error
		suite, err = checks.LoadSuite(*suitePath)
		if err != nil {
			color.Printf("<red>error:</> %s\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := checks.Run(ctx, gamectl.NewBridgeController(*server), checks.RunConfig{
		Map:      *mapName,
		Batch:    *batch,
		Timeout:  *timeout,
		Opponent: *opponent,
		Suite:    suite,
	})
	if report != nil {
		report.Print()
	}
	if err != nil {
		color.Printf("<red>error:</> %s\n", err)
		os.Exit(1)
	}

	if *reportPath != "" {
		if err := report.WriteJSON(*reportPath); err != nil {
			color.Printf("<red>error:</> %s\n", err)
			os.Exit(1)
		}
	}
	if *historyPath != "" {
		regressions, err := report.AppendHistory(*historyPath)
		if err != nil {
			color.Printf("<red>error:</> %s\n", err)
			os.Exit(1)
		}
		for _, unit := range regressions {
			color.Printf("<red>regression:</> %s failed, it passed on the previous run of %s\n", unit, report.Map)
		}
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}
