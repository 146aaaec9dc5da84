package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	sc2mapkit "github.com/voidforge/sc2mapkit"
	"github.com/voidforge/sc2mapkit/internal/devserver"
)

const debounceDurationMS = 500

type notifier struct {
	out      func()
	notified bool
	lock     sync.Mutex
}

func (n *notifier) notify() {
	n.lock.Lock()
	defer n.lock.Unlock()
	if !n.notified {
		n.notified = true
		go func() {
			time.Sleep(debounceDurationMS * time.Millisecond)
			n.out()
			n.lock.Lock()
			n.notified = false
			defer n.lock.Unlock()
		}()
	}
}

func (a *app) watch(args []string) error {
	fs, bf := a.buildFlagSet("watch")
	port := fs.Int("port", 8320, "port for the status server")
	pos, err := parsePositional(fs, args, buildArgNames)
	if err != nil {
		return err
	}
	cfg, err := a.buildConfig(pos, bf)
	if err != nil {
		return err
	}
	// Watch rebuilds over the previous output every time.
	cfg.Force = true
	builder, err := sc2mapkit.NewBuilder(cfg)
	if err != nil {
		return err
	}

	server := devserver.NewServer(*port)
	rebuilt := make(chan struct{}, 10)
	n := &notifier{out: func() {
		rebuilt <- struct{}{}
	}, notified: false}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, l := range cfg.Layers {
		if err := watchTree(watcher, l.Root); err != nil {
			return err
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := watchTree(watcher, ev.Name); err != nil {
							log.Println("error watching new directory:", err)
						}
					}
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					n.notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Println("watch error:", err)
			}
		}
	}()

	// One worker owns the scratch directory and the last fingerprint, so
	// builds never overlap.
	go func() {
		var lastFingerprint string
		for range rebuilt {
			runWatchBuild(builder, server, &lastFingerprint)
		}
	}()
	rebuilt <- struct{}{}

	fmt.Printf("Watching %s, %s and %s\n", pos[0], pos[1], pos[2])
	fmt.Printf("Ready on :%d 🗺️🗺️🗺️\n", *port)
	return server.Serve()
}

func runWatchBuild(b *sc2mapkit.Builder, server *devserver.Server, lastFingerprint *string) {
	st := devserver.BuildStatus{MapName: b.MapName()}
	started := time.Now()
	res, err := b.Merge(context.Background())
	if err != nil {
		log.Println("error during rebuild:", err)
		st.Error = err.Error()
	} else {
		st.Archive = b.ArchivePath()
		st.Files = res.Files
		st.Bytes = res.Bytes
		st.Fingerprint = res.Fingerprint
		st.Warnings = res.Warnings
		if res.Fingerprint == *lastFingerprint && archiveExists(b.ArchivePath()) {
			st.Skipped = true
			log.Printf("no content changes, skipping pack\n")
		} else if err := b.Pack(context.Background(), res); err != nil {
			log.Println("error during pack:", err)
			st.Error = err.Error()
		} else {
			*lastFingerprint = res.Fingerprint
		}
	}
	st.FinishedAt = time.Now().UTC()
	st.ElapsedMS = time.Since(started).Milliseconds()
	server.BuildDone(st)
}

func archiveExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
