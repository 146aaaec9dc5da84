// Package devserver serves watch-mode build status over HTTP and SSE.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBuildHistory = 50

// BuildStatus is what the watch loop publishes after each rebuild.
type BuildStatus struct {
	MapName     string    `json:"map"`
	Archive     string    `json:"archive,omitempty"`
	Files       int       `json:"files"`
	Bytes       int64     `json:"bytes"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Skipped     bool      `json:"skipped,omitempty"`
	Error       string    `json:"error,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
	ElapsedMS   int64     `json:"elapsed_ms"`
}

type Server struct {
	port    int
	senders map[int]chan interface{}
	nextID  int
	lock    sync.Mutex

	statusLock sync.Mutex
	last       *BuildStatus
	builds     []BuildStatus
}

func NewServer(port int) *Server {
	return &Server{
		port:    port,
		senders: map[int]chan interface{}{},
	}
}

type buildEvent struct {
	Type  string      `json:"type"`
	Build BuildStatus `json:"build"`
}

type pingEvent struct {
	Type string `json:"type"`
}

// BuildDone records a finished (or failed) build and notifies subscribers.
func (s *Server) BuildDone(st BuildStatus) {
	s.statusLock.Lock()
	s.last = &st
	s.builds = append(s.builds, st)
	if len(s.builds) > maxBuildHistory {
		s.builds = s.builds[len(s.builds)-maxBuildHistory:]
	}
	s.statusLock.Unlock()
	s.broadcast(&buildEvent{Type: "build", Build: st})
}

func (s *Server) broadcast(ev interface{}) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, sender := range s.senders {
		sender <- ev
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		s.statusLock.Lock()
		last := s.last
		s.statusLock.Unlock()
		w.Header().Add("Content-type", "application/json")
		w.Header().Add("Cache-control", "no-store")
		if last == nil {
			if _, err := w.Write([]byte("{}\n")); err != nil {
				fmt.Printf("error: %#v\n", err)
			}
			return
		}
		if err := json.NewEncoder(w).Encode(last); err != nil {
			fmt.Printf("error: %#v\n", err)
		}
	})

	r.Get("/builds", func(w http.ResponseWriter, r *http.Request) {
		s.statusLock.Lock()
		builds := append([]BuildStatus{}, s.builds...)
		s.statusLock.Unlock()

		var buildsResponse struct {
			Builds []BuildStatus `json:"builds"`
		}
		buildsResponse.Builds = builds
		w.Header().Add("Content-type", "application/json")
		w.Header().Add("Cache-control", "no-store")
		if err := json.NewEncoder(w).Encode(buildsResponse); err != nil {
			fmt.Printf("error: %#v\n", err)
		}
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
			return
		}

		s.lock.Lock()
		currentID := s.nextID
		s.nextID++
		c := make(chan interface{}, 10)
		s.senders[currentID] = c
		s.lock.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		encoder := json.NewEncoder(w)
		defer func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			delete(s.senders, currentID)
		}()

		for ev := range c {
			if _, err := w.Write([]byte("data: ")); err != nil {
				fmt.Printf("err: %#v\n", err)
				return
			}
			if err := encoder.Encode(ev); err != nil {
				fmt.Printf("err: %#v\n", err)
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				fmt.Printf("err: %#v\n", err)
				return
			}
			flusher.Flush()
		}
	})

	return r
}

// Serve blocks on the status server.
func (s *Server) Serve() error {
	go func() {
		for {
			s.broadcast(pingEvent{Type: "ping"})
			time.Sleep(10 * time.Second)
		}
	}()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 200 * time.Millisecond,
		Addr:              fmt.Sprintf(":%d", s.port),
	}
	return srv.ListenAndServe()
}
