package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voidforge/sc2mapkit/internal/gamectl"
)

const (
	// DefaultBatch is how many sessions run in parallel.
	DefaultBatch = 3
	// DefaultTimeout is the per-probe step budget.
	DefaultTimeout = 240
)

// RunConfig describes one validation run.
type RunConfig struct {
	Map      string
	Batch    int
	Timeout  int
	Opponent string
	Suite    Suite
}

// SessionResult holds one session's probe outcomes. Err is set when the
// session itself broke; probe failures land in Results instead.
type SessionResult struct {
	Session int           `json:"session"`
	ID      string        `json:"id,omitempty"`
	Results []CheckResult `json:"results,omitempty"`
	Err     string        `json:"error,omitempty"`
}

// RunReport is the outcome of a whole batch.
type RunReport struct {
	RunID     string          `json:"run_id"`
	Map       string          `json:"map"`
	Batch     int             `json:"batch"`
	Timeout   int             `json:"timeout"`
	Opponent  string          `json:"opponent,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Sessions  []SessionResult `json:"sessions"`
	Failed    int             `json:"failed"`
}

// Run executes the suite in cfg.Batch parallel sessions. A failing check or
// broken session never cancels its siblings; only ctx cancellation does.
func Run(ctx context.Context, ctrl gamectl.Controller, cfg RunConfig) (*RunReport, error) {
	if cfg.Map == "" {
		return nil, fmt.Errorf("map name is required")
	}
	if cfg.Batch < 1 {
		cfg.Batch = DefaultBatch
	}
	if cfg.Timeout < 1 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Suite.Probes) == 0 {
		cfg.Suite = DefaultSuite()
	}

	started := time.Now()
	report := &RunReport{
		RunID:     uuid.NewString(),
		Map:       cfg.Map,
		Batch:     cfg.Batch,
		Timeout:   cfg.Timeout,
		Opponent:  cfg.Opponent,
		StartedAt: started.UTC(),
		Sessions:  make([]SessionResult, cfg.Batch),
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Batch; i++ {
		i := i
		g.Go(func() error {
			report.Sessions[i] = runSession(ctx, ctrl, cfg, i)
			return ctx.Err()
		})
	}
	err := g.Wait()
	report.ElapsedMS = time.Since(started).Milliseconds()
	tally(report)
	return report, err
}

func runSession(ctx context.Context, ctrl gamectl.Controller, cfg RunConfig, n int) SessionResult {
	res := SessionResult{Session: n}
	s, err := ctrl.StartSession(ctx, cfg.Map, gamectl.SessionOptions{Opponent: cfg.Opponent})
	if err != nil {
		res.Err = fmt.Sprintf("start session: %v", err)
		return res
	}
	res.ID = s.ID()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			fmt.Printf("close session %s: %v\n", s.ID(), err)
		}
	}()

	for _, p := range cfg.Suite.Probes {
		res.Results = append(res.Results, runProbe(ctx, s, p, cfg.Timeout))
		if err := cleanupSession(ctx, s); err != nil {
			res.Err = fmt.Sprintf("cleanup after %s: %v", p.Unit, err)
			break
		}
	}
	return res
}

func tally(r *RunReport) {
	failed := 0
	for _, s := range r.Sessions {
		if s.Err != "" {
			failed++
		}
		for _, c := range s.Results {
			if !c.Passed {
				failed++
			}
		}
	}
	r.Failed = failed
}
