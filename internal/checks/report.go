package checks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/gookit/color"
	"github.com/stoewer/go-strcase"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/exp/maps"
)

// UnitTally is the pass/fail count for one unit type across all sessions.
type UnitTally struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Units rolls the per-session results up by unit type.
func (r *RunReport) Units() map[string]UnitTally {
	units := map[string]UnitTally{}
	for _, s := range r.Sessions {
		for _, c := range s.Results {
			key := strcase.SnakeCase(c.Unit)
			t := units[key]
			if c.Passed {
				t.Passed++
			} else {
				t.Failed++
			}
			units[key] = t
		}
	}
	return units
}

// Print writes a colored run summary to stdout.
func (r *RunReport) Print() {
	checks := 0
	for _, s := range r.Sessions {
		checks += len(s.Results)
	}
	color.Printf("Run <grey>%s</> on %s: %d sessions, %d checks\n", r.RunID, r.Map, len(r.Sessions), checks)
	for _, s := range r.Sessions {
		id := s.ID
		if id == "" {
			id = "-"
		}
		color.Printf("  session %d <grey>(%s)</>\n", s.Session, id)
		for _, c := range s.Results {
			if c.Passed {
				color.Printf("    <green>✔</> %s %s <grey>(%d steps)</>\n", c.Unit, c.Kind, c.Steps)
			} else {
				color.Printf("    <red>✘</> %s %s: %s\n", c.Unit, c.Kind, c.Detail)
			}
		}
		if s.Err != "" {
			color.Printf("    <red>session error:</> %s\n", s.Err)
		}
	}

	units := r.Units()
	keys := maps.Keys(units)
	sort.Strings(keys)
	for _, key := range keys {
		t := units[key]
		if t.Failed > 0 {
			color.Printf("  %s: %d passed, <red>%d failed</>\n", key, t.Passed, t.Failed)
		} else {
			color.Printf("  %s: <green>%d passed</>\n", key, t.Passed)
		}
	}
	if r.Failed > 0 {
		color.Printf("<red>%d failure(s)</> in %dms\n", r.Failed, r.ElapsedMS)
	} else {
		color.Printf("<green>All checks passed</> in %dms\n", r.ElapsedMS)
	}
}

// WriteJSON writes the full report, with the per-unit rollup, to path.
func (r *RunReport) WriteJSON(path string) error {
	out := struct {
		*RunReport
		Units map[string]UnitTally `json:"units"`
	}{RunReport: r, Units: r.Units()}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

type historyEntry struct {
	RunID     string               `json:"run_id"`
	Map       string               `json:"map"`
	StartedAt string               `json:"started_at"`
	Failed    int                  `json:"failed"`
	Units     map[string]UnitTally `json:"units"`
}

// AppendHistory appends a run summary to the history file at path and
// returns the unit keys that regressed against the previous run of the
// same map, meaning they were clean before and failed now.
func (r *RunReport) AppendHistory(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		raw = []byte(`{"runs":[]}` + "\n")
	} else if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(raw, "runs").IsArray() {
		return nil, fmt.Errorf("%s: no runs array", path)
	}

	previous := map[string]UnitTally{}
	runs := gjson.GetBytes(raw, "runs").Array()
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Get("map").String() != r.Map {
			continue
		}
		runs[i].Get("units").ForEach(func(key, value gjson.Result) bool {
			previous[key.String()] = UnitTally{
				Passed: int(value.Get("passed").Int()),
				Failed: int(value.Get("failed").Int()),
			}
			return true
		})
		break
	}

	entry := historyEntry{
		RunID:     r.RunID,
		Map:       r.Map,
		StartedAt: r.StartedAt.Format(time.RFC3339),
		Failed:    r.Failed,
		Units:     r.Units(),
	}
	updated, err := sjson.SetBytes(raw, "runs.-1", entry)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return nil, err
	}

	var regressions []string
	for key, now := range entry.Units {
		was, ok := previous[key]
		if ok && was.Failed == 0 && now.Failed > 0 {
			regressions = append(regressions, key)
		}
	}
	sort.Strings(regressions)
	return regressions, nil
}
