// Package checks runs scripted validation probes against live game sessions.
package checks

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Probe kinds.
const (
	KindBuffAfterAbility = "buff_after_ability"
	KindBunkerLoad       = "bunker_load"
	KindWeapons          = "weapons"
)

//go:embed suite.yaml
var defaultSuite []byte

// Load is one escort type to cycle through a carrier.
type Load struct {
	Unit  string `yaml:"unit" json:"unit"`
	Count int    `yaml:"count" json:"count"`
}

// Probe is a single validation against one unit type.
type Probe struct {
	Unit string `yaml:"unit" json:"unit"`
	Kind string `yaml:"kind" json:"kind"`

	// buff_after_ability
	Ability string `yaml:"ability,omitempty" json:"ability,omitempty"`
	Buff    string `yaml:"buff,omitempty" json:"buff,omitempty"`

	// weapons, and the weapon count asserted after buff_after_ability
	Weapons int `yaml:"weapons,omitempty" json:"weapons,omitempty"`

	// bunker_load
	Loads []Load `yaml:"loads,omitempty" json:"loads,omitempty"`

	// SettleSteps is how long to wait for the game to apply an action.
	SettleSteps int `yaml:"settle_steps,omitempty" json:"settle_steps,omitempty"`
}

// Suite is an ordered list of probes, all run inside one session.
type Suite struct {
	Probes []Probe `yaml:"probes" json:"probes"`
}

const defaultSettleSteps = 5

// DefaultSuite returns the built-in probes.
func DefaultSuite() Suite {
	s, err := parseSuite(defaultSuite)
	if err != nil {
		panic(fmt.Sprintf("built-in suite: %v", err))
	}
	return s
}

// LoadSuite reads a probe suite from a YAML file.
func LoadSuite(path string) (Suite, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, err
	}
	s, err := parseSuite(f)
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func parseSuite(raw []byte) (Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Suite{}, err
	}
	if len(s.Probes) == 0 {
		return Suite{}, fmt.Errorf("suite has no probes")
	}
	for i := range s.Probes {
		p := &s.Probes[i]
		if p.Unit == "" {
			return Suite{}, fmt.Errorf("probe %d: missing unit", i)
		}
		if p.SettleSteps == 0 {
			p.SettleSteps = defaultSettleSteps
		}
		switch p.Kind {
		case KindBuffAfterAbility:
			if p.Ability == "" || p.Buff == "" {
				return Suite{}, fmt.Errorf("probe %d (%s): buff_after_ability needs ability and buff", i, p.Unit)
			}
		case KindBunkerLoad:
			if len(p.Loads) == 0 {
				return Suite{}, fmt.Errorf("probe %d (%s): bunker_load needs loads", i, p.Unit)
			}
			for _, l := range p.Loads {
				if l.Unit == "" || l.Count < 1 {
					return Suite{}, fmt.Errorf("probe %d (%s): bad load %q/%d", i, p.Unit, l.Unit, l.Count)
				}
			}
		case KindWeapons:
			if p.Weapons < 1 {
				return Suite{}, fmt.Errorf("probe %d (%s): weapons needs a count", i, p.Unit)
			}
		default:
			return Suite{}, fmt.Errorf("probe %d (%s): unknown kind %q", i, p.Unit, p.Kind)
		}
	}
	return s, nil
}
