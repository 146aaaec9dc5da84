package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voidforge/sc2mapkit/internal/gamectl"
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Unit   string `json:"unit"`
	Kind   string `json:"kind"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
	Steps  int    `json:"steps"`
}

var errBudget = errors.New("step budget exhausted")

// budget charges every game step a probe takes against its timeout.
type budget struct {
	s     gamectl.Session
	limit int
	used  int
}

func (b *budget) step(ctx context.Context, n int) error {
	if b.used+n > b.limit {
		return errBudget
	}
	b.used += n
	if _, err := b.s.Step(ctx, n); err != nil {
		return err
	}
	return nil
}

func runProbe(ctx context.Context, s gamectl.Session, p Probe, timeout int) CheckResult {
	b := &budget{s: s, limit: timeout}
	res := CheckResult{Unit: p.Unit, Kind: p.Kind}
	var err error
	switch p.Kind {
	case KindBuffAfterAbility:
		err = probeBuffAfterAbility(ctx, b, p)
	case KindBunkerLoad:
		err = probeBunkerLoad(ctx, b, p)
	case KindWeapons:
		err = probeWeapons(ctx, b, p)
	default:
		err = fmt.Errorf("unknown probe kind %q", p.Kind)
	}
	res.Steps = b.used
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	return res
}

// probeBuffAfterAbility spawns the unit, triggers the ability and expects
// the buff to land, then checks the unit reports its weapon.
func probeBuffAfterAbility(ctx context.Context, b *budget, p Probe) error {
	if err := b.s.Spawn(ctx, []gamectl.UnitOrder{{Type: p.Unit, Count: 1, Owner: gamectl.OwnerSelf}}); err != nil {
		return fmt.Errorf("spawn %s: %w", p.Unit, err)
	}
	u, err := waitForUnit(ctx, b, p.Unit)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", p.Unit, err)
	}
	if err := b.s.Use(ctx, u.Tag, p.Ability, 0); err != nil {
		return fmt.Errorf("%s: %w", p.Ability, err)
	}
	if err := b.step(ctx, p.SettleSteps); err != nil {
		return err
	}
	for {
		units, err := b.s.Units(ctx)
		if err != nil {
			return err
		}
		u, ok := findTag(units, u.Tag)
		if !ok {
			return fmt.Errorf("%s disappeared", p.Unit)
		}
		if hasBuff(u, p.Buff) {
			break
		}
		if err := b.step(ctx, 1); err != nil {
			return fmt.Errorf("waiting for buff %s on %s: %w", p.Buff, p.Unit, err)
		}
	}
	if p.Weapons > 0 {
		return checkWeapons(ctx, b.s, p.Unit, p.Weapons)
	}
	return nil
}

func probeWeapons(ctx context.Context, b *budget, p Probe) error {
	if err := b.s.Spawn(ctx, []gamectl.UnitOrder{{Type: p.Unit, Count: 1, Owner: gamectl.OwnerSelf}}); err != nil {
		return fmt.Errorf("spawn %s: %w", p.Unit, err)
	}
	if _, err := waitForUnit(ctx, b, p.Unit); err != nil {
		return fmt.Errorf("waiting for %s: %w", p.Unit, err)
	}
	if err := b.step(ctx, p.SettleSteps); err != nil {
		return err
	}
	return checkWeapons(ctx, b.s, p.Unit, p.Weapons)
}

func checkWeapons(ctx context.Context, s gamectl.Session, unit string, want int) error {
	got, err := s.Weapons(ctx, unit)
	if err != nil {
		return fmt.Errorf("weapons of %s: %w", unit, err)
	}
	if got != want {
		return fmt.Errorf("%s reports %d weapons, want %d", unit, got, want)
	}
	return nil
}

const (
	loadBunkerAbility      = "LOAD_BUNKER"
	unloadAllBunkerAbility = "UNLOADALL_BUNKER"
)

// probeBunkerLoad cycles each escort type through the carrier, loading one
// more passenger per round, and expects a distinct occupancy buff for every
// passenger count.
func probeBunkerLoad(ctx context.Context, b *budget, p Probe) error {
	orders := []gamectl.UnitOrder{{Type: p.Unit, Count: 1, Owner: gamectl.OwnerSelf}}
	for _, l := range p.Loads {
		orders = append(orders, gamectl.UnitOrder{Type: l.Unit, Count: l.Count, Owner: gamectl.OwnerSelf})
	}
	if err := b.s.Spawn(ctx, orders); err != nil {
		return fmt.Errorf("spawn %s group: %w", p.Unit, err)
	}
	carrier, err := waitForUnit(ctx, b, p.Unit)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", p.Unit, err)
	}
	for _, l := range p.Loads {
		if err := waitForCount(ctx, b, l.Unit, l.Count); err != nil {
			return fmt.Errorf("waiting for %d %s: %w", l.Count, l.Unit, err)
		}
	}

	var mismatches []string
	for _, l := range p.Loads {
		found := map[string]bool{}
		for n := 1; n <= l.Count; n++ {
			units, err := b.s.Units(ctx)
			if err != nil {
				return err
			}
			escorts := findAll(units, l.Unit)
			if len(escorts) < n {
				return fmt.Errorf("only %d %s free, need %d", len(escorts), l.Unit, n)
			}
			for i := 0; i < n; i++ {
				if err := b.s.Use(ctx, carrier.Tag, loadBunkerAbility, escorts[i].Tag); err != nil {
					return fmt.Errorf("load %s: %w", l.Unit, err)
				}
			}
			if err := b.step(ctx, p.SettleSteps); err != nil {
				return err
			}
			fresh, err := newOccupancyBuffs(ctx, b, carrier.Tag, found)
			if err != nil {
				return fmt.Errorf("%d %s loaded: %w", n, l.Unit, err)
			}
			if len(fresh) > 1 {
				mismatches = append(mismatches, fmt.Sprintf("%d new buffs after loading %d %s", len(fresh), n, l.Unit))
			}
			for _, buff := range fresh {
				found[buff] = true
			}
			if err := b.s.Use(ctx, carrier.Tag, unloadAllBunkerAbility, 0); err != nil {
				return fmt.Errorf("unload %s: %w", p.Unit, err)
			}
			if err := b.step(ctx, p.SettleSteps); err != nil {
				return err
			}
		}
		if len(found) != l.Count {
			mismatches = append(mismatches, fmt.Sprintf("%s: %d distinct occupancy buffs, want %d", l.Unit, len(found), l.Count))
		}
	}
	if len(mismatches) > 0 {
		return errors.New(strings.Join(mismatches, "; "))
	}
	return nil
}

// newOccupancyBuffs polls the carrier until a buff outside found shows up.
func newOccupancyBuffs(ctx context.Context, b *budget, carrierTag uint64, found map[string]bool) ([]string, error) {
	for {
		units, err := b.s.Units(ctx)
		if err != nil {
			return nil, err
		}
		carrier, ok := findTag(units, carrierTag)
		if !ok {
			return nil, fmt.Errorf("carrier disappeared")
		}
		var fresh []string
		for _, buff := range carrier.Buffs {
			if !found[buff] {
				fresh = append(fresh, buff)
			}
		}
		if len(fresh) > 0 {
			return fresh, nil
		}
		if err := b.step(ctx, 1); err != nil {
			return nil, fmt.Errorf("no new occupancy buff: %w", err)
		}
	}
}

// cleanupSession removes everything the probe spawned so the next probe
// starts clean. Its steps are not charged to any probe budget.
func cleanupSession(ctx context.Context, s gamectl.Session) error {
	units, err := s.Units(ctx)
	if err != nil {
		return err
	}
	var tags []uint64
	for _, u := range units {
		if u.Type == "CommandCenter" {
			continue
		}
		tags = append(tags, u.Tag)
	}
	if len(tags) > 0 {
		if err := s.Kill(ctx, tags...); err != nil {
			return err
		}
	}
	_, err = s.Step(ctx, 2)
	return err
}

func waitForUnit(ctx context.Context, b *budget, unitType string) (gamectl.Unit, error) {
	for {
		units, err := b.s.Units(ctx)
		if err != nil {
			return gamectl.Unit{}, err
		}
		for _, u := range units {
			if u.Type == unitType {
				return u, nil
			}
		}
		if err := b.step(ctx, 1); err != nil {
			return gamectl.Unit{}, err
		}
	}
}

func waitForCount(ctx context.Context, b *budget, unitType string, count int) error {
	for {
		units, err := b.s.Units(ctx)
		if err != nil {
			return err
		}
		if len(findAll(units, unitType)) >= count {
			return nil
		}
		if err := b.step(ctx, 1); err != nil {
			return err
		}
	}
}

func findTag(units []gamectl.Unit, tag uint64) (gamectl.Unit, bool) {
	for _, u := range units {
		if u.Tag == tag {
			return u, true
		}
	}
	return gamectl.Unit{}, false
}

func findAll(units []gamectl.Unit, unitType string) []gamectl.Unit {
	var out []gamectl.Unit
	for _, u := range units {
		if u.Type == unitType {
			out = append(out, u)
		}
	}
	return out
}

func hasBuff(u gamectl.Unit, buff string) bool {
	for _, b := range u.Buffs {
		if b == buff {
			return true
		}
	}
	return false
}
