// Package mock provides scripted in-memory game-control doubles for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voidforge/sc2mapkit/internal/gamectl"
)

// Controller hands out scripted sessions.
type Controller struct {
	// NewSession overrides the per-session factory. The default factory
	// returns DefaultSession sessions, which satisfy the stock probes.
	NewSession func(id string) *Session
	// StartErr fails every StartSession call.
	StartErr error

	mu      sync.Mutex
	next    int
	Started []*Session
}

func (c *Controller) StartSession(ctx context.Context, mapName string, opts gamectl.SessionOptions) (gamectl.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := fmt.Sprintf("session-%d", c.next)
	s := DefaultSession(id)
	if c.NewSession != nil {
		s = c.NewSession(id)
	}
	s.MapName = mapName
	s.Opts = opts
	c.Started = append(c.Started, s)
	return s, nil
}

type pendingBuff struct {
	tag    uint64
	buff   string
	atLoop int
}

type unitState struct {
	typ    string
	owner  int
	buffs  []string
	loaded bool
}

// Session simulates one game instance. The zero value is inert; configure
// the script fields before use or start from DefaultSession.
type Session struct {
	MapName string
	Opts    gamectl.SessionOptions

	// AbilityBuff grants a buff AbilityDelay steps after an ability is
	// used, unless the ability is listed in Mute.
	AbilityBuff  map[string]string
	AbilityDelay int
	Mute         map[string]bool
	// WeaponCount answers Weapons per unit type.
	WeaponCount map[string]int
	// LoadBuffs is the carrier occupancy buff per passenger count; a
	// count beyond the list keeps the last buff.
	LoadBuffs []string
	// SpawnErr and StepErr fail the corresponding calls.
	SpawnErr error
	StepErr  error

	mu        sync.Mutex
	id        string
	loop      int
	nextTag   uint64
	units     map[uint64]*unitState
	pending   []pendingBuff
	Closed    bool
	KillCalls int
}

func NewSession(id string) *Session {
	return &Session{
		id:           id,
		AbilityDelay: 2,
		units:        map[uint64]*unitState{},
	}
}

// DefaultSession satisfies the stock probe suite.
func DefaultSession(id string) *Session {
	s := NewSession(id)
	s.AbilityBuff = map[string]string{
		"EFFECT_VOIDRAYPRISMATICALIGNMENT": "VOIDRAYSWARMDAMAGEBOOST",
		"BEHAVIOR_PULSARBEAMON":            "ORACLEWEAPON",
	}
	s.WeaponCount = map[string]int{
		"VoidRay": 1,
		"Oracle":  1,
	}
	s.LoadBuffs = []string{
		"BUNKEROCCUPANCY1",
		"BUNKEROCCUPANCY2",
		"BUNKEROCCUPANCY3",
		"BUNKEROCCUPANCY4",
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Spawn(_ context.Context, orders []gamectl.UnitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SpawnErr != nil {
		return s.SpawnErr
	}
	for _, o := range orders {
		for i := 0; i < o.Count; i++ {
			s.nextTag++
			s.units[s.nextTag] = &unitState{typ: o.Type, owner: o.Owner}
		}
	}
	return nil
}

func (s *Session) Kill(_ context.Context, tags ...uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.KillCalls++
	for _, tag := range tags {
		delete(s.units, tag)
	}
	return nil
}

func (s *Session) Step(_ context.Context, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StepErr != nil {
		return s.loop, s.StepErr
	}
	s.loop += n
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.atLoop > s.loop {
			kept = append(kept, p)
			continue
		}
		if u, ok := s.units[p.tag]; ok {
			u.buffs = append(u.buffs, p.buff)
		}
	}
	s.pending = kept
	return s.loop, nil
}

func (s *Session) Units(_ context.Context) ([]gamectl.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := make([]gamectl.Unit, 0, len(s.units))
	for tag, u := range s.units {
		if u.loaded {
			continue
		}
		units = append(units, gamectl.Unit{
			Tag:   tag,
			Type:  u.typ,
			Owner: u.owner,
			Buffs: append([]string(nil), u.buffs...),
		})
	}
	return units, nil
}

func (s *Session) Use(_ context.Context, tag uint64, ability string, target uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[tag]
	if !ok {
		return fmt.Errorf("no unit with tag %d", tag)
	}
	if s.Mute[ability] {
		return nil
	}
	switch ability {
	case "LOAD_BUNKER":
		passenger, ok := s.units[target]
		if !ok {
			return fmt.Errorf("no unit with tag %d", target)
		}
		passenger.loaded = true
		u.buffs = s.occupancyBuffs(s.passengerCount())
	case "UNLOADALL_BUNKER":
		for _, other := range s.units {
			other.loaded = false
		}
		u.buffs = nil
	default:
		if buff, ok := s.AbilityBuff[ability]; ok {
			s.pending = append(s.pending, pendingBuff{tag: tag, buff: buff, atLoop: s.loop + s.AbilityDelay})
		}
	}
	return nil
}

func (s *Session) Weapons(_ context.Context, unitType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WeaponCount[unitType], nil
}

func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

func (s *Session) passengerCount() int {
	n := 0
	for _, u := range s.units {
		if u.loaded {
			n++
		}
	}
	return n
}

func (s *Session) occupancyBuffs(count int) []string {
	if count == 0 || len(s.LoadBuffs) == 0 {
		return nil
	}
	if count > len(s.LoadBuffs) {
		count = len(s.LoadBuffs)
	}
	return []string{s.LoadBuffs[count-1]}
}
