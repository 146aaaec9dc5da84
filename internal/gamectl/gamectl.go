// Package gamectl is the boundary to the external game-control bridge.
// Checks script against Controller and Session only; the concrete
// transport lives behind them.
package gamectl

import "context"

const (
	OwnerSelf  = 1
	OwnerEnemy = 2
)

// Unit is one observed unit in a running session.
type Unit struct {
	Tag   uint64   `json:"tag"`
	Type  string   `json:"type"`
	Owner int      `json:"owner"`
	Buffs []string `json:"buffs"`
}

// UnitOrder asks for count units of a type to be spawned for an owner.
type UnitOrder struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Owner int    `json:"owner"`
}

// SessionOptions configure one game instance.
type SessionOptions struct {
	Opponent string `json:"opponent"`
	RealTime bool   `json:"realtime"`
}

// Controller dials game instances.
type Controller interface {
	StartSession(ctx context.Context, mapName string, opts SessionOptions) (Session, error)
}

// Session is the per-instance surface a check session drives.
type Session interface {
	ID() string
	Spawn(ctx context.Context, orders []UnitOrder) error
	Kill(ctx context.Context, tags ...uint64) error
	Step(ctx context.Context, n int) (int, error)
	Units(ctx context.Context) ([]Unit, error)
	Use(ctx context.Context, tag uint64, ability string, target uint64) error
	Weapons(ctx context.Context, unitType string) (int, error)
	Close(ctx context.Context) error
}
