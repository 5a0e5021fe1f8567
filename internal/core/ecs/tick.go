package ecs

import "math"

// Tick is a wrapping change counter. Compare ticks only through IsNewerThan.
type Tick uint32

const (
	// CheckTickThreshold is how far the world tick may advance before
	// CheckChangeTicks has to clamp old ticks.
	CheckTickThreshold Tick = 518_400_000

	// MaxChangeAge is the oldest a tick may get before it is clamped.
	MaxChangeAge Tick = math.MaxUint32 - (2*CheckTickThreshold - 1)
)

// IsNewerThan reports whether t happened after last, both seen from this.
// The comparison survives wrap-around as long as neither tick is older than
// MaxChangeAge.
func (t Tick) IsNewerThan(last, this Tick) bool {
	sinceInsert := min(this-t, MaxChangeAge)
	sinceSystem := min(this-last, MaxChangeAge)
	return sinceSystem > sinceInsert
}

// clamp pulls t forward so it is never older than MaxChangeAge.
func (t *Tick) clamp(this Tick) {
	if this-*t > MaxChangeAge {
		*t = this - MaxChangeAge
	}
}

// TickRange is the window a reader compares against: changes stamped after
// Last and up to This count as new.
type TickRange struct {
	Last Tick
	This Tick
}

// ComponentTicks is the change metadata of one component slot or resource.
type ComponentTicks struct {
	Added   Tick
	Changed Tick
}

func NewComponentTicks(t Tick) ComponentTicks {
	return ComponentTicks{Added: t, Changed: t}
}

func (c ComponentTicks) IsAdded(r TickRange) bool {
	return c.Added.IsNewerThan(r.Last, r.This)
}

func (c ComponentTicks) IsChanged(r TickRange) bool {
	return c.Changed.IsNewerThan(r.Last, r.This)
}

func (c *ComponentTicks) SetChanged(t Tick) {
	c.Changed = t
}

func (c *ComponentTicks) clamp(this Tick) {
	c.Added.clamp(this)
	c.Changed.clamp(this)
}
