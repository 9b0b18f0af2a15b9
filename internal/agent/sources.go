package agent

import (
	"sort"

	"quantaforge.ai/internal/protocol"
)

// Source is a read-only mirror of one quanta orb.
type Source struct {
	ID        uint64
	Position  protocol.Vec3
	Frequency float64
	Remaining uint32
}

type SourceHooks struct {
	OnEnterRange func(Source)
	OnExitRange  func(Source)
}

// SourceDetector mirrors the quanta_orb table and tracks which sources lie
// within sensing radius of the agent. Scans run on the tick cadence, not per
// feed diff. Not safe for concurrent use; the runner serializes access.
type SourceDetector struct {
	radius float64
	hooks  SourceHooks

	known   map[uint64]Source
	inRange map[uint64]bool
}

func NewSourceDetector(radius float64, hooks SourceHooks) *SourceDetector {
	return &SourceDetector{
		radius:  radius,
		hooks:   hooks,
		known:   map[uint64]Source{},
		inRange: map[uint64]bool{},
	}
}

// Apply mirrors one quanta_orb row event. A delete of an in-range source
// fires the exit hook immediately (consumed or removed upstream).
func (d *SourceDetector) Apply(ev protocol.RowEvent) {
	switch ev.Op {
	case protocol.OpInsert, protocol.OpUpdate:
		row, err := protocol.DecodeSource(ev.New)
		if err != nil {
			return
		}
		d.known[row.OrbID] = Source{
			ID:        row.OrbID,
			Position:  row.Position,
			Frequency: row.Frequency,
			Remaining: row.Remaining,
		}
	case protocol.OpDelete:
		row, err := protocol.DecodeSource(ev.Old)
		if err != nil {
			return
		}
		s, ok := d.known[row.OrbID]
		delete(d.known, row.OrbID)
		if d.inRange[row.OrbID] {
			delete(d.inRange, row.OrbID)
			if ok && d.hooks.OnExitRange != nil {
				d.hooks.OnExitRange(s)
			}
		}
	}
}

// ScanForSources re-evaluates the in-range set against pos and fires
// enter/exit hooks for the delta.
func (d *SourceDetector) ScanForSources(pos protocol.Vec3) {
	for id, s := range d.known {
		near := s.Position.DistanceTo(pos) <= d.radius
		was := d.inRange[id]
		switch {
		case near && !was:
			d.inRange[id] = true
			if d.hooks.OnEnterRange != nil {
				d.hooks.OnEnterRange(s)
			}
		case !near && was:
			delete(d.inRange, id)
			if d.hooks.OnExitRange != nil {
				d.hooks.OnExitRange(s)
			}
		}
	}
}

// ClosestSource returns the nearest in-range source to pos, or nil.
func (d *SourceDetector) ClosestSource(pos protocol.Vec3) *Source {
	var best *Source
	bestDist := 0.0
	for id := range d.inRange {
		s, ok := d.known[id]
		if !ok {
			continue
		}
		dist := s.Position.DistanceTo(pos)
		if best == nil || dist < bestDist {
			s := s
			best = &s
			bestDist = dist
		}
	}
	return best
}

// RichestSource returns the in-range source with the most remaining quanta,
// or nil.
func (d *SourceDetector) RichestSource() *Source {
	var best *Source
	for id := range d.inRange {
		s, ok := d.known[id]
		if !ok {
			continue
		}
		if best == nil || s.Remaining > best.Remaining {
			s := s
			best = &s
		}
	}
	return best
}

func (d *SourceDetector) InRangeCount() int { return len(d.inRange) }

// InRangeSources returns the tracked in-range set ordered by id, for status
// and chat listings.
func (d *SourceDetector) InRangeSources() []Source {
	out := make([]Source, 0, len(d.inRange))
	for id := range d.inRange {
		if s, ok := d.known[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
