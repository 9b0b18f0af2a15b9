package agent

import (
	"fmt"
	"strings"

	"quantaforge.ai/internal/protocol"
)

type InventoryHooks struct {
	OnChanged func(oldCount, newCount int)
	OnFull    func()
}

// InventoryTracker passively mirrors the agent's own quanta_storage record.
// Counts are never computed locally; the server is authoritative and the
// tracker only applies diffs. Not safe for concurrent use.
type InventoryTracker struct {
	capacity     int
	fullEdgeOnly bool
	hooks        InventoryHooks

	ownerID uint64
	total   int
	samples []protocol.QuantaSample
	wasFull bool
}

func NewInventoryTracker(capacity int, fullEdgeOnly bool, hooks InventoryHooks) *InventoryTracker {
	return &InventoryTracker{
		capacity:     capacity,
		fullEdgeOnly: fullEdgeOnly,
		hooks:        hooks,
	}
}

// SetOwner scopes the tracker to the agent's own player id. Diffs for other
// owners are ignored.
func (t *InventoryTracker) SetOwner(playerID uint64) { t.ownerID = playerID }

// Apply mirrors one quanta_storage row event.
func (t *InventoryTracker) Apply(ev protocol.RowEvent) {
	switch ev.Op {
	case protocol.OpInsert, protocol.OpUpdate:
		row, err := protocol.DecodeStorage(ev.New)
		if err != nil || row.OwnerID != t.ownerID {
			return
		}
		old := t.total
		t.total = row.TotalQuanta
		t.samples = append([]protocol.QuantaSample(nil), row.Samples...)
		t.fireChanged(old)
		if t.IsFull() {
			if !t.fullEdgeOnly || !t.wasFull {
				if t.hooks.OnFull != nil {
					t.hooks.OnFull()
				}
			}
			t.wasFull = true
		} else {
			t.wasFull = false
		}
	case protocol.OpDelete:
		row, err := protocol.DecodeStorage(ev.Old)
		if err != nil || row.OwnerID != t.ownerID {
			return
		}
		old := t.total
		t.total = 0
		t.samples = nil
		t.wasFull = false
		t.fireChanged(old)
	}
}

func (t *InventoryTracker) fireChanged(old int) {
	if t.hooks.OnChanged != nil {
		t.hooks.OnChanged(old, t.total)
	}
}

func (t *InventoryTracker) TotalCount() int { return t.total }

func (t *InventoryTracker) Capacity() int { return t.capacity }

func (t *InventoryTracker) IsFull() bool { return t.total >= t.capacity }

// Composition returns the mirrored (frequency, count) samples in server order.
func (t *InventoryTracker) Composition() []protocol.QuantaSample {
	return append([]protocol.QuantaSample(nil), t.samples...)
}

// CompositionSummary buckets the samples into the six frequency bands.
func (t *InventoryTracker) CompositionSummary() [protocol.BandCount]int {
	var out [protocol.BandCount]int
	for _, s := range t.samples {
		out[protocol.BandFor(s.Frequency)] += s.Count
	}
	return out
}

// SummaryString renders the summary for chat, e.g.
// "142/300 quanta | Red:40 Green:102".
func (t *InventoryTracker) SummaryString() string {
	sum := t.CompositionSummary()
	parts := make([]string, 0, protocol.BandCount)
	for b := 0; b < protocol.BandCount; b++ {
		if sum[b] > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", protocol.Band(b), sum[b]))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d/%d quanta | empty", t.total, t.capacity)
	}
	return fmt.Sprintf("%d/%d quanta | %s", t.total, t.capacity, strings.Join(parts, " "))
}
