package agent

import (
	"testing"

	"quantaforge.ai/internal/protocol"
)

func TestSourceDetector_ScanEnterExit(t *testing.T) {
	var entered, exited []uint64
	d := NewSourceDetector(10, SourceHooks{
		OnEnterRange: func(s Source) { entered = append(entered, s.ID) },
		OnExitRange:  func(s Source) { exited = append(exited, s.ID) },
	})

	d.Apply(sourceEvent(protocol.OpInsert, 1, protocol.Vec3{X: 5}, 1.0, 100))
	d.Apply(sourceEvent(protocol.OpInsert, 2, protocol.Vec3{X: 50}, 1.0, 100))

	d.ScanForSources(protocol.Vec3{})
	if len(entered) != 1 || entered[0] != 1 {
		t.Fatalf("entered=%v want [1]", entered)
	}
	if d.InRangeCount() != 1 {
		t.Fatalf("in range=%d want 1", d.InRangeCount())
	}

	// Agent moves away: source 1 leaves range.
	d.ScanForSources(protocol.Vec3{X: 100})
	if len(exited) != 1 || exited[0] != 1 {
		t.Fatalf("exited=%v want [1]", exited)
	}
	if d.InRangeCount() != 0 {
		t.Fatalf("in range=%d want 0", d.InRangeCount())
	}
}

func TestSourceDetector_DeleteFiresExit(t *testing.T) {
	var exited []uint64
	d := NewSourceDetector(10, SourceHooks{
		OnExitRange: func(s Source) { exited = append(exited, s.ID) },
	})
	d.Apply(sourceEvent(protocol.OpInsert, 3, protocol.Vec3{X: 2}, 1.0, 10))
	d.ScanForSources(protocol.Vec3{})
	if d.InRangeCount() != 1 {
		t.Fatalf("in range=%d want 1", d.InRangeCount())
	}

	// Consumed upstream.
	d.Apply(sourceEvent(protocol.OpDelete, 3, protocol.Vec3{X: 2}, 1.0, 0))
	if len(exited) != 1 || exited[0] != 3 {
		t.Fatalf("exited=%v want [3]", exited)
	}
	if d.InRangeCount() != 0 {
		t.Fatalf("in range after delete=%d", d.InRangeCount())
	}
}

func TestSourceDetector_ClosestAndRichest(t *testing.T) {
	d := NewSourceDetector(100, SourceHooks{})
	if d.ClosestSource(protocol.Vec3{}) != nil || d.RichestSource() != nil {
		t.Fatalf("empty detector should return nil")
	}

	d.Apply(sourceEvent(protocol.OpInsert, 1, protocol.Vec3{X: 30}, 1.0, 500))
	d.Apply(sourceEvent(protocol.OpInsert, 2, protocol.Vec3{X: 5}, 1.0, 50))
	d.ScanForSources(protocol.Vec3{})

	closest := d.ClosestSource(protocol.Vec3{})
	if closest == nil || closest.ID != 2 {
		t.Fatalf("closest=%+v want id 2", closest)
	}
	richest := d.RichestSource()
	if richest == nil || richest.ID != 1 {
		t.Fatalf("richest=%+v want id 1", richest)
	}
}

func TestSourceDetector_UpdateRefreshesRemaining(t *testing.T) {
	d := NewSourceDetector(100, SourceHooks{})
	d.Apply(sourceEvent(protocol.OpInsert, 1, protocol.Vec3{X: 1}, 1.0, 100))
	d.ScanForSources(protocol.Vec3{})
	d.Apply(sourceEvent(protocol.OpUpdate, 1, protocol.Vec3{X: 1}, 1.0, 40))

	rich := d.RichestSource()
	if rich == nil || rich.Remaining != 40 {
		t.Fatalf("remaining not refreshed: %+v", rich)
	}
}
