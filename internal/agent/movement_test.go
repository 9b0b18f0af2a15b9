package agent

import (
	"math"
	"testing"

	"quantaforge.ai/internal/protocol"
)

func TestMovement_WalkForwardCompletes(t *testing.T) {
	fs := &fakeSync{}
	mc := NewMovementController(fs, 10, 1, nil)
	arrived := 0
	mc.OnArrived(func() { arrived++ })

	// Yaw 0 walks along +Z.
	if !mc.WalkForward(5) {
		t.Fatalf("walk rejected")
	}
	if !mc.Moving() {
		t.Fatalf("expected in-flight move")
	}
	for i := 0; i < 60 && mc.Moving(); i++ {
		mc.Tick(1.0 / 60)
	}
	if mc.Moving() {
		t.Fatalf("move never completed")
	}
	if arrived != 1 {
		t.Fatalf("arrived=%d want 1", arrived)
	}
	pos := mc.Position()
	if math.Abs(pos.Z-5) > 1e-9 || math.Abs(pos.X) > 1e-9 {
		t.Fatalf("pos=%+v want z=5", pos)
	}
	if fs.callCount(protocol.ReducerUpdatePosition) == 0 {
		t.Fatalf("no position updates issued")
	}
}

func TestMovement_RotateWraps(t *testing.T) {
	fs := &fakeSync{}
	mc := NewMovementController(fs, 10, 1, nil)
	mc.Rotate(270)
	mc.Rotate(180)
	if got := mc.Yaw(); got != 90 {
		t.Fatalf("yaw=%v want 90", got)
	}
	mc.Rotate(-180)
	if got := mc.Yaw(); got != 270 {
		t.Fatalf("yaw=%v want 270", got)
	}
}

func TestMovement_StopWalkingAbandonsTarget(t *testing.T) {
	fs := &fakeSync{}
	mc := NewMovementController(fs, 10, 1, nil)
	mc.WalkForward(50)
	mc.StopWalking()
	if mc.Moving() {
		t.Fatalf("target should be dropped")
	}
}

func TestMovement_SyncPositionMirrorsServer(t *testing.T) {
	fs := &fakeSync{}
	mc := NewMovementController(fs, 10, 1, nil)
	mc.SyncPosition(protocol.Vec3{X: 7, Y: 1, Z: -2}, 45)
	if mc.Position().X != 7 || mc.Yaw() != 45 {
		t.Fatalf("mirror failed: pos=%+v yaw=%v", mc.Position(), mc.Yaw())
	}
}
