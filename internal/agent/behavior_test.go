package agent

import (
	"testing"
	"time"
)

type behaviorHarness struct {
	b *BehaviorStateMachine

	connected   bool
	full        bool
	source      bool
	moving      bool
	rand        float64
	mineStarts  int
	mineStops   int
	wanderCalls int
	changes     [][2]AgentState
}

func newBehaviorHarness(cfg BehaviorConfig) *behaviorHarness {
	h := &behaviorHarness{connected: true}
	h.b = NewBehaviorStateMachine(cfg, BehaviorDeps{
		Connected:       func() bool { return h.connected },
		InventoryFull:   func() bool { return h.full },
		SourceAvailable: func() bool { return h.source },
		StartMining: func() bool {
			h.mineStarts++
			return true
		},
		StopMining: func() { h.mineStops++ },
		StartWander: func() bool {
			h.wanderCalls++
			h.moving = true
			return true
		},
		Moving:    func() bool { return h.moving },
		RandFloat: func() float64 { return h.rand },
	}, BehaviorHooks{
		OnStateChanged: func(from, to AgentState) {
			h.changes = append(h.changes, [2]AgentState{from, to})
		},
	})
	return h
}

const tick = time.Second / 60

func TestBehavior_ScenarioA_SourceEnterWhileIdle(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{AutoMine: true})

	h.source = true
	h.b.HandleSourceEnterRange()

	if h.b.Current() != StateMining {
		t.Fatalf("state=%v want Mining", h.b.Current())
	}
	if h.mineStarts != 1 {
		t.Fatalf("mining starts=%d want exactly 1", h.mineStarts)
	}
	if len(h.changes) != 1 || h.changes[0] != [2]AgentState{StateIdle, StateMining} {
		t.Fatalf("changes=%v want one Idle->Mining", h.changes)
	}
}

func TestBehavior_ProactiveMiningOnTick(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{AutoMine: true})
	h.source = true
	h.b.Update(tick)
	if h.b.Current() != StateMining || h.mineStarts != 1 {
		t.Fatalf("state=%v starts=%d", h.b.Current(), h.mineStarts)
	}
}

func TestBehavior_NoAutoMineWhileDisconnected(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{AutoMine: true})
	h.source = true
	h.connected = false
	h.b.Update(tick)
	h.b.HandleSourceEnterRange()
	if h.b.Current() != StateIdle || h.mineStarts != 0 {
		t.Fatalf("disconnected agent started mining: state=%v starts=%d", h.b.Current(), h.mineStarts)
	}
}

func TestBehavior_ScenarioB_FullThenDwellThenWander(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{AutoMine: true, FullDwell: 10 * time.Second})
	h.source = true
	h.b.Update(tick) // -> Mining

	h.full = true
	h.b.HandleInventoryFull()
	if h.b.Current() != StateInventoryFull {
		t.Fatalf("state=%v want InventoryFull", h.b.Current())
	}
	if h.mineStops != 1 {
		t.Fatalf("mining stop side effect missing: stops=%d", h.mineStops)
	}

	// Repeated full signals while already in the state are ignored.
	h.b.HandleInventoryFull()
	if len(h.changes) != 2 {
		t.Fatalf("changes=%v want exactly 2", h.changes)
	}

	// Dwell out: 10 simulated seconds (one extra tick for truncation).
	for i := 0; i < 10*60+1; i++ {
		h.b.Update(tick)
	}
	if h.b.Current() != StateWandering {
		t.Fatalf("state after dwell=%v want Wandering", h.b.Current())
	}
	if h.wanderCalls != 1 {
		t.Fatalf("wander calls=%d want 1", h.wanderCalls)
	}
}

func TestBehavior_MiningStoppedReturnsToIdleUnlessFull(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{AutoMine: true})
	h.source = true
	h.b.Update(tick) // -> Mining

	h.full = true
	h.b.HandleMiningStopped()
	if h.b.Current() != StateMining {
		t.Fatalf("full inventory should not transition on MiningStopped; state=%v", h.b.Current())
	}

	h.full = false
	h.b.HandleMiningStopped()
	if h.b.Current() != StateIdle {
		t.Fatalf("state=%v want Idle", h.b.Current())
	}
}

func TestBehavior_RestartSwallowsIntermediateStop(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{AutoMine: true})
	h.source = true
	h.b.HandleSourceEnterRange()
	if h.b.Current() != StateMining {
		t.Fatalf("precondition: state=%v", h.b.Current())
	}

	// A commanded re-target stops the old session first; the machine stays
	// in Mining with no intermediate transition.
	ok := h.b.RestartMining(func() bool {
		h.b.HandleMiningStopped()
		return true
	})
	if !ok || h.b.Current() != StateMining {
		t.Fatalf("ok=%v state=%v", ok, h.b.Current())
	}
	if len(h.changes) != 1 {
		t.Fatalf("changes=%v want only the initial Idle->Mining", h.changes)
	}

	if h.b.RestartMining(func() bool { return false }) {
		t.Fatalf("failed start reported ok")
	}
	if h.b.Current() != StateMining || len(h.changes) != 1 {
		t.Fatalf("failed start transitioned: state=%v changes=%v", h.b.Current(), h.changes)
	}
}

func TestBehavior_WanderDrawPerCooldownExpiry(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{
		WanderWhenIdle:   true,
		WanderInterval:   time.Second,
		IdleWanderChance: 0.3,
	})

	// Failed draw: cooldown still resets, no wander.
	h.rand = 0.9
	for i := 0; i < 61; i++ {
		h.b.Update(tick)
	}
	if h.wanderCalls != 0 || h.b.Current() != StateIdle {
		t.Fatalf("failed draw wandered: calls=%d state=%v", h.wanderCalls, h.b.Current())
	}

	// Next expiry with a passing draw wanders.
	h.rand = 0.1
	for i := 0; i < 61; i++ {
		h.b.Update(tick)
	}
	if h.wanderCalls != 1 || h.b.Current() != StateWandering {
		t.Fatalf("passing draw did not wander: calls=%d state=%v", h.wanderCalls, h.b.Current())
	}
}

func TestBehavior_WanderingReturnsToIdleOnArrival(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{
		WanderWhenIdle:   true,
		WanderInterval:   time.Millisecond,
		IdleWanderChance: 1.0,
	})
	h.rand = 0.0
	h.b.Update(2 * time.Millisecond)
	if h.b.Current() != StateWandering {
		t.Fatalf("state=%v want Wandering", h.b.Current())
	}

	h.moving = false
	h.b.Update(tick)
	if h.b.Current() != StateIdle {
		t.Fatalf("state=%v want Idle after arrival", h.b.Current())
	}
	if h.b.Previous() != StateWandering {
		t.Fatalf("previous=%v want Wandering", h.b.Previous())
	}
}

func TestBehavior_TransitionResetsTimerAndFiresOnce(t *testing.T) {
	h := newBehaviorHarness(BehaviorConfig{AutoMine: true})
	h.b.Update(time.Second)
	if h.b.TimeInState() != time.Second {
		t.Fatalf("timer=%v", h.b.TimeInState())
	}

	h.source = true
	h.b.Update(tick)
	if h.b.TimeInState() != 0 {
		t.Fatalf("timer not reset on transition: %v", h.b.TimeInState())
	}
	if len(h.changes) != 1 {
		t.Fatalf("changes=%d want 1", len(h.changes))
	}
}
