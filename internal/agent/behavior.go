package agent

import "time"

// AgentState is the single active behavior state.
type AgentState int

const (
	StateIdle AgentState = iota
	StateMining
	StateInventoryFull
	StateWandering
)

var agentStateNames = map[AgentState]string{
	StateIdle:          "Idle",
	StateMining:        "Mining",
	StateInventoryFull: "InventoryFull",
	StateWandering:     "Wandering",
}

func (s AgentState) String() string {
	if n, ok := agentStateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// BehaviorConfig is immutable after construction.
type BehaviorConfig struct {
	AutoMine       bool
	WanderWhenIdle bool
	WanderInterval time.Duration
	WanderDistance float64

	// IdleWanderChance is a probability per cooldown expiry, not per second;
	// the draw cadence is WanderInterval regardless of tick rate.
	IdleWanderChance float64

	// FullDwell is how long to sit in InventoryFull before wandering off.
	FullDwell time.Duration
}

// BehaviorDeps are the collaborator operations the state machine may invoke.
// It never reaches into another component's internals.
type BehaviorDeps struct {
	Connected       func() bool
	InventoryFull   func() bool
	SourceAvailable func() bool
	StartMining     func() bool
	StopMining      func()
	StartWander     func() bool
	Moving          func() bool
	RandFloat       func() float64
}

type BehaviorHooks struct {
	OnStateChanged func(from, to AgentState)
}

// BehaviorStateMachine drives the sense->decide->act loop. Exactly one state
// is active; every transition resets the state timer and fires exactly one
// change notification.
type BehaviorStateMachine struct {
	cfg   BehaviorConfig
	deps  BehaviorDeps
	hooks BehaviorHooks

	state      AgentState
	prev       AgentState
	stateTimer time.Duration
	restarting bool

	wanderCooldown time.Duration
}

func NewBehaviorStateMachine(cfg BehaviorConfig, deps BehaviorDeps, hooks BehaviorHooks) *BehaviorStateMachine {
	if cfg.FullDwell <= 0 {
		cfg.FullDwell = 10 * time.Second
	}
	return &BehaviorStateMachine{
		cfg:            cfg,
		deps:           deps,
		hooks:          hooks,
		state:          StateIdle,
		prev:           StateIdle,
		wanderCooldown: cfg.WanderInterval,
	}
}

func (b *BehaviorStateMachine) Current() AgentState  { return b.state }
func (b *BehaviorStateMachine) Previous() AgentState { return b.prev }

// TimeInState reports how long the current state has been active.
func (b *BehaviorStateMachine) TimeInState() time.Duration { return b.stateTimer }

func (b *BehaviorStateMachine) transition(to AgentState) {
	from := b.state
	if from == to {
		return
	}
	b.prev = from
	b.state = to
	b.stateTimer = 0
	if b.hooks.OnStateChanged != nil {
		b.hooks.OnStateChanged(from, to)
	}
}

func (b *BehaviorStateMachine) canAutoMine() bool {
	if !b.cfg.AutoMine {
		return false
	}
	if b.deps.Connected != nil && !b.deps.Connected() {
		return false
	}
	return b.deps.InventoryFull == nil || !b.deps.InventoryFull()
}

// Update advances the machine by one tick of dt.
func (b *BehaviorStateMachine) Update(dt time.Duration) {
	b.stateTimer += dt

	switch b.state {
	case StateIdle:
		if b.canAutoMine() && b.deps.SourceAvailable != nil && b.deps.SourceAvailable() {
			if b.deps.StartMining() {
				b.transition(StateMining)
				return
			}
		}
		if !b.cfg.WanderWhenIdle {
			return
		}
		b.wanderCooldown -= dt
		if b.wanderCooldown > 0 {
			return
		}
		// Cooldown resets whether or not the draw succeeds.
		b.wanderCooldown = b.cfg.WanderInterval
		if b.deps.RandFloat != nil && b.deps.RandFloat() < b.cfg.IdleWanderChance {
			if b.deps.StartWander() {
				b.transition(StateWandering)
			}
		}

	case StateMining:
		// Event-driven; mining stops arrive via HandleMiningStopped and
		// HandleInventoryFull.

	case StateInventoryFull:
		if b.stateTimer >= b.cfg.FullDwell {
			if b.deps.StartWander() {
				b.transition(StateWandering)
			}
		}

	case StateWandering:
		if b.deps.Moving == nil || !b.deps.Moving() {
			b.transition(StateIdle)
		}
	}
}

// HandleSourceEnterRange reacts to a source entering sensing range: an idle
// auto-miner starts immediately, skipping the wander cadence.
func (b *BehaviorStateMachine) HandleSourceEnterRange() {
	if b.state != StateIdle || !b.canAutoMine() {
		return
	}
	if b.deps.StartMining() {
		b.transition(StateMining)
	}
}

// HandleMiningStopped returns to Idle unless the inventory filled up, in
// which case HandleInventoryFull owns the transition.
func (b *BehaviorStateMachine) HandleMiningStopped() {
	if b.restarting || b.state != StateMining {
		return
	}
	if b.deps.InventoryFull != nil && b.deps.InventoryFull() {
		return
	}
	b.transition(StateIdle)
}

// HandleInventoryFull stops mining as a side effect of entering InventoryFull.
// Repeated full signals while already in the state are ignored.
func (b *BehaviorStateMachine) HandleInventoryFull() {
	if b.state != StateMining {
		return
	}
	if b.deps.StopMining != nil {
		b.deps.StopMining()
	}
	b.transition(StateInventoryFull)
}

// NoteMiningStarted records an externally commanded mining start (chat
// `mine`), so the machine tracks the session it did not initiate.
func (b *BehaviorStateMachine) NoteMiningStarted() {
	if b.state != StateMining {
		b.transition(StateMining)
	}
}

// RestartMining runs a commanded mining (re)start. Starting over an active
// session implicitly stops it first; that stop notification is swallowed so
// a re-target does not bounce the machine through Idle.
func (b *BehaviorStateMachine) RestartMining(start func() bool) bool {
	b.restarting = true
	ok := start()
	b.restarting = false
	if ok {
		b.NoteMiningStarted()
	}
	return ok
}

// ForceIdle resets the machine (chat `reset` command).
func (b *BehaviorStateMachine) ForceIdle() {
	if b.state == StateIdle {
		b.stateTimer = 0
		return
	}
	b.transition(StateIdle)
}
