package agent

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"quantaforge.ai/internal/protocol"
)

// SyncClient is the slice of the world sync client the agent consumes.
type SyncClient interface {
	ReducerCaller
	Connected() bool
	PlayerID() uint64
	OnRowEvent(func(protocol.RowEvent))
	OnConnectionChanged(func(bool))
}

// EventSink receives telemetry events. Writes are best-effort.
type EventSink interface {
	Write(v any) error
}

// Event is one telemetry record.
type Event struct {
	TS   time.Time `json:"ts"`
	Kind string    `json:"kind"`

	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	SourceID uint64 `json:"source_id,omitempty"`
	Count    int    `json:"count,omitempty"`
	Total    int    `json:"total,omitempty"`
	Old      int    `json:"old,omitempty"`
	New      int    `json:"new,omitempty"`
	Up       bool   `json:"up,omitempty"`
}

type Config struct {
	TickRateHz               int
	Capacity                 int
	SensingRadius            float64
	ScanEveryTicks           int
	ExtractEveryTicks        int
	MoveSpeed                float64
	PositionUpdateEveryTicks int
	FullEdgeOnly             bool

	Behavior BehaviorConfig

	// RandFloat is injected for deterministic tests; defaults to math/rand.
	RandFloat func() float64
}

func (c *Config) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 60
	}
	if c.Capacity <= 0 {
		c.Capacity = 300
	}
	if c.SensingRadius <= 0 {
		c.SensingRadius = 50
	}
	if c.ScanEveryTicks <= 0 {
		c.ScanEveryTicks = 30
	}
	if c.RandFloat == nil {
		c.RandFloat = rand.Float64
	}
}

// Agent owns the sense->decide->act loop. One goroutine runs the tick loop;
// feed events and async acks enter through channels drained at tick start, so
// diff application happens-before every controller update in the same tick.
// Chat handlers call the exported Cmd*/Status methods, serialized by mu.
type Agent struct {
	cfg  Config
	sync SyncClient
	log  *log.Logger
	sink EventSink

	mu        sync.Mutex
	detector  *SourceDetector
	inventory *InventoryTracker
	mining    *MiningController
	movement  *MovementController
	behavior  *BehaviorStateMachine

	players map[uint64]protocol.PlayerRow
	selfID  uint64

	onChat ChatRowHandler
	onConn func(up bool)

	rows chan protocol.RowEvent
	jobs chan func()

	startedAt time.Time

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// ChatRowHandler receives in-world chat rows during the tick, along with the
// sender's last known position and the agent's own. It must not block; slow
// work belongs on its own goroutine.
type ChatRowHandler func(row protocol.ChatRow, senderPos protocol.Vec3, senderKnown bool, selfPos protocol.Vec3)

func New(cfg Config, syncClient SyncClient, logger *log.Logger, sink EventSink) *Agent {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}

	a := &Agent{
		cfg:       cfg,
		sync:      syncClient,
		log:       logger,
		sink:      sink,
		players:   map[uint64]protocol.PlayerRow{},
		rows:      make(chan protocol.RowEvent, 4096),
		jobs:      make(chan func(), 256),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	a.inventory = NewInventoryTracker(cfg.Capacity, cfg.FullEdgeOnly, InventoryHooks{
		OnChanged: func(oldCount, newCount int) {
			a.emit(Event{Kind: "inventory_changed", Old: oldCount, New: newCount})
		},
		OnFull: func() {
			a.emit(Event{Kind: "inventory_full", Total: a.inventory.TotalCount()})
			a.behavior.HandleInventoryFull()
		},
	})

	a.detector = NewSourceDetector(cfg.SensingRadius, SourceHooks{
		OnEnterRange: func(s Source) {
			a.emit(Event{Kind: "source_enter_range", SourceID: s.ID})
			a.behavior.HandleSourceEnterRange()
		},
		OnExitRange: func(s Source) {
			a.emit(Event{Kind: "source_exit_range", SourceID: s.ID})
			if sess, ok := a.mining.Session(); ok && sess.SourceID == s.ID {
				a.mining.StopMining()
			}
		},
	})

	a.movement = NewMovementController(syncClient, cfg.MoveSpeed, cfg.PositionUpdateEveryTicks, logger)

	a.mining = NewMiningController(MiningDeps{
		Calls:         syncClient,
		Post:          a.Post,
		Logger:        logger,
		InventoryFull: a.inventory.IsFull,
		ClosestSource: func() *Source { return a.detector.ClosestSource(a.movement.Position()) },
	}, cfg.ExtractEveryTicks, MiningHooks{
		OnStarted: func(sourceID uint64) {
			a.emit(Event{Kind: "mining_started", SourceID: sourceID})
		},
		OnStopped: func(sourceID uint64, total int) {
			a.emit(Event{Kind: "mining_stopped", SourceID: sourceID, Total: total})
			a.behavior.HandleMiningStopped()
		},
		OnPacketExtracted: func(sourceID uint64, count int) {
			a.emit(Event{Kind: "packet_extracted", SourceID: sourceID, Count: count})
		},
	})

	a.behavior = NewBehaviorStateMachine(cfg.Behavior, BehaviorDeps{
		Connected:       syncClient.Connected,
		InventoryFull:   a.inventory.IsFull,
		SourceAvailable: func() bool { return a.detector.InRangeCount() > 0 },
		StartMining:     a.mining.StartMiningClosest,
		StopMining:      a.mining.StopMining,
		StartWander: func() bool {
			return a.movement.Wander(cfg.Behavior.WanderDistance, cfg.RandFloat)
		},
		Moving:    a.movement.Moving,
		RandFloat: cfg.RandFloat,
	}, BehaviorHooks{
		OnStateChanged: func(from, to AgentState) {
			a.log.Printf("state %s -> %s", from, to)
			a.emit(Event{Kind: "state_changed", From: from.String(), To: to.String()})
		},
	})

	return a
}

// OnChatRow registers the in-world chat sink. Must be set before Start.
func (a *Agent) OnChatRow(fn ChatRowHandler) { a.onChat = fn }

// OnConnectionChanged registers a world sync up/down observer. The agent owns
// the sync client's callback slot, so external listeners chain through here.
// Must be set before Start.
func (a *Agent) OnConnectionChanged(fn func(up bool)) { a.onConn = fn }

func (a *Agent) Start() {
	a.startOnce.Do(func() {
		a.sync.OnRowEvent(a.enqueueRow)
		a.sync.OnConnectionChanged(func(up bool) {
			if up {
				// The initial snapshot TX follows SUBSCRIBED on the same
				// socket, so identity must be set before those rows drain. A
				// posted job would run after them in the same tick and the
				// agent's own rows would be dropped as foreign.
				a.mu.Lock()
				a.selfID = a.sync.PlayerID()
				a.inventory.SetOwner(a.selfID)
				a.mu.Unlock()
			}
			if a.onConn != nil {
				a.onConn(up)
			}
			a.Post(func() {
				a.emit(Event{Kind: "connection_changed", Up: up})
				a.log.Printf("world sync connected=%v", up)
			})
		})
		go a.loop()
	})
}

func (a *Agent) Stop() {
	a.closeOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
}

func (a *Agent) emit(ev Event) {
	if a.sink == nil {
		return
	}
	ev.TS = time.Now()
	if err := a.sink.Write(ev); err != nil {
		a.log.Printf("telemetry write: %v", err)
	}
}

func (a *Agent) enqueueRow(ev protocol.RowEvent) {
	select {
	case a.rows <- ev:
	default:
		a.log.Printf("row queue full, dropping %s %s", ev.Table, ev.Op)
	}
}

// Post schedules fn onto the tick loop. Used by async ack handlers so all
// controller state stays loop-owned.
func (a *Agent) Post(fn func()) {
	select {
	case a.jobs <- fn:
	default:
		a.log.Printf("job queue full, dropping")
	}
}

func (a *Agent) loop() {
	defer close(a.done)

	interval := time.Second / time.Duration(a.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sinceScan := 0
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			sinceScan++
			scan := sinceScan >= a.cfg.ScanEveryTicks
			if scan {
				sinceScan = 0
			}
			a.tick(interval, scan)
		}
	}
}

func (a *Agent) tick(dt time.Duration, scan bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Diff application first: everything later in the tick sees a
	// consistent mirror.
	a.drainRows()
	a.drainJobs()

	if scan {
		a.detector.ScanForSources(a.movement.Position())
	}
	a.mining.Tick()
	a.movement.Tick(dt.Seconds())
	a.behavior.Update(dt)
}

func (a *Agent) drainRows() {
	for {
		select {
		case ev := <-a.rows:
			a.applyRow(ev)
		default:
			return
		}
	}
}

func (a *Agent) drainJobs() {
	for {
		select {
		case fn := <-a.jobs:
			fn()
		default:
			return
		}
	}
}

func (a *Agent) applyRow(ev protocol.RowEvent) {
	switch ev.Table {
	case protocol.TablePlayer:
		a.applyPlayer(ev)
	case protocol.TableSource:
		a.detector.Apply(ev)
	case protocol.TableStorage:
		a.inventory.Apply(ev)
	case protocol.TableChat:
		a.applyChat(ev)
	}
}

func (a *Agent) applyPlayer(ev protocol.RowEvent) {
	if ev.Op == protocol.OpDelete {
		if row, err := protocol.DecodePlayer(ev.Old); err == nil {
			delete(a.players, row.PlayerID)
		}
		return
	}
	row, err := protocol.DecodePlayer(ev.New)
	if err != nil {
		return
	}
	a.players[row.PlayerID] = row
	// Fold the authoritative echo back into the movement mirror, unless a
	// local move is in flight.
	if row.PlayerID == a.selfID && !a.movement.Moving() {
		a.movement.SyncPosition(row.Position, row.Yaw)
	}
}

func (a *Agent) applyChat(ev protocol.RowEvent) {
	if a.onChat == nil || ev.Op != protocol.OpInsert {
		return
	}
	row, err := protocol.DecodeChat(ev.New)
	if err != nil {
		return
	}
	sender, known := a.players[row.SenderID]
	a.onChat(row, sender.Position, known, a.movement.Position())
}

// --- snapshot and command surface (chat/router/status goroutines) ---

type MiningStatus struct {
	SourceID  uint64  `json:"source_id"`
	Crystal   string  `json:"crystal"`
	Extracted int     `json:"extracted"`
	Seconds   float64 `json:"seconds"`
}

type Status struct {
	State          string        `json:"state"`
	PreviousState  string        `json:"previous_state"`
	TimeInState    float64       `json:"time_in_state_s"`
	Connected      bool          `json:"connected"`
	Position       protocol.Vec3 `json:"position"`
	Yaw            float64       `json:"yaw"`
	InventoryTotal int           `json:"inventory_total"`
	Capacity       int           `json:"capacity"`
	InventoryFull  bool          `json:"inventory_full"`
	Inventory      string        `json:"inventory"`
	Mining         *MiningStatus `json:"mining,omitempty"`
	SourcesInRange int           `json:"sources_in_range"`
	PlayersOnline  int           `json:"players_online"`
	UptimeSeconds  float64       `json:"uptime_s"`
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		State:          a.behavior.Current().String(),
		PreviousState:  a.behavior.Previous().String(),
		TimeInState:    a.behavior.TimeInState().Seconds(),
		Connected:      a.sync.Connected(),
		Position:       a.movement.Position(),
		Yaw:            a.movement.Yaw(),
		InventoryTotal: a.inventory.TotalCount(),
		Capacity:       a.inventory.Capacity(),
		InventoryFull:  a.inventory.IsFull(),
		Inventory:      a.inventory.SummaryString(),
		SourcesInRange: a.detector.InRangeCount(),
		PlayersOnline:  len(a.players),
		UptimeSeconds:  time.Since(a.startedAt).Seconds(),
	}
	if sess, ok := a.mining.Session(); ok {
		st.Mining = &MiningStatus{
			SourceID:  sess.SourceID,
			Crystal:   sess.Crystal,
			Extracted: sess.Extracted,
			Seconds:   time.Since(sess.StartedAt).Seconds(),
		}
	}
	return st
}

func (a *Agent) Position() protocol.Vec3 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.movement.Position()
}

func (a *Agent) SelfID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selfID
}

// PlayerByName looks a player up by display name, case-insensitively.
func (a *Agent) PlayerByName(name string) (protocol.PlayerRow, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.players {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return protocol.PlayerRow{}, false
}

func (a *Agent) InventorySummary() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inventory.SummaryString()
}

// CmdMine starts mining the closest sensed source. Returns an explanatory
// string; guard failures never raise.
func (a *Agent) CmdMine() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inventory.IsFull() {
		return "Inventory is full, cannot mine."
	}
	if !a.behavior.RestartMining(a.mining.StartMiningClosest) {
		return "No sources in range."
	}
	sess, _ := a.mining.Session()
	return fmt.Sprintf("Mining source %d.", sess.SourceID)
}

func (a *Agent) CmdStop() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.mining.Active() {
		return "Not mining."
	}
	a.mining.StopMining()
	return "Mining stopped."
}

func (a *Agent) CmdScan() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.ScanForSources(a.movement.Position())
	return fmt.Sprintf("Scan complete: %d source(s) in range.", a.detector.InRangeCount())
}

func (a *Agent) CmdSources() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	sources := a.detector.InRangeSources()
	if len(sources) == 0 {
		return "No sources in range."
	}
	pos := a.movement.Position()
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, fmt.Sprintf("#%d %s %.1fu (%d left)",
			s.ID, protocol.BandFor(s.Frequency), s.Position.DistanceTo(pos), s.Remaining))
	}
	return strings.Join(parts, ", ")
}

func (a *Agent) CmdWalk(distance float64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.movement.WalkForward(distance) {
		return "Walk distance must be positive."
	}
	return fmt.Sprintf("Walking forward %g units...", distance)
}

func (a *Agent) CmdRotate(degrees float64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.movement.Rotate(degrees)
	return fmt.Sprintf("Rotating %g degrees.", degrees)
}

func (a *Agent) CmdWalkStop() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.movement.StopWalking()
	return "Stopped walking."
}

func (a *Agent) CmdReset() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mining.StopMining()
	a.movement.StopWalking()
	a.behavior.ForceIdle()
	return "Behavior reset to Idle."
}
