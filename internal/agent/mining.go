package agent

import (
	"context"
	"log"
	"time"

	"quantaforge.ai/internal/protocol"
)

// ReducerCaller is the slice of the sync client the controllers need.
type ReducerCaller interface {
	Call(reducer string, args any) error
	CallAwait(ctx context.Context, reducer string, args any) (protocol.CallResultMsg, error)
}

// DefaultCrystal is the attunement crystal used when none is specified.
const DefaultCrystal = "DEFAULT"

type MiningSession struct {
	SourceID  uint64
	Crystal   string
	StartedAt time.Time
	Extracted int
}

type MiningHooks struct {
	OnStarted         func(sourceID uint64)
	OnStopped         func(sourceID uint64, totalExtracted int)
	OnPacketExtracted func(sourceID uint64, count int)
}

type extractArgs struct {
	OrbID   uint64 `json:"orb_id"`
	Crystal string `json:"crystal"`
}

// MiningController owns the single active extraction session. Start calls
// implicitly stop a previous session; sessions are never concurrent. Extraction
// acks arrive on the sync read goroutine and re-enter the tick loop via post.
type MiningController struct {
	calls ReducerCaller
	post  func(func())
	now   func() time.Time
	log   *log.Logger
	hooks MiningHooks

	inventoryFull func() bool
	closestSource func() *Source

	extractEvery int
	sinceExtract int

	session *MiningSession
}

type MiningDeps struct {
	Calls         ReducerCaller
	Post          func(func())
	Now           func() time.Time
	Logger        *log.Logger
	InventoryFull func() bool
	ClosestSource func() *Source
}

func NewMiningController(deps MiningDeps, extractEveryTicks int, hooks MiningHooks) *MiningController {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if extractEveryTicks <= 0 {
		extractEveryTicks = 30
	}
	return &MiningController{
		calls:         deps.Calls,
		post:          deps.Post,
		now:           deps.Now,
		log:           deps.Logger,
		hooks:         hooks,
		inventoryFull: deps.InventoryFull,
		closestSource: deps.ClosestSource,
		extractEvery:  extractEveryTicks,
	}
}

func (m *MiningController) Active() bool { return m.session != nil }

func (m *MiningController) Session() (MiningSession, bool) {
	if m.session == nil {
		return MiningSession{}, false
	}
	return *m.session, true
}

// StartMining begins a session against sourceID with the default crystal.
// Returns false without side effects when inventory is full.
func (m *MiningController) StartMining(sourceID uint64) bool {
	return m.StartMiningWithCrystal(sourceID, DefaultCrystal)
}

func (m *MiningController) StartMiningWithCrystal(sourceID uint64, crystal string) bool {
	if m.inventoryFull != nil && m.inventoryFull() {
		return false
	}
	m.StopMining()
	m.session = &MiningSession{
		SourceID:  sourceID,
		Crystal:   crystal,
		StartedAt: m.now(),
	}
	m.sinceExtract = 0
	if err := m.calls.Call(protocol.ReducerBeginExtraction, extractArgs{OrbID: sourceID, Crystal: crystal}); err != nil {
		m.log.Printf("begin_extraction orb=%d: %v", sourceID, err)
	}
	if m.hooks.OnStarted != nil {
		m.hooks.OnStarted(sourceID)
	}
	return true
}

// StartMiningClosest targets the nearest sensed source. False when none.
func (m *MiningController) StartMiningClosest() bool {
	if m.closestSource == nil {
		return false
	}
	s := m.closestSource()
	if s == nil {
		return false
	}
	return m.StartMining(s.ID)
}

// StopMining terminates the active session; no-op when idle. The stopped hook
// fires for forced terminations too (e.g. the source left range).
func (m *MiningController) StopMining() {
	if m.session == nil {
		return
	}
	s := *m.session
	m.session = nil
	if err := m.calls.Call(protocol.ReducerStopExtraction, extractArgs{OrbID: s.SourceID, Crystal: s.Crystal}); err != nil {
		m.log.Printf("stop_extraction orb=%d: %v", s.SourceID, err)
	}
	if m.hooks.OnStopped != nil {
		m.hooks.OnStopped(s.SourceID, s.Extracted)
	}
}

// Tick issues a periodic extraction request while a session is active. The
// awaited ack is handled off-loop and re-posted so session state stays
// tick-loop-owned.
func (m *MiningController) Tick() {
	if m.session == nil {
		return
	}
	m.sinceExtract++
	if m.sinceExtract < m.extractEvery {
		return
	}
	m.sinceExtract = 0

	sourceID := m.session.SourceID
	crystal := m.session.Crystal
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		res, err := m.calls.CallAwait(ctx, protocol.ReducerExtractPacket, extractArgs{OrbID: sourceID, Crystal: crystal})
		if err != nil || res.Status != protocol.StatusCommitted {
			return
		}
		if m.post != nil {
			m.post(func() { m.ackExtraction(sourceID, res.Count) })
		}
	}()
}

func (m *MiningController) ackExtraction(sourceID uint64, count int) {
	if m.session == nil || m.session.SourceID != sourceID || count <= 0 {
		return
	}
	m.session.Extracted += count
	if m.hooks.OnPacketExtracted != nil {
		m.hooks.OnPacketExtracted(sourceID, count)
	}
}
