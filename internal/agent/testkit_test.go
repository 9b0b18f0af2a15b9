package agent

import (
	"context"
	"encoding/json"
	"sync"

	"quantaforge.ai/internal/protocol"
)

// fakeSync records reducer calls and plays back canned ack results.
type fakeSync struct {
	mu        sync.Mutex
	calls     []string
	connected bool
	playerID  uint64

	awaitResult protocol.CallResultMsg
	awaitErr    error

	onRow  func(protocol.RowEvent)
	onConn func(bool)
}

func (f *fakeSync) Call(reducer string, args any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reducer)
	return nil
}

func (f *fakeSync) CallAwait(ctx context.Context, reducer string, args any) (protocol.CallResultMsg, error) {
	f.mu.Lock()
	f.calls = append(f.calls, reducer)
	res, err := f.awaitResult, f.awaitErr
	f.mu.Unlock()
	return res, err
}

func (f *fakeSync) Connected() bool { return f.connected }

func (f *fakeSync) PlayerID() uint64 { return f.playerID }

func (f *fakeSync) OnRowEvent(fn func(protocol.RowEvent)) { f.onRow = fn }

func (f *fakeSync) OnConnectionChanged(fn func(bool)) { f.onConn = fn }

func (f *fakeSync) callCount(reducer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == reducer {
			n++
		}
	}
	return n
}

// eventCapture collects telemetry events for assertions.
type eventCapture struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventCapture) Write(v any) error {
	ev, ok := v.(Event)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *eventCapture) kindCount(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func storageEvent(op protocol.Op, owner uint64, total int, samples ...protocol.QuantaSample) protocol.RowEvent {
	row := protocol.StorageRow{StorageID: 1, OwnerID: owner, TotalQuanta: total, Samples: samples}
	ev := protocol.RowEvent{Table: protocol.TableStorage, Op: op}
	if op == protocol.OpDelete {
		ev.Old = mustRaw(row)
	} else {
		ev.New = mustRaw(row)
	}
	return ev
}

func sourceEvent(op protocol.Op, id uint64, pos protocol.Vec3, freq float64, remaining uint32) protocol.RowEvent {
	row := protocol.SourceRow{OrbID: id, Position: pos, Frequency: freq, Remaining: remaining}
	ev := protocol.RowEvent{Table: protocol.TableSource, Op: op}
	if op == protocol.OpDelete {
		ev.Old = mustRaw(row)
	} else {
		ev.New = mustRaw(row)
	}
	return ev
}
