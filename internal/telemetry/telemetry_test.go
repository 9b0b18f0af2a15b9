package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

type record struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

func readSegment(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []record
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")
	w.now = func() time.Time { return time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC) }

	if err := w.Write(record{Kind: "extracted", Count: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(record{Kind: "state_changed"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readSegment(t, filepath.Join(dir, "events-2026-08-24-12.jsonl.zst"))
	if len(got) != 2 {
		t.Fatalf("records=%v", got)
	}
	if got[0].Kind != "extracted" || got[0].Count != 3 || got[1].Kind != "state_changed" {
		t.Fatalf("records=%v", got)
	}
}

func TestWriter_HourlyRotation(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")

	now := time.Date(2026, 8, 24, 12, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	if err := w.Write(record{Kind: "a"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := w.Write(record{Kind: "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readSegment(t, filepath.Join(dir, "events-2026-08-24-12.jsonl.zst"))
	second := readSegment(t, filepath.Join(dir, "events-2026-08-24-13.jsonl.zst"))
	if len(first) != 1 || first[0].Kind != "a" {
		t.Fatalf("first segment=%v", first)
	}
	if len(second) != 1 || second[0].Kind != "b" {
		t.Fatalf("second segment=%v", second)
	}
}

func TestWriter_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		w := NewWriter(dir, "events")
		w.now = func() time.Time { return ts }
		if err := w.Write(record{Kind: "run", Count: i}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	got := readSegment(t, filepath.Join(dir, "events-2026-08-24-09.jsonl.zst"))
	if len(got) != 2 || got[0].Count != 0 || got[1].Count != 1 {
		t.Fatalf("records=%v", got)
	}
}
