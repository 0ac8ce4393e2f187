package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func TestLog_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir, 0)

	at := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	entries := []Entry{
		{At: at, Kind: "settle", Actor: "gm#1", TableID: 7, SagaID: "abc"},
		{At: at.Add(time.Minute), Kind: "trade", Actor: "ana#1"},
	}
	for _, e := range entries {
		if err := l.Write(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "audit-2026-03-14-10.jsonl.zst")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var got []Entry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d entries, want 2", len(got))
	}
	if got[0].Kind != "settle" || got[0].TableID != 7 || got[1].Actor != "ana#1" {
		t.Fatalf("entries round-tripped wrong: %+v", got)
	}
}

func TestLog_RotatesByHour(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir, 0)

	h1 := time.Date(2026, 3, 14, 10, 59, 0, 0, time.UTC)
	h2 := h1.Add(2 * time.Minute)
	if err := l.Write(Entry{At: h1, Kind: "settle"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Write(Entry{At: h2, Kind: "settle"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, name := range []string{"audit-2026-03-14-10.jsonl.zst", "audit-2026-03-14-11.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

// With UTC-3 an event just past midnight UTC still lands in the previous
// local day's file.
func TestLog_RotationFollowsConfiguredOffset(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir, -3)

	if err := l.Write(Entry{At: time.Date(2026, 3, 14, 1, 30, 0, 0, time.UTC), Kind: "settle"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "audit-2026-03-13-22.jsonl.zst")); err != nil {
		t.Fatalf("expected local-time file: %v", err)
	}
}
