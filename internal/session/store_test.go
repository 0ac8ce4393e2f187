package session

import (
	"os"
	"sync"
	"testing"
	"time"
)

type lootState struct {
	Step    string   `json:"step"`
	Owner   string   `json:"owner"`
	Players []string `json:"players"`
}

func TestStore_PutGetDelete(t *testing.T) {
	s := NewStore[lootState]("loot")
	s.Put("m1", lootState{Step: "select_table", Owner: "gm#1"})

	got, ok := s.Get("m1")
	if !ok || got.Step != "select_table" {
		t.Fatalf("unexpected session: %+v ok=%v", got, ok)
	}

	// Overwrite, no merge.
	s.Put("m1", lootState{Step: "collect_drops"})
	got, _ = s.Get("m1")
	if got.Step != "collect_drops" || got.Owner != "" {
		t.Fatalf("put did not overwrite: %+v", got)
	}

	s.Delete("m1")
	if _, ok := s.Get("m1"); ok {
		t.Fatal("delete left entry behind")
	}
	// Deleting again is harmless.
	s.Delete("m1")
}

func TestSnowflakeTime(t *testing.T) {
	// 175928847299117063 is the documented example snowflake
	// (2016-04-30 11:18:25.796 UTC).
	ts, ok := SnowflakeTime("175928847299117063")
	if !ok {
		t.Fatal("expected decode")
	}
	want := time.Date(2016, 4, 30, 11, 18, 25, 0, time.UTC)
	if ts.UTC().Sub(want) > time.Second || want.Sub(ts.UTC()) > time.Second {
		t.Fatalf("decoded %v, want ~%v", ts.UTC(), want)
	}

	if _, ok := SnowflakeTime("not-a-snowflake"); ok {
		t.Fatal("expected failure for non-numeric id")
	}
}

// A session whose id decodes to >1h in the past is removed by the sweep.
func TestStore_SweepStaleBySnowflakeAge(t *testing.T) {
	s := NewStore[lootState]("loot")
	s.Put("175928847299117063", lootState{Step: "select_table"}) // 2016
	s.Put("fresh", lootState{Step: "select_table"})              // CreatedAt = now

	if n := s.SweepStale(time.Hour); n != 1 {
		t.Fatalf("expected 1 evicted, got %d", n)
	}
	if _, ok := s.Get("175928847299117063"); ok {
		t.Fatal("stale session survived sweep")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("fresh session evicted")
	}
}

func TestStore_CheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := NewStore[lootState]("loot")
	s.Put("a", lootState{Step: "allocate", Owner: "gm#1", Players: []string{"p1", "p2"}})
	s.Put("b", lootState{Step: "collect_drops"})
	if err := s.WriteCheckpoint(dir); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored := NewStore[lootState]("loot")
	if err := restored.ReadCheckpoint(dir); err != nil {
		t.Fatalf("read: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("expected 2 restored, got %d", restored.Len())
	}
	got, ok := restored.Get("a")
	if !ok || got.Owner != "gm#1" || len(got.Players) != 2 {
		t.Fatalf("restored session mangled: %+v", got)
	}
}

type guardedState struct {
	mu      sync.Mutex
	Players []string `json:"players"`
}

func (g *guardedState) Lock()   { g.mu.Lock() }
func (g *guardedState) Unlock() { g.mu.Unlock() }

// A handler appending to a live session while the periodic checkpoint
// runs must not race with the encoder (run under -race).
func TestStore_CheckpointConcurrentMutation(t *testing.T) {
	dir := t.TempDir()
	s := NewStore[*guardedState]("loot")
	g := &guardedState{}
	s.Put("m1", g)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			g.Lock()
			g.Players = append(g.Players, "p")
			g.Unlock()
		}
	}()
	for i := 0; i < 20; i++ {
		if err := s.WriteCheckpoint(dir); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	<-done

	restored := NewStore[*guardedState]("loot")
	if err := restored.ReadCheckpoint(dir); err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := restored.Get("m1"); !ok {
		t.Fatal("session missing after restore")
	}
}

func TestStore_ReadCheckpointMissingFile(t *testing.T) {
	s := NewStore[lootState]("loot")
	if err := s.ReadCheckpoint(t.TempDir()); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
}

func TestStore_ReadCheckpointCorruptDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewStore[lootState]("loot")
	if err := os.WriteFile(s.checkpointPath(dir), []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.ReadCheckpoint(dir); err == nil {
		t.Fatal("expected decode error for corrupt file")
	}
	if s.Len() != 0 {
		t.Fatalf("corrupt checkpoint must leave store empty, len=%d", s.Len())
	}
}

func TestManager_PressureSweep(t *testing.T) {
	s := NewStore[lootState]("loot")
	s.Put("175928847299117063", lootState{}) // stale
	s.Put("fresh", lootState{})

	m := NewManager(t.TempDir(), time.Hour, 1, nil)
	m.Register(s)

	// Below threshold: nothing happens.
	m.readMem = func() uint64 { return 0 }
	m.PressureSweep()
	if s.Len() != 2 {
		t.Fatalf("sweep ran below threshold, len=%d", s.Len())
	}

	// Above threshold, recovered after stale sweep: fresh survives.
	calls := 0
	m.readMem = func() uint64 {
		calls++
		if calls == 1 {
			return 2 * 1024 * 1024
		}
		return 0
	}
	m.PressureSweep()
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("fresh session cleared despite recovery")
	}
	if _, ok := s.Get("175928847299117063"); ok {
		t.Fatal("stale session survived pressure sweep")
	}

	// Still above threshold after sweep: everything goes.
	m.readMem = func() uint64 { return 2 * 1024 * 1024 }
	m.PressureSweep()
	if s.Len() != 0 {
		t.Fatalf("forced cleanup left %d sessions", s.Len())
	}
}

func TestManager_RestoreLogsAndContinuesOnCorrupt(t *testing.T) {
	dir := t.TempDir()
	bad := NewStore[lootState]("loot")
	if err := os.WriteFile(bad.checkpointPath(dir), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	good := NewStore[lootState]("report")
	good.Put("x", lootState{Step: "s"})
	if err := good.WriteCheckpoint(dir); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewManager(dir, time.Hour, 0, nil)
	restoredBad := NewStore[lootState]("loot")
	restoredGood := NewStore[lootState]("report")
	m.Register(restoredBad)
	m.Register(restoredGood)
	m.Restore()

	if restoredBad.Len() != 0 {
		t.Fatalf("corrupt store should be empty, len=%d", restoredBad.Len())
	}
	if restoredGood.Len() != 1 {
		t.Fatalf("good store should restore, len=%d", restoredGood.Len())
	}
}
