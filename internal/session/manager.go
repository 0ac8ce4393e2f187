package session

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// Keeper is the store surface the manager drives. Every typed Store
// satisfies it.
type Keeper interface {
	Name() string
	Len() int
	SweepStale(maxAge time.Duration) int
	Clear() int
	WriteCheckpoint(dir string) error
	ReadCheckpoint(dir string) error
}

// Manager owns every workflow family's store: restore at startup, periodic
// checkpoints, hourly staleness sweeps and the forced cleanup under memory
// pressure.
type Manager struct {
	dir      string
	maxAge   time.Duration
	memLimit uint64 // bytes; 0 disables the pressure sweep
	logger   *slog.Logger

	keepers []Keeper

	readMem func() uint64
}

func NewManager(dir string, maxAge time.Duration, memLimitMB uint64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = StaleAfter
	}
	return &Manager{
		dir:      dir,
		maxAge:   maxAge,
		memLimit: memLimitMB * 1024 * 1024,
		logger:   logger,
		readMem: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		},
	}
}

// Register adds a store. Registration happens before Restore.
func (m *Manager) Register(k Keeper) {
	m.keepers = append(m.keepers, k)
}

// Restore loads every store's checkpoint. Corrupt or missing files degrade
// to empty stores.
func (m *Manager) Restore() {
	for _, k := range m.keepers {
		if err := k.ReadCheckpoint(m.dir); err != nil {
			m.logger.Warn("checkpoint restore failed, starting empty",
				"store", k.Name(), "error", err)
			continue
		}
		if n := k.Len(); n > 0 {
			m.logger.Info("sessions restored", "store", k.Name(), "count", n)
		}
	}
}

// Checkpoint writes every store's checkpoint file.
func (m *Manager) Checkpoint() {
	for _, k := range m.keepers {
		if err := k.WriteCheckpoint(m.dir); err != nil {
			m.logger.Error("checkpoint write failed", "store", k.Name(), "error", err)
		}
	}
}

// Sweep evicts stale sessions from every store.
func (m *Manager) Sweep() {
	for _, k := range m.keepers {
		if n := k.SweepStale(m.maxAge); n > 0 {
			m.logger.Info("stale sessions evicted", "store", k.Name(), "count", n)
		}
	}
}

// PressureSweep runs synchronously before an interaction is handled. Above
// the memory threshold it first evicts stale entries; if the heap is still
// above the threshold it clears every store outright.
func (m *Manager) PressureSweep() {
	if m.memLimit == 0 || m.readMem() < m.memLimit {
		return
	}
	m.logger.Warn("memory threshold exceeded, sweeping sessions")
	m.Sweep()
	runtime.GC()
	if m.readMem() < m.memLimit {
		return
	}
	for _, k := range m.keepers {
		if n := k.Clear(); n > 0 {
			m.logger.Warn("forced session cleanup", "store", k.Name(), "count", n)
		}
	}
}

// Run drives periodic sweeps and checkpoints until ctx is done, then takes
// a final checkpoint.
func (m *Manager) Run(ctx context.Context, checkpointEvery, sweepEvery time.Duration) {
	checkpoint := time.NewTicker(checkpointEvery)
	defer checkpoint.Stop()
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Checkpoint()
			return
		case <-checkpoint.C:
			m.Checkpoint()
		case <-sweep.C:
			m.Sweep()
		}
	}
}
