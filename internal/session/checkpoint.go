package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const checkpointVersion = 1

type checkpointHeader struct {
	Version int       `json:"version"`
	Store   string    `json:"store"`
	SavedAt time.Time `json:"saved_at"`
	Count   int       `json:"count"`
}

type checkpointEntry[T any] struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Session   T         `json:"session"`
}

func (s *Store[T]) checkpointPath(dir string) string {
	return filepath.Join(dir, s.name+".ckpt.zst")
}

// marshalEntry encodes one entry. A payload implementing sync.Locker is
// encoded with its own lock held, so the snapshot cannot race with a
// handler mutating the live session.
func marshalEntry[T any](e checkpointEntry[T]) (json.RawMessage, error) {
	if l, ok := any(e.Session).(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	return json.Marshal(e)
}

// WriteCheckpoint serializes every entry to <dir>/<name>.ckpt.zst.
func (s *Store[T]) WriteCheckpoint(dir string) error {
	s.mu.Lock()
	entries := make([]checkpointEntry[T], 0, len(s.entries))
	for id, e := range s.entries {
		entries = append(entries, checkpointEntry[T]{ID: id, CreatedAt: e.CreatedAt, Session: e.Value})
	}
	s.mu.Unlock()

	raws := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		raw, err := marshalEntry(e)
		if err != nil {
			return fmt.Errorf("encode checkpoint entry %s: %w", e.ID, err)
		}
		raws = append(raws, raw)
	}

	path := s.checkpointPath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 64*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(checkpointHeader{
		Version: checkpointVersion,
		Store:   s.name,
		SavedAt: time.Now().UTC(),
		Count:   len(entries),
	})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(raws); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint restores entries from <dir>/<name>.ckpt.zst. A missing
// file is not an error; a corrupt file leaves the store empty and returns
// the decode error so the caller can log it. Startup never fails on a bad
// checkpoint.
func (s *Store[T]) ReadCheckpoint(dir string) error {
	f, err := os.Open(s.checkpointPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	headerLine, err := br.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read checkpoint header: %w", err)
	}
	var header checkpointHeader
	if err := json.Unmarshal(headerLine, &header); err != nil {
		return fmt.Errorf("decode checkpoint header: %w", err)
	}
	if header.Version != checkpointVersion {
		return fmt.Errorf("unsupported checkpoint version %d", header.Version)
	}

	var entries []checkpointEntry[T]
	if err := json.NewDecoder(br).Decode(&entries); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}

	s.mu.Lock()
	s.entries = make(map[string]entry[T], len(entries))
	for _, e := range entries {
		s.entries[e.ID] = entry[T]{Value: e.Session, CreatedAt: e.CreatedAt}
	}
	s.mu.Unlock()
	return nil
}
