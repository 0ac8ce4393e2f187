// Package audit persists an append-only record of every settlement and
// trade commit, one JSON line per event, zstd-compressed and rotated
// hourly. The log is for after-the-fact dispute resolution; nothing in
// the bot reads it back.
package audit

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

// Entry is one audited event.
type Entry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Actor   string    `json:"actor"`
	TableID int64     `json:"table_id,omitempty"`
	SagaID  string    `json:"saga_id,omitempty"`
	Detail  any       `json:"detail,omitempty"`
}

// Log writes entries to hourly-rotated files under baseDir. File names
// follow the configured UTC offset so rotation tracks the community's
// local clock; the entries themselves stay in UTC.
type Log struct {
	baseDir string
	prefix  string
	zone    *time.Location

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewLog(baseDir string, utcOffsetHours int) *Log {
	zone := time.FixedZone(fmt.Sprintf("UTC%+d", utcOffsetHours), utcOffsetHours*3600)
	return &Log{baseDir: baseDir, prefix: "audit", zone: zone}
}

func (l *Log) Write(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	hour := e.At.In(l.zone).Format("2006-01-02-15")
	if hour != l.curHour {
		if err := l.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Log) rotateLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", l.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.w = bufio.NewWriterSize(enc, 128*1024)
	l.curHour = hour
	return nil
}

func (l *Log) closeLocked() error {
	var err error
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.enc != nil {
		err = l.enc.Close()
		l.enc = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.w = nil
	return err
}
