package dice

import (
	"sync"
	"time"
)

// BrechaWindow is one pending listening window awaiting an external dice
// roll to resolve a skill check.
type BrechaWindow struct {
	ChannelID string
	UserID    string
	MessageID string // prompt message to edit on expiry
	OpenedAt  time.Time
	Resolve   func(RollMessage)
	Expire    func()
}

const brechaTTL = 5 * time.Minute

// Brechas tracks open listening windows, at most one per (channel, user).
type Brechas struct {
	mu      sync.Mutex
	pending map[brechaKey]*BrechaWindow
	now     func() time.Time
}

type brechaKey struct {
	channelID string
	userID    string
}

func NewBrechas() *Brechas {
	return &Brechas{pending: map[brechaKey]*BrechaWindow{}, now: time.Now}
}

// Open registers a window, replacing any previous one for the same pair.
func (b *Brechas) Open(w *BrechaWindow) {
	if w.OpenedAt.IsZero() {
		w.OpenedAt = b.now()
	}
	b.mu.Lock()
	b.pending[brechaKey{w.ChannelID, w.UserID}] = w
	b.mu.Unlock()
}

// Feed offers an inbound message to the matching window, if any. A parsed
// roll resolves and closes the window.
func (b *Brechas) Feed(channelID, userID, content string) bool {
	roll, ok := ParseRollMessage(content)
	if !ok {
		return false
	}
	b.mu.Lock()
	key := brechaKey{channelID, userID}
	w, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	if w.Resolve != nil {
		w.Resolve(roll)
	}
	return true
}

// SweepExpired expires windows older than the 5 minute TTL, invoking each
// window's Expire hook outside the lock.
func (b *Brechas) SweepExpired() int {
	cutoff := b.now().Add(-brechaTTL)

	b.mu.Lock()
	var expired []*BrechaWindow
	for key, w := range b.pending {
		if w.OpenedAt.Before(cutoff) {
			expired = append(expired, w)
			delete(b.pending, key)
		}
	}
	b.mu.Unlock()

	for _, w := range expired {
		if w.Expire != nil {
			w.Expire()
		}
	}
	return len(expired)
}

// Len reports the number of open windows.
func (b *Brechas) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
