package dice

import (
	"testing"
	"time"
)

func TestRoller_Deterministic(t *testing.T) {
	a := NewRoller(42)
	b := NewRoller(42)
	ra, err := a.Roll(4, 8, false)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	rb, _ := b.Roll(4, 8, false)
	if ra.Total != rb.Total {
		t.Fatalf("same seed diverged: %d vs %d", ra.Total, rb.Total)
	}
	if len(ra.Values) != 4 {
		t.Fatalf("expected 4 dice, got %d", len(ra.Values))
	}
	for _, v := range ra.Values {
		if v < 1 || v > 8 {
			t.Fatalf("die out of range: %d", v)
		}
	}
}

func TestRoller_AdvantageNeverLower(t *testing.T) {
	// With advantage each die is max of two draws, so over many rolls the
	// advantage mean must dominate the plain mean.
	plain := NewRoller(7)
	adv := NewRoller(7)
	var plainSum, advSum int
	for i := 0; i < 500; i++ {
		p, _ := plain.Roll(1, 20, false)
		a, _ := adv.Roll(1, 20, true)
		plainSum += p.Total
		advSum += a.Total
	}
	if advSum <= plainSum {
		t.Fatalf("advantage did not dominate: %d <= %d", advSum, plainSum)
	}
}

func TestRoller_RejectsInvalid(t *testing.T) {
	r := NewRoller(1)
	if _, err := r.Roll(0, 6, false); err == nil {
		t.Fatal("expected error for zero count")
	}
	if _, err := r.Roll(1, 0, false); err == nil {
		t.Fatal("expected error for zero sides")
	}
}

func TestParseRollMessage(t *testing.T) {
	cases := []struct {
		content string
		want    RollMessage
		ok      bool
	}{
		{"2d6+1d8: **15** # percepção", RollMessage{Result: 15, DieTypes: []int{6, 8}, Text: "percepção"}, true},
		{"1d20 Resultado: 7", RollMessage{Result: 7, DieTypes: []int{20}}, true},
		{"rolled 3d10 = 22", RollMessage{Result: 22, DieTypes: []int{10}}, true},
		{"bom dia pessoal", RollMessage{}, false},
		{"**12** sem dados", RollMessage{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseRollMessage(tc.content)
		if ok != tc.ok {
			t.Fatalf("%q: ok=%v, want %v", tc.content, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if got.Result != tc.want.Result {
			t.Fatalf("%q: result %d, want %d", tc.content, got.Result, tc.want.Result)
		}
		if len(got.DieTypes) != len(tc.want.DieTypes) {
			t.Fatalf("%q: die types %v, want %v", tc.content, got.DieTypes, tc.want.DieTypes)
		}
		for i := range got.DieTypes {
			if got.DieTypes[i] != tc.want.DieTypes[i] {
				t.Fatalf("%q: die types %v, want %v", tc.content, got.DieTypes, tc.want.DieTypes)
			}
		}
		if got.Text != tc.want.Text {
			t.Fatalf("%q: text %q, want %q", tc.content, got.Text, tc.want.Text)
		}
	}
}

func TestBrechas_FeedResolvesMatchingWindow(t *testing.T) {
	b := NewBrechas()
	var resolved *RollMessage
	b.Open(&BrechaWindow{
		ChannelID: "c1",
		UserID:    "u1",
		Resolve:   func(r RollMessage) { resolved = &r },
	})

	if b.Feed("c1", "u2", "1d20 = 11") {
		t.Fatal("wrong user must not resolve")
	}
	if !b.Feed("c1", "u1", "1d20 = 11") {
		t.Fatal("matching roll should resolve")
	}
	if resolved == nil || resolved.Result != 11 {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
	if b.Len() != 0 {
		t.Fatalf("window not closed, len=%d", b.Len())
	}
}

func TestBrechas_SweepExpiresOldWindows(t *testing.T) {
	b := NewBrechas()
	now := time.Now()
	b.now = func() time.Time { return now }

	expired := false
	b.Open(&BrechaWindow{ChannelID: "c1", UserID: "u1", Expire: func() { expired = true }})

	now = now.Add(brechaTTL + time.Second)
	if n := b.SweepExpired(); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if !expired {
		t.Fatal("expire hook not invoked")
	}
	if b.Feed("c1", "u1", "1d20 = 3") {
		t.Fatal("expired window must not resolve")
	}
}

// The expiry hook runs after the prompt message id was bound, so it can
// edit the original prompt instead of posting a dangling notice.
func TestBrechas_ExpireSeesBoundPromptMessage(t *testing.T) {
	b := NewBrechas()
	now := time.Now()
	b.now = func() time.Time { return now }

	w := &BrechaWindow{ChannelID: "c1", UserID: "u1"}
	var edited string
	w.Expire = func() { edited = w.MessageID }
	w.MessageID = "m42"
	b.Open(w)

	now = now.Add(brechaTTL + time.Second)
	if n := b.SweepExpired(); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if edited != "m42" {
		t.Fatalf("expire saw message id %q, want m42", edited)
	}
}
