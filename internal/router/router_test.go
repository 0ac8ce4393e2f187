package router

import (
	"io"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCustomIDRoundTrip(t *testing.T) {
	cases := []struct {
		action string
		args   []string
		want   string
	}{
		{"loot:pick", nil, "loot:pick"},
		{"loot:drop", []string{"187", "weapons"}, "loot:drop|187|weapons"},
		{"tx:confirm", []string{""}, "tx:confirm|"},
	}
	for _, tc := range cases {
		got := CustomID(tc.action, tc.args...)
		if got != tc.want {
			t.Fatalf("CustomID(%q, %v) = %q, want %q", tc.action, tc.args, got, tc.want)
		}
		action, args := ParseCustomID(got)
		if action != tc.action {
			t.Fatalf("ParseCustomID(%q) action = %q, want %q", got, action, tc.action)
		}
		if len(args) != len(tc.args) {
			t.Fatalf("ParseCustomID(%q) args = %v, want %v", got, args, tc.args)
		}
		for i := range args {
			if args[i] != tc.args[i] {
				t.Fatalf("ParseCustomID(%q) args = %v, want %v", got, args, tc.args)
			}
		}
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	r := New(discardLogger(), nil)
	noop := func(*Ctx) error { return nil }

	if err := r.Button("loot:pick", noop); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := r.Button("loot:pick", noop); err == nil {
		t.Fatal("duplicate button key accepted")
	}
	// Same key in a different class is fine.
	if err := r.Modal("loot:pick", noop); err != nil {
		t.Fatalf("same key, different class: %v", err)
	}
	if err := r.Command("", noop); err == nil {
		t.Fatal("empty command name accepted")
	}
}

// Every user-visible interaction type gets some answer even when no
// handler matches; only autocomplete may be dropped silently.
func TestReplyForUnmatched(t *testing.T) {
	cases := []struct {
		typ  discordgo.InteractionType
		want unmatchedReply
	}{
		{discordgo.InteractionMessageComponent, replyAck},
		{discordgo.InteractionModalSubmit, replyExpired},
		{discordgo.InteractionApplicationCommand, replyExpired},
		{discordgo.InteractionApplicationCommandAutocomplete, replyNone},
		{discordgo.InteractionPing, replyNone},
	}
	for _, tc := range cases {
		if got := replyForUnmatched(tc.typ); got != tc.want {
			t.Fatalf("replyForUnmatched(%s) = %d, want %d", tc.typ, got, tc.want)
		}
	}
}
