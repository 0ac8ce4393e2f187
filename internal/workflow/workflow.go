// Package workflow holds the pieces shared by the loot, transaction and
// report state machines: the player entry carried through a session, the
// authorization guards, and the bundle of collaborators every module
// receives at registration.
package workflow

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/audit"
	"guildledger.app/internal/config"
	"guildledger.app/internal/dice"
	"guildledger.app/internal/discord"
	"guildledger.app/internal/item"
	"guildledger.app/internal/ledger"
	"guildledger.app/internal/router"
	"guildledger.app/internal/rules"
	"guildledger.app/internal/saga"
	"guildledger.app/internal/session"
	"guildledger.app/internal/store"
)

// PlayerEntry is one participant of an in-flight session.
type PlayerEntry struct {
	Tag   string `json:"tag"`
	Char  string `json:"char"`
	Level int    `json:"level"`
	// UserID is the resolved Discord id; empty when resolution failed.
	UserID string `json:"user_id,omitempty"`
	// Items is the player's cart of allocated stacks.
	Items []item.Stack `json:"items,omitempty"`
	// DoubleActive doubles the gold share and predefined item quantities
	// at settlement; toggling costs tokens and is re-validated then.
	DoubleActive bool `json:"double_active,omitempty"`
	// ActiveMessageID marks an outstanding selection surface; a player may
	// not open a second one while this is set.
	ActiveMessageID string `json:"active_message_id,omitempty"`
	// ExtraGold is a manually entered bonus (report sessions only).
	ExtraGold float64 `json:"extra_gold,omitempty"`
}

// Deps bundles what every workflow module needs.
type Deps struct {
	Store   *store.Store
	Ledger  *ledger.Ledger
	Catalog *item.Catalog
	Tuning  *rules.Tuning
	Roller  *dice.Roller
	Saga    *saga.Runner
	Audit   *audit.Log
	Manager *session.Manager
	Cfg     config.Config
	Log     *slog.Logger
}

// IsStaff reports whether the acting member holds the staff role.
func (d *Deps) IsStaff(i *discordgo.InteractionCreate) bool {
	return discord.HasRole(i, d.Cfg.StaffRoleID)
}

// IsNarrator reports whether the acting member may run tables.
func (d *Deps) IsNarrator(i *discordgo.InteractionCreate) bool {
	return discord.HasRole(i, d.Cfg.NarratorRoleID) || d.IsStaff(i)
}

// CanDrive reports whether the acting user may mutate a session owned by
// ownerID: the owner themselves, or staff.
func (d *Deps) CanDrive(i *discordgo.InteractionCreate, ownerID string) bool {
	return discord.User(i).ID == ownerID || d.IsStaff(i)
}

// Expired answers an interaction whose session is gone. Absence is an
// expected outcome (eviction, restart, duplicate click), never an error.
func Expired(c *router.Ctx) error {
	return discord.Ephemeral(c.Session, c.Interaction, "Esta sessão expirou. Comece novamente.")
}

// Denied answers an interaction from a user who may not drive the session.
func Denied(c *router.Ctx) error {
	return discord.Ephemeral(c.Session, c.Interaction, "Você não pode usar esta interação.")
}
