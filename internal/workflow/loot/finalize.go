package loot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/audit"
	"guildledger.app/internal/discord"
	"guildledger.app/internal/item"
	"guildledger.app/internal/ledger"
	"guildledger.app/internal/router"
	"guildledger.app/internal/saga"
	"guildledger.app/internal/store"
)

// settlementRecord is the payload stored with the settlement row and the
// audit log entry.
type settlementRecord struct {
	TableID   int64   `json:"table_id"`
	TableName string  `json:"table_name"`
	Gold      float64 `json:"gold"`
	PerPlayer float64 `json:"per_player"`
	Criterion string  `json:"criterion,omitempty"`
	Players   []struct {
		Tag    string  `json:"tag"`
		Char   string  `json:"char"`
		Gold   float64 `json:"gold"`
		Items  string  `json:"items"`
		Double bool    `json:"double,omitempty"`
	} `json:"players"`
}

// runFinalize executes the settlement saga. Every step is guarded on its
// own; non-critical failures become warnings on the confirmation message
// instead of aborting later steps. The history update is the critical
// step: its finalized-once guard is what makes a duplicate finalize
// harmless.
func (m *Module) runFinalize(ctx context.Context, c *router.Ctx, s *Session, warnings []string) []string {
	var doubled []int
	for i := range s.Players {
		if s.Players[i].DoubleActive {
			doubled = append(doubled, i)
		}
	}

	rec := m.buildRecord(s)
	payload, _ := json.Marshal(rec)

	steps := []saga.Step{
		{Name: "strip_components", Exec: func(context.Context) (string, error) {
			for i := range s.Players {
				s.Players[i].ActiveMessageID = ""
			}
			return "ok", nil
		}},
		{Name: "debit_tokens", Exec: func(ctx context.Context) (string, error) {
			var errs []string
			for _, d := range doubled {
				p := s.Players[d]
				if err := m.deps.Store.DebitTokens(ctx, p.Tag, p.Char, m.deps.Cfg.DoubleTokenCost); err != nil {
					errs = append(errs, fmt.Sprintf("%s: %v", p.Char, err))
				}
			}
			if len(errs) > 0 {
				return "", fmt.Errorf("debit: %s", strings.Join(errs, "; "))
			}
			return fmt.Sprintf("%d jogadores", len(doubled)), nil
		}},
		{Name: "weekly_credit", Exec: func(ctx context.Context) (string, error) {
			var errs []string
			for _, d := range doubled {
				p := s.Players[d]
				if err := m.deps.Store.CreditTablePlayed(ctx, p.Tag); err != nil {
					errs = append(errs, fmt.Sprintf("%s: %v", p.Tag, err))
				}
			}
			if len(errs) > 0 {
				return "", fmt.Errorf("weekly: %s", strings.Join(errs, "; "))
			}
			return "ok", nil
		}},
		{Name: "history_finalize", Critical: true, Exec: func(ctx context.Context) (string, error) {
			row, err := m.deps.Store.GetTable(ctx, s.TableID)
			if err != nil {
				return "", err
			}
			slot := 0
			for i, p := range s.Players {
				if slot >= len(row.Items) {
					break
				}
				row.Players[slot] = store.PlayerSlot(p.Tag, p.Char, p.Level)
				row.Items[slot] = item.FormatList(finalCart(s.Players[i]))
				slot++
			}
			row.Gold = s.GoldTotal
			row.Criterion = s.Criterion
			return "ok", m.deps.Store.FinalizeTable(ctx, row)
		}},
		{Name: "settlement_log", Exec: func(ctx context.Context) (string, error) {
			if err := m.deps.Store.InsertSettlement(ctx, "loot-"+s.ID, s.TableID, string(payload)); err != nil {
				return "", err
			}
			return "ok", m.postSettlement(c.Session, s)
		}},
		{Name: "ledger_apply", Exec: func(ctx context.Context) (string, error) {
			res := m.deps.Ledger.ApplyBatch(ctx, m.buildChanges(s))
			if res.Failed() {
				return "", fmt.Errorf("ledger: %s", strings.Join(res.Warnings, "; "))
			}
			return fmt.Sprintf("%d linhas", res.OK), nil
		}},
		{Name: "narrator_counter", Exec: func(ctx context.Context) (string, error) {
			return "ok", m.deps.Store.IncrementTablesRun(ctx, s.NarratorTag)
		}},
		{Name: "token_report", Exec: func(context.Context) (string, error) {
			if len(doubled) == 0 {
				return "sem dobro", nil
			}
			return "ok", m.postTokenReport(c.Session, s)
		}},
	}

	res := m.deps.Saga.Run(ctx, "loot", s.ID, steps)
	warnings = append(warnings, res.Warnings...)

	if err := m.deps.Audit.Write(audit.Entry{
		Kind:    "loot_finalize",
		Actor:   s.NarratorTag,
		TableID: s.TableID,
		SagaID:  res.ID,
		Detail:  rec,
	}); err != nil {
		m.deps.Log.Warn("audit write failed", "table", s.TableID, "err", err)
	}
	return warnings
}

func (m *Module) buildRecord(s *Session) settlementRecord {
	rec := settlementRecord{
		TableID:   s.TableID,
		TableName: s.TableName,
		Gold:      s.GoldTotal,
		PerPlayer: s.GoldPerPlayer,
		Criterion: s.Criterion,
	}
	for _, p := range s.Players {
		gold := s.GoldPerPlayer
		if p.DoubleActive {
			gold *= 2
		}
		rec.Players = append(rec.Players, struct {
			Tag    string  `json:"tag"`
			Char   string  `json:"char"`
			Gold   float64 `json:"gold"`
			Items  string  `json:"items"`
			Double bool    `json:"double,omitempty"`
		}{p.Tag, p.Char, gold, item.FormatList(finalCart(p)), p.DoubleActive})
	}
	return rec
}

func (m *Module) buildChanges(s *Session) []ledger.Change {
	changes := make([]ledger.Change, 0, len(s.Players))
	for _, p := range s.Players {
		gold := 0.0
		if !s.Options.SkipGold {
			gold = s.GoldPerPlayer
			if p.DoubleActive {
				gold *= 2
			}
		}
		changes = append(changes, ledger.Change{
			PlayerTag: p.Tag,
			Character: p.Char,
			Gold:      gold,
			Items:     finalCart(p),
		})
	}
	return changes
}

func (m *Module) postSettlement(ds *discordgo.Session, s *Session) error {
	if m.deps.Cfg.ReportChannelID == "" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Mesa finalizada: %s** (narrador %s)\n", s.TableName, s.NarratorTag)
	if !s.Options.SkipGold {
		fmt.Fprintf(&b, "Ouro: %.2f total, %.2f por jogador, %.2f para o bastião\n",
			s.GoldTotal, s.GoldPerPlayer, s.GoldStronghold)
		if s.Criterion != "" {
			fmt.Fprintf(&b, "Critério: %s\n", s.Criterion)
		}
	}
	for _, p := range s.Players {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Char, p.Tag, cartLine(finalCart(p)))
	}
	_, err := ds.ChannelMessageSendComplex(m.deps.Cfg.ReportChannelID, &discordgo.MessageSend{
		Content: b.String(),
		Components: []discordgo.MessageComponent{discord.Row(
			discord.Button(router.CustomID("report:start", strconv.FormatInt(s.TableID, 10)),
				"Escrever relatório", discordgo.PrimaryButton, false),
		)},
	})
	return err
}

func (m *Module) postTokenReport(ds *discordgo.Session, s *Session) error {
	if m.deps.Cfg.LogChannelID == "" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Fichas gastas — %s**\n", s.TableName)
	for _, p := range s.Players {
		if p.DoubleActive {
			fmt.Fprintf(&b, "- %s (%s): %d fichas pelo dobro\n", p.Char, p.Tag, m.deps.Cfg.DoubleTokenCost)
		}
	}
	_, err := ds.ChannelMessageSend(m.deps.Cfg.LogChannelID, b.String())
	return err
}
