// Package report implements the narrated settlement workflow: instead of
// interactive allocation, the narrator walks through the table's players
// one by one, typing what each received (items plus optional bonus gold),
// reviews the summary and finalizes. It also owns the free-text session
// report affordance attached to settlement posts.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/audit"
	"guildledger.app/internal/discord"
	"guildledger.app/internal/item"
	"guildledger.app/internal/ledger"
	"guildledger.app/internal/router"
	"guildledger.app/internal/saga"
	"guildledger.app/internal/session"
	"guildledger.app/internal/store"
	"guildledger.app/internal/workflow"
)

// Session iterates the table's players sequentially; Current is the
// index awaiting input, len(Players) once every player is recorded.
type Session struct {
	mu sync.Mutex

	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	NarratorTag string `json:"narrator_tag"`

	TableID   int64                  `json:"table_id"`
	TableName string                 `json:"table_name"`
	Players   []workflow.PlayerEntry `json:"players"`
	Current   int                    `json:"current"`
}

// Lock and Unlock expose the session mutex so the checkpoint encoder can
// hold it while snapshotting, the same lock handlers take to mutate.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) done() bool { return s.Current >= len(s.Players) }

type Module struct {
	deps     *workflow.Deps
	sessions *session.Store[*Session]
}

func Register(r *router.Router, deps *workflow.Deps) (*Module, error) {
	m := &Module{deps: deps, sessions: session.NewStore[*Session]("report")}
	deps.Manager.Register(m.sessions)

	regs := []error{
		r.Command("report", m.execute),
		r.Select("report:table", m.handleTableSelect),
		r.Button("report:player", m.handlePlayerButton),
		r.Modal("report:submit", m.handlePlayerModal),
		r.Button("report:finalize", m.handleFinalize),
		r.Button("report:cancel", m.handleCancel),
		r.Button("report:start", m.handleFreeTextButton),
		r.Modal("report:text", m.handleFreeTextModal),
	}
	for _, err := range regs {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func Command() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "report",
		Description: "Registra o resultado de uma mesa jogador a jogador",
	}
}

func (m *Module) execute(c *router.Ctx) error {
	if !m.deps.IsNarrator(c.Interaction) {
		return discord.Ephemeral(c.Session, c.Interaction, "Apenas narradores podem registrar mesas.")
	}
	user := c.User()
	tag := discord.Tag(user)

	tables, err := m.deps.Store.ListSettleable(context.Background(), tag, m.deps.IsStaff(c.Interaction))
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return discord.Ephemeral(c.Session, c.Interaction, "Nenhuma mesa registrada pendente.")
	}
	if len(tables) > 25 {
		tables = tables[:25]
	}

	sid := c.Interaction.ID
	m.sessions.Put(sid, &Session{ID: sid, OwnerID: user.ID, NarratorTag: tag})

	menu := discordgo.SelectMenu{
		CustomID:    router.CustomID("report:table", sid),
		Placeholder: "Escolha a mesa",
	}
	for _, t := range tables {
		menu.Options = append(menu.Options, discordgo.SelectMenuOption{
			Label: fmt.Sprintf("%s (mesa %d)", t.Name, t.ID),
			Value: strconv.FormatInt(t.ID, 10),
		})
	}
	return discord.EphemeralComponents(c.Session, c.Interaction,
		"Qual mesa você quer registrar?", []discordgo.MessageComponent{discord.Row(menu)})
}

func (m *Module) fetch(c *router.Ctx) (*Session, bool) {
	if len(c.Args) == 0 {
		return nil, false
	}
	return m.sessions.Get(c.Args[0])
}

func (m *Module) handleTableSelect(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return workflow.Denied(c)
	}

	id, err := strconv.ParseInt(c.Interaction.MessageComponentData().Values[0], 10, 64)
	if err != nil {
		return fmt.Errorf("table id: %w", err)
	}
	row, err := m.deps.Store.GetTable(context.Background(), id)
	if err != nil {
		return fmt.Errorf("load table %d: %w", id, err)
	}
	if row.Finalized {
		return discord.Ephemeral(c.Session, c.Interaction, "Essa mesa já foi finalizada.")
	}

	s.TableID = row.ID
	s.TableName = row.Name
	s.Players = s.Players[:0]
	for _, slot := range row.Players {
		if slot == "" {
			continue
		}
		tag, char, level, err := store.ParsePlayerSlot(slot)
		if err != nil {
			m.deps.Log.Warn("bad player slot", "table", row.ID, "slot", slot, "err", err)
			continue
		}
		s.Players = append(s.Players, workflow.PlayerEntry{Tag: tag, Char: char, Level: level})
	}
	if len(s.Players) == 0 {
		return discord.Ephemeral(c.Session, c.Interaction, "A mesa não tem jogadores registrados.")
	}

	text, comps := m.panel(s)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

func (m *Module) panel(s *Session) (string, []discordgo.MessageComponent) {
	var b strings.Builder
	fmt.Fprintf(&b, "**Relatório — %s**\n", s.TableName)
	for i, p := range s.Players {
		mark := " "
		if i < s.Current {
			mark = "✔"
		}
		line := "(pendente)"
		if i < s.Current {
			line = describe(p)
		}
		fmt.Fprintf(&b, "%s %s: %s\n", mark, p.Char, line)
	}

	if s.done() {
		return b.String(), []discordgo.MessageComponent{discord.Row(
			discord.Button(router.CustomID("report:finalize", s.ID), "Finalizar", discordgo.SuccessButton, false),
			discord.Button(router.CustomID("report:cancel", s.ID), "Cancelar", discordgo.DangerButton, false),
		)}
	}
	next := s.Players[s.Current]
	return b.String(), []discordgo.MessageComponent{discord.Row(
		discord.Button(router.CustomID("report:player", s.ID), "Registrar: "+next.Char, discordgo.PrimaryButton, false),
		discord.Button(router.CustomID("report:cancel", s.ID), "Cancelar", discordgo.DangerButton, false),
	)}
}

func describe(p workflow.PlayerEntry) string {
	parts := []string{}
	if len(p.Items) > 0 {
		parts = append(parts, item.FormatList(p.Items))
	}
	if p.ExtraGold > 0 {
		parts = append(parts, fmt.Sprintf("%.2f de ouro extra", p.ExtraGold))
	}
	if len(parts) == 0 {
		return "nada"
	}
	return strings.Join(parts, " | ")
}

func (m *Module) handlePlayerButton(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return workflow.Denied(c)
	}
	if s.done() {
		return discord.Ack(c.Session, c.Interaction)
	}
	p := s.Players[s.Current]
	return discord.Modal(c.Session, c.Interaction,
		router.CustomID("report:submit", s.ID),
		"Registro de "+p.Char,
		discord.TextInput{
			ID: "items", Label: "Itens recebidos",
			Placeholder: "3x Poção de Cura, Adaga (vazio = nenhum)",
			Paragraph:   true,
		},
		discord.TextInput{
			ID: "gold", Label: "Ouro extra",
			Placeholder: "0",
		})
}

func (m *Module) handlePlayerModal(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	values := discord.ModalValues(c.Interaction.ModalSubmitData())

	var stacks []item.Stack
	if text := strings.TrimSpace(values["items"]); text != "" {
		var err error
		stacks, err = item.ParseList(text)
		if err != nil {
			return discord.Ephemeral(c.Session, c.Interaction, "Não entendi a lista: %v", err)
		}
		if unknown := m.deps.Catalog.Validate(context.Background(), stacks); len(unknown) > 0 {
			return discord.Ephemeral(c.Session, c.Interaction,
				"Itens desconhecidos: %s. Tente novamente.", strings.Join(unknown, ", "))
		}
	}
	var gold float64
	if text := strings.TrimSpace(values["gold"]); text != "" {
		var err error
		gold, err = strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
		if err != nil || gold < 0 {
			return discord.Ephemeral(c.Session, c.Interaction, "Ouro extra inválido: %q", text)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done() {
		return workflow.Expired(c)
	}
	s.Players[s.Current].Items = stacks
	s.Players[s.Current].ExtraGold = gold
	s.Current++

	text, comps := m.panel(s)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

func (m *Module) handleFinalize(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return workflow.Denied(c)
	}
	if !s.done() {
		return discord.Ack(c.Session, c.Interaction)
	}

	ctx := context.Background()
	payload, _ := json.Marshal(s.Players)

	steps := []saga.Step{
		{Name: "history_finalize", Critical: true, Exec: func(ctx context.Context) (string, error) {
			row, err := m.deps.Store.GetTable(ctx, s.TableID)
			if err != nil {
				return "", err
			}
			for i, p := range s.Players {
				if i >= len(row.Items) {
					break
				}
				row.Players[i] = store.PlayerSlot(p.Tag, p.Char, p.Level)
				row.Items[i] = item.FormatList(p.Items)
			}
			return "ok", m.deps.Store.FinalizeTable(ctx, row)
		}},
		{Name: "ledger_apply", Exec: func(ctx context.Context) (string, error) {
			changes := make([]ledger.Change, 0, len(s.Players))
			for _, p := range s.Players {
				changes = append(changes, ledger.Change{
					PlayerTag: p.Tag, Character: p.Char,
					Gold: p.ExtraGold, Items: p.Items,
				})
			}
			res := m.deps.Ledger.ApplyBatch(ctx, changes)
			if res.Failed() {
				return "", fmt.Errorf("ledger: %s", strings.Join(res.Warnings, "; "))
			}
			return fmt.Sprintf("%d linhas", res.OK), nil
		}},
		{Name: "settlement_log", Exec: func(ctx context.Context) (string, error) {
			if err := m.deps.Store.InsertSettlement(ctx, "report-"+s.ID, s.TableID, string(payload)); err != nil {
				return "", err
			}
			return "ok", m.postLog(c.Session, s)
		}},
		{Name: "narrator_counter", Exec: func(ctx context.Context) (string, error) {
			return "ok", m.deps.Store.IncrementTablesRun(ctx, s.NarratorTag)
		}},
	}
	res := m.deps.Saga.Run(ctx, "report", s.ID, steps)
	m.sessions.Delete(s.ID)

	if err := m.deps.Audit.Write(audit.Entry{
		Kind: "report_finalize", Actor: s.NarratorTag,
		TableID: s.TableID, SagaID: res.ID, Detail: s.Players,
	}); err != nil {
		m.deps.Log.Warn("audit write failed", "table", s.TableID, "err", err)
	}

	msg := fmt.Sprintf("**Mesa %s registrada.**", s.TableName)
	if len(res.Warnings) > 0 {
		msg += "\n⚠ Avisos:\n- " + strings.Join(res.Warnings, "\n- ")
	}
	return discord.Update(c.Session, c.Interaction, msg, nil)
}

func (m *Module) postLog(ds *discordgo.Session, s *Session) error {
	if m.deps.Cfg.ReportChannelID == "" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Mesa registrada: %s** (narrador %s)\n", s.TableName, s.NarratorTag)
	for _, p := range s.Players {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Char, p.Tag, describe(p))
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

func (m *Module) handleCancel(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if !m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return workflow.Denied(c)
	}
	m.sessions.Delete(s.ID)
	return discord.Update(c.Session, c.Interaction, "Relatório cancelado.", nil)
}

// handleFreeTextButton opens the narrative report modal attached to a
// settlement post. It is sessionless: the table id travels in the custom
// id, so the affordance keeps working across restarts.
func (m *Module) handleFreeTextButton(c *router.Ctx) error {
	if len(c.Args) == 0 {
		return discord.Ack(c.Session, c.Interaction)
	}
	return discord.Modal(c.Session, c.Interaction,
		router.CustomID("report:text", c.Args[0]),
		"Relatório da mesa",
		discord.TextInput{
			ID: "text", Label: "Como foi a sessão?",
			Paragraph: true, Required: true,
		})
}

func (m *Module) handleFreeTextModal(c *router.Ctx) error {
	if len(c.Args) == 0 {
		return discord.Ack(c.Session, c.Interaction)
	}
	tableID, _ := strconv.ParseInt(c.Args[0], 10, 64)
	text := discord.ModalValues(c.Interaction.ModalSubmitData())["text"]

	name := fmt.Sprintf("mesa %d", tableID)
	if row, err := m.deps.Store.GetTable(context.Background(), tableID); err == nil {
		name = row.Name
	}
	if m.deps.Cfg.ReportChannelID != "" {
		_, err := c.Session.ChannelMessageSend(m.deps.Cfg.ReportChannelID,
			fmt.Sprintf("**Relatório de %s** — por %s\n%s", name, discord.Tag(c.User()), text))
		if err != nil {
			return fmt.Errorf("post report: %w", err)
		}
	}
	return discord.Ephemeral(c.Session, c.Interaction, "Relatório publicado. Obrigado!")
}
