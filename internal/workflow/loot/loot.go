// Package loot implements the table-loot workflow: a narrator picks one
// of their open tables, collects the dropped items per category, each
// player allocates a cart out of the shared pool, and finalize settles
// gold and items against the ledger and the table history.
package loot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/discord"
	"guildledger.app/internal/item"
	"guildledger.app/internal/router"
	"guildledger.app/internal/rules"
	"guildledger.app/internal/session"
	"guildledger.app/internal/store"
	"guildledger.app/internal/workflow"
)

// Step is the session's current state. Transitions go through advance
// only, so a step-specific field read in the wrong state is a programming
// error caught early, not a silent nil.
type Step int

const (
	StepSelectTable Step = iota
	StepCollectDrops
	StepAllocate
	StepClosed
)

var stepNames = map[Step]string{
	StepSelectTable:  "select_table",
	StepCollectDrops: "collect_drops",
	StepAllocate:     "allocate",
	StepClosed:       "closed",
}

func (s Step) String() string { return stepNames[s] }

var transitions = map[Step][]Step{
	StepSelectTable:  {StepCollectDrops, StepClosed},
	StepCollectDrops: {StepAllocate, StepClosed},
	StepAllocate:     {StepClosed},
}

// Options is the immutable configuration captured from the slash command.
type Options struct {
	Categories []item.Category `json:"categories"`
	SkipGold   bool            `json:"skip_gold"`
	ManualGold float64         `json:"manual_gold"`
	// Predicted loot disables the advantage roll (advantage is its
	// inverse).
	Predicted bool `json:"predicted"`
}

// Session is one in-flight loot run.
type Session struct {
	mu sync.Mutex

	ID          string  `json:"id"`
	Step        Step    `json:"step"`
	OwnerID     string  `json:"owner_id"`
	NarratorTag string  `json:"narrator_tag"`
	Options     Options `json:"options"`

	TableID   int64  `json:"table_id"`
	TableName string `json:"table_name"`
	TableTier string `json:"table_tier"`

	Players []workflow.PlayerEntry         `json:"players"`
	Drops   map[item.Category][]item.Stack `json:"drops"`

	GoldTotal      float64 `json:"gold_total"`
	GoldPerPlayer  float64 `json:"gold_per_player"`
	GoldStronghold float64 `json:"gold_stronghold"`
	Criterion      string  `json:"criterion"`
}

// Lock and Unlock expose the session mutex so the checkpoint encoder can
// hold it while snapshotting, the same lock handlers take to mutate.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) advance(to Step) error {
	for _, t := range transitions[s.Step] {
		if t == to {
			s.Step = to
			return nil
		}
	}
	return fmt.Errorf("loot: invalid transition %s -> %s", s.Step, to)
}

// remaining computes a stack's availability by subtraction over every
// player's cart, the own cart included. Both selection modes share this
// model, so concurrent picks can at worst be told "no longer available",
// never oversell.
func (s *Session) remaining(name string) int {
	total := 0
	for _, stacks := range s.Drops {
		total += item.Count(stacks, name)
	}
	for _, p := range s.Players {
		total -= item.Count(p.Items, name)
	}
	return total
}

func (s *Session) poolStacks() []item.Stack {
	var out []item.Stack
	for _, stacks := range s.Drops {
		out = append(out, stacks...)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

type Module struct {
	deps     *workflow.Deps
	sessions *session.Store[*Session]
}

// Register wires the module's action keys into the router and its
// session store into the checkpoint manager.
func Register(r *router.Router, deps *workflow.Deps) (*Module, error) {
	m := &Module{deps: deps, sessions: session.NewStore[*Session]("loot")}
	deps.Manager.Register(m.sessions)

	regs := []error{
		r.Command("loot", m.execute),
		r.Select("loot:table", m.handleTableSelect),
		r.Button("loot:drops", m.handleDropButton),
		r.Modal("loot:dropsubmit", m.handleDropModal),
		r.Button("loot:alloc", m.handleAllocButton),
		r.Button("loot:pick", m.handlePick),
		r.Select("loot:add", m.handleAdd),
		r.Button("loot:return", m.handleReturn),
		r.Button("loot:double", m.handleDouble),
		r.Button("loot:close", m.handleClose),
		r.Button("loot:page", m.handlePage),
		r.Button("loot:finalize", m.handleFinalize),
		r.Button("loot:cancel", m.handleCancel),
	}
	for _, err := range regs {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Command declares the slash command shape for registration at startup.
func Command() *discordgo.ApplicationCommand {
	categoryOpts := []*discordgo.ApplicationCommandOption{}
	for _, c := range []struct{ name, label string }{
		{"mundanos", "Itens mundanos"},
		{"magicos", "Itens mágicos"},
		{"materiais", "Materiais"},
		{"ervas", "Ervas"},
		{"pocoes", "Poções"},
		{"diversos", "Itens diversos"},
	} {
		categoryOpts = append(categoryOpts, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        c.name,
			Description: c.label,
		})
	}
	return &discordgo.ApplicationCommand{
		Name:        "loot",
		Description: "Distribui o loot de uma mesa",
		Options: append(categoryOpts,
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionNumber,
				Name:        "ouro-manual",
				Description: "Total de ouro definido manualmente",
			},
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "sem-ouro",
				Description: "Não rolar ouro",
			},
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "loot-previsto",
				Description: "Loot previsto (desativa a vantagem na rolagem)",
			},
		),
	}
}

var categoryOptions = map[string]item.Category{
	"mundanos":  item.CategoryMundane,
	"magicos":   item.CategoryMagic,
	"materiais": item.CategoryMaterials,
	"ervas":     item.CategoryHerbs,
	"pocoes":    item.CategoryPotions,
	"diversos":  item.CategoryMisc,
}

func (m *Module) execute(c *router.Ctx) error {
	if !m.deps.IsNarrator(c.Interaction) {
		return discord.Ephemeral(c.Session, c.Interaction, "Apenas narradores podem distribuir loot.")
	}

	opts := Options{}
	for _, o := range c.Interaction.ApplicationCommandData().Options {
		switch o.Name {
		case "ouro-manual":
			opts.ManualGold = o.FloatValue()
		case "sem-ouro":
			opts.SkipGold = o.BoolValue()
		case "loot-previsto":
			opts.Predicted = o.BoolValue()
		default:
			if cat, ok := categoryOptions[o.Name]; ok && o.BoolValue() {
				opts.Categories = append(opts.Categories, cat)
			}
		}
	}
	if len(opts.Categories) == 0 {
		// Sensible default: everything but misc.
		opts.Categories = []item.Category{
			item.CategoryMundane, item.CategoryMagic,
			item.CategoryMaterials, item.CategoryHerbs, item.CategoryPotions,
		}
	}

	user := c.User()
	tag := discord.Tag(user)
	tables, err := m.deps.Store.ListSettleable(context.Background(), tag, m.deps.IsStaff(c.Interaction))
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return discord.Ephemeral(c.Session, c.Interaction, "Nenhuma mesa registrada pendente de loot.")
	}
	if len(tables) > 25 {
		tables = tables[:25]
	}

	sid := c.Interaction.ID
	m.sessions.Put(sid, &Session{
		ID:          sid,
		Step:        StepSelectTable,
		OwnerID:     user.ID,
		NarratorTag: tag,
		Options:     opts,
	})

	menu := discordgo.SelectMenu{
		CustomID:    router.CustomID("loot:table", sid),
		Placeholder: "Escolha a mesa",
	}
	for _, t := range tables {
		menu.Options = append(menu.Options, discordgo.SelectMenuOption{
			Label:       fmt.Sprintf("%s (mesa %d)", t.Name, t.ID),
			Value:       strconv.FormatInt(t.ID, 10),
			Description: "Tier " + t.Tier,
		})
	}
	return discord.EphemeralComponents(c.Session, c.Interaction,
		"Qual mesa recebe o loot?", []discordgo.MessageComponent{discord.Row(menu)})
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
	s.TableTier = row.Tier
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
		s.Players = append(s.Players, workflow.PlayerEntry{
			Tag: tag, Char: char, Level: level,
			UserID: m.resolveUser(c.Session, tag),
		})
	}
	if len(s.Players) == 0 {
		return discord.Ephemeral(c.Session, c.Interaction, "A mesa não tem jogadores registrados.")
	}
	s.Drops = map[item.Category][]item.Stack{}
	if err := s.advance(StepCollectDrops); err != nil {
		return err
	}
	text, comps := m.controlPanel(s)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

// resolveUser maps a player tag to a member id; empty when the lookup
// fails, which only loosens the cart guard to owner/staff.
func (m *Module) resolveUser(ds *discordgo.Session, tag string) string {
	guildID := m.deps.Cfg.GuildID
	if guildID == "" {
		return ""
	}
	name := tag
	if i := strings.IndexByte(name, '#'); i >= 0 {
		name = name[:i]
	}
	members, err := ds.GuildMembersSearch(guildID, name, 1)
	if err != nil || len(members) == 0 {
		return ""
	}
	return members[0].User.ID
}

var categoryLabels = map[item.Category]string{
	item.CategoryMundane:   "Mundanos",
	item.CategoryMagic:     "Mágicos",
	item.CategoryMaterials: "Materiais",
	item.CategoryHerbs:     "Ervas",
	item.CategoryPotions:   "Poções",
	item.CategoryMisc:      "Diversos",
}

func (m *Module) controlPanel(s *Session) (string, []discordgo.MessageComponent) {
	var b strings.Builder
	fmt.Fprintf(&b, "**Loot — %s** (tier %s)\n", s.TableName, s.TableTier)
	fmt.Fprintf(&b, "Jogadores: %d\n", len(s.Players))
	if pool := s.poolStacks(); len(pool) > 0 {
		fmt.Fprintf(&b, "Drops: %s\n", item.FormatList(pool))
	} else {
		b.WriteString("Drops: (nenhum ainda)\n")
	}

	var comps []discordgo.MessageComponent
	switch s.Step {
	case StepCollectDrops:
		var row []discordgo.MessageComponent
		for _, cat := range s.Options.Categories {
			row = append(row, discord.Button(
				router.CustomID("loot:drops", s.ID, string(cat)),
				categoryLabels[cat], discordgo.SecondaryButton, false))
			if len(row) == 5 {
				comps = append(comps, discord.Row(row...))
				row = nil
			}
		}
		if len(row) > 0 {
			comps = append(comps, discord.Row(row...))
		}
		comps = append(comps, discord.Row(
			discord.Button(router.CustomID("loot:alloc", s.ID), "Ir para alocação", discordgo.PrimaryButton, false),
			discord.Button(router.CustomID("loot:cancel", s.ID), "Cancelar", discordgo.DangerButton, false),
		))
	case StepAllocate:
		b.WriteString("\nCada jogador abre sua seleção:\n")
		var row []discordgo.MessageComponent
		for idx, p := range s.Players {
			label := p.Char
			if p.DoubleActive {
				label += " (x2)"
			}
			fmt.Fprintf(&b, "- %s: %s\n", p.Char, cartLine(p.Items))
			row = append(row, discord.Button(
				router.CustomID("loot:pick", s.ID, strconv.Itoa(idx)),
				label, discordgo.SecondaryButton, false))
			if len(row) == 5 {
				comps = append(comps, discord.Row(row...))
				row = nil
			}
		}
		if len(row) > 0 {
			comps = append(comps, discord.Row(row...))
		}
		comps = append(comps, discord.Row(
			discord.Button(router.CustomID("loot:finalize", s.ID), "Finalizar", discordgo.SuccessButton, false),
			discord.Button(router.CustomID("loot:cancel", s.ID), "Cancelar", discordgo.DangerButton, false),
		))
	}
	return b.String(), comps
}

func cartLine(items []item.Stack) string {
	if len(items) == 0 {
		return "(vazio)"
	}
	return item.FormatList(items)
}

func (m *Module) handleDropButton(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	s.mu.Lock()
	owner := s.OwnerID
	step := s.Step
	s.mu.Unlock()
	if !m.deps.CanDrive(c.Interaction, owner) {
		return workflow.Denied(c)
	}
	if step != StepCollectDrops || len(c.Args) < 2 {
		return discord.Ack(c.Session, c.Interaction)
	}
	cat := c.Args[1]
	return discord.Modal(c.Session, c.Interaction,
		router.CustomID("loot:dropsubmit", s.ID, cat),
		"Drops: "+categoryLabels[item.Category(cat)],
		discord.TextInput{
			ID: "items", Label: "Itens (ex: 3x Adaga, Poção*)",
			Placeholder: "quantidade x nome, separados por vírgula",
			Paragraph:   true, Required: true,
		})
}

func (m *Module) handleDropModal(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if len(c.Args) < 2 {
		return discord.Ack(c.Session, c.Interaction)
	}
	cat := item.Category(c.Args[1])

	text := discord.ModalValues(c.Interaction.ModalSubmitData())["items"]
	stacks, err := item.ParseList(text)
	if err != nil {
		return discord.Ephemeral(c.Session, c.Interaction, "Não entendi a lista: %v", err)
	}
	if cat == item.CategoryMisc {
		for i := range stacks {
			stacks[i].Misc = true
		}
	} else if unknown := m.deps.Catalog.Validate(context.Background(), stacks); len(unknown) > 0 {
		// Block the merge; the narrator fixes the names and reopens the
		// same category modal.
		return discord.Ephemeral(c.Session, c.Interaction,
			"Itens desconhecidos: %s. Corrija e tente de novo.", strings.Join(unknown, ", "))
	}

	// The session may have been cancelled while the modal sat open;
	// commitDrops re-fetches so the merge never lands on an orphan.
	textOut, comps, ok := m.commitDrops(s.ID, cat, stacks)
	if !ok {
		return workflow.Expired(c)
	}
	return discord.Update(c.Session, c.Interaction, textOut, comps)
}

// commitDrops merges validated stacks into the session's drop pool. The
// session is fetched again: the pointer a handler captured before a slow
// validation step may already have been deleted from the store.
func (m *Module) commitDrops(sid string, cat item.Category, stacks []item.Stack) (string, []discordgo.MessageComponent, bool) {
	s, ok := m.sessions.Get(sid)
	if !ok {
		return "", nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Step != StepCollectDrops {
		return "", nil, false
	}
	s.Drops[cat] = item.Merge(s.Drops[cat], stacks)
	text, comps := m.controlPanel(s)
	return text, comps, true
}

func (m *Module) handleAllocButton(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return workflow.Denied(c)
	}
	if err := s.advance(StepAllocate); err != nil {
		return discord.Ack(c.Session, c.Interaction)
	}
	text, comps := m.controlPanel(s)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

// playerFor resolves the cart guard: the player themselves when the tag
// resolved to a member id, otherwise the session owner or staff.
func (m *Module) playerFor(c *router.Ctx, s *Session, idx int) (*workflow.PlayerEntry, error) {
	if idx < 0 || idx >= len(s.Players) {
		return nil, fmt.Errorf("player index %d out of range", idx)
	}
	p := &s.Players[idx]
	actor := c.User().ID
	if p.UserID != "" && actor == p.UserID {
		return p, nil
	}
	if m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return p, nil
	}
	return nil, nil
}

func (m *Module) handlePick(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if len(c.Args) < 2 {
		return discord.Ack(c.Session, c.Interaction)
	}
	idx, _ := strconv.Atoi(c.Args[1])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Step != StepAllocate {
		return workflow.Expired(c)
	}
	p, err := m.playerFor(c, s, idx)
	if err != nil {
		return err
	}
	if p == nil {
		return workflow.Denied(c)
	}
	if p.ActiveMessageID != "" {
		return discord.Ephemeral(c.Session, c.Interaction,
			"%s já tem uma seleção aberta. Conclua ou devolva antes de abrir outra.", p.Char)
	}
	p.ActiveMessageID = c.Interaction.ID
	text, comps := m.selectionSurface(s, idx, 0)
	return discord.EphemeralComponents(c.Session, c.Interaction, text, comps)
}

const pageSize = 25

func (m *Module) selectionSurface(s *Session, idx, page int) (string, []discordgo.MessageComponent) {
	p := s.Players[idx]

	var avail []item.Stack
	for _, st := range s.poolStacks() {
		if r := s.remaining(st.Name); r > 0 {
			st.Amount = r
			avail = append(avail, st)
		}
	}
	pages := (len(avail) + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	if page >= pages {
		page = pages - 1
	}
	start := page * pageSize
	end := start + pageSize
	if end > len(avail) {
		end = len(avail)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Seleção de %s**\n", p.Char)
	fmt.Fprintf(&b, "Carrinho: %s\n", cartLine(p.Items))
	if pages > 1 {
		fmt.Fprintf(&b, "Página %d/%d\n", page+1, pages)
	}

	var comps []discordgo.MessageComponent
	if len(avail) > 0 {
		menu := discordgo.SelectMenu{
			CustomID:    router.CustomID("loot:add", s.ID, strconv.Itoa(idx), strconv.Itoa(page)),
			Placeholder: "Pegar um item",
		}
		for _, st := range avail[start:end] {
			label := st.Name
			if st.Predefined {
				label += " *"
			}
			menu.Options = append(menu.Options, discordgo.SelectMenuOption{
				Label:       label,
				Value:       st.Name,
				Description: fmt.Sprintf("%d disponível", st.Amount),
			})
		}
		comps = append(comps, discord.Row(menu))
	} else {
		b.WriteString("Nada disponível no momento.\n")
	}

	doubleLabel := "Dobro: não"
	if p.DoubleActive {
		doubleLabel = "Dobro: sim"
	}
	controls := []discordgo.MessageComponent{
		discord.Button(router.CustomID("loot:return", s.ID, strconv.Itoa(idx)), "Devolver tudo", discordgo.SecondaryButton, len(p.Items) == 0),
		discord.Button(router.CustomID("loot:double", s.ID, strconv.Itoa(idx)), doubleLabel, discordgo.SecondaryButton, false),
		discord.Button(router.CustomID("loot:close", s.ID, strconv.Itoa(idx)), "Concluir", discordgo.PrimaryButton, false),
	}
	if pages > 1 {
		controls = append(controls,
			discord.Button(router.CustomID("loot:page", s.ID, strconv.Itoa(idx), strconv.Itoa(page-1)), "◀", discordgo.SecondaryButton, page == 0),
			discord.Button(router.CustomID("loot:page", s.ID, strconv.Itoa(idx), strconv.Itoa(page+1)), "▶", discordgo.SecondaryButton, page == pages-1),
		)
	}
	comps = append(comps, discord.Row(controls...))
	return b.String(), comps
}

func (m *Module) handleAdd(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if len(c.Args) < 3 {
		return discord.Ack(c.Session, c.Interaction)
	}
	idx, _ := strconv.Atoi(c.Args[1])
	page, _ := strconv.Atoi(c.Args[2])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Step != StepAllocate {
		return workflow.Expired(c)
	}
	p, err := m.playerFor(c, s, idx)
	if err != nil {
		return err
	}
	if p == nil {
		return workflow.Denied(c)
	}

	name := c.Interaction.MessageComponentData().Values[0]
	if s.remaining(name) <= 0 {
		// Another player got there first; the subtraction model makes
		// this a clean refusal instead of an oversell.
		text, comps := m.selectionSurface(s, idx, page)
		return discord.Update(c.Session, c.Interaction, "Esse item acabou.\n"+text, comps)
	}
	var picked item.Stack
	for _, st := range s.poolStacks() {
		if strings.EqualFold(st.Name, name) {
			picked = st
			break
		}
	}
	picked.Amount = 1
	p.Items = item.Merge(p.Items, []item.Stack{picked})

	text, comps := m.selectionSurface(s, idx, page)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

func (m *Module) handleReturn(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if len(c.Args) < 2 {
		return discord.Ack(c.Session, c.Interaction)
	}
	idx, _ := strconv.Atoi(c.Args[1])

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := m.playerFor(c, s, idx)
	if err != nil {
		return err
	}
	if p == nil {
		return workflow.Denied(c)
	}
	p.Items = nil
	text, comps := m.selectionSurface(s, idx, 0)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

func (m *Module) handleDouble(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if len(c.Args) < 2 {
		return discord.Ack(c.Session, c.Interaction)
	}
	idx, _ := strconv.Atoi(c.Args[1])

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := m.playerFor(c, s, idx)
	if err != nil {
		return err
	}
	if p == nil {
		return workflow.Denied(c)
	}

	if !p.DoubleActive {
		// Balance check happens now and again at settlement; it may have
		// changed in between.
		char, err := m.deps.Store.GetCharacter(context.Background(), p.Tag, p.Char)
		if err != nil {
			return fmt.Errorf("load character %s/%s: %w", p.Tag, p.Char, err)
		}
		if char.Tokens < m.deps.Cfg.DoubleTokenCost {
			return discord.Ephemeral(c.Session, c.Interaction,
				"Fichas insuficientes: o dobro custa %d, %s tem %d.",
				m.deps.Cfg.DoubleTokenCost, p.Char, char.Tokens)
		}
	}
	p.DoubleActive = !p.DoubleActive
	text, comps := m.selectionSurface(s, idx, 0)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

func (m *Module) handleClose(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if len(c.Args) < 2 {
		return discord.Ack(c.Session, c.Interaction)
	}
	idx, _ := strconv.Atoi(c.Args[1])

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := m.playerFor(c, s, idx)
	if err != nil {
		return err
	}
	if p == nil {
		return workflow.Denied(c)
	}
	p.ActiveMessageID = ""
	return discord.Update(c.Session, c.Interaction,
		fmt.Sprintf("Seleção de %s concluída.\nCarrinho: %s", p.Char, cartLine(p.Items)), nil)
}

func (m *Module) handlePage(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	if len(c.Args) < 3 {
		return discord.Ack(c.Session, c.Interaction)
	}
	idx, _ := strconv.Atoi(c.Args[1])
	page, _ := strconv.Atoi(c.Args[2])
	if page < 0 {
		page = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.Players) {
		return discord.Ack(c.Session, c.Interaction)
	}
	text, comps := m.selectionSurface(s, idx, page)
	return discord.Update(c.Session, c.Interaction, text, comps)
}

func (m *Module) handleCancel(c *router.Ctx) error {
	s, ok := m.fetch(c)
	if !ok {
		return workflow.Expired(c)
	}
	s.mu.Lock()
	owner := s.OwnerID
	s.mu.Unlock()
	if !m.deps.CanDrive(c.Interaction, owner) {
		return workflow.Denied(c)
	}
	m.sessions.Delete(s.ID)
	return discord.Update(c.Session, c.Interaction, "Distribuição de loot cancelada.", nil)
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
	if s.Step != StepAllocate {
		return discord.Ack(c.Session, c.Interaction)
	}

	var warnings []string

	if !s.Options.SkipGold {
		levels := make([]int, len(s.Players))
		for i, p := range s.Players {
			levels[i] = p.Level
		}
		res, err := m.deps.Tuning.Settle(rules.SettleInput{
			Levels:      levels,
			TableTier:   s.TableTier,
			ManualTotal: s.Options.ManualGold,
			Advantage:   !s.Options.Predicted,
		}, m.deps.Roller)
		if err != nil {
			return fmt.Errorf("settle gold: %w", err)
		}
		s.GoldTotal = res.Total
		s.GoldPerPlayer = res.PerPlayer
		s.GoldStronghold = res.Stronghold
		s.Criterion = res.Criterion
	}

	// The token balance may have moved since the toggle; drop the flag
	// instead of going negative.
	ctx := context.Background()
	for i := range s.Players {
		p := &s.Players[i]
		if !p.DoubleActive {
			continue
		}
		char, err := m.deps.Store.GetCharacter(ctx, p.Tag, p.Char)
		if err != nil || char.Tokens < m.deps.Cfg.DoubleTokenCost {
			p.DoubleActive = false
			warnings = append(warnings, fmt.Sprintf("dobro de %s removido: fichas insuficientes", p.Char))
		}
	}

	if err := s.advance(StepClosed); err != nil {
		return err
	}

	result := m.runFinalize(ctx, c, s, warnings)
	m.sessions.Delete(s.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "**Loot finalizado — %s**\n", s.TableName)
	if !s.Options.SkipGold {
		fmt.Fprintf(&b, "Ouro: %.2f total | %.2f por jogador | %.2f para o bastião\n%s\n",
			s.GoldTotal, s.GoldPerPlayer, s.GoldStronghold, s.Criterion)
	}
	for _, p := range s.Players {
		fmt.Fprintf(&b, "- %s: %s\n", p.Char, cartLine(finalCart(p)))
	}
	if len(result) > 0 {
		fmt.Fprintf(&b, "\n⚠ Avisos:\n")
		for _, w := range result {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return discord.Update(c.Session, c.Interaction, b.String(), nil)
}

// finalCart is the player's cart after the double modifier: predefined
// stacks doubled, everything else untouched.
func finalCart(p workflow.PlayerEntry) []item.Stack {
	if !p.DoubleActive {
		return p.Items
	}
	out := make([]item.Stack, len(p.Items))
	copy(out, p.Items)
	for i := range out {
		if out[i].Predefined {
			out[i].Amount *= 2
		}
	}
	return out
}
