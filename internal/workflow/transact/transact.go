// Package transact implements the two-phase item/gold transaction
// workflow: give and take (staff adjustments) and buy and sell against
// the community shop. Everything is validated up front; the ledger only
// ever sees a pre-checked commit after an explicit confirm.
package transact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/audit"
	"guildledger.app/internal/discord"
	"guildledger.app/internal/item"
	"guildledger.app/internal/ledger"
	"guildledger.app/internal/router"
	"guildledger.app/internal/session"
	"guildledger.app/internal/store"
	"guildledger.app/internal/workflow"
)

// Kind is the transaction direction.
type Kind string

const (
	KindGive Kind = "give"
	KindTake Kind = "take"
	KindBuy  Kind = "buy"
	KindSell Kind = "sell"
)

// Session is one pending, fully validated transaction awaiting confirm.
type Session struct {
	ID      string        `json:"id"`
	OwnerID string        `json:"owner_id"`
	Kind    Kind          `json:"kind"`
	Change  ledger.Change `json:"change"`
	Summary string        `json:"summary"`
}

type Module struct {
	deps     *workflow.Deps
	sessions *session.Store[*Session]
}

func Register(r *router.Router, deps *workflow.Deps) (*Module, error) {
	m := &Module{deps: deps, sessions: session.NewStore[*Session]("transact")}
	deps.Manager.Register(m.sessions)

	regs := []error{
		r.Command("transaction", m.execute),
		r.Autocomplete("transaction", m.autocomplete),
		r.Button("tx:confirm", m.handleConfirm),
		r.Button("tx:cancel", m.handleCancel),
	}
	for _, err := range regs {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func Command() *discordgo.ApplicationCommand {
	sub := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        name,
			Description: desc,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "jogador", Description: "Tag do jogador", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "personagem", Description: "Nome do personagem", Required: true, Autocomplete: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "itens", Description: "Lista de itens (3x Nome, ...)"},
				{Type: discordgo.ApplicationCommandOptionNumber, Name: "ouro", Description: "Quantidade de ouro"},
			},
		}
	}
	return &discordgo.ApplicationCommand{
		Name:        "transaction",
		Description: "Movimenta itens e ouro de um personagem",
		Options: []*discordgo.ApplicationCommandOption{
			sub("give", "Entrega itens/ouro"),
			sub("take", "Remove itens/ouro"),
			sub("buy", "Compra itens da loja"),
			sub("sell", "Vende itens para a loja"),
		},
	}
}

// autocomplete offers the named player's characters for the personagem
// option.
func (m *Module) autocomplete(c *router.Ctx) error {
	data := c.Interaction.ApplicationCommandData()
	if len(data.Options) == 0 {
		return nil
	}
	var playerTag, partial string
	for _, o := range data.Options[0].Options {
		switch o.Name {
		case "jogador":
			playerTag = o.StringValue()
		case "personagem":
			if o.Focused {
				partial = o.StringValue()
			}
		}
	}

	var choices []*discordgo.ApplicationCommandOptionChoice
	if playerTag != "" {
		chars, err := m.deps.Store.ListCharacters(context.Background(), playerTag)
		if err != nil {
			m.deps.Log.Warn("autocomplete lookup failed", "player", playerTag, "err", err)
		}
		for _, ch := range chars {
			if partial != "" && !strings.Contains(strings.ToLower(ch.Name), strings.ToLower(partial)) {
				continue
			}
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: ch.Name, Value: ch.Name})
			if len(choices) == 25 {
				break
			}
		}
	}
	return c.Session.InteractionRespond(c.Interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

func (m *Module) execute(c *router.Ctx) error {
	data := c.Interaction.ApplicationCommandData()
	if len(data.Options) == 0 {
		return discord.Ack(c.Session, c.Interaction)
	}
	sub := data.Options[0]
	kind := Kind(sub.Name)

	if (kind == KindGive || kind == KindTake) && !m.deps.IsStaff(c.Interaction) {
		return discord.Ephemeral(c.Session, c.Interaction, "Apenas a equipe pode usar give/take.")
	}

	var playerTag, character, itemsText string
	var gold float64
	for _, o := range sub.Options {
		switch o.Name {
		case "jogador":
			playerTag = o.StringValue()
		case "personagem":
			character = o.StringValue()
		case "itens":
			itemsText = o.StringValue()
		case "ouro":
			gold = o.FloatValue()
		}
	}
	if itemsText == "" && gold == 0 {
		return discord.Ephemeral(c.Session, c.Interaction, "Informe itens, ouro, ou ambos.")
	}
	if gold < 0 {
		return discord.Ephemeral(c.Session, c.Interaction, "Ouro deve ser positivo; a direção vem do subcomando.")
	}

	ctx := context.Background()
	char, err := m.deps.Store.GetCharacter(ctx, playerTag, character)
	if errors.Is(err, store.ErrNotFound) {
		return discord.Ephemeral(c.Session, c.Interaction, "Personagem %s de %s não encontrado.", character, playerTag)
	}
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}

	var stacks []item.Stack
	if itemsText != "" {
		stacks, err = item.ParseList(itemsText)
		if err != nil {
			return discord.Ephemeral(c.Session, c.Interaction, "Não entendi a lista: %v", err)
		}
		if unknown := m.deps.Catalog.Validate(ctx, stacks); len(unknown) > 0 {
			return discord.Ephemeral(c.Session, c.Interaction,
				"Itens desconhecidos: %s.", strings.Join(unknown, ", "))
		}
	}

	s := &Session{
		ID:      c.Interaction.ID,
		OwnerID: c.User().ID,
		Kind:    kind,
		Change:  ledger.Change{PlayerTag: playerTag, Character: character},
	}

	switch kind {
	case KindGive:
		s.Change.Gold = gold
		s.Change.Items = stacks
	case KindTake:
		if err := m.validateTake(ctx, char, stacks, gold); err != nil {
			return discord.Ephemeral(c.Session, c.Interaction, "%v", err)
		}
		s.Change.Gold = -gold
		s.Change.Items = item.Negate(stacks)
	case KindBuy:
		total, err := m.price(ctx, stacks, true)
		if err != nil {
			return discord.Ephemeral(c.Session, c.Interaction, "%v", err)
		}
		if char.Gold < total {
			return discord.Ephemeral(c.Session, c.Interaction,
				"Ouro insuficiente: custa %.2f, %s tem %.2f.", total, char.Name, char.Gold)
		}
		s.Change.Gold = -total
		s.Change.Items = stacks
	case KindSell:
		if err := m.deps.Ledger.ValidateRemoval(ctx, playerTag, character, stacks); err != nil {
			return discord.Ephemeral(c.Session, c.Interaction, "%v", err)
		}
		total, err := m.price(ctx, stacks, false)
		if err != nil {
			return discord.Ephemeral(c.Session, c.Interaction, "%v", err)
		}
		s.Change.Gold = total
		s.Change.Items = item.Negate(stacks)
	default:
		return discord.Ack(c.Session, c.Interaction)
	}

	s.Summary = summarize(s, char)
	m.sessions.Put(s.ID, s)

	return discord.EphemeralComponents(c.Session, c.Interaction, s.Summary+"\n\nConfirmar?",
		[]discordgo.MessageComponent{discord.Row(
			discord.Button(router.CustomID("tx:confirm", s.ID), "Confirmar", discordgo.SuccessButton, false),
			discord.Button(router.CustomID("tx:cancel", s.ID), "Cancelar", discordgo.DangerButton, false),
		)})
}

func (m *Module) validateTake(ctx context.Context, char store.Character, stacks []item.Stack, gold float64) error {
	if gold > char.Gold {
		return fmt.Errorf("ouro insuficiente: pediu %.2f, %s tem %.2f", gold, char.Name, char.Gold)
	}
	if len(stacks) == 0 {
		return nil
	}
	return m.deps.Ledger.ValidateRemoval(ctx, char.PlayerTag, char.Name, stacks)
}

// price totals the shop price of every stack; buy selects the buy price,
// otherwise the sell price. Items missing from the shop block the
// transaction.
func (m *Module) price(ctx context.Context, stacks []item.Stack, buy bool) (float64, error) {
	var total float64
	var missing []string
	for _, st := range stacks {
		it, err := m.deps.Store.GetShopItem(ctx, st.ValidationName)
		if errors.Is(err, store.ErrNotFound) {
			missing = append(missing, st.Name)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("consultar loja: %w", err)
		}
		unit := it.SellPrice
		if buy {
			unit = it.BuyPrice
		}
		total += unit * float64(st.Amount)
	}
	if len(missing) > 0 {
		return 0, fmt.Errorf("fora da loja: %s", strings.Join(missing, ", "))
	}
	return total, nil
}

var kindLabels = map[Kind]string{
	KindGive: "Entrega",
	KindTake: "Remoção",
	KindBuy:  "Compra",
	KindSell: "Venda",
}

func summarize(s *Session, char store.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s — %s (%s)**\n", kindLabels[s.Kind], char.Name, char.PlayerTag)
	if len(s.Change.Items) > 0 {
		fmt.Fprintf(&b, "Itens: %s\n", item.FormatList(abs(s.Change.Items)))
	}
	if s.Change.Gold != 0 {
		fmt.Fprintf(&b, "Ouro: %+.2f\n", s.Change.Gold)
	}
	return b.String()
}

func abs(stacks []item.Stack) []item.Stack {
	out := make([]item.Stack, len(stacks))
	copy(out, stacks)
	for i := range out {
		if out[i].Amount < 0 {
			out[i].Amount = -out[i].Amount
		}
	}
	return out
}

func (m *Module) handleConfirm(c *router.Ctx) error {
	if len(c.Args) == 0 {
		return discord.Ack(c.Session, c.Interaction)
	}
	s, ok := m.sessions.Get(c.Args[0])
	if !ok {
		return workflow.Expired(c)
	}
	if !m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return workflow.Denied(c)
	}
	// Delete before applying: a duplicate click must find no session, not
	// a second commit.
	m.sessions.Delete(s.ID)

	ctx := context.Background()
	res := m.deps.Ledger.ApplyBatch(ctx, []ledger.Change{s.Change})

	payload, _ := json.Marshal(s.Change)
	if err := m.deps.Store.InsertSettlement(ctx, "tx-"+s.ID, 0, string(payload)); err != nil {
		m.deps.Log.Warn("settlement insert failed", "tx", s.ID, "err", err)
	}
	if err := m.deps.Audit.Write(audit.Entry{
		At:     time.Now().UTC(),
		Kind:   "transaction_" + string(s.Kind),
		Actor:  discord.Tag(c.User()),
		Detail: s.Change,
	}); err != nil {
		m.deps.Log.Warn("audit write failed", "tx", s.ID, "err", err)
	}

	msg := s.Summary + "\n✅ Aplicado."
	if res.Failed() {
		msg = s.Summary + "\n⚠ Aplicado com avisos:\n- " + strings.Join(res.Warnings, "\n- ")
	}
	return discord.Update(c.Session, c.Interaction, msg, nil)
}

func (m *Module) handleCancel(c *router.Ctx) error {
	if len(c.Args) == 0 {
		return discord.Ack(c.Session, c.Interaction)
	}
	s, ok := m.sessions.Get(c.Args[0])
	if !ok {
		return workflow.Expired(c)
	}
	if !m.deps.CanDrive(c.Interaction, s.OwnerID) {
		return workflow.Denied(c)
	}
	m.sessions.Delete(s.ID)
	return discord.Update(c.Session, c.Interaction, "Transação cancelada.", nil)
}
