// Package admin implements the maintenance commands that feed the rest
// of the bot: narrators create tables, staff registers them for
// settlement and keeps characters, shop prices and the weekly counter
// pointer up to date.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/discord"
	"guildledger.app/internal/item"
	"guildledger.app/internal/router"
	"guildledger.app/internal/store"
	"guildledger.app/internal/workflow"
)

type Module struct {
	deps *workflow.Deps
}

func Register(r *router.Router, deps *workflow.Deps) (*Module, error) {
	m := &Module{deps: deps}
	regs := []error{
		r.Command("mesa", m.mesa),
		r.Command("personagem", m.personagem),
		r.Command("loja", m.loja),
		r.Command("semana", m.semana),
	}
	for _, err := range regs {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

var shopCategories = []struct {
	value    string
	label    string
	category item.Category
}{
	{"mundanos", "Mundanos", item.CategoryMundane},
	{"magicos", "Mágicos", item.CategoryMagic},
	{"materiais", "Materiais", item.CategoryMaterials},
	{"ervas", "Ervas", item.CategoryHerbs},
	{"pocoes", "Poções", item.CategoryPotions},
	{"diversos", "Diversos", item.CategoryMisc},
}

func categoryFor(value string) item.Category {
	for _, c := range shopCategories {
		if c.value == value {
			return c.category
		}
	}
	return item.CategoryMisc
}

// Commands declares the slash command shapes for registration at startup.
func Commands() []*discordgo.ApplicationCommand {
	categoryChoices := []*discordgo.ApplicationCommandOptionChoice{}
	for _, c := range shopCategories {
		categoryChoices = append(categoryChoices, &discordgo.ApplicationCommandOptionChoice{
			Name: c.label, Value: c.value,
		})
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "mesa",
			Description: "Cria e registra mesas",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "criar",
					Description: "Cria uma mesa com seus jogadores",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type: discordgo.ApplicationCommandOptionString, Name: "nome",
							Description: "Nome da mesa", Required: true,
						},
						{
							Type: discordgo.ApplicationCommandOptionString, Name: "tier",
							Description: "Tier da mesa", Required: true,
						},
						{
							Type: discordgo.ApplicationCommandOptionString, Name: "jogadores",
							Description: "Até 6, no formato tag - personagem - nível, separados por ;",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "registrar",
					Description: "Registra uma mesa criada, liberando o loot",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type: discordgo.ApplicationCommandOptionInteger, Name: "id",
							Description: "Número da mesa", Required: true,
						},
					},
				},
			},
		},
		{
			Name:        "personagem",
			Description: "Cria ou atualiza um personagem",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "jogador",
					Description: "Tag do jogador", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "nome",
					Description: "Nome do personagem", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionInteger, Name: "nivel",
					Description: "Nível", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionNumber, Name: "ouro",
					Description: "Saldo de ouro (mantém o atual se omitido)",
				},
				{
					Type: discordgo.ApplicationCommandOptionInteger, Name: "fichas",
					Description: "Saldo de fichas (mantém o atual se omitido)",
				},
			},
		},
		{
			Name:        "loja",
			Description: "Define um item da loja comunitária",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "item",
					Description: "Nome do item", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "categoria",
					Description: "Categoria do item", Required: true, Choices: categoryChoices,
				},
				{
					Type: discordgo.ApplicationCommandOptionNumber, Name: "compra",
					Description: "Preço de compra", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionNumber, Name: "venda",
					Description: "Preço de venda", Required: true,
				},
			},
		},
		{
			Name:        "semana",
			Description: "Move o ponteiro dos contadores semanais",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "avancar",
					Description: "Avança para a próxima coluna semanal",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "definir",
					Description: "Aponta os contadores para uma coluna específica",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type: discordgo.ApplicationCommandOptionInteger, Name: "valor",
							Description: "Índice da coluna", Required: true,
						},
					},
				},
			},
		},
	}
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		out[o.Name] = o
	}
	return out
}

// parseSlots splits the "tag - personagem - nível" list, one slot per
// line or semicolon, into the history table's fixed columns.
func parseSlots(raw string) ([6]string, int, error) {
	var slots [6]string
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '\n' })
	n := 0
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, _, _, err := store.ParsePlayerSlot(f); err != nil {
			return slots, 0, fmt.Errorf("vaga inválida %q, use tag - personagem - nível", f)
		}
		if n >= len(slots) {
			return slots, 0, fmt.Errorf("no máximo %d jogadores por mesa", len(slots))
		}
		slots[n] = f
		n++
	}
	if n == 0 {
		return slots, 0, fmt.Errorf("nenhum jogador informado")
	}
	return slots, n, nil
}

func (m *Module) mesa(c *router.Ctx) error {
	sub := c.Interaction.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "criar":
		if !m.deps.IsNarrator(c.Interaction) {
			return discord.Ephemeral(c.Session, c.Interaction, "Apenas narradores podem criar mesas.")
		}
		opts := optionMap(sub.Options)
		id, count, err := m.createTable(context.Background(), discord.Tag(c.User()),
			opts["nome"].StringValue(), opts["tier"].StringValue(), opts["jogadores"].StringValue())
		if err != nil {
			return discord.Ephemeral(c.Session, c.Interaction, "Não foi possível criar a mesa: %v", err)
		}
		return discord.Ephemeral(c.Session, c.Interaction,
			"Mesa %d criada com %d jogador(es). Peça à staff para liberá-la com /mesa registrar.", id, count)
	case "registrar":
		if !m.deps.IsStaff(c.Interaction) {
			return discord.Ephemeral(c.Session, c.Interaction, "Apenas a staff pode registrar mesas.")
		}
		id := optionMap(sub.Options)["id"].IntValue()
		if err := m.deps.Store.RegisterTable(context.Background(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return discord.Ephemeral(c.Session, c.Interaction, "Mesa %d não encontrada.", id)
			}
			return fmt.Errorf("register table %d: %w", id, err)
		}
		return discord.Ephemeral(c.Session, c.Interaction, "Mesa %d registrada e pronta para loot.", id)
	}
	return nil
}

// createTable validates the player list and inserts an unregistered table;
// registration is the staff's separate confirmation step.
func (m *Module) createTable(ctx context.Context, narratorTag, name, tier, playersRaw string) (int64, int, error) {
	slots, n, err := parseSlots(playersRaw)
	if err != nil {
		return 0, 0, err
	}
	id, err := m.deps.Store.CreateTable(ctx, store.HistoryRow{
		NarratorTag: narratorTag, Name: name, Tier: tier, Players: slots,
	})
	return id, n, err
}

type characterInput struct {
	Tag    string
	Name   string
	Level  int
	Gold   *float64
	Tokens *int
}

// saveCharacter upserts, keeping the stored gold and token balances when
// the command left them out.
func (m *Module) saveCharacter(ctx context.Context, in characterInput) (store.Character, error) {
	ch, err := m.deps.Store.GetCharacter(ctx, in.Tag, in.Name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ch, err
	}
	ch.PlayerTag = in.Tag
	ch.Name = in.Name
	ch.Level = in.Level
	if in.Gold != nil {
		ch.Gold = *in.Gold
	}
	if in.Tokens != nil {
		ch.Tokens = *in.Tokens
	}
	return ch, m.deps.Store.UpsertCharacter(ctx, ch)
}

func (m *Module) personagem(c *router.Ctx) error {
	if !m.deps.IsStaff(c.Interaction) {
		return discord.Ephemeral(c.Session, c.Interaction, "Apenas a staff pode editar personagens.")
	}
	opts := optionMap(c.Interaction.ApplicationCommandData().Options)
	in := characterInput{
		Tag:   opts["jogador"].StringValue(),
		Name:  opts["nome"].StringValue(),
		Level: int(opts["nivel"].IntValue()),
	}
	if o, ok := opts["ouro"]; ok {
		v := o.FloatValue()
		in.Gold = &v
	}
	if o, ok := opts["fichas"]; ok {
		v := int(o.IntValue())
		in.Tokens = &v
	}

	ch, err := m.saveCharacter(context.Background(), in)
	if err != nil {
		return fmt.Errorf("save character %s/%s: %w", in.Tag, in.Name, err)
	}
	return discord.Ephemeral(c.Session, c.Interaction,
		"Personagem **%s** de %s salvo: nível %d, %.2f de ouro, %d fichas.",
		ch.Name, ch.PlayerTag, ch.Level, ch.Gold, ch.Tokens)
}

func (m *Module) loja(c *router.Ctx) error {
	if !m.deps.IsStaff(c.Interaction) {
		return discord.Ephemeral(c.Session, c.Interaction, "Apenas a staff pode editar a loja.")
	}
	opts := optionMap(c.Interaction.ApplicationCommandData().Options)
	it := store.ShopItem{
		Name:      opts["item"].StringValue(),
		Category:  categoryFor(opts["categoria"].StringValue()),
		BuyPrice:  opts["compra"].FloatValue(),
		SellPrice: opts["venda"].FloatValue(),
	}
	if err := m.deps.Store.UpsertShopItem(context.Background(), it); err != nil {
		return fmt.Errorf("upsert shop item %s: %w", it.Name, err)
	}
	return discord.Ephemeral(c.Session, c.Interaction,
		"**%s** na loja: compra %.2f, venda %.2f.", it.Name, it.BuyPrice, it.SellPrice)
}

func (m *Module) semana(c *router.Ctx) error {
	if !m.deps.IsStaff(c.Interaction) {
		return discord.Ephemeral(c.Session, c.Interaction, "Apenas a staff pode mover a semana.")
	}
	sub := c.Interaction.ApplicationCommandData().Options[0]
	ctx := context.Background()

	var offset int
	switch sub.Name {
	case "avancar":
		cur, err := m.deps.Store.WeekOffset(ctx)
		if err != nil {
			return fmt.Errorf("read week offset: %w", err)
		}
		offset = cur + 1
	case "definir":
		offset = int(optionMap(sub.Options)["valor"].IntValue())
	default:
		return nil
	}
	if err := m.deps.Store.SetWeekOffset(ctx, offset); err != nil {
		return fmt.Errorf("set week offset: %w", err)
	}
	return discord.Ephemeral(c.Session, c.Interaction,
		"Contadores semanais apontando para a coluna %d.", offset)
}
