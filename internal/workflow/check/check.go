// Package check implements skill checks resolved through a brecha: the
// bot opens a five-minute listening window and waits for the player's
// roll, posted in the channel by the third-party dice bot.
package check

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/dice"
	"guildledger.app/internal/router"
	"guildledger.app/internal/workflow"
)

type Module struct {
	deps    *workflow.Deps
	brechas *dice.Brechas
}

func Register(r *router.Router, deps *workflow.Deps, brechas *dice.Brechas) (*Module, error) {
	m := &Module{deps: deps, brechas: brechas}
	return m, r.Command("pericia", m.execute)
}

func Command() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "pericia",
		Description: "Abre uma brecha aguardando sua rolagem de perícia",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "pericia",
				Description: "Qual perícia está sendo testada",
				Required:    true,
			},
		},
	}
}

func (m *Module) execute(c *router.Ctx) error {
	skill := c.Interaction.ApplicationCommandData().Options[0].StringValue()
	user := c.User()
	channelID := c.Interaction.ChannelID

	ds := c.Session
	inter := c.Interaction.Interaction

	if err := ds.InteractionRespond(inter, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf("🕐 %s testa **%s**. Role seus dados neste canal em até 5 minutos.",
				user.Mention(), skill),
		},
	}); err != nil {
		return err
	}

	w := &dice.BrechaWindow{ChannelID: channelID, UserID: user.ID}
	if msg, err := ds.InteractionResponse(inter); err == nil {
		w.MessageID = msg.ID
	} else {
		m.deps.Log.Warn("check prompt lookup failed", "channel", channelID, "err", err)
	}
	w.Resolve = func(roll dice.RollMessage) {
		content := fmt.Sprintf("🎲 Teste de **%s** de %s: **%d**", skill, user.Mention(), roll.Result)
		if roll.Text != "" {
			content += " — " + roll.Text
		}
		if _, err := ds.ChannelMessageSend(channelID, content); err != nil {
			m.deps.Log.Warn("check result post failed", "channel", channelID, "err", err)
		}
	}
	w.Expire = func() {
		expired := fmt.Sprintf("A brecha de **%s** de %s expirou sem rolagem.", skill, user.Mention())
		if w.MessageID == "" {
			if _, err := ds.ChannelMessageSend(channelID, expired); err != nil {
				m.deps.Log.Warn("check expiry notice failed", "channel", channelID, "err", err)
			}
			return
		}
		if _, err := ds.ChannelMessageEdit(channelID, w.MessageID, expired); err != nil {
			m.deps.Log.Warn("check expiry edit failed", "channel", channelID, "message", w.MessageID, "err", err)
		}
	}
	m.brechas.Open(w)
	return nil
}
