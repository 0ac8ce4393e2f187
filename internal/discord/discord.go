// Package discord wraps the small slice of discordgo surface the bot
// uses: interaction replies, modals and member lookups.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// User returns the invoking user for both guild and DM interactions.
func User(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

// Tag renders the short handle used in player slots and sheet rows.
func Tag(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// HasRole reports whether the interaction member carries roleID.
func HasRole(i *discordgo.InteractionCreate, roleID string) bool {
	if i.Member == nil || roleID == "" {
		return false
	}
	for _, r := range i.Member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Ephemeral sends a plain ephemeral reply to an interaction.
func Ephemeral(s *discordgo.Session, i *discordgo.InteractionCreate, format string, args ...any) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf(format, args...),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// EphemeralComponents sends an ephemeral reply carrying message components.
func EphemeralComponents(s *discordgo.Session, i *discordgo.InteractionCreate, content string, components []discordgo.MessageComponent) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	})
}

// Update edits the message the component interaction came from. A nil
// components slice strips every component from the message.
func Update(s *discordgo.Session, i *discordgo.InteractionCreate, content string, components []discordgo.MessageComponent) error {
	if components == nil {
		// Marshal as [] rather than null so the rows are cleared.
		components = []discordgo.MessageComponent{}
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
		},
	})
}

// Ack acknowledges a component interaction without visible output.
func Ack(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

// Defer acknowledges a command interaction, promising a followup.
func Defer(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

// Followup sends an ephemeral followup after a deferred response.
func Followup(s *discordgo.Session, i *discordgo.InteractionCreate, format string, args ...any) error {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: fmt.Sprintf(format, args...),
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	return err
}

// TextInput describes one row of a modal form.
type TextInput struct {
	ID          string
	Label       string
	Value       string
	Placeholder string
	Required    bool
	Paragraph   bool
}

// Modal opens a modal with one text input per entry.
func Modal(s *discordgo.Session, i *discordgo.InteractionCreate, customID, title string, inputs ...TextInput) error {
	rows := make([]discordgo.MessageComponent, 0, len(inputs))
	for _, in := range inputs {
		style := discordgo.TextInputShort
		if in.Paragraph {
			style = discordgo.TextInputParagraph
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    in.ID,
				Label:       in.Label,
				Style:       style,
				Value:       in.Value,
				Placeholder: in.Placeholder,
				Required:    in.Required,
			},
		}})
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   customID,
			Title:      title,
			Components: rows,
		},
	})
}

// ModalValues flattens a submitted modal into input-id -> value.
func ModalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	out := make(map[string]string, len(data.Components))
	for _, row := range data.Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range ar.Components {
			if ti, ok := c.(*discordgo.TextInput); ok {
				out[ti.CustomID] = ti.Value
			}
		}
	}
	return out
}

// Button is a shorthand constructor for a secondary-style button.
func Button(customID, label string, style discordgo.ButtonStyle, disabled bool) discordgo.Button {
	return discordgo.Button{
		CustomID: customID,
		Label:    label,
		Style:    style,
		Disabled: disabled,
	}
}

// Row wraps components into a single actions row.
func Row(components ...discordgo.MessageComponent) discordgo.ActionsRow {
	return discordgo.ActionsRow{Components: components}
}
