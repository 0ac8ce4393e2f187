// Package router dispatches Discord interactions to registered handlers.
//
// Component and modal custom IDs carry an action key plus positional
// arguments, pipe-delimited. Each interaction class has its own flat
// registry; registering the same key twice is an error so collisions
// surface at startup instead of at dispatch time.
package router

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/discord"
)

// Sep separates the action key from its arguments inside a custom ID.
const Sep = "|"

// CustomID builds a component custom ID from an action key and arguments.
// Arguments must not contain the separator.
func CustomID(action string, args ...string) string {
	if len(args) == 0 {
		return action
	}
	return action + Sep + strings.Join(args, Sep)
}

// ParseCustomID splits a custom ID into its action key and arguments.
func ParseCustomID(id string) (action string, args []string) {
	parts := strings.Split(id, Sep)
	return parts[0], parts[1:]
}

// Ctx carries one interaction through a handler.
type Ctx struct {
	Session     *discordgo.Session
	Interaction *discordgo.InteractionCreate
	// Args holds the custom ID arguments after the action key. Empty for
	// slash commands.
	Args []string
	Log  *slog.Logger
}

// User returns the invoking user.
func (c *Ctx) User() *discordgo.User { return discord.User(c.Interaction) }

// HandlerFunc handles a single interaction. Returned errors are logged
// and answered with a generic ephemeral message when possible.
type HandlerFunc func(c *Ctx) error

// Sweeper is invoked before every dispatch to shed stale session state.
type Sweeper interface {
	PressureSweep()
}

// Router owns the per-class handler registries.
type Router struct {
	log     *slog.Logger
	sweeper Sweeper

	commands     map[string]HandlerFunc
	buttons      map[string]HandlerFunc
	selects      map[string]HandlerFunc
	modals       map[string]HandlerFunc
	autocomplete map[string]HandlerFunc
}

func New(log *slog.Logger, sweeper Sweeper) *Router {
	return &Router{
		log:          log,
		sweeper:      sweeper,
		commands:     map[string]HandlerFunc{},
		buttons:      map[string]HandlerFunc{},
		selects:      map[string]HandlerFunc{},
		modals:       map[string]HandlerFunc{},
		autocomplete: map[string]HandlerFunc{},
	}
}

func register(m map[string]HandlerFunc, class, key string, h HandlerFunc) error {
	if key == "" {
		return fmt.Errorf("router: empty %s key", class)
	}
	if _, dup := m[key]; dup {
		return fmt.Errorf("router: duplicate %s key %q", class, key)
	}
	m[key] = h
	return nil
}

func (r *Router) Command(name string, h HandlerFunc) error {
	return register(r.commands, "command", name, h)
}

func (r *Router) Button(action string, h HandlerFunc) error {
	return register(r.buttons, "button", action, h)
}

func (r *Router) Select(action string, h HandlerFunc) error {
	return register(r.selects, "select", action, h)
}

func (r *Router) Modal(action string, h HandlerFunc) error {
	return register(r.modals, "modal", action, h)
}

func (r *Router) Autocomplete(name string, h HandlerFunc) error {
	return register(r.autocomplete, "autocomplete", name, h)
}

type unmatchedReply int

const (
	replyNone unmatchedReply = iota
	replyAck
	replyExpired
)

// replyForUnmatched decides how an interaction with no registered handler
// is still answered. Components can be silently acknowledged; a modal
// submit or command needs a visible response or the user watches the
// client spin until it reports a failure.
func replyForUnmatched(t discordgo.InteractionType) unmatchedReply {
	switch t {
	case discordgo.InteractionMessageComponent:
		return replyAck
	case discordgo.InteractionModalSubmit, discordgo.InteractionApplicationCommand:
		return replyExpired
	}
	return replyNone
}

// Handle is installed as the discordgo InteractionCreate handler.
func (r *Router) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if r.sweeper != nil {
		r.sweeper.PressureSweep()
	}

	c := &Ctx{Session: s, Interaction: i, Log: r.log}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("interaction handler panicked",
				"panic", rec,
				"type", i.Type.String(),
				"stack", string(debug.Stack()))
			_ = discord.Ephemeral(s, i, "Algo deu errado. Tente novamente.")
		}
	}()

	var (
		registry map[string]HandlerFunc
		key      string
	)
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		registry = r.commands
		key = i.ApplicationCommandData().Name
	case discordgo.InteractionApplicationCommandAutocomplete:
		registry = r.autocomplete
		key = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		key, c.Args = ParseCustomID(data.CustomID)
		if data.ComponentType == discordgo.ButtonComponent {
			registry = r.buttons
		} else {
			registry = r.selects
		}
	case discordgo.InteractionModalSubmit:
		registry = r.modals
		key, c.Args = ParseCustomID(i.ModalSubmitData().CustomID)
	default:
		return
	}

	h, ok := registry[key]
	if !ok {
		// Stale component from before a restart, or another bot's ID
		// scheme. Answer anyway so the client stops spinning.
		r.log.Warn("unmatched interaction", "type", i.Type.String(), "key", key)
		switch replyForUnmatched(i.Type) {
		case replyAck:
			_ = discord.Ack(s, i)
		case replyExpired:
			_ = discord.Ephemeral(s, i, "Esta interação não está mais disponível.")
		}
		return
	}

	if err := h(c); err != nil {
		r.log.Error("interaction handler failed", "key", key, "err", err)
		_ = discord.Ephemeral(s, i, "Algo deu errado. Tente novamente.")
	}
}
