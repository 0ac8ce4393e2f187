package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildledger.app/internal/audit"
	"guildledger.app/internal/config"
	"guildledger.app/internal/dice"
	"guildledger.app/internal/item"
	"guildledger.app/internal/ledger"
	"guildledger.app/internal/router"
	"guildledger.app/internal/rules"
	"guildledger.app/internal/saga"
	"guildledger.app/internal/session"
	"guildledger.app/internal/sheetsync"
	"guildledger.app/internal/store"
	"guildledger.app/internal/workflow"
	"guildledger.app/internal/workflow/admin"
	"guildledger.app/internal/workflow/check"
	"guildledger.app/internal/workflow/loot"
	"guildledger.app/internal/workflow/report"
	"guildledger.app/internal/workflow/transact"
)

// messageEditor adapts the gateway session to the ledger's editor.
type messageEditor struct {
	ds *discordgo.Session
}

func (e messageEditor) EditMessage(channelID, messageID, content string) error {
	_, err := e.ds.ChannelMessageEdit(channelID, messageID, content)
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mirror sheetsync.Mirror = sheetsync.Noop{}
	if cfg.SheetID != "" {
		sm, err := sheetsync.NewSheetsMirror(ctx, cfg.SheetID, cfg.SheetCredentials, cfg.SheetWriteDelay, logger)
		if err != nil {
			return fmt.Errorf("sheets mirror: %w", err)
		}
		mirror = sm
		logger.Info("sheet mirroring enabled", "spreadsheet", cfg.SheetID)
	}
	defer mirror.Close()

	st, err := store.Open(filepath.Join(cfg.DataDir, "guildledger.db"), mirror, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	defs, err := item.LoadDefs(cfg.CatalogDir)
	if err != nil {
		return fmt.Errorf("load item defs: %w", err)
	}
	if err := st.ReplaceItemDefs(ctx, defs.Defs); err != nil {
		return fmt.Errorf("seed item defs: %w", err)
	}
	logger.Info("item catalog loaded", "items", len(defs.Defs), "digest", defs.Digest)

	catalog := item.NewCatalog(st, logger)
	if err := catalog.Warm(ctx); err != nil {
		return fmt.Errorf("warm catalog: %w", err)
	}

	tuning, err := rules.Load(cfg.TuningPath)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}

	auditLog := audit.NewLog(filepath.Join(cfg.DataDir, "audit"), cfg.TimezoneOffsetHours)
	defer auditLog.Close()

	manager := session.NewManager(filepath.Join(cfg.DataDir, "sessions"), cfg.SessionMaxAge, cfg.MemoryThresholdMB, logger)
	r := router.New(logger, manager)

	ds, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	ds.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	deps := &workflow.Deps{
		Store:   st,
		Ledger:  ledger.New(st, catalog, messageEditor{ds}, logger, cfg.SheetWriteDelay),
		Catalog: catalog,
		Tuning:  &tuning,
		Roller:  dice.NewRoller(0),
		Saga:    saga.NewRunner(st, logger),
		Audit:   auditLog,
		Manager: manager,
		Cfg:     cfg,
		Log:     logger,
	}

	brechas := dice.NewBrechas()

	if _, err := loot.Register(r, deps); err != nil {
		return err
	}
	if _, err := transact.Register(r, deps); err != nil {
		return err
	}
	if _, err := report.Register(r, deps); err != nil {
		return err
	}
	if _, err := check.Register(r, deps, brechas); err != nil {
		return err
	}
	if _, err := admin.Register(r, deps); err != nil {
		return err
	}

	// Sessions come back before the gateway opens, so a restart mid-flow
	// only costs the user a click, not the whole workflow.
	manager.Restore()

	if pending, err := deps.Saga.Resume(ctx); err != nil {
		logger.Error("saga resume scan failed", "err", err)
	} else {
		for _, line := range pending {
			logger.Warn("finalize needs repair", "run", line)
		}
	}

	ds.AddHandler(r.Handle)
	ds.AddHandler(func(s *discordgo.Session, msg *discordgo.MessageCreate) {
		// Dice-bot output feeding open brechas. The roller's id is in the
		// interaction reference when the roll came from a slash command.
		if msg.Author == nil {
			return
		}
		if brechas.Feed(msg.ChannelID, msg.Author.ID, msg.Content) {
			return
		}
		if msg.Interaction != nil && msg.Interaction.User != nil {
			if brechas.Feed(msg.ChannelID, msg.Interaction.User.ID, msg.Content) {
				return
			}
		}
		for _, u := range msg.Mentions {
			if brechas.Feed(msg.ChannelID, u.ID, msg.Content) {
				return
			}
		}
	})

	if err := ds.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer ds.Close()

	commands := []*discordgo.ApplicationCommand{
		loot.Command(),
		transact.Command(),
		report.Command(),
		check.Command(),
	}
	commands = append(commands, admin.Commands()...)
	if _, err := ds.ApplicationCommandBulkOverwrite(cfg.AppID, cfg.GuildID, commands); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	logger.Info("bot online", "commands", len(commands))

	// A panic anywhere on this goroutine still gets a best-effort
	// checkpoint before the process dies.
	defer func() {
		if rec := recover(); rec != nil {
			manager.Checkpoint()
			panic(rec)
		}
	}()

	go manager.Run(ctx, cfg.CheckpointEvery, cfg.SweepEvery)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := brechas.SweepExpired(); n > 0 {
					logger.Info("expired brechas", "count", n)
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	manager.Checkpoint()
	return nil
}
