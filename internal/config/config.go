// Package config loads bot configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string `env:"GL_BOT_TOKEN,required"`
	AppID    string `env:"GL_APP_ID,required"`
	GuildID  string `env:"GL_GUILD_ID"`

	StaffRoleID    string `env:"GL_STAFF_ROLE_ID"`
	NarratorRoleID string `env:"GL_NARRATOR_ROLE_ID"`

	ReportChannelID string `env:"GL_REPORT_CHANNEL_ID"`
	LogChannelID    string `env:"GL_LOG_CHANNEL_ID"`

	DataDir    string `env:"GL_DATA_DIR" envDefault:"./data"`
	TuningPath string `env:"GL_TUNING_PATH" envDefault:"./configs/tuning.yaml"`
	CatalogDir string `env:"GL_CATALOG_DIR" envDefault:"./configs"`

	CheckpointEvery time.Duration `env:"GL_CHECKPOINT_EVERY" envDefault:"5m"`
	SweepEvery      time.Duration `env:"GL_SWEEP_EVERY" envDefault:"1h"`
	SessionMaxAge   time.Duration `env:"GL_SESSION_MAX_AGE" envDefault:"1h"`

	// Heap size above which an emergency session sweep runs before the
	// next interaction is handled.
	MemoryThresholdMB uint64 `env:"GL_MEMORY_THRESHOLD_MB" envDefault:"512"`

	DoubleTokenCost int `env:"GL_DOUBLE_TOKEN_COST" envDefault:"2"`

	// Spreadsheet mirror. Empty spreadsheet id disables mirroring.
	SheetID          string        `env:"GL_SHEET_ID"`
	SheetCredentials string        `env:"GL_SHEET_CREDENTIALS"`
	SheetWriteDelay  time.Duration `env:"GL_SHEET_WRITE_DELAY" envDefault:"1500ms"`

	// Local clock offset, used to rotate the audit log on community hours.
	TimezoneOffsetHours int `env:"GL_TZ_OFFSET_HOURS" envDefault:"-3"`
}

// Load reads .env (if present) and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DoubleTokenCost < 0 {
		return cfg, fmt.Errorf("GL_DOUBLE_TOKEN_COST must be >= 0")
	}
	if cfg.SessionMaxAge <= 0 {
		return cfg, fmt.Errorf("GL_SESSION_MAX_AGE must be positive")
	}
	return cfg, nil
}
