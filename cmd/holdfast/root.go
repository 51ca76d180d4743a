package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumenca/holdfast/internal/pathutil"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "holdfast",
	Short:         "Approval-gated action executor",
	Long:          "holdfast files approval requests for side-effecting actions, lets a human approve or deny them, and auto-approves after a timeout.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.holdfast/config.yaml)")
}

func initConfig() {
	if strings.TrimSpace(cfgFile) != "" {
		viper.SetConfigFile(pathutil.ExpandHomePath(cfgFile))
	} else {
		viper.AddConfigPath(pathutil.StateDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("timeout_seconds", 600)
	viper.SetDefault("auto_resume.enabled", true)
	viper.SetDefault("store.driver", "journal")
	viper.SetDefault("store.journal_path", filepath.Join(pathutil.StateDir(), "approvals.jsonl"))
	viper.SetDefault("audit.jsonl_path", filepath.Join(pathutil.StateDir(), "audit.jsonl"))
	viper.SetDefault("audit.rotate_max_bytes", int64(100*1024*1024))
	viper.SetDefault("console.addr", ":8787")
	viper.SetDefault("log.level", "info")

	_ = viper.BindEnv("timeout_seconds", "APPROVAL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("auto_resume.enabled", "AUTO_RESUME_ENABLED")
	_ = viper.BindEnv("lock_code", "SYSTEM_LOCK_CODE")
	_ = viper.BindEnv("alerts.webhook_url", "ALERT_WEBHOOK_URL")
	_ = viper.BindEnv("alerts.smtp.host", "SMTP_HOST")
	_ = viper.BindEnv("alerts.smtp.port", "SMTP_PORT")
	_ = viper.BindEnv("alerts.smtp.username", "SMTP_USERNAME")
	_ = viper.BindEnv("alerts.smtp.password", "SMTP_PASSWORD")
	_ = viper.BindEnv("alerts.smtp.from", "SMTP_FROM")
	_ = viper.BindEnv("alerts.smtp.recipients", "SMTP_RECIPIENTS")

	// Missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(viper.GetString("log.level"))) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
