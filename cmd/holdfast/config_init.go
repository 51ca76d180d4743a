package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lumenca/holdfast/internal/clifmt"
	"github.com/lumenca/holdfast/internal/pathutil"
)

type configFile struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	LockCode       string `yaml:"lock_code,omitempty"`
	AutoResume     struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"auto_resume"`
	Store struct {
		Driver      string `yaml:"driver"`
		JournalPath string `yaml:"journal_path"`
		SQLiteDSN   string `yaml:"sqlite_dsn,omitempty"`
	} `yaml:"store"`
	Audit struct {
		JSONLPath      string `yaml:"jsonl_path"`
		RotateMaxBytes int64  `yaml:"rotate_max_bytes"`
	} `yaml:"audit"`
	Alerts struct {
		WebhookURL string `yaml:"webhook_url,omitempty"`
		SMTP       struct {
			Host       string `yaml:"host,omitempty"`
			Port       int    `yaml:"port,omitempty"`
			Username   string `yaml:"username,omitempty"`
			Password   string `yaml:"password,omitempty"`
			From       string `yaml:"from,omitempty"`
			Recipients string `yaml:"recipients,omitempty"`
		} `yaml:"smtp"`
	} `yaml:"alerts"`
	Console struct {
		Addr string `yaml:"addr"`
	} `yaml:"console"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to ~/.holdfast/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(pathutil.StateDir(), "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		var cfg configFile
		cfg.TimeoutSeconds = 600
		cfg.AutoResume.Enabled = true
		cfg.Store.Driver = "journal"
		cfg.Store.JournalPath = filepath.Join(pathutil.StateDir(), "approvals.jsonl")
		cfg.Audit.JSONLPath = filepath.Join(pathutil.StateDir(), "audit.jsonl")
		cfg.Audit.RotateMaxBytes = 100 * 1024 * 1024
		cfg.Console.Addr = ":8787"
		cfg.Log.Level = "info"

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0o600); err != nil {
			return err
		}
		fmt.Println(clifmt.Success("written"), clifmt.Dim(path))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
