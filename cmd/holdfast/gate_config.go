package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lumenca/holdfast/db"
	"github.com/lumenca/holdfast/gate"
	"github.com/lumenca/holdfast/internal/clifmt"
	"github.com/lumenca/holdfast/internal/pathutil"
	"github.com/lumenca/holdfast/notify"
)

// openGate builds the gate from viper config: store driver, audit sink,
// alert transports. The returned cleanup closes everything in order.
func openGate(log *slog.Logger, opts ...gate.Option) (*gate.Gate, func(), error) {
	cfg := gate.Config{
		Timeout:    time.Duration(viper.GetInt("timeout_seconds")) * time.Second,
		AutoResume: viper.GetBool("auto_resume.enabled"),
		LockCode:   strings.TrimSpace(viper.GetString("lock_code")),
	}

	store, err := openStore(log)
	if err != nil {
		return nil, nil, err
	}

	gateOpts := []gate.Option{gate.WithLogger(log)}

	var sink *gate.JSONLAuditSink
	auditPath := pathutil.ExpandHomePath(viper.GetString("audit.jsonl_path"))
	if auditPath != "" {
		sink, err = gate.NewJSONLAuditSink(auditPath, viper.GetInt64("audit.rotate_max_bytes"))
		if err != nil {
			fmt.Fprintln(os.Stderr, clifmt.Warn("audit log disabled:"), err)
			log.Warn("audit_sink_error", "path", auditPath, "error", err.Error())
		} else {
			gateOpts = append(gateOpts, gate.WithAuditSink(sink))
		}
	}

	if notifier := notifierFromViper(log); notifier != nil {
		gateOpts = append(gateOpts, gate.WithNotifier(notifier))
	}
	gateOpts = append(gateOpts, opts...)

	g := gate.New(cfg, store, gateOpts...)
	cleanup := func() {
		g.Close()
		if sink != nil {
			_ = sink.Close()
		}
		_ = store.Close()
	}
	return g, cleanup, nil
}

func openStore(log *slog.Logger) (gate.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(viper.GetString("store.driver")))
	switch driver {
	case "", "journal":
		path := pathutil.ExpandHomePath(viper.GetString("store.journal_path"))
		return gate.NewJournalStore(path, log)
	case "sqlite":
		dsn, err := db.ResolveSQLiteDSN(viper.GetString("store.sqlite_dsn"))
		if err != nil {
			return nil, err
		}
		return gate.NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported store.driver: %s", driver)
	}
}

func notifierFromViper(log *slog.Logger) gate.Notifier {
	var transports []notify.Transport

	if url := strings.TrimSpace(viper.GetString("alerts.webhook_url")); url != "" {
		transports = append(transports, notify.NewWebhookTransport(url))
	}

	host := strings.TrimSpace(viper.GetString("alerts.smtp.host"))
	recipients := splitList(viper.GetString("alerts.smtp.recipients"))
	if host != "" && len(recipients) > 0 {
		port := viper.GetInt("alerts.smtp.port")
		if port <= 0 {
			port = 587
		}
		transports = append(transports, notify.NewSMTPTransport(
			host, port,
			viper.GetString("alerts.smtp.username"),
			viper.GetString("alerts.smtp.password"),
			viper.GetString("alerts.smtp.from"),
			recipients,
		))
	}

	if len(transports) == 0 {
		return nil
	}
	return notify.NewDispatcher(log, transports...)
}

func splitList(s string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
