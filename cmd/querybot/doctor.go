package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"querybot/internal/config"
	"querybot/internal/credstore"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your querybot installation",
		Long: `Verifies that the configuration, credential store, Dialogflow key file and
listen addresses are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout(), resolveConfigPath())
		},
	}
}

type doctorReport struct {
	w                      io.Writer
	passed, failed, warned int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Fprintf(r.w, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Fprintf(r.w, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Fprintf(r.w, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func runDoctor(w io.Writer, cfgPath string) error {
	r := &doctorReport{w: w}
	fmt.Fprintf(w, "querybot doctor v%s\n\n", version)

	if _, err := os.Stat(cfgPath); err != nil {
		r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
		fmt.Fprintf(w, "\nRun 'querybot init' to create a default configuration.\n")
		return fmt.Errorf("config file not found")
	}
	r.pass("Config file", cfgPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		return r.summary()
	}
	r.pass("Config validation", "valid")

	if err := config.RequireServe(cfg); err != nil {
		r.fail("Serve settings", err.Error())
	} else {
		r.pass("Serve settings", "slack and dialogflow configured")
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if err := checkStore(cfg.Store.DBPath); err != nil {
			r.fail("Credential store", err.Error())
		} else {
			r.pass("Credential store", cfg.Store.DBPath)
		}
	default:
		r.warn("Credential store", "in-memory; credentials are lost on restart")
	}

	if f := cfg.Dialogflow.CredentialsFile; f != "" {
		if _, err := os.Stat(f); err != nil {
			r.fail("Dialogflow key", err.Error())
		} else {
			r.pass("Dialogflow key", f)
		}
	} else {
		r.warn("Dialogflow key", "not set; application default credentials will be used")
	}

	if cfg.Slack.Mode == "http" {
		r.checkListen("Slack events", cfg.Slack.Listen)
	}
	if cfg.Metrics.Enabled {
		r.checkListen("Metrics", cfg.Metrics.Listen)
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}

	return r.summary()
}

func (r *doctorReport) checkListen(check, addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.warn(check, fmt.Sprintf("%s may be in use: %v", addr, err))
		return
	}
	ln.Close()
	r.pass(check, addr+" available")
}

func (r *doctorReport) summary() error {
	fmt.Fprintf(r.w, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(r.w, "\nPlease fix the failed checks before running querybot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(r.w, "\nquerybot should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(r.w, "\nAll checks passed! querybot is ready to run.\n")
	}
	return nil
}

// checkStore opens the credential database, which also applies migrations.
func checkStore(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}
	store, err := credstore.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}
