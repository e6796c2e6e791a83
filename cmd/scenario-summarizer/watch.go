package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/app"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Follow the chat file and keep summaries and the memory block current",
		Long: "Follow the chat file, turn edits into chat events, run automatic summaries, " +
			"hot-reload summarizer settings from the config file and serve /healthz, /readyz " +
			"and /metrics on server.listen_addr.",
		Args: cobra.NoArgs,
		RunE: runWatch,
	})
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// ── Telemetry ────────────────────────────────────────────────────────
	metrics, shutdownTelemetry, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	// ── Application ──────────────────────────────────────────────────────
	_, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	opts := []app.Option{app.WithMetrics(metrics)}
	if cfgPath != "" {
		opts = append(opts, app.WithConfigWatch(cfgPath))
	}
	s, err := openSession(ctx, opts...)
	if err != nil {
		return err
	}
	defer s.close()

	printStartupSummary(cmd, s)
	s.logger.Info("watching, press Ctrl+C to stop", "chat", chatPath, "config", cfgPath)

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("shutdown signal received, stopping…")
	return nil
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cmd *cobra.Command, s *session) {
	w := cmd.ErrOrStderr()
	cfg := s.cfg
	settings := cfg.Summarizer
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║   Scenario summarizer : watch mode    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(cmd, "LLM", providerLabel(cfg.Providers.LLM))
	for _, fb := range cfg.Providers.Fallbacks {
		printRow(cmd, "Fallback", providerLabel(fb))
	}
	printRow(cmd, "Storage", string(cfg.Storage.Backend))
	printRow(cmd, "Tokenizer", string(cfg.Tokenizer.Kind))
	printRow(cmd, "Mode", fmt.Sprintf("%s, auto=%v", settings.SummaryMode, settings.AutomaticMode))
	printRow(cmd, "Budget", fmt.Sprintf("%d tokens", settings.TokenBudget))
	if cfg.Server.ListenAddr != "" {
		printRow(cmd, "Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow(cmd, "Listen addr", "(disabled)")
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(cmd *cobra.Command, kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "║  %-12s    : %-19s ║\n", kind, value)
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" || e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}
