// Terminal client for the Enterprise Data Assistant.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/queryclient"
	"github.com/ashureev/data-assistant/internal/tui"
)

var (
	queryURL     string
	queryTimeout time.Duration
	renderMode   string
	glamourStyle string
	logFile      string
)

var rootCmd = &cobra.Command{
	Use:   "assistant-tui",
	Short: "Chat with the Enterprise Data Assistant from a terminal",
	Long: `Opens an interactive chat with the query service.

Each question is sent to the query service; the answer is shown together with
the step report (tables, intent, generated SQL, validation and result). Press
tab to show or hide step reports.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	// A missing .env is fine; flags and the environment are enough.
	_ = godotenv.Load()

	defaults := queryclient.DefaultConfig()
	rootCmd.Flags().StringVar(&queryURL, "url", envOr("QUERY_SERVICE_URL", defaults.URL), "query service endpoint")
	rootCmd.Flags().DurationVar(&queryTimeout, "timeout", defaults.Timeout, "per-query timeout (0 disables)")
	rootCmd.Flags().StringVar(&renderMode, "mode", envOr("RENDER_MODE", string(chat.ModeSteps)), "reply mode: steps or raw")
	rootCmd.Flags().StringVar(&glamourStyle, "style", "dark", "markdown style: dark, light or notty")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "write JSON logs to this file")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runTUI(cmd *cobra.Command, _ []string) error {
	mode, err := chat.ParseMode(renderMode)
	if err != nil {
		return err
	}

	var out io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))

	client, err := queryclient.New(queryclient.Config{URL: queryURL, Timeout: queryTimeout}, logger)
	if err != nil {
		return fmt.Errorf("create query client: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := tui.New(ctx, client, tui.Options{Mode: mode, GlamourStyle: glamourStyle, Logger: logger})
	if err != nil {
		return fmt.Errorf("create terminal ui: %w", err)
	}

	logger.Info("Starting terminal client", "url", queryURL, "mode", mode)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
