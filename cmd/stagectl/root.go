package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/roomstage/internal/app"
	"github.com/suPer8Hu/roomstage/internal/common"
	"github.com/suPer8Hu/roomstage/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "stagectl",
	Short: "Operate the roomstage staging service",
	Long: `stagectl talks to the same database, health cache and providers as the
API server. Configuration is read from the environment (and .env).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log to stderr")
}

func loadConfig() (config.Config, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func cliLogger(cmd *cobra.Command, cfg config.Config) zerolog.Logger {
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		return common.NewLogger(cfg.Env)
	}
	return zerolog.Nop()
}

// openApp wires the staging service. Events raised by CLI actions are
// only logged.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Build(cmd.Context(), cfg, cliLogger(cmd, cfg), app.Options{SkipPublisher: true})
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
