package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/roomstage/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a user",
	Long: `Mint a bearer token signed with JWT_SECRET.

Examples:
  stagectl token --user 42
  stagectl token --user 42 --ttl 2h`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Uint64("user", 0, "User id to embed")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, _ []string) error {
	uid, _ := cmd.Flags().GetUint64("user")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if uid == 0 {
		return errors.New("--user must be a positive user id")
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tok, err := auth.SignJWT(cfg.JWTSecret, uid, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
