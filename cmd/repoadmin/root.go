package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"templaterepo/internal/server/admin"
)

var (
	adminAddr     string
	adminPassword string
)

var rootCmd = &cobra.Command{
	Use:     "repoadmin",
	Short:   "repoadmin - administer a template repository server",
	Long:    "repoadmin manages the MAC/IP allowlist of a template repository server over its admin channel.",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", envOr("REPOADMIN_ADDR", "127.0.0.1:9981"), "Admin channel address")
	rootCmd.PersistentFlags().StringVar(&adminPassword, "password", os.Getenv("REPOADMIN_PASSWORD"), "Admin password (env REPOADMIN_PASSWORD)")

	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// run opens a session, sends line and returns the reply payload.
func run(line string) (verb, payload string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := admin.Dial(ctx, adminAddr, adminPassword)
	if err != nil {
		return "", "", err
	}
	defer func() {
		_ = c.Close()
	}()

	resp, err := c.Exec(line)
	if err != nil {
		return "", "", err
	}
	return admin.SplitReply(resp)
}
