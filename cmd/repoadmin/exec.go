package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"templaterepo/internal/server/admin"
)

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Send a raw command line and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			c, err := admin.Dial(ctx, adminAddr, adminPassword)
			if err != nil {
				return err
			}
			defer func() {
				_ = c.Close()
			}()

			resp, err := c.Exec(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}
