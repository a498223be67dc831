package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"templaterepo/internal/server/admin"
)

func newAddCmd() *cobra.Command {
	var desc string

	cmd := &cobra.Command{
		Use:   "add <mac|ip> <value>",
		Short: "Add an address to the allowlist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg, err := admin.EncodePayload(map[string]string{"value": args[1], "desc": desc})
			if err != nil {
				return err
			}
			_, payload, err := run("addSource " + args[0] + " " + arg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			return nil
		},
	}

	cmd.Flags().StringVarP(&desc, "desc", "d", "", "Description of the entry")

	return cmd
}

func newUpdateCmd() *cobra.Command {
	var desc string

	cmd := &cobra.Command{
		Use:   "update <id> <value>",
		Short: "Change the value and description of an allowlist entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			arg, err := admin.EncodePayload(map[string]any{"id": id, "value": args[1], "desc": desc})
			if err != nil {
				return err
			}
			_, payload, err := run("updateSource " + arg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			return nil
		},
	}

	cmd.Flags().StringVarP(&desc, "desc", "d", "", "Description of the entry")

	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an allowlist entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if _, _, err := run("deleteSource " + args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show server module information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, payload, err := run("getModuleInfo")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a storage consistency check and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, payload, err := run("reconcile")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			return nil
		},
	}
}
