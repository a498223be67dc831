package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"templaterepo/internal/server/admin"
)

func newListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List allowlisted MAC and IP addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, payload, err := run("getList")
			if err != nil {
				return err
			}

			if format == "" {
				format = "json"
				if term.IsTerminal(int(os.Stdout.Fd())) {
					format = "table"
				}
			}

			switch format {
			case "json":
				fmt.Fprintln(cmd.OutOrStdout(), payload)
				return nil
			case "table":
				var list admin.SourceList
				if err := json.Unmarshal([]byte(payload), &list); err != nil {
					return fmt.Errorf("invalid reply: %w", err)
				}
				outputTable(cmd, list)
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Output format: table or json (default table on a terminal)")

	return cmd
}

func outputTable(cmd *cobra.Command, list admin.SourceList) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Kind", "Value", "Description"})
	for _, s := range list.MacList {
		t.AppendRow(table.Row{s.ID, "mac", s.Value, s.Desc})
	}
	for _, s := range list.IPList {
		t.AppendRow(table.Row{s.ID, "ip", s.Value, s.Desc})
	}
	t.Render()
}
