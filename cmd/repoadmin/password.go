package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for admin_password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := promptPassword("Admin password")
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}

func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		for {
			fmt.Fprintf(os.Stderr, "%s: ", label)
			p1b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			fmt.Fprint(os.Stderr, "Confirm password: ")
			p2b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			p1 := strings.TrimSpace(string(p1b))
			p2 := strings.TrimSpace(string(p2b))
			if p1 == "" {
				fmt.Fprintln(os.Stderr, "password cannot be empty")
				continue
			}
			if p1 != p2 {
				fmt.Fprintln(os.Stderr, "passwords do not match")
				continue
			}
			return p1, nil
		}
	}

	// Non-interactive: read one line from stdin.
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	pw := strings.TrimSpace(line)
	if pw == "" {
		return "", errors.New("password cannot be empty")
	}
	return pw, nil
}
