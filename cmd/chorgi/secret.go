package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func newSecretCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a secret; reads the value from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := argOrStdin(cmd, args, 1)
			if err != nil {
				return err
			}
			vault, err := app.openVault()
			if err != nil {
				return err
			}
			if err := vault.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := app.openVault()
			if err != nil {
				return err
			}
			return vault.Delete(args[0])
		},
	})
	return cmd
}

func newAdminCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin PIN helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash-pin [pin]",
		Short: "Print a bcrypt hash for admin_pin_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := argOrStdin(cmd, args, 0)
			if err != nil {
				return err
			}
			if len(pin) < 4 {
				return errors.New("PIN must be at least 4 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash PIN: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	})
	return cmd
}

func argOrStdin(cmd *cobra.Command, args []string, i int) (string, error) {
	if len(args) > i {
		return args[i], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read value from stdin: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", errors.New("empty value")
	}
	return value, nil
}
