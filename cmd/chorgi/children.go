package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chorgi/internal/database"
	"github.com/dukerupert/chorgi/internal/identity"
	"github.com/dukerupert/chorgi/internal/kv"
)

func newChildrenCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "children",
		Short: "Manage signed-in children",
	}
	cmd.AddCommand(newChildrenListCmd(app))
	cmd.AddCommand(newChildrenRemoveCmd(app))
	return cmd
}

func (app *App) withIdentityStore(fn func(*identity.Store) error) error {
	db, err := database.Open(app.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return fn(identity.NewStore(kv.NewSQLiteStore(db), app.logger))
}

func newChildrenListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List children",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withIdentityStore(func(s *identity.Store) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCALENDAR")
				for _, c := range s.List(cmd.Context()) {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Name, c.CalendarID)
				}
				return tw.Flush()
			})
		},
	}
}

func newChildrenRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a child and their calendar selections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withIdentityStore(func(s *identity.Store) error {
				err := s.Remove(cmd.Context(), args[0])
				if errors.Is(err, identity.ErrNotFound) {
					return fmt.Errorf("child %q not found", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}
