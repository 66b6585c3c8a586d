package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/muse/pkg/muse/reminder"
	"github.com/jholhewres/muse/pkg/muse/store"
)

// newRemindersCmd creates `muse reminders` for inspecting pending reminders.
func newRemindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reminders",
		Aliases: []string{"remind"},
		Short:   "Inspect pending reminders",
	}
	cmd.AddCommand(newRemindersListCmd(), newRemindersDeleteCmd())
	return cmd
}

func newRemindersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending reminders",
		Long: `List pending reminders in the local time they were set with.

Examples:
  muse reminders list
  muse reminders list --user 123456789012345678`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				var (
					rs  []store.Reminder
					err error
				)
				if user != "" {
					rs, err = st.ListReminders(ctx, user)
				} else {
					rs, err = st.AllReminders(ctx)
				}
				if err != nil {
					return err
				}
				if len(rs) == 0 {
					fmt.Println("No pending reminders.")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tLOCAL TIME\tUTC\tMESSAGE")
				for _, r := range rs {
					fmt.Fprintf(w, "%s\t%s (UTC%+d)\t%s\t%s\n",
						r.UserID, reminder.LocalString(r.UTCDate, r.TimezoneOffset), r.TimezoneOffset, r.UTCDate, r.Message)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().String("user", "", "only show reminders of this user id")
	return cmd
}

func newRemindersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user> <index>",
		Short: "Delete a user's reminder by its list position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pos int
			if _, err := fmt.Sscanf(args[1], "%d", &pos); err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				ok, err := st.DeleteReminderAt(ctx, args[0], pos)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("user %s has no reminder #%d", args[0], pos)
				}
				fmt.Printf("Reminder #%d deleted.\n", pos)
				return nil
			})
		},
	}
}

// withStore opens the configured database for a one-off command.
func withStore(cmd *cobra.Command, fn func(context.Context, *store.Store) error) error {
	logger := discardLogger()
	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cmd.Context(), st)
}
