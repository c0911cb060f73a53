package main

import (
	"fmt"
	"time"

	"github.com/kadohq/kado/internal/config"
	kadoErrors "github.com/kadohq/kado/internal/errors"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long:  `List, delete and garbage-collect persisted sessions.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions",
	Long:  `Display sessions for the current project, most recently updated first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		all, _ := cmd.Flags().GetBool("all")

		projectID := ""
		if !all {
			projectID, err = currentProjectID(c)
			if err != nil {
				return fmt.Errorf("failed to resolve current project: %w", err)
			}
		}

		sessions, err := c.sessions.List(cmd.Context(), projectID)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		fmt.Println("Sessions:")
		for _, s := range sessions {
			held := ""
			if c.locks.IsHeld(s.ID) {
				held = "  [locked]"
			}
			fmt.Printf("- %s  project=%s  turns=%d  updated=%s%s\n",
				s.ID, s.ProjectID, s.TurnCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"), held)
		}

		fmt.Printf("\nTotal: %d session(s)\n", len(sessions))
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a session",
	Long:  `Delete one session and its full turn log.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		sessionID := args[0]

		// Hold the session's own lock across the delete so a concurrent
		// holder can never lose the session mid-operation.
		handle, err := c.locks.Acquire(sessionID, 0)
		if err != nil {
			if kadoErrors.IsCategory(err, kadoErrors.ErrLockBusy) {
				return fmt.Errorf("session '%s' is in use by another kado instance", sessionID)
			}
			return err
		}
		defer c.locks.Release(handle)

		if err := c.sessions.Delete(cmd.Context(), sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}

		fmt.Printf("✓ Session '%s' deleted.\n", sessionID)
		return nil
	},
}

var sessionGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage-collect old sessions",
	Long:  `Delete sessions whose last update is older than the retention window. Sessions held by a live process are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		maxAge, err := config.DurationOrDefault(cfg.Session.GCMaxAge, config.DefaultSessionGCMaxAge)
		if err != nil {
			return err
		}
		if days, _ := cmd.Flags().GetInt("days"); days > 0 {
			maxAge = time.Duration(days) * 24 * time.Hour
		}

		candidates, err := collectableCount(cmd, c, maxAge)
		if err != nil {
			return err
		}
		if candidates == 0 {
			fmt.Println("Nothing to collect.")
			return nil
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			fmt.Printf("About to delete %d session(s) older than %s. Proceed? [y/N] ", candidates, maxAge)
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" && answer != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		removed, err := c.sessions.GC(cmd.Context(), maxAge, sessionGuard(c))
		if err != nil {
			return fmt.Errorf("garbage collection failed: %w", err)
		}

		if removed == 0 {
			fmt.Println("Nothing to collect.")
			return nil
		}
		fmt.Printf("✓ Removed %d session(s) older than %s.\n", removed, maxAge)
		return nil
	},
}

// sessionGuard adapts the lock manager for GC: each candidate delete runs
// with the session's lock held, and a live holder yields LockBusy.
func sessionGuard(c *components) func(sessionID string) (func(), error) {
	return func(sessionID string) (func(), error) {
		handle, err := c.locks.Acquire(sessionID, 0)
		if err != nil {
			return nil, err
		}
		return func() { c.locks.Release(handle) }, nil
	}
}

// collectableCount previews how many sessions the GC would remove. The count
// is advisory; GC re-checks age and locks itself.
func collectableCount(cmd *cobra.Command, c *components, maxAge time.Duration) (int, error) {
	sessions, err := c.sessions.List(cmd.Context(), "")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	count := 0
	for _, s := range sessions {
		if s.UpdatedAt.Before(cutoff) && !c.locks.IsHeld(s.ID) {
			count++
		}
	}
	return count, nil
}

func init() {
	sessionLsCmd.Flags().Bool("all", false, "List sessions across every project")
	sessionGCCmd.Flags().Int("days", 0, "Override retention window in days")
	sessionGCCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")

	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionGCCmd)
	rootCmd.AddCommand(sessionCmd)
}
