package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the project registry",
	Long:  `Resolve workspace paths to stable project IDs and inspect the registry.`,
}

var projectResolveCmd = &cobra.Command{
	Use:   "resolve [path]",
	Short: "Resolve a workspace path to its project ID",
	Long:  `Canonicalize a workspace path and print its short project ID, registering it on first use. Defaults to the current project root.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			if root, ok := findProjectRoot(wd); ok {
				path = root
			} else {
				path = wd
			}
		}

		shortID, err := c.registry.Resolve(path)
		if err != nil {
			return fmt.Errorf("failed to resolve project: %w", err)
		}

		fmt.Println(shortID)
		return nil
	},
}

var projectLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered projects",
	Long:  `Display every registered project with its short ID and workspace path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		projects, err := c.registry.List()
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}

		if len(projects) == 0 {
			fmt.Println("No projects registered yet.")
			fmt.Println("\nRun 'kado project resolve' inside a workspace to register it.")
			return nil
		}

		fmt.Println("Registered Projects:")
		for _, p := range projects {
			fmt.Printf("- %s  %s  (last used %s)\n",
				p.ShortID, p.WorkspaceKey, p.LastAccessedAt.Local().Format("2006-01-02 15:04"))
		}

		fmt.Printf("\nTotal: %d project(s)\n", len(projects))
		return nil
	},
}

var projectRmCmd = &cobra.Command{
	Use:   "rm [short-id]",
	Short: "Remove a project from the registry",
	Long:  `Delete a registry entry by short ID. Sessions recorded for the project are kept until garbage collection.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.registry.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to remove project: %w", err)
		}

		fmt.Printf("✓ Project '%s' removed.\n", args[0])
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectResolveCmd)
	projectCmd.AddCommand(projectLsCmd)
	projectCmd.AddCommand(projectRmCmd)
	rootCmd.AddCommand(projectCmd)
}
