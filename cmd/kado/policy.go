package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kadohq/kado/internal/policy"
	"github.com/kadohq/kado/internal/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Exit codes for 'policy check', scriptable like grep's.
const (
	exitAllow   = 0
	exitDeny    = 1
	exitConfirm = 3
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage tool-call policies",
	Long:  `Inspect policy rules and dry-run decisions for tool calls.`,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [tool]",
	Short: "Dry-run a policy decision for a tool",
	Long:  `Resolve a tool call against the loaded rules without blocking for confirmation. Exits 0 on allow, 1 on deny, 3 when confirmation would be required.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		engine, err := openEngine(c.root)
		if err != nil {
			return err
		}

		var input json.RawMessage
		if raw, _ := cmd.Flags().GetString("input"); raw != "" {
			if !json.Valid([]byte(raw)) {
				return fmt.Errorf("--input must be valid JSON")
			}
			input = json.RawMessage(raw)
		}

		decision, err := engine.Resolve(policy.ToolCallRequest{Tool: args[0], Input: input})
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s\n", decision.State, decision.Reason)
		if decision.RuleID != "" {
			fmt.Printf("rule: %s\n", decision.RuleID)
		}

		// os.Exit skips deferred closes; release the store first.
		c.Close()
		os.Exit(exitCodeFor(decision.State))
		return nil
	},
}

func exitCodeFor(state policy.DecisionState) int {
	switch state {
	case policy.DecisionAllow:
		return exitAllow
	case policy.DecisionDeny:
		return exitDeny
	default:
		return exitConfirm
	}
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show loaded policy rules",
	Long:  `Display the merged rule set in resolution order, plus the active mode defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		workspacePolicy := ""
		if wd, err := os.Getwd(); err == nil {
			if projectRoot, ok := findProjectRoot(wd); ok {
				workspacePolicy = store.WorkspacePolicyPath(projectRoot)
			}
		}

		rules, err := policy.LoadStore(store.GlobalPolicyPath(c.root), workspacePolicy)
		if err != nil {
			return err
		}

		fmt.Printf("Mode: %s\n", cfg.Policy.Mode)
		fmt.Printf("Global rules: %s\n", store.GlobalPolicyPath(c.root))
		if workspacePolicy != "" {
			fmt.Printf("Workspace rules: %s\n", workspacePolicy)
		}

		loaded := rules.Rules()
		if len(loaded) == 0 {
			fmt.Println("\nNo rules loaded; mode defaults apply to every tool.")
			return nil
		}

		type ruleView struct {
			Pattern  string `yaml:"pattern"`
			Outcome  string `yaml:"outcome"`
			Priority int    `yaml:"priority"`
			Scope    string `yaml:"scope"`
		}
		views := make([]ruleView, 0, len(loaded))
		for _, r := range loaded {
			views = append(views, ruleView{
				Pattern:  r.Pattern,
				Outcome:  string(r.Outcome),
				Priority: r.Priority,
				Scope:    string(r.Scope),
			})
		}

		out, err := yaml.Marshal(map[string]any{"rules": views})
		if err != nil {
			return err
		}
		fmt.Printf("\n%s", out)
		return nil
	},
}

func init() {
	policyCheckCmd.Flags().String("input", "", "Tool input as a JSON document")

	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}
