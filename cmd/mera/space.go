package main

import (
	"context"
	"fmt"

	"github.com/mera-ai/mera/internal/space"

	"github.com/spf13/cobra"
)

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Manage isolated spaces and their budgets",
}

var spaceCreateCmd = &cobra.Command{
	Use:   "create <space-id>",
	Short: "Create a new space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		owner, _ := cmd.Flags().GetString("owner")
		tokenBudget, _ := cmd.Flags().GetInt("token-budget")
		apiBudget, _ := cmd.Flags().GetInt("api-budget")
		model, _ := cmd.Flags().GetString("model")

		return withComponents(func(c *components) error {
			created, err := c.Spaces.Create(context.Background(), space.Config{
				TenantID:             args[0],
				Name:                 name,
				OwnerID:              owner,
				MonthlyTokenBudget:   tokenBudget,
				MonthlyAPICallBudget: apiBudget,
				PreferredModel:       model,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Space created: %s (vault %s, token budget %d/month)\n",
				created.TenantID, created.VaultPath, created.MonthlyTokenBudget)
			return nil
		})
	},
}

var spaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		return withComponents(func(c *components) error {
			spaces, err := c.Spaces.List(context.Background(), owner)
			if err != nil {
				return err
			}
			if len(spaces) == 0 {
				fmt.Println("No spaces.")
				return nil
			}

			current := c.State.CurrentSpace()
			for _, s := range spaces {
				marker := " "
				if s.TenantID == current {
					marker = "*"
				}
				usage, err := c.Spaces.GetUsage(context.Background(), s.TenantID, "")
				if err != nil {
					return err
				}
				fmt.Printf("%s %-16s %-10s owner=%s tokens=%d/%d\n",
					marker, s.TenantID, s.Status, s.OwnerID, usage.TokensUsed, s.MonthlyTokenBudget)
			}
			return nil
		})
	},
}

var spaceSwitchCmd = &cobra.Command{
	Use:   "switch <space-id>",
	Short: "Make a space the default for ask",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(c *components) error {
			if _, err := c.Spaces.Switch(context.Background(), args[0]); err != nil {
				return err
			}
			if err := c.State.SetCurrentSpace(args[0]); err != nil {
				return err
			}
			fmt.Printf("Switched to space: %s\n", args[0])
			return nil
		})
	},
}

var spaceArchiveCmd = &cobra.Command{
	Use:   "archive <space-id>",
	Short: "Archive a space (soft delete; data is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(c *components) error {
			if err := c.Spaces.Archive(context.Background(), args[0]); err != nil {
				return err
			}
			if c.State.CurrentSpace() == args[0] {
				if err := c.State.SetCurrentSpace(""); err != nil {
					return err
				}
			}
			fmt.Printf("Space archived: %s\n", args[0])
			return nil
		})
	},
}

var spaceUsageCmd = &cobra.Command{
	Use:   "usage <space-id>",
	Short: "Show a space's usage for a month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		return withComponents(func(c *components) error {
			cfg, err := c.Spaces.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			usage, err := c.Spaces.GetUsage(context.Background(), args[0], month)
			if err != nil {
				return err
			}
			fmt.Printf("Space %s, %s:\n", usage.TenantID, usage.Month)
			fmt.Printf("  tokens:    %d / %d (%d remaining)\n", usage.TokensUsed, cfg.MonthlyTokenBudget, usage.BudgetRemaining(cfg))
			fmt.Printf("  api calls: %d / %d\n", usage.APICalls, cfg.MonthlyAPICallBudget)
			fmt.Printf("  cost:      $%.4f\n", usage.CostUSD)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(spaceCmd)
	spaceCmd.AddCommand(spaceCreateCmd, spaceListCmd, spaceSwitchCmd, spaceArchiveCmd, spaceUsageCmd)

	spaceCreateCmd.Flags().String("name", "", "display name")
	spaceCreateCmd.Flags().String("owner", "default", "owner id")
	spaceCreateCmd.Flags().Int("token-budget", space.DefaultMonthlyTokenBudget, "monthly token budget")
	spaceCreateCmd.Flags().Int("api-budget", space.DefaultMonthlyAPICallBudget, "monthly api call budget")
	spaceCreateCmd.Flags().String("model", "", "preferred model for this space")

	spaceListCmd.Flags().String("owner", "", "filter by owner id")

	spaceUsageCmd.Flags().String("month", "", `month as "YYYY-MM" (default is the current month)`)
}
