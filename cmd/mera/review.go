package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mera-ai/mera/internal/review"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and resolve pending review tasks",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending review tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		spaceID, _ := cmd.Flags().GetString("space")

		return withComponents(func(c *components) error {
			tasks, err := c.Gate.Store().ListPending(context.Background(), spaceID)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No pending reviews.")
				return nil
			}

			for _, t := range tasks {
				preview := t.Content
				if len(preview) > 80 {
					preview = preview[:80] + "..."
				}
				fmt.Printf("%s  [%s] %s\n    %s\n", t.ID, t.Phase, t.TenantID, preview)
			}
			return nil
		})
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a pending review task",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveReview(review.StatusApproved),
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <task-id>",
	Short: "Reject a pending review task",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveReview(review.StatusRejected),
}

func resolveReview(status review.Status) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")

		return withComponents(func(c *components) error {
			ctx := context.Background()
			task, err := c.Gate.Store().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if task == nil {
				return fmt.Errorf("review task not found: %s", args[0])
			}

			if err := c.Gate.Store().SetStatus(ctx, args[0], status, notes, time.Now()); err != nil {
				return err
			}
			fmt.Printf("Task %s: %s\n", args[0], status)
			return nil
		})
	}
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewApproveCmd, reviewRejectCmd)

	reviewListCmd.Flags().StringP("space", "s", "", "filter by space")
	reviewApproveCmd.Flags().String("notes", "", "reviewer notes")
	reviewRejectCmd.Flags().String("notes", "", "reviewer notes")
}
