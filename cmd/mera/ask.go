package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mera-ai/mera/internal/pipeline"
	"github.com/mera-ai/mera/internal/research"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Run a query through the research/plan/implement pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		spaceID, _ := cmd.Flags().GetString("space")
		userID, _ := cmd.Flags().GetString("user")
		model, _ := cmd.Flags().GetString("model")
		rawSources, _ := cmd.Flags().GetStringArray("source")
		showPhases, _ := cmd.Flags().GetBool("show-phases")

		sources, err := parseSources(rawSources)
		if err != nil {
			return err
		}

		return withComponents(func(c *components) error {
			if spaceID == "" {
				spaceID = c.State.CurrentSpace()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := c.Pipeline.ProcessQuery(ctx, pipeline.Request{
				TenantID: spaceID,
				UserID:   userID,
				Query:    query,
				Model:    model,
				Sources:  sources,
			})

			if showPhases {
				if result.ResearchDocument != "" {
					fmt.Println("=== Research ===")
					fmt.Println(result.ResearchDocument)
					fmt.Println()
				}
				if result.PlanDocument != "" {
					fmt.Println("=== Plan ===")
					fmt.Println(result.PlanDocument)
					fmt.Println()
				}
				fmt.Println("=== Answer ===")
			}
			fmt.Println(result.Answer)

			if result.Metadata.Error != "" {
				fmt.Fprintf(os.Stderr, "error: %s\n", result.Metadata.Error)
			} else if result.Metadata.TokensUsed > 0 {
				fmt.Fprintf(os.Stderr, "model: %s, tokens used: %d\n", result.Metadata.Model, result.Metadata.TokensUsed)
			}
			return nil
		})
	},
}

// parseSources turns "kind:path" flags into context sources, e.g.
// "file:./docs/onboarding.md" or "url:https://example.com/page".
func parseSources(raw []string) ([]research.Source, error) {
	var sources []research.Source
	for _, r := range raw {
		kindStr, path, found := strings.Cut(r, ":")
		if !found || path == "" {
			return nil, fmt.Errorf("invalid source %q, expected kind:path", r)
		}
		kind, err := research.ParseKind(kindStr)
		if err != nil {
			return nil, err
		}
		sources = append(sources, research.Source{Kind: kind, Path: path})
	}
	return sources, nil
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringP("space", "s", "", "space to run in (default is the current space)")
	askCmd.Flags().StringP("user", "u", "default", "user id for memory and conversation history")
	askCmd.Flags().StringP("model", "m", "", "model override")
	askCmd.Flags().StringArray("source", nil, "context source as kind:path (file, directory, url, api, database, memory); repeatable")
	askCmd.Flags().Bool("show-phases", false, "print the research and plan documents before the answer")
}
