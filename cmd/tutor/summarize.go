package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tutor-agent/internal/budget"
	"tutor-agent/internal/usecase"
)

func newSummarizeCommand() *cobra.Command {
	var (
		style       string
		model       string
		tokenBudget int
	)

	cmd := &cobra.Command{
		Use:     "summarize FILE",
		Short:   "Stream a summary of a text or markdown document",
		Example: "tutor summarize chapter1.md --style bullets",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summaryStyle, err := usecase.ParseSummaryStyle(style)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(tokenBudget)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.DefaultModel = model
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			client, err := newOpenAIClient(cfg)
			if err != nil {
				return err
			}

			svc, err := usecase.NewSummaryService(client, budget.New(budget.NewTiktokenEstimator(cfg.Model()), nil), cfg.TokenBudget, cfg.Model(), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := svc.Summarize(cmd.Context(), usecase.SummaryInput{Document: string(raw), Style: summaryStyle}, out); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&style, "style", "s", string(usecase.SummaryWords), "Summary style: words, paragraphs or bullets")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model alias (mini, regular) or model id")
	cmd.Flags().IntVar(&tokenBudget, "budget", 0, "Max tokens sent (default from TOKEN_BUDGET)")

	return cmd
}
