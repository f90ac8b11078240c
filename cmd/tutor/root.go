package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tutor-agent/internal/config"
	"tutor-agent/internal/integrations/openai"
	"tutor-agent/internal/retrieval"
)

func newRootCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:          "tutor",
		Short:        "Kid-friendly tutoring assistant",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	cmd.AddCommand(
		newChatCommand(),
		newIngestCommand(),
		newSummarizeCommand(),
	)
	return cmd
}

// loadConfig reads the environment and applies a positive budget override.
func loadConfig(budgetOverride int) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if budgetOverride > 0 {
		cfg.TokenBudget = budgetOverride
	}
	return cfg, nil
}

func newOpenAIClient(cfg config.Config) (*openai.Client, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	return openai.NewClient(nil, "",
		openai.WithAPIKey(cfg.OpenAIAPIKey),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
}

func openStore(cmd *cobra.Command, cfg config.Config, embedder retrieval.Embedder) (*retrieval.Store, error) {
	if strings.TrimSpace(cfg.RetrievalDB) == "" {
		return nil, errors.New("RETRIEVAL_DB is empty")
	}
	store, err := retrieval.Open(cmd.Context(), cfg.RetrievalDB, embedder,
		retrieval.WithCollection(cfg.RetrievalCollection),
		retrieval.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("open course documents: %w", err)
	}
	return store, nil
}
