package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"tutor-agent/internal/budget"
	"tutor-agent/internal/config"
	"tutor-agent/internal/conversation"
	"tutor-agent/internal/domain"
)

func newChatCommand() *cobra.Command {
	var (
		model       string
		noRAG       bool
		tokenBudget int
	)

	cmd := &cobra.Command{
		Use:     "chat",
		Short:   "Start an interactive tutoring session",
		Example: "tutor chat --model regular",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(tokenBudget)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.DefaultModel = model
			}
			client, err := newOpenAIClient(cfg)
			if err != nil {
				return err
			}

			var opts []conversation.Option
			if !noRAG {
				store, err := openStore(cmd, cfg, client)
				if err != nil {
					slog.Warn("answering from general knowledge only", "err", err)
				} else {
					defer store.Close()
					opts = append(opts, conversation.WithRetriever(store))
				}
			}

			controller, err := conversation.NewController(client, budget.New(budget.NewTiktokenEstimator(cfg.Model()), nil), conversation.Config{
				Model:         cfg.Model(),
				TokenBudget:   cfg.TokenBudget,
				HistoryWindow: cfg.HistoryWindow,
				RetrievalK:    cfg.RetrievalTopK,
			}, opts...)
			if err != nil {
				return err
			}
			return chatLoop(cmd.Context(), controller, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model alias (mini, regular) or model id")
	cmd.Flags().BoolVar(&noRAG, "no-rag", false, "Answer without course documents")
	cmd.Flags().IntVar(&tokenBudget, "budget", 0, "Max tokens sent per request (default from TOKEN_BUDGET)")

	return cmd
}

// chatLoop reads one utterance per line until EOF or "exit". A failed turn
// is reported and the conversation carries on from the previous state.
func chatLoop(ctx context.Context, controller *conversation.Controller, cfg config.Config, in io.Reader, out io.Writer) error {
	state := domain.NewConversationState(conversation.TutorPrompt)
	fmt.Fprintln(out, conversation.Greeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case len([]rune(line)) > cfg.MaxMessageLength:
			fmt.Fprintf(out, "Please keep questions under %d characters.\n", cfg.MaxMessageLength)
			continue
		}

		result, err := controller.Respond(ctx, conversation.Input{State: state, Utterance: line}, out)
		fmt.Fprintln(out)
		if err != nil {
			var genErr *domain.GenerationError
			if !errors.As(err, &genErr) {
				return err
			}
			if genErr.RateLimited() {
				fmt.Fprintln(out, "The tutor is busy right now. Please try again in a moment.")
			} else {
				fmt.Fprintln(out, "Sorry, I could not reach the tutor. Please try again.")
			}
			slog.Debug("turn failed", "err", err)
			continue
		}
		state = result.State
		if result.TokensSent > 0 {
			fmt.Fprintf(out, "Tokens sent to LLM: %d / %d\n", result.TokensSent, cfg.TokenBudget)
		}
	}
}
