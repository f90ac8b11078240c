package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"tutor-agent/handler"
	"tutor-agent/internal/budget"
	"tutor-agent/internal/config"
	"tutor-agent/internal/conversation"
	"tutor-agent/internal/integrations/openai"
	"tutor-agent/internal/integrations/paramstore"
	"tutor-agent/internal/repository"
	"tutor-agent/internal/retrieval"
	"tutor-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.RequireLambda(); err != nil {
		slog.Error("invalid lambda configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	sessions, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithTTL(cfg.SessionTTL))
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Conversation ----
	var controllerOpts []conversation.Option
	if cfg.RetrievalDB != "" {
		store, err := retrieval.Open(ctx, cfg.RetrievalDB, openaiClient, retrieval.WithCollection(cfg.RetrievalCollection))
		if err != nil {
			slog.Warn("course documents unavailable, answering from general knowledge", "path", cfg.RetrievalDB, "err", err)
		} else {
			controllerOpts = append(controllerOpts, conversation.WithRetriever(store))
		}
	}
	controller, err := conversation.NewController(openaiClient, budget.New(budget.NewTiktokenEstimator(cfg.Model()), nil), conversation.Config{
		Model:         cfg.Model(),
		TokenBudget:   cfg.TokenBudget,
		HistoryWindow: cfg.HistoryWindow,
		RetrievalK:    cfg.RetrievalTopK,
	}, controllerOpts...)
	if err != nil {
		slog.Error("failed to create conversation controller", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatOpts := []usecase.ChatOption{usecase.WithMaxMessageLength(cfg.MaxMessageLength)}
	if cfg.ModerationEnabled {
		chatOpts = append(chatOpts, usecase.WithModerator(openaiClient))
	}
	chatService, err := usecase.NewChatService(ssmClient, controller, sessions, cfg.ParamPrefix, chatOpts...)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
