package main

import (
	"context"
	"fmt"
	"os"

	"github.com/danieldreier/studycore/internal/config"
	"github.com/danieldreier/studycore/internal/itembank"
	"github.com/danieldreier/studycore/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const dueBadgesURI = "decks://due-badges"

const studyServerInfo = `
This is a study server for language learners with two activities.

1. FLASHCARD REVIEW:
   - Call get_due_count to see how many cards are offered today, then start_review.
   - Show ONLY the front of the card. Never reveal the back before the learner answers.
   - After the learner answers, show the back and call submit_answer with knew_it,
     or with a 1-4 rating (Again=1, Hard=2, Good=3, Easy=4) when you can judge recall.
   - When the session is finished, call complete_session. The deck then shows no due
     cards until tomorrow, even if more become due.
   - Mastery only grows. A miss leaves a card where it was; reset_deck starts over.

2. LISTENING QUIZ:
   - start_listening_quiz picks questions, favoring items the learner missed before.
   - Play or show the prompt, collect the typed answer and call answer_listening.
   - Call finish_listening_quiz once every question is answered to save progress.
   - An empty quiz means there is nothing to study. It is not a failed quiz.

Keep an encouraging tone and celebrate finished sessions! 🎉
`

// newLogger builds a development logger on stderr; stdout carries the MCP transport.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// openStorage opens the configured backend.
func openStorage(cfg config.StorageConfig, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Backend {
	case "sqlite":
		sqlStorage, err := storage.OpenSQLite(cfg.Path, storage.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return sqlStorage, nil
	default:
		fileStorage := storage.NewFileStorage(cfg.Path, storage.WithLogger(logger))
		if err := fileStorage.Load(); err != nil {
			return nil, err
		}
		return fileStorage, nil
	}
}

// newServer registers every tool and resource of svc.
func newServer(svc *StudyService) *server.MCPServer {
	s := server.NewMCPServer(
		"Study MCP",
		"1.0.0",
		server.WithInstructions(studyServerInfo),
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	s.AddTool(mcp.NewTool("create_deck",
		mcp.WithDescription("Create a new deck of flashcards."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("The name of the deck"),
		),
		mcp.WithNumber("session_size",
			mcp.Description("Maximum cards per session, at least 1. Omit for no cap."),
		),
	), svc.handleCreateDeck)

	s.AddTool(mcp.NewTool("list_decks",
		mcp.WithDescription("List all decks with their settings."),
	), svc.handleListDecks)

	s.AddTool(mcp.NewTool("add_card",
		mcp.WithDescription("Add a flashcard to a deck. New cards are due right away."),
		mcp.WithString("deck_id",
			mcp.Required(),
			mcp.Description("The ID of the deck"),
		),
		mcp.WithString("front",
			mcp.Required(),
			mcp.Description("The front text of the card"),
		),
		mcp.WithString("back",
			mcp.Required(),
			mcp.Description("The back text of the card"),
		),
	), svc.handleAddCard)

	s.AddTool(mcp.NewTool("get_due_count",
		mcp.WithDescription("Get how many cards of a deck are offered for review right now."),
		mcp.WithString("deck_id",
			mcp.Required(),
			mcp.Description("The ID of the deck"),
		),
	), svc.handleGetDueCount)

	s.AddTool(mcp.NewTool("start_review",
		mcp.WithDescription(
			"Start a review session over the deck's due cards. "+
				"Returns the FRONT of the first card only. Do not reveal the back yet.",
		),
		mcp.WithString("deck_id",
			mcp.Required(),
			mcp.Description("The ID of the deck"),
		),
	), svc.handleStartReview)

	s.AddTool(mcp.NewTool("submit_answer",
		mcp.WithDescription(
			"Record the learner's answer to the current card and get the next card. "+
				"Pass knew_it, or a rating from 1-4: Again=1, Hard=2, Good=3, Easy=4. "+
				"Good and Easy count as knowing the card.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The review session ID from start_review"),
		),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card being answered"),
		),
		mcp.WithBoolean("knew_it",
			mcp.Description("Whether the learner knew the answer"),
		),
		mcp.WithNumber("rating",
			mcp.Description("Rating from 1-4: Again=1, Hard=2, Good=3, Easy=4"),
		),
	), svc.handleSubmitAnswer)

	s.AddTool(mcp.NewTool("complete_session",
		mcp.WithDescription("Mark today's review session of a deck as done."),
		mcp.WithString("deck_id",
			mcp.Required(),
			mcp.Description("The ID of the deck"),
		),
		mcp.WithString("session_id",
			mcp.Description("The review session to close"),
		),
	), svc.handleCompleteSession)

	s.AddTool(mcp.NewTool("set_session_size",
		mcp.WithDescription("Change the maximum number of cards per session of a deck."),
		mcp.WithString("deck_id",
			mcp.Required(),
			mcp.Description("The ID of the deck"),
		),
		mcp.WithNumber("session_size",
			mcp.Description("Maximum cards per session, at least 1. Omit to remove the cap."),
		),
	), svc.handleSetSessionSize)

	s.AddTool(mcp.NewTool("reset_deck",
		mcp.WithDescription("Reset all progress of a deck. Confirm with the learner first."),
		mcp.WithString("deck_id",
			mcp.Required(),
			mcp.Description("The ID of the deck"),
		),
	), svc.handleResetDeck)

	s.AddTool(mcp.NewTool("deck_progress",
		mcp.WithDescription("Get mastery counts and today's review accuracy for a deck."),
		mcp.WithString("deck_id",
			mcp.Required(),
			mcp.Description("The ID of the deck"),
		),
	), svc.handleDeckProgress)

	s.AddTool(mcp.NewTool("start_listening_quiz",
		mcp.WithDescription("Start a listening quiz. Items the learner missed before come up more often."),
		mcp.WithString("quiz_id",
			mcp.Required(),
			mcp.Description("The quiz ID, the item bank file name without extension"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of questions, defaults to the configured session length"),
		),
	), svc.handleStartListeningQuiz)

	s.AddTool(mcp.NewTool("answer_listening",
		mcp.WithDescription("Check the learner's typed answer to the current listening question."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The quiz session ID from start_listening_quiz"),
		),
		mcp.WithString("answer",
			mcp.Required(),
			mcp.Description("The answer as typed by the learner"),
		),
	), svc.handleAnswerListening)

	s.AddTool(mcp.NewTool("finish_listening_quiz",
		mcp.WithDescription("Save the results of a finished listening quiz and get the score."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The quiz session ID"),
		),
	), svc.handleFinishListeningQuiz)

	s.AddResource(mcp.NewResource(dueBadgesURI, "Due badges",
		mcp.WithResourceDescription("Number of cards offered today for every deck"),
		mcp.WithMIMEType("application/json"),
	), svc.handleDueBadgesResource)

	return s
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer logger.Sync()

	store, err := openStorage(cfg.Storage, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("error loading storage: %w", err)
	}
	defer store.Close()

	banks := map[string]itembank.Bank{}
	if cfg.Quiz.BankDir != "" {
		banks, err = itembank.LoadDir(cfg.Quiz.BankDir, logger.Named("itembank"))
		if err != nil {
			return fmt.Errorf("error loading item banks: %w", err)
		}
	}

	svc := NewStudyService(store, banks, cfg.Quiz.SessionLength, logger)
	if cfg.Badges.Interval > 0 {
		if err := svc.Badges.Start(cfg.Badges.Interval); err != nil {
			return err
		}
		defer svc.Badges.Stop()
	} else {
		svc.LiveBadges = true
		if err := svc.Badges.Refresh(context.Background()); err != nil {
			logger.Warn("Initial badge refresh failed", zap.Error(err))
		}
	}

	logger.Info("Starting study server",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("path", cfg.Storage.Path),
		zap.Int("quizzes", len(banks)))
	return server.ServeStdio(newServer(svc))
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
