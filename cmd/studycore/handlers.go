package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danieldreier/studycore/internal/sampler"
	"github.com/danieldreier/studycore/internal/scheduler"
	"github.com/danieldreier/studycore/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
)

// jsonResult renders v as an indented JSON text result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func stringArg(request mcp.CallToolRequest, name string) (string, bool) {
	v, ok := request.Params.Arguments[name].(string)
	return v, ok && v != ""
}

// numberArg reads a JSON number argument; JSON numbers decode as float64.
func numberArg(request mcp.CallToolRequest, name string) (int, bool) {
	v, ok := request.Params.Arguments[name].(float64)
	return int(v), ok
}

func missing(name string) *mcp.CallToolResult {
	return mcp.NewToolResultError("Missing required parameter: " + name)
}

// toolError turns a service error into a tool error the client can show.
func (s *StudyService) toolError(action string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, storage.ErrTransient):
		s.Logger.Error("Storage failure", zap.String("action", action), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Error %s: storage temporarily unavailable, please retry", action))
	default:
		s.Logger.Debug("Tool call rejected", zap.String("action", action), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Error %s: %v", action, err))
	}
}

func prompt(card storage.Card, ok bool) *CardPrompt {
	if !ok {
		return nil
	}
	return &CardPrompt{ID: card.ID, Front: card.Front}
}

func question(q sampler.Question, ok bool) *QuizQuestion {
	if !ok {
		return nil
	}
	return &QuizQuestion{ItemID: q.Item.ID, Prompt: q.Item.Prompt, Audio: q.Item.Audio, IsReview: q.IsReview}
}

// handleCreateDeck creates a deck with an optional session size.
func (s *StudyService) handleCreateDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, ok := stringArg(request, "name")
	if !ok {
		return missing("name"), nil
	}
	var settings storage.DeckSettings
	if size, ok := numberArg(request, "session_size"); ok {
		settings.SessionSize = &size
	}
	deck, err := s.Store.CreateDeck(ctx, name, settings)
	if err != nil {
		return s.toolError("creating deck", err), nil
	}
	return jsonResult(DeckResponse{Deck: deck})
}

func (s *StudyService) handleListDecks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decks, err := s.Store.ListDecks(ctx)
	if err != nil {
		return s.toolError("listing decks", err), nil
	}
	return jsonResult(ListDecksResponse{Decks: decks})
}

// handleAddCard adds a card to a deck. New cards are due immediately.
func (s *StudyService) handleAddCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deckID, ok := stringArg(request, "deck_id")
	if !ok {
		return missing("deck_id"), nil
	}
	front, ok := stringArg(request, "front")
	if !ok {
		return missing("front"), nil
	}
	back, ok := stringArg(request, "back")
	if !ok {
		return missing("back"), nil
	}
	card, err := s.Store.CreateCard(ctx, deckID, front, back)
	if err != nil {
		return s.toolError("creating card", err), nil
	}
	return jsonResult(CardResponse{Card: card})
}

func (s *StudyService) handleGetDueCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deckID, ok := stringArg(request, "deck_id")
	if !ok {
		return missing("deck_id"), nil
	}
	due, err := s.Reviews.DueCount(ctx, deckID)
	if err != nil {
		return s.toolError("getting due count", err), nil
	}
	return jsonResult(DueCountResponse{DeckID: deckID, Due: due})
}

// handleStartReview opens a review session and shows the front of the first card.
func (s *StudyService) handleStartReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deckID, ok := stringArg(request, "deck_id")
	if !ok {
		return missing("deck_id"), nil
	}
	id, session, err := s.StartReview(ctx, deckID)
	if err != nil {
		return s.toolError("starting review", err), nil
	}
	response := StartReviewResponse{
		SessionID: id,
		State:     session.State().String(),
		Stats:     session.Stats(),
		Card:      prompt(session.Current()),
	}
	if session.Empty() {
		response.Message = "Nothing to review right now"
	}
	return jsonResult(response)
}

// handleSubmitAnswer records knew_it or a 1-4 rating for the current card.
func (s *StudyService) handleSubmitAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, ok := stringArg(request, "session_id")
	if !ok {
		return missing("session_id"), nil
	}
	cardID, ok := stringArg(request, "card_id")
	if !ok {
		return missing("card_id"), nil
	}

	var rating fsrs.Rating
	if r, ok := numberArg(request, "rating"); ok {
		if r < 1 || r > 4 {
			return mcp.NewToolResultError("Rating must be between 1 and 4"), nil
		}
		rating = fsrs.Rating(r)
	} else if knewIt, ok := request.Params.Arguments["knew_it"].(bool); ok {
		rating = scheduler.RatingFor(knewIt)
	} else {
		return missing("knew_it or rating"), nil
	}

	var response AnswerResponse
	err := s.WithReview(sessionID, func(session *scheduler.Session) error {
		card, err := s.Reviews.AnswerWithRating(ctx, session, cardID, rating)
		if err != nil {
			return err
		}
		response = AnswerResponse{
			KnewIt:   scheduler.KnewIt(rating),
			Card:     card,
			State:    session.State().String(),
			Stats:    session.Stats(),
			NextCard: prompt(session.Current()),
		}
		return nil
	})
	if err != nil {
		return s.toolError("submitting answer", err), nil
	}
	return jsonResult(response)
}

// handleCompleteSession closes today's session for the deck and drops the review session if given.
func (s *StudyService) handleCompleteSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deckID, ok := stringArg(request, "deck_id")
	if !ok {
		return missing("deck_id"), nil
	}
	settings, err := s.Reviews.CompleteSession(ctx, deckID)
	if err != nil {
		return s.toolError("completing session", err), nil
	}
	if sessionID, ok := stringArg(request, "session_id"); ok {
		s.CloseReview(sessionID)
	}
	return jsonResult(SettingsResponse{DeckID: deckID, Settings: settings})
}

func (s *StudyService) handleSetSessionSize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deckID, ok := stringArg(request, "deck_id")
	if !ok {
		return missing("deck_id"), nil
	}
	var size *int
	if n, ok := numberArg(request, "session_size"); ok {
		size = &n
	}
	settings, err := s.Reviews.SetSessionSize(ctx, deckID, size)
	if err != nil {
		return s.toolError("setting session size", err), nil
	}
	return jsonResult(SettingsResponse{DeckID: deckID, Settings: settings})
}

func (s *StudyService) handleResetDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deckID, ok := stringArg(request, "deck_id")
	if !ok {
		return missing("deck_id"), nil
	}
	if err := s.Reviews.ResetDeck(ctx, deckID); err != nil {
		return s.toolError("resetting deck", err), nil
	}
	return jsonResult(SuccessResponse{Success: true, Message: "Progress reset for deck " + deckID})
}

func (s *StudyService) handleDeckProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deckID, ok := stringArg(request, "deck_id")
	if !ok {
		return missing("deck_id"), nil
	}
	progress, err := s.Reviews.Progress(ctx, deckID)
	if err != nil {
		return s.toolError("getting progress", err), nil
	}
	return jsonResult(progress)
}

// handleStartListeningQuiz samples a quiz session and shows the first question.
func (s *StudyService) handleStartListeningQuiz(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	quizID, ok := stringArg(request, "quiz_id")
	if !ok {
		return missing("quiz_id"), nil
	}
	count, _ := numberArg(request, "count")
	id, session, err := s.StartQuiz(ctx, quizID, count)
	if err != nil {
		return s.toolError("starting quiz", err), nil
	}
	_, _, total := session.Progress()
	response := StartQuizResponse{
		SessionID: id,
		Empty:     session.Empty(),
		Total:     total,
		Question:  question(session.Current()),
	}
	if session.Empty() {
		response.Message = "Nothing to study in this quiz"
	}
	return jsonResult(response)
}

func (s *StudyService) handleAnswerListening(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, ok := stringArg(request, "session_id")
	if !ok {
		return missing("session_id"), nil
	}
	// An empty answer is a valid, wrong answer.
	answer, ok := request.Params.Arguments["answer"].(string)
	if !ok {
		return missing("answer"), nil
	}

	var response ListeningAnswerResponse
	err := s.WithQuiz(sessionID, func(session *sampler.QuizSession) error {
		q, _ := session.Current()
		correct, err := session.Answer(answer)
		if err != nil {
			return err
		}
		answered, score, total := session.Progress()
		response = ListeningAnswerResponse{
			Correct:   correct,
			Primary:   q.Item.Primary,
			Romanized: q.Item.Romanized,
			Answered:  answered,
			Score:     score,
			Total:     total,
			Finished:  session.Finished(),
			Next:      question(session.Current()),
		}
		return nil
	})
	if err != nil {
		return s.toolError("answering", err), nil
	}
	return jsonResult(response)
}

func (s *StudyService) handleFinishListeningQuiz(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, ok := stringArg(request, "session_id")
	if !ok {
		return missing("session_id"), nil
	}
	result, err := s.FinishQuiz(ctx, sessionID)
	if err != nil {
		return s.toolError("finishing quiz", err), nil
	}
	return jsonResult(result)
}

// handleDueBadgesResource serves the per-deck due counts.
func (s *StudyService) handleDueBadgesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	list, err := s.DueBadges(ctx)
	if err != nil {
		return nil, fmt.Errorf("error refreshing badges: %w", err)
	}
	jsonBytes, err := json.MarshalIndent(BadgesResponse{Badges: list}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error marshaling badges: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      dueBadgesURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
