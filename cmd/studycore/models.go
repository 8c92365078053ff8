// Package main provides the study MCP server.
package main

import (
	"github.com/danieldreier/studycore/internal/badges"
	"github.com/danieldreier/studycore/internal/scheduler"
	"github.com/danieldreier/studycore/internal/storage"
)

// CardPrompt is the front side of a card, shown before the learner answers.
type CardPrompt struct {
	ID    string `json:"id"`
	Front string `json:"front"`
}

// DeckResponse represents the response structure for create_deck
type DeckResponse struct {
	Deck storage.Deck `json:"deck"`
}

// ListDecksResponse represents the response structure for list_decks
type ListDecksResponse struct {
	Decks []storage.Deck `json:"decks"`
}

// CardResponse represents the response structure for add_card
type CardResponse struct {
	Card storage.Card `json:"card"`
}

// DueCountResponse represents the response structure for get_due_count
type DueCountResponse struct {
	DeckID string `json:"deck_id"`
	Due    int    `json:"due"`
}

// StartReviewResponse represents the response structure for start_review
type StartReviewResponse struct {
	SessionID string                 `json:"session_id"`
	State     string                 `json:"state"`
	Stats     scheduler.SessionStats `json:"stats"`
	Card      *CardPrompt            `json:"card,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// AnswerResponse represents the response structure for submit_answer
type AnswerResponse struct {
	KnewIt   bool                   `json:"knew_it"`
	Card     storage.Card           `json:"card"`
	State    string                 `json:"state"`
	Stats    scheduler.SessionStats `json:"stats"`
	NextCard *CardPrompt            `json:"next_card,omitempty"`
}

// SettingsResponse represents the response structure for complete_session and set_session_size
type SettingsResponse struct {
	DeckID   string               `json:"deck_id"`
	Settings storage.DeckSettings `json:"settings"`
}

// SuccessResponse is a plain acknowledgement.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// QuizQuestion is a question without its answer.
type QuizQuestion struct {
	ItemID   string `json:"item_id"`
	Prompt   string `json:"prompt,omitempty"`
	Audio    string `json:"audio,omitempty"`
	IsReview bool   `json:"is_review"`
}

// StartQuizResponse represents the response structure for start_listening_quiz
type StartQuizResponse struct {
	SessionID string        `json:"session_id"`
	Empty     bool          `json:"empty"`
	Total     int           `json:"total"`
	Question  *QuizQuestion `json:"question,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// ListeningAnswerResponse represents the response structure for answer_listening
type ListeningAnswerResponse struct {
	Correct   bool          `json:"correct"`
	Primary   string        `json:"primary"`
	Romanized string        `json:"romanized,omitempty"`
	Answered  int           `json:"answered"`
	Score     int           `json:"correct_count"`
	Total     int           `json:"total"`
	Finished  bool          `json:"finished"`
	Next      *QuizQuestion `json:"next,omitempty"`
}

// BadgesResponse is the body of the decks://due-badges resource.
type BadgesResponse struct {
	Badges []badges.Badge `json:"badges"`
}
