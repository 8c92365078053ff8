package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danieldreier/studycore/internal/storage"
	"github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
)

// Service runs review sessions against a deck store.
type Service struct {
	Store  storage.DeckStore
	Logger *zap.Logger
	// Now is the time source for due computation and the daily gate.
	Now func() time.Time

	completeMu sync.Mutex
}

// NewService creates a new Service
func NewService(store storage.DeckStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Store: store, Logger: logger, Now: time.Now}
}

func (s *Service) load(ctx context.Context, deckID string) ([]storage.Card, storage.DeckSettings, error) {
	cards, err := s.Store.LoadCards(ctx, deckID)
	if err != nil {
		return nil, storage.DeckSettings{}, fmt.Errorf("error loading cards for deck %s: %w", deckID, err)
	}
	settings, err := s.Store.LoadDeckSettings(ctx, deckID)
	if err != nil {
		return nil, storage.DeckSettings{}, fmt.Errorf("error loading settings for deck %s: %w", deckID, err)
	}
	return cards, settings, nil
}

// DueCount returns the number of cards the learner is offered now.
func (s *Service) DueCount(ctx context.Context, deckID string) (int, error) {
	cards, settings, err := s.load(ctx, deckID)
	if err != nil {
		return 0, err
	}
	count := ComputeDueCount(cards, settings, s.Now())
	s.Logger.Debug("Computed due count", zap.String("deck_id", deckID), zap.Int("cards", len(cards)), zap.Int("due", count))
	return count, nil
}

// StartSession builds a session over the deck's current due list.
func (s *Service) StartSession(ctx context.Context, deckID string) (*Session, error) {
	cards, settings, err := s.load(ctx, deckID)
	if err != nil {
		return nil, err
	}
	session := NewSession(deckID, DueCards(cards, settings, s.Now()))
	session.Start()
	s.Logger.Debug("Review session started",
		zap.String("deck_id", deckID),
		zap.Int("due", len(session.cards)),
		zap.Stringer("state", session.State()))
	return session, nil
}

// Answer records a knew-it/missed answer for the session's current card.
func (s *Service) Answer(ctx context.Context, session *Session, cardID string, knewIt bool) (storage.Card, error) {
	return s.AnswerWithRating(ctx, session, cardID, RatingFor(knewIt))
}

// AnswerWithRating records a recall rating for the session's current card.
// Good and Easy raise the card's level through the store's atomic increment.
// The session only advances once the store accepted the answer.
func (s *Service) AnswerWithRating(ctx context.Context, session *Session, cardID string, rating fsrs.Rating) (storage.Card, error) {
	if err := session.check(cardID); err != nil {
		return storage.Card{}, err
	}
	knewIt := KnewIt(rating)
	card := session.cards[session.index]

	if knewIt {
		updated, err := s.Store.IncrementLevel(ctx, cardID)
		if err != nil {
			s.Logger.Error("Error raising card level", zap.String("card_id", cardID), zap.Error(err))
			return storage.Card{}, fmt.Errorf("error updating card %s: %w", cardID, err)
		}
		card = updated
	}

	review := storage.Review{
		CardID:    cardID,
		DeckID:    session.DeckID,
		KnewIt:    knewIt,
		Rating:    rating,
		Timestamp: s.Now(),
	}
	if err := s.Store.AddReview(ctx, review); err != nil {
		// The level change is already committed, keep the session in step with it.
		s.Logger.Warn("Failed to record review", zap.String("card_id", cardID), zap.Error(err))
	}

	session.advance(card, knewIt)
	s.Logger.Debug("Answer recorded",
		zap.String("card_id", cardID),
		zap.Bool("knew_it", knewIt),
		zap.Int("srs_level", card.SRSLevel),
		zap.Stringer("state", session.State()))
	return card, nil
}

// CompleteSession marks today's session for the deck as done. A second call
// on the same calendar day keeps the first timestamp.
func (s *Service) CompleteSession(ctx context.Context, deckID string) (storage.DeckSettings, error) {
	s.completeMu.Lock()
	defer s.completeMu.Unlock()

	now := s.Now()
	settings, err := s.Store.LoadDeckSettings(ctx, deckID)
	if err != nil {
		return storage.DeckSettings{}, fmt.Errorf("error loading settings for deck %s: %w", deckID, err)
	}
	if settings.LastSessionCompletedAt != nil && SameDay(*settings.LastSessionCompletedAt, now) {
		s.Logger.Debug("Session already completed today", zap.String("deck_id", deckID))
		return settings, nil
	}
	settings, err = s.Store.SaveDeckSettings(ctx, deckID, storage.SettingsPatch{LastSessionCompletedAt: &now})
	if err != nil {
		s.Logger.Error("Error completing session", zap.String("deck_id", deckID), zap.Error(err))
		return storage.DeckSettings{}, fmt.Errorf("error saving settings for deck %s: %w", deckID, err)
	}
	return settings, nil
}

// ResetDeck zeroes all mastery in the deck and reopens today's session.
// Either every card is reset or none is.
func (s *Service) ResetDeck(ctx context.Context, deckID string) error {
	if err := s.Store.ResetDeck(ctx, deckID, s.Now()); err != nil {
		s.Logger.Error("Error resetting deck", zap.String("deck_id", deckID), zap.Error(err))
		return fmt.Errorf("error resetting deck %s: %w", deckID, err)
	}
	s.Logger.Info("Deck progress reset", zap.String("deck_id", deckID))
	return nil
}

// SetSessionSize changes the per-session cap. Nil removes the cap.
func (s *Service) SetSessionSize(ctx context.Context, deckID string, size *int) (storage.DeckSettings, error) {
	patch := storage.SettingsPatch{SessionSize: size, ClearSessionSize: size == nil}
	settings, err := s.Store.SaveDeckSettings(ctx, deckID, patch)
	if err != nil {
		return storage.DeckSettings{}, fmt.Errorf("error saving settings for deck %s: %w", deckID, err)
	}
	return settings, nil
}

// DeckProgress is the progress widget data of a deck.
type DeckProgress struct {
	Progress
	Offered      int     `json:"offered"`
	ReviewsToday int     `json:"reviews_today"`
	AccuracyPct  float64 `json:"accuracy_pct"`
}

// Progress summarizes mastery, today's offer and today's review accuracy.
func (s *Service) Progress(ctx context.Context, deckID string) (DeckProgress, error) {
	cards, settings, err := s.load(ctx, deckID)
	if err != nil {
		return DeckProgress{}, err
	}
	now := s.Now()
	p := DeckProgress{
		Progress: Summarize(cards, now),
		Offered:  ComputeDueCount(cards, settings, now),
	}

	reviews, err := s.Store.ListReviews(ctx, deckID)
	if err != nil {
		s.Logger.Warn("Error listing reviews for progress", zap.String("deck_id", deckID), zap.Error(err))
		return p, nil
	}
	correct := 0
	for _, review := range reviews {
		if SameDay(review.Timestamp, now) {
			p.ReviewsToday++
			if review.KnewIt {
				correct++
			}
		}
	}
	if p.ReviewsToday > 0 {
		p.AccuracyPct = float64(correct) / float64(p.ReviewsToday) * 100.0
	}
	return p, nil
}
