package storage

import (
	"context"
	"errors"
	"time"

	"github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
)

// Card represents a flashcard in storage
type Card struct {
	ID        string    `json:"id"`
	DeckID    string    `json:"deck_id"`
	Front     string    `json:"front"`
	Back      string    `json:"back"`
	CreatedAt time.Time `json:"created_at"`
	// SRSLevel is a monotonic mastery counter. It only goes back to zero on reset.
	SRSLevel   int       `json:"srs_level"`
	NextReview time.Time `json:"next_review"`
}

// DeckSettings holds the per-deck scheduling policy.
// A nil SessionSize means no cap; a nil LastSessionCompletedAt means no session was finished yet.
type DeckSettings struct {
	SessionSize            *int       `json:"session_size,omitempty"`
	LastSessionCompletedAt *time.Time `json:"last_session_completed_at,omitempty"`
}

// SettingsPatch is a partial update of DeckSettings. Nil fields are left alone,
// the Clear flags reset a field back to nil.
type SettingsPatch struct {
	SessionSize                 *int
	ClearSessionSize            bool
	LastSessionCompletedAt      *time.Time
	ClearLastSessionCompletedAt bool
}

// Apply returns settings with the patch applied.
func (p SettingsPatch) Apply(settings DeckSettings) DeckSettings {
	out := settings.clone()
	if p.ClearSessionSize {
		out.SessionSize = nil
	} else if p.SessionSize != nil {
		size := *p.SessionSize
		out.SessionSize = &size
	}
	if p.ClearLastSessionCompletedAt {
		out.LastSessionCompletedAt = nil
	} else if p.LastSessionCompletedAt != nil {
		at := *p.LastSessionCompletedAt
		out.LastSessionCompletedAt = &at
	}
	return out
}

func (s DeckSettings) clone() DeckSettings {
	var out DeckSettings
	if s.SessionSize != nil {
		size := *s.SessionSize
		out.SessionSize = &size
	}
	if s.LastSessionCompletedAt != nil {
		at := *s.LastSessionCompletedAt
		out.LastSessionCompletedAt = &at
	}
	return out
}

// Deck groups cards and carries the scheduling settings.
type Deck struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Settings  DeckSettings `json:"settings"`
}

// Review represents one answered card in a review session
type Review struct {
	ID        string      `json:"id"`
	CardID    string      `json:"card_id"`
	DeckID    string      `json:"deck_id"`
	KnewIt    bool        `json:"knew_it"`
	Rating    fsrs.Rating `json:"rating"` // Again=1, Hard=2, Good=3, Easy=4
	Timestamp time.Time   `json:"timestamp"`
}

var (
	// ErrCardNotFound is returned when a card is not found in the storage
	ErrCardNotFound = errors.New("card not found")
	// ErrDeckNotFound is returned when a deck is not found in the storage
	ErrDeckNotFound = errors.New("deck not found")
	// ErrTransient marks I/O failures the caller may retry. Nothing was committed.
	ErrTransient = errors.New("transient storage failure")
	// ErrInvalidSessionSize is returned for a session size below one.
	ErrInvalidSessionSize = errors.New("session size must be at least 1")
)

// DeckStore is the storage contract of the review scheduler.
type DeckStore interface {
	CreateDeck(ctx context.Context, name string, settings DeckSettings) (Deck, error)
	GetDeck(ctx context.Context, deckID string) (Deck, error)
	ListDecks(ctx context.Context) ([]Deck, error)

	CreateCard(ctx context.Context, deckID, front, back string) (Card, error)
	GetCard(ctx context.Context, cardID string) (Card, error)
	DeleteCard(ctx context.Context, cardID string) error
	LoadCards(ctx context.Context, deckID string) ([]Card, error)
	SaveCard(ctx context.Context, card Card) error

	LoadDeckSettings(ctx context.Context, deckID string) (DeckSettings, error)
	SaveDeckSettings(ctx context.Context, deckID string, patch SettingsPatch) (DeckSettings, error)

	// IncrementLevel adds one to the card's level relative to the stored value.
	IncrementLevel(ctx context.Context, cardID string) (Card, error)
	// ResetDeck zeroes every card level, sets next review to now and clears
	// the last completed session, all or nothing.
	ResetDeck(ctx context.Context, deckID string, now time.Time) error

	AddReview(ctx context.Context, review Review) error
	ListReviews(ctx context.Context, deckID string) ([]Review, error)
}

// QuizStore is the per-user key-value contract of the adaptive sampler.
type QuizStore interface {
	LoadWeights(ctx context.Context, quizID string) (map[string]int, error)
	// SaveWeights replaces the weight map. Negative weights are stored as zero.
	SaveWeights(ctx context.Context, quizID string, weights map[string]int) error
	// MergeWeights adds deltas to the stored weights, clamped at zero, in one
	// atomic step, and returns the resulting map.
	MergeWeights(ctx context.Context, quizID string, deltas map[string]int) (map[string]int, error)
	LoadBestScore(ctx context.Context, quizID string) (int, error)
	// SaveBestScore keeps the maximum of the stored and the given score and returns it.
	SaveBestScore(ctx context.Context, quizID string, score int) (int, error)
}

// Storage is implemented by every backend.
type Storage interface {
	DeckStore
	QuizStore
	Close() error
}

// Option configures a storage backend.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock sets the time source used for creation times and defaults.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger of the backend.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validateSettings(settings DeckSettings) error {
	if settings.SessionSize != nil && *settings.SessionSize < 1 {
		return ErrInvalidSessionSize
	}
	return nil
}

func clampWeight(w int) int {
	if w < 0 {
		return 0
	}
	return w
}
