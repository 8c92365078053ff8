package scheduler

import (
	"errors"

	"github.com/danieldreier/studycore/internal/storage"
)

// SessionState is the lifecycle state of a review session.
type SessionState int

const (
	NotStarted SessionState = iota
	InProgress
	Finished
)

func (s SessionState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	}
	return "unknown"
}

var (
	// ErrSessionNotActive is returned when answering a session that is not in progress.
	ErrSessionNotActive = errors.New("session is not in progress")
	// ErrUnexpectedCard is returned when the answered card is not the current one.
	ErrUnexpectedCard = errors.New("answered card is not the current card")
)

// SessionStats are the tallies of a session.
type SessionStats struct {
	Index     int `json:"index"`
	Total     int `json:"total"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
}

// Session walks a fixed due list. It is not safe for concurrent use.
type Session struct {
	DeckID string
	cards  []storage.Card
	state  SessionState

	index     int
	correct   int
	incorrect int
}

// NewSession creates a session over the given due list.
func NewSession(deckID string, due []storage.Card) *Session {
	cards := make([]storage.Card, len(due))
	copy(cards, due)
	return &Session{DeckID: deckID, cards: cards}
}

// Start moves a new session into progress. An empty due list finishes immediately.
func (s *Session) Start() {
	if s.state != NotStarted {
		return
	}
	s.state = InProgress
	s.finishIfDone()
}

// Restart clears the tallies and begins again at the first card.
func (s *Session) Restart() {
	s.state = NotStarted
	s.index, s.correct, s.incorrect = 0, 0, 0
	s.Start()
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Empty reports whether there was nothing to review.
func (s *Session) Empty() bool { return len(s.cards) == 0 }

// Cards returns the due list of the session.
func (s *Session) Cards() []storage.Card {
	out := make([]storage.Card, len(s.cards))
	copy(out, s.cards)
	return out
}

// Current returns the card to answer next.
func (s *Session) Current() (storage.Card, bool) {
	if s.state != InProgress {
		return storage.Card{}, false
	}
	return s.cards[s.index], true
}

// Stats returns the session tallies.
func (s *Session) Stats() SessionStats {
	return SessionStats{Index: s.index, Total: len(s.cards), Correct: s.correct, Incorrect: s.incorrect}
}

// check validates an answer without changing the session.
func (s *Session) check(cardID string) error {
	current, ok := s.Current()
	if !ok {
		return ErrSessionNotActive
	}
	if current.ID != cardID {
		return ErrUnexpectedCard
	}
	return nil
}

// Answer records an answer for the current card and advances.
func (s *Session) Answer(cardID string, knewIt bool) error {
	if err := s.check(cardID); err != nil {
		return err
	}
	s.advance(RecordAnswer(s.cards[s.index], knewIt), knewIt)
	return nil
}

func (s *Session) advance(updated storage.Card, knewIt bool) {
	s.cards[s.index] = updated
	if knewIt {
		s.correct++
	} else {
		s.incorrect++
	}
	s.index++
	s.finishIfDone()
}

func (s *Session) finishIfDone() {
	if s.index == len(s.cards) {
		s.state = Finished
	}
}
