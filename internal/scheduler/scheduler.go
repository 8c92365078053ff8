// Package scheduler decides which cards of a deck are due, how many of them a
// session shows, and how mastery moves when a card is answered.
//
// Mastery is a single counter per card. Answering "knew it" raises it by one,
// a miss leaves it alone, and only a deck reset brings it back to zero. Review
// dates never move into the future, so due computation reduces to a daily
// completion gate plus a per-deck session cap.
package scheduler

import (
	"sort"
	"time"

	"github.com/danieldreier/studycore/internal/storage"
	"github.com/open-spaced-repetition/go-fsrs"
)

// MasteryThreshold is the level at which a card counts as mastered.
const MasteryThreshold = 5

// Mastery classifies a card by its level.
type Mastery int

const (
	New Mastery = iota
	Learning
	Mastered
)

func (m Mastery) String() string {
	switch m {
	case New:
		return "new"
	case Learning:
		return "learning"
	case Mastered:
		return "mastered"
	}
	return "unknown"
}

// MasteryOf classifies a mastery level.
func MasteryOf(level int) Mastery {
	switch {
	case level >= MasteryThreshold:
		return Mastered
	case level > 0:
		return Learning
	default:
		return New
	}
}

// IsDue reports whether the card's review time is at or before now.
func IsDue(card storage.Card, now time.Time) bool {
	return !card.NextReview.After(now)
}

// SameDay reports whether t falls on the same calendar day as now, in now's location.
func SameDay(t, now time.Time) bool {
	y1, m1, d1 := t.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func countDue(cards []storage.Card, now time.Time) int {
	due := 0
	for _, card := range cards {
		if IsDue(card, now) {
			due++
		}
	}
	return due
}

// ComputeDueCount returns how many cards the learner is offered now.
// The result is always between zero and the number of due cards.
func ComputeDueCount(cards []storage.Card, settings storage.DeckSettings, now time.Time) int {
	actualDue := countDue(cards, now)
	// A session already finished today suppresses the count, even for cards that became due since.
	if settings.LastSessionCompletedAt != nil && SameDay(*settings.LastSessionCompletedAt, now) && actualDue > 0 {
		return 0
	}
	if settings.SessionSize != nil && *settings.SessionSize >= 0 && actualDue > *settings.SessionSize {
		return *settings.SessionSize
	}
	return actualDue
}

// DueCards returns the cards a session should present, oldest review time
// first, truncated to ComputeDueCount.
func DueCards(cards []storage.Card, settings storage.DeckSettings, now time.Time) []storage.Card {
	limit := ComputeDueCount(cards, settings, now)
	due := make([]storage.Card, 0, limit)
	for _, card := range cards {
		if IsDue(card, now) {
			due = append(due, card)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].NextReview.Equal(due[j].NextReview) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextReview.Before(due[j].NextReview)
	})
	return due[:limit]
}

// RecordAnswer returns the card after an answer. A miss leaves mastery unchanged.
func RecordAnswer(card storage.Card, knewIt bool) storage.Card {
	if knewIt {
		card.SRSLevel++
	}
	return card
}

// ResetProgress returns copies of cards with mastery zeroed and due now.
func ResetProgress(cards []storage.Card, now time.Time) []storage.Card {
	out := make([]storage.Card, len(cards))
	for i, card := range cards {
		card.SRSLevel = 0
		card.NextReview = now
		out[i] = card
	}
	return out
}

// KnewIt maps a four-point recall rating onto the knew-it/missed answer.
func KnewIt(rating fsrs.Rating) bool {
	return rating >= fsrs.Good
}

// RatingFor is the rating recorded for a plain knew-it/missed answer.
func RatingFor(knewIt bool) fsrs.Rating {
	if knewIt {
		return fsrs.Good
	}
	return fsrs.Again
}

// Progress summarizes a deck for the progress widget.
type Progress struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Learning int `json:"learning"`
	Mastered int `json:"mastered"`
	Due      int `json:"due"`
}

// Summarize counts cards per mastery class. Due is the raw due count, before
// the session cap and daily gate.
func Summarize(cards []storage.Card, now time.Time) Progress {
	p := Progress{Total: len(cards)}
	for _, card := range cards {
		switch MasteryOf(card.SRSLevel) {
		case New:
			p.New++
		case Learning:
			p.Learning++
		case Mastered:
			p.Mastered++
		}
		if IsDue(card, now) {
			p.Due++
		}
	}
	return p
}
