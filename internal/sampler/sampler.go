// Package sampler picks listening quiz questions with a bias toward items the
// learner keeps missing, checks typed answers and folds the outcome of a
// finished session back into the per-item weights.
package sampler

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Item is one entry of a quiz item bank.
type Item struct {
	ID        string `json:"id" validate:"required"`
	Prompt    string `json:"prompt"`
	Primary   string `json:"primary" validate:"required"`
	Romanized string `json:"romanized,omitempty"`
	Audio     string `json:"audio,omitempty"`
}

// Question is an item selected for a session.
type Question struct {
	Item     Item `json:"item"`
	Weight   int  `json:"weight"`
	IsReview bool `json:"is_review"`
}

// ErrEmptySession is returned when a score is asked of a session without questions.
var ErrEmptySession = errors.New("session has no questions")

// Sampler draws weighted sessions. It is safe for concurrent use.
type Sampler struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// New creates a sampler drawing from src.
func New(src rand.Source) *Sampler {
	return &Sampler{rand: rand.New(src)}
}

// NewSampler creates a sampler seeded from the clock.
func NewSampler() *Sampler {
	return New(rand.NewSource(time.Now().UnixNano()))
}

// SelectSession draws up to n distinct questions from bank. Each remaining
// item is drawn with probability proportional to its weight plus one, so
// unweighted items stay in rotation.
func (s *Sampler) SelectSession(bank []Item, weights map[string]int, n int) []Question {
	if n <= 0 || len(bank) == 0 {
		return []Question{}
	}

	seen := make(map[string]bool, len(bank))
	remaining := make([]Question, 0, len(bank))
	for _, item := range bank {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		w := weights[item.ID]
		if w < 0 {
			w = 0
		}
		remaining = append(remaining, Question{Item: item, Weight: w, IsReview: w > 0})
	}
	if n > len(remaining) {
		n = len(remaining)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	selected := make([]Question, 0, n)
	for len(selected) < n {
		total := 0
		for _, q := range remaining {
			total += q.Weight + 1
		}
		r := s.rand.Intn(total)
		cumulative := 0
		for idx, q := range remaining {
			cumulative += q.Weight + 1
			if r < cumulative {
				selected = append(selected, q)
				remaining = append(remaining[:idx], remaining[idx+1:]...)
				break
			}
		}
	}
	return selected
}

var stripPunct = strings.NewReplacer(".", "", ",", "", "-", "")

// Normalize canonicalizes a typed answer for comparison.
func Normalize(s string) string {
	return stripPunct.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// CheckAnswer reports whether answer matches the primary or romanized form.
func CheckAnswer(q Question, answer string) bool {
	got := Normalize(answer)
	if got == "" {
		return false
	}
	for _, form := range []string{q.Item.Primary, q.Item.Romanized} {
		if want := Normalize(form); want != "" && want == got {
			return true
		}
	}
	return false
}

// Pending accumulates weight deltas per item until a session is committed.
type Pending map[string]int

// Record notes an answer: a hit lowers the item's weight, a miss raises it.
func (p Pending) Record(itemID string, correct bool) {
	if correct {
		p[itemID]--
	} else {
		p[itemID]++
	}
}

// Commit returns weights with every pending delta applied and clamped at zero.
// Neither argument is modified.
func Commit(pending Pending, weights map[string]int) map[string]int {
	out := make(map[string]int, len(weights)+len(pending))
	for id, w := range weights {
		out[id] = w
	}
	for id, delta := range pending {
		out[id] = max(0, out[id]+delta)
	}
	return out
}

// UpdateBestScore keeps the higher of the two scores.
func UpdateBestScore(score, previous int) int {
	return max(score, previous)
}

// ScorePercent returns correct/total as an integer percent, rounded half up.
func ScorePercent(correct, total int) (int, error) {
	if total <= 0 {
		return 0, ErrEmptySession
	}
	return (200*correct + total) / (2 * total), nil
}
