package sampler

import (
	"context"
	"errors"
	"fmt"

	"github.com/danieldreier/studycore/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyCommitted is returned when a session is finished twice.
	ErrAlreadyCommitted = errors.New("quiz session already committed")
	// ErrSessionNotFinished is returned when committing a session with unanswered questions.
	ErrSessionNotFinished = errors.New("quiz session has unanswered questions")
)

// Result is the outcome of a committed session.
type Result struct {
	// Empty is set when there was nothing to study. Score and Best are then unset.
	Empty   bool           `json:"empty"`
	Score   int            `json:"score"`
	Best    int            `json:"best"`
	Weights map[string]int `json:"weights"`
}

// Service runs listening quiz sessions against a quiz store.
type Service struct {
	Store   storage.QuizStore
	Sampler *Sampler
	Logger  *zap.Logger
}

// NewService creates a new Service
func NewService(store storage.QuizStore, sampler *Sampler, logger *zap.Logger) *Service {
	if sampler == nil {
		sampler = NewSampler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Store: store, Sampler: sampler, Logger: logger}
}

// StartSession samples n questions from bank using the stored weights of quizID.
func (s *Service) StartSession(ctx context.Context, quizID string, bank []Item, n int) (*QuizSession, error) {
	weights, err := s.Store.LoadWeights(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("error loading weights for quiz %s: %w", quizID, err)
	}
	questions := s.Sampler.SelectSession(bank, weights, n)
	reviews := 0
	for _, q := range questions {
		if q.IsReview {
			reviews++
		}
	}
	s.Logger.Debug("Quiz session started",
		zap.String("quiz_id", quizID),
		zap.Int("bank", len(bank)),
		zap.Int("questions", len(questions)),
		zap.Int("review_items", reviews))
	return NewQuizSession(quizID, questions), nil
}

// Finish commits the session's pending weight deltas in one merge and keeps
// the best score. A session can be committed once.
func (s *Service) Finish(ctx context.Context, session *QuizSession) (Result, error) {
	if session.committed {
		return Result{}, ErrAlreadyCommitted
	}
	if session.Empty() {
		session.committed = true
		s.Logger.Debug("Empty quiz session, nothing to commit", zap.String("quiz_id", session.QuizID))
		return Result{Empty: true}, nil
	}
	if !session.Finished() {
		return Result{}, ErrSessionNotFinished
	}

	score, err := session.Score()
	if err != nil {
		return Result{}, err
	}
	weights, err := s.Store.MergeWeights(ctx, session.QuizID, session.pending)
	if err != nil {
		s.Logger.Error("Error committing quiz weights", zap.String("quiz_id", session.QuizID), zap.Error(err))
		return Result{}, fmt.Errorf("error committing weights for quiz %s: %w", session.QuizID, err)
	}
	session.committed = true

	best, err := s.Store.SaveBestScore(ctx, session.QuizID, score)
	if err != nil {
		// Weights are already merged; a lost best score only affects the display.
		s.Logger.Warn("Failed to save best score", zap.String("quiz_id", session.QuizID), zap.Error(err))
		best = score
	}
	s.Logger.Info("Quiz session committed",
		zap.String("quiz_id", session.QuizID),
		zap.Int("score", score),
		zap.Int("best", best))
	return Result{Score: score, Best: best, Weights: weights}, nil
}
