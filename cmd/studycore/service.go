package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danieldreier/studycore/internal/badges"
	"github.com/danieldreier/studycore/internal/itembank"
	"github.com/danieldreier/studycore/internal/sampler"
	"github.com/danieldreier/studycore/internal/scheduler"
	"github.com/danieldreier/studycore/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned for unknown or already closed session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuizNotFound is returned when no item bank exists for a quiz ID.
	ErrQuizNotFound = errors.New("quiz not found")
)

type reviewEntry struct {
	mu      sync.Mutex
	session *scheduler.Session
}

type quizEntry struct {
	mu      sync.Mutex
	session *sampler.QuizSession
}

// StudyService holds the review and quiz services plus the sessions in flight.
type StudyService struct {
	Store   storage.Storage
	Reviews *scheduler.Service
	Quizzes *sampler.Service
	Badges  *badges.Refresher
	Banks   map[string]itembank.Bank
	// QuizLength is the default number of questions per listening quiz.
	QuizLength int
	// LiveBadges recomputes badges on every read instead of serving the cache.
	LiveBadges bool
	Logger     *zap.Logger

	mu            sync.Mutex
	reviewSession map[string]*reviewEntry
	quizSession   map[string]*quizEntry
}

// NewStudyService wires the services over store.
func NewStudyService(store storage.Storage, banks map[string]itembank.Bank, quizLength int, logger *zap.Logger) *StudyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if banks == nil {
		banks = make(map[string]itembank.Bank)
	}
	reviews := scheduler.NewService(store, logger.Named("scheduler"))
	return &StudyService{
		Store:         store,
		Reviews:       reviews,
		Quizzes:       sampler.NewService(store, sampler.NewSampler(), logger.Named("sampler")),
		Badges:        badges.New(reviews, logger.Named("badges")),
		Banks:         banks,
		QuizLength:    quizLength,
		Logger:        logger,
		reviewSession: make(map[string]*reviewEntry),
		quizSession:   make(map[string]*quizEntry),
	}
}

// StartReview opens a review session and returns its ID.
func (s *StudyService) StartReview(ctx context.Context, deckID string) (string, *scheduler.Session, error) {
	session, err := s.Reviews.StartSession(ctx, deckID)
	if err != nil {
		return "", nil, err
	}
	id := uuid.New().String()
	s.mu.Lock()
	s.reviewSession[id] = &reviewEntry{session: session}
	s.mu.Unlock()
	return id, session, nil
}

// WithReview runs fn while holding the lock of the review session.
func (s *StudyService) WithReview(sessionID string, fn func(*scheduler.Session) error) error {
	s.mu.Lock()
	entry, ok := s.reviewSession[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.session)
}

// CloseReview forgets a review session.
func (s *StudyService) CloseReview(sessionID string) {
	s.mu.Lock()
	delete(s.reviewSession, sessionID)
	s.mu.Unlock()
}

// StartQuiz samples a listening quiz session from the bank of quizID.
// A count of zero or less uses the configured quiz length.
func (s *StudyService) StartQuiz(ctx context.Context, quizID string, count int) (string, *sampler.QuizSession, error) {
	bank, ok := s.Banks[quizID]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrQuizNotFound, quizID)
	}
	if count <= 0 {
		count = s.QuizLength
	}
	session, err := s.Quizzes.StartSession(ctx, quizID, bank.Items, count)
	if err != nil {
		return "", nil, err
	}
	id := uuid.New().String()
	s.mu.Lock()
	s.quizSession[id] = &quizEntry{session: session}
	s.mu.Unlock()
	return id, session, nil
}

// WithQuiz runs fn while holding the lock of the quiz session.
func (s *StudyService) WithQuiz(sessionID string, fn func(*sampler.QuizSession) error) error {
	s.mu.Lock()
	entry, ok := s.quizSession[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.session)
}

// FinishQuiz commits a quiz session and forgets it once committed.
func (s *StudyService) FinishQuiz(ctx context.Context, sessionID string) (sampler.Result, error) {
	var result sampler.Result
	err := s.WithQuiz(sessionID, func(session *sampler.QuizSession) error {
		var err error
		result, err = s.Quizzes.Finish(ctx, session)
		return err
	})
	if err != nil {
		return sampler.Result{}, err
	}
	s.mu.Lock()
	delete(s.quizSession, sessionID)
	s.mu.Unlock()
	return result, nil
}

// DueBadges returns the badge cache, recomputing it first when badges are live.
func (s *StudyService) DueBadges(ctx context.Context) ([]badges.Badge, error) {
	if s.LiveBadges {
		if err := s.Badges.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return s.Badges.Snapshot(), nil
}
