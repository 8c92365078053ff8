// Package badges keeps a cache of per-deck due counts fresh in the background,
// so badge displays never have to load every deck on request.
package badges

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danieldreier/studycore/internal/scheduler"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Badge is the cached due count of one deck.
type Badge struct {
	DeckID    string    `json:"deck_id"`
	Name      string    `json:"name"`
	Due       int       `json:"due"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Refresher recomputes due badges for every deck on an interval.
type Refresher struct {
	service   *scheduler.Service
	logger    *zap.Logger
	scheduler *gocron.Scheduler

	mu     sync.RWMutex
	badges map[string]Badge
}

// New creates a refresher over the review service.
func New(service *scheduler.Service, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Refresher{
		service:   service,
		logger:    logger,
		scheduler: s,
		badges:    make(map[string]Badge),
	}
}

// Refresh recomputes every badge now. A deck that fails keeps its previous badge.
func (r *Refresher) Refresh(ctx context.Context) error {
	decks, err := r.service.Store.ListDecks(ctx)
	if err != nil {
		return fmt.Errorf("error listing decks: %w", err)
	}

	next := make(map[string]Badge, len(decks))
	r.mu.RLock()
	for _, deck := range decks {
		if old, ok := r.badges[deck.ID]; ok {
			next[deck.ID] = old
		}
	}
	r.mu.RUnlock()

	for _, deck := range decks {
		due, err := r.service.DueCount(ctx, deck.ID)
		if err != nil {
			r.logger.Warn("Failed to refresh badge", zap.String("deck_id", deck.ID), zap.Error(err))
			continue
		}
		next[deck.ID] = Badge{DeckID: deck.ID, Name: deck.Name, Due: due, UpdatedAt: r.service.Now()}
	}

	r.mu.Lock()
	r.badges = next
	r.mu.Unlock()
	r.logger.Debug("Badges refreshed", zap.Int("decks", len(next)))
	return nil
}

// Start refreshes immediately and then every interval until Stop.
func (r *Refresher) Start(interval time.Duration) error {
	_, err := r.scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			r.logger.Error("Badge refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule badge refresh: %w", err)
	}
	r.scheduler.StartAsync()
	r.logger.Info("Badge refresher started", zap.Duration("interval", interval))
	return nil
}

// Stop terminates the background refresh.
func (r *Refresher) Stop() {
	r.scheduler.Stop()
}

// Snapshot returns the cached badges ordered by deck name.
func (r *Refresher) Snapshot() []Badge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Badge, 0, len(r.badges))
	for _, b := range r.badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].DeckID < out[j].DeckID
		}
		return out[i].Name < out[j].Name
	})
	return out
}
