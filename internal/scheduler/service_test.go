package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/danieldreier/studycore/internal/storage"
	"github.com/open-spaced-repetition/go-fsrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// clock is a settable time source shared by the store and the service.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func setupService(t *testing.T) (*Service, *storage.FileStorage, *clock) {
	t.Helper()
	c := &clock{t: now}
	logger := zaptest.NewLogger(t)
	store := storage.NewFileStorage(filepath.Join(t.TempDir(), "study.json"),
		storage.WithClock(c.Now), storage.WithLogger(logger))
	require.NoError(t, store.Load())

	svc := NewService(store, logger)
	svc.Now = c.Now
	return svc, store, c
}

// seedDeck creates a deck with total cards of which the first due are due now.
func seedDeck(t *testing.T, store storage.DeckStore, total, due int, settings storage.DeckSettings) storage.Deck {
	t.Helper()
	ctx := context.Background()
	d, err := store.CreateDeck(ctx, "Vocabulary", settings)
	require.NoError(t, err)
	for i := 0; i < total; i++ {
		card, err := store.CreateCard(ctx, d.ID, fmt.Sprintf("front %d", i), fmt.Sprintf("back %d", i))
		require.NoError(t, err)
		if i >= due {
			card.NextReview = now.Add(time.Duration(i+1) * 24 * time.Hour)
			require.NoError(t, store.SaveCard(ctx, card))
		}
	}
	return d
}

func TestService_FullSession(t *testing.T) {
	ctx := context.Background()
	svc, store, c := setupService(t)
	d := seedDeck(t, store, 10, 3, storage.DeckSettings{})

	count, err := svc.DueCount(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, InProgress, session.State())

	for {
		card, ok := session.Current()
		if !ok {
			break
		}
		_, err := svc.Answer(ctx, session, card.ID, true)
		require.NoError(t, err)
	}
	assert.Equal(t, Finished, session.State())
	assert.Equal(t, SessionStats{Index: 3, Total: 3, Correct: 3}, session.Stats())

	for _, card := range session.Cards() {
		stored, err := store.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.SRSLevel)
	}

	_, err = svc.CompleteSession(ctx, d.ID)
	require.NoError(t, err)

	count, err = svc.DueCount(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "the deck is done for today")

	c.t = now.Add(24 * time.Hour)
	count, err = svc.DueCount(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "a new day reopens the deck")

	reviews, err := store.ListReviews(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	assert.Equal(t, fsrs.Good, reviews[0].Rating)
}

func TestService_MissKeepsLevel(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupService(t)
	d := seedDeck(t, store, 1, 1, storage.DeckSettings{})

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	card, _ := session.Current()

	updated, err := svc.AnswerWithRating(ctx, session, card.ID, fsrs.Hard)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.SRSLevel)
	assert.Equal(t, SessionStats{Index: 1, Total: 1, Incorrect: 1}, session.Stats())
}

func TestService_SessionCap(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupService(t)
	d := seedDeck(t, store, 8, 6, storage.DeckSettings{SessionSize: intPtr(4)})

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, session.Cards(), 4)

	_, err = svc.SetSessionSize(ctx, d.ID, nil)
	require.NoError(t, err)
	count, err := svc.DueCount(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	_, err = svc.SetSessionSize(ctx, d.ID, intPtr(0))
	assert.ErrorIs(t, err, storage.ErrInvalidSessionSize)
}

func TestService_CompleteSessionIsIdempotentWithinADay(t *testing.T) {
	ctx := context.Background()
	svc, store, c := setupService(t)
	d := seedDeck(t, store, 2, 2, storage.DeckSettings{})

	first, err := svc.CompleteSession(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, first.LastSessionCompletedAt)

	c.t = now.Add(3 * time.Hour)
	second, err := svc.CompleteSession(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, second.LastSessionCompletedAt.Equal(*first.LastSessionCompletedAt), "same-day completion keeps the first timestamp")

	c.t = now.Add(30 * time.Hour)
	third, err := svc.CompleteSession(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, third.LastSessionCompletedAt.Equal(c.t))
}

func TestService_ResetDeck(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupService(t)
	d := seedDeck(t, store, 3, 3, storage.DeckSettings{})
	other := seedDeck(t, store, 1, 1, storage.DeckSettings{})

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	for _, card := range session.Cards() {
		_, err := svc.Answer(ctx, session, card.ID, true)
		require.NoError(t, err)
	}
	otherSession, err := svc.StartSession(ctx, other.ID)
	require.NoError(t, err)
	otherCard, _ := otherSession.Current()
	_, err = svc.Answer(ctx, otherSession, otherCard.ID, true)
	require.NoError(t, err)

	_, err = svc.CompleteSession(ctx, d.ID)
	require.NoError(t, err)

	require.NoError(t, svc.ResetDeck(ctx, d.ID))

	cards, err := store.LoadCards(ctx, d.ID)
	require.NoError(t, err)
	for _, card := range cards {
		assert.Equal(t, 0, card.SRSLevel)
	}
	count, err := svc.DueCount(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "reset reopens today's session")

	stored, err := store.GetCard(ctx, otherCard.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SRSLevel, "other decks are untouched")

	assert.ErrorIs(t, svc.ResetDeck(ctx, "missing"), storage.ErrDeckNotFound)
}

func TestService_Progress(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupService(t)
	d := seedDeck(t, store, 4, 2, storage.DeckSettings{})

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	first, _ := session.Current()
	_, err = svc.Answer(ctx, session, first.ID, true)
	require.NoError(t, err)
	second, _ := session.Current()
	_, err = svc.Answer(ctx, session, second.ID, false)
	require.NoError(t, err)

	p, err := svc.Progress(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 3, p.New)
	assert.Equal(t, 1, p.Learning)
	assert.Equal(t, 2, p.Due)
	assert.Equal(t, 2, p.Offered)
	assert.Equal(t, 2, p.ReviewsToday)
	assert.InDelta(t, 50.0, p.AccuracyPct, 0.001)
}

// failingStore rejects level increments.
type failingStore struct {
	storage.DeckStore
	err error
}

func (f *failingStore) IncrementLevel(ctx context.Context, cardID string) (storage.Card, error) {
	return storage.Card{}, f.err
}

func TestService_FailedWriteDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupService(t)
	d := seedDeck(t, store, 2, 2, storage.DeckSettings{})

	writeErr := fmt.Errorf("disk full: %w", storage.ErrTransient)
	svc.Store = &failingStore{DeckStore: store, err: writeErr}

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	card, _ := session.Current()

	_, err = svc.Answer(ctx, session, card.ID, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrTransient))
	assert.Equal(t, SessionStats{Index: 0, Total: 2}, session.Stats())

	current, ok := session.Current()
	require.True(t, ok)
	assert.Equal(t, card.ID, current.ID, "the same card is asked again")

	stored, err := store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.SRSLevel)
}

func TestService_RejectsOutOfOrderAnswers(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupService(t)
	d := seedDeck(t, store, 2, 2, storage.DeckSettings{})

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	cards := session.Cards()

	_, err = svc.Answer(ctx, session, cards[1].ID, true)
	assert.ErrorIs(t, err, ErrUnexpectedCard)

	stored, err := store.GetCard(ctx, cards[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.SRSLevel, "rejected answers never reach the store")
}

func TestService_EmptyDeck(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupService(t)
	d := seedDeck(t, store, 2, 0, storage.DeckSettings{})

	session, err := svc.StartSession(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, session.Empty())
	assert.Equal(t, Finished, session.State())

	_, err = svc.DueCount(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrDeckNotFound)
}
