package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuizRecord is the per-quiz key-value entry of the file store.
type QuizRecord struct {
	Weights   map[string]int `json:"weights"`
	BestScore int            `json:"best_score"`
}

// StudyDocument represents the data structure stored in the JSON file
type StudyDocument struct {
	Decks       map[string]Deck       `json:"decks"`
	Cards       map[string]Card       `json:"cards"`
	Reviews     []Review              `json:"reviews"`
	Quizzes     map[string]QuizRecord `json:"quizzes"`
	LastUpdated time.Time             `json:"last_updated"`
}

func emptyDocument() StudyDocument {
	return StudyDocument{
		Decks:   make(map[string]Deck),
		Cards:   make(map[string]Card),
		Reviews: []Review{},
		Quizzes: make(map[string]QuizRecord),
	}
}

// clone returns a deep copy so a mutation can be staged without touching the live document.
func (d StudyDocument) clone() StudyDocument {
	out := StudyDocument{
		Decks:       make(map[string]Deck, len(d.Decks)),
		Cards:       make(map[string]Card, len(d.Cards)),
		Reviews:     make([]Review, len(d.Reviews)),
		Quizzes:     make(map[string]QuizRecord, len(d.Quizzes)),
		LastUpdated: d.LastUpdated,
	}
	for id, deck := range d.Decks {
		deck.Settings = deck.Settings.clone()
		out.Decks[id] = deck
	}
	for id, card := range d.Cards {
		out.Cards[id] = card
	}
	copy(out.Reviews, d.Reviews)
	for id, rec := range d.Quizzes {
		weights := make(map[string]int, len(rec.Weights))
		for item, w := range rec.Weights {
			weights[item] = w
		}
		out.Quizzes[id] = QuizRecord{Weights: weights, BestScore: rec.BestScore}
	}
	return out
}

// FileStorage implements Storage using a JSON file for persistence.
// Every mutation is staged on a copy, written to disk and only then made visible.
type FileStorage struct {
	filePath  string
	doc       StudyDocument
	mu        sync.RWMutex
	now       func() time.Time
	logger    *zap.Logger
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewFileStorage creates a new FileStorage instance
func NewFileStorage(filePath string, opts ...Option) *FileStorage {
	o := buildOptions(opts)
	o.logger.Debug("Creating file storage", zap.String("path", filePath))
	return &FileStorage{
		filePath:  filePath,
		doc:       emptyDocument(),
		now:       o.now,
		logger:    o.logger,
		writeFile: os.WriteFile,
	}
}

// Load loads the study data from the file, creating an empty file if none exists.
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(fs.filePath); os.IsNotExist(err) {
		fs.logger.Debug("Storage file not found, initializing empty store", zap.String("path", fs.filePath))
		doc := emptyDocument()
		if err := fs.persist(doc); err != nil {
			return fmt.Errorf("failed to save initial empty store: %w", err)
		}
		fs.doc = doc
		return nil
	}

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w: %w", ErrTransient, err)
	}
	if len(data) == 0 {
		fs.doc = emptyDocument()
		return nil
	}

	var doc StudyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal storage data: %w", err)
	}
	// Initialize maps/slices if they are nil after unmarshal (e.g., loading older format)
	if doc.Decks == nil {
		doc.Decks = make(map[string]Deck)
	}
	if doc.Cards == nil {
		doc.Cards = make(map[string]Card)
	}
	if doc.Reviews == nil {
		doc.Reviews = []Review{}
	}
	if doc.Quizzes == nil {
		doc.Quizzes = make(map[string]QuizRecord)
	}
	fs.doc = doc
	fs.logger.Debug("Storage loaded",
		zap.Int("decks", len(doc.Decks)),
		zap.Int("cards", len(doc.Cards)),
		zap.Int("quizzes", len(doc.Quizzes)))
	return nil
}

// Close is a no-op; every mutation is already on disk.
func (fs *FileStorage) Close() error { return nil }

// persist writes doc atomically via a temporary file. Assumes the write lock is held.
func (fs *FileStorage) persist(doc StudyDocument) error {
	dataBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w: %w", ErrTransient, err)
	}

	tempFile := fs.filePath + ".tmp"
	if err := fs.writeFile(tempFile, dataBytes, 0644); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temporary file: %w: %w", ErrTransient, err)
	}
	// Rename is atomic on most systems, readers see the old or the new file
	if err := os.Rename(tempFile, fs.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w: %w", ErrTransient, err)
	}
	return nil
}

// mutate stages fn on a copy of the document and commits it only if the write succeeds.
func (fs *FileStorage) mutate(ctx context.Context, op string, fn func(doc *StudyDocument) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	next := fs.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.LastUpdated = fs.now()
	if err := fs.persist(next); err != nil {
		fs.logger.Error("Storage write failed, nothing committed", zap.String("op", op), zap.Error(err))
		return err
	}
	fs.doc = next
	return nil
}

func (fs *FileStorage) read(ctx context.Context) (*StudyDocument, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fs.mu.RLock()
	return &fs.doc, fs.mu.RUnlock, nil
}

// withDefaults fills mastery fields a loaded card may be missing.
func (fs *FileStorage) withDefaults(card Card) Card {
	if card.SRSLevel < 0 {
		card.SRSLevel = 0
	}
	if card.NextReview.IsZero() {
		card.NextReview = fs.now()
	}
	return card
}

// CreateDeck creates a new deck
func (fs *FileStorage) CreateDeck(ctx context.Context, name string, settings DeckSettings) (Deck, error) {
	if err := validateSettings(settings); err != nil {
		return Deck{}, err
	}
	deck := Deck{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: fs.now(),
		Settings:  settings.clone(),
	}
	err := fs.mutate(ctx, "create_deck", func(doc *StudyDocument) error {
		doc.Decks[deck.ID] = deck
		return nil
	})
	if err != nil {
		return Deck{}, err
	}
	return deck, nil
}

// GetDeck retrieves a deck by ID
func (fs *FileStorage) GetDeck(ctx context.Context, deckID string) (Deck, error) {
	doc, done, err := fs.read(ctx)
	if err != nil {
		return Deck{}, err
	}
	defer done()
	deck, ok := doc.Decks[deckID]
	if !ok {
		return Deck{}, ErrDeckNotFound
	}
	deck.Settings = deck.Settings.clone()
	return deck, nil
}

// ListDecks returns all decks ordered by creation time
func (fs *FileStorage) ListDecks(ctx context.Context) ([]Deck, error) {
	doc, done, err := fs.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	decks := make([]Deck, 0, len(doc.Decks))
	for _, deck := range doc.Decks {
		deck.Settings = deck.Settings.clone()
		decks = append(decks, deck)
	}
	sort.Slice(decks, func(i, j int) bool {
		if decks[i].CreatedAt.Equal(decks[j].CreatedAt) {
			return decks[i].ID < decks[j].ID
		}
		return decks[i].CreatedAt.Before(decks[j].CreatedAt)
	})
	return decks, nil
}

// CreateCard adds a new card to a deck. It is due immediately.
func (fs *FileStorage) CreateCard(ctx context.Context, deckID, front, back string) (Card, error) {
	now := fs.now()
	card := Card{
		ID:         uuid.New().String(),
		DeckID:     deckID,
		Front:      front,
		Back:       back,
		CreatedAt:  now,
		SRSLevel:   0,
		NextReview: now,
	}
	err := fs.mutate(ctx, "create_card", func(doc *StudyDocument) error {
		if _, ok := doc.Decks[deckID]; !ok {
			return ErrDeckNotFound
		}
		doc.Cards[card.ID] = card
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

// GetCard retrieves a card by ID
func (fs *FileStorage) GetCard(ctx context.Context, cardID string) (Card, error) {
	doc, done, err := fs.read(ctx)
	if err != nil {
		return Card{}, err
	}
	defer done()
	card, ok := doc.Cards[cardID]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	return fs.withDefaults(card), nil
}

// DeleteCard deletes a card by ID
func (fs *FileStorage) DeleteCard(ctx context.Context, cardID string) error {
	return fs.mutate(ctx, "delete_card", func(doc *StudyDocument) error {
		if _, ok := doc.Cards[cardID]; !ok {
			return ErrCardNotFound
		}
		delete(doc.Cards, cardID)
		return nil
	})
}

// LoadCards returns the cards of a deck ordered by creation time
func (fs *FileStorage) LoadCards(ctx context.Context, deckID string) ([]Card, error) {
	doc, done, err := fs.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if _, ok := doc.Decks[deckID]; !ok {
		return nil, ErrDeckNotFound
	}
	cards := []Card{}
	for _, card := range doc.Cards {
		if card.DeckID == deckID {
			cards = append(cards, fs.withDefaults(card))
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].ID < cards[j].ID
		}
		return cards[i].CreatedAt.Before(cards[j].CreatedAt)
	})
	return cards, nil
}

// SaveCard overwrites an existing card
func (fs *FileStorage) SaveCard(ctx context.Context, card Card) error {
	return fs.mutate(ctx, "save_card", func(doc *StudyDocument) error {
		if _, ok := doc.Cards[card.ID]; !ok {
			return ErrCardNotFound
		}
		if _, ok := doc.Decks[card.DeckID]; !ok {
			return ErrDeckNotFound
		}
		doc.Cards[card.ID] = card
		return nil
	})
}

// LoadDeckSettings returns the scheduling settings of a deck
func (fs *FileStorage) LoadDeckSettings(ctx context.Context, deckID string) (DeckSettings, error) {
	deck, err := fs.GetDeck(ctx, deckID)
	if err != nil {
		return DeckSettings{}, err
	}
	return deck.Settings, nil
}

// SaveDeckSettings applies a partial settings update
func (fs *FileStorage) SaveDeckSettings(ctx context.Context, deckID string, patch SettingsPatch) (DeckSettings, error) {
	var updated DeckSettings
	err := fs.mutate(ctx, "save_deck_settings", func(doc *StudyDocument) error {
		deck, ok := doc.Decks[deckID]
		if !ok {
			return ErrDeckNotFound
		}
		settings := patch.Apply(deck.Settings)
		if err := validateSettings(settings); err != nil {
			return err
		}
		deck.Settings = settings
		doc.Decks[deckID] = deck
		updated = settings.clone()
		return nil
	})
	if err != nil {
		return DeckSettings{}, err
	}
	return updated, nil
}

// IncrementLevel raises the stored level of a card by one
func (fs *FileStorage) IncrementLevel(ctx context.Context, cardID string) (Card, error) {
	var updated Card
	err := fs.mutate(ctx, "increment_level", func(doc *StudyDocument) error {
		card, ok := doc.Cards[cardID]
		if !ok {
			return ErrCardNotFound
		}
		card = fs.withDefaults(card)
		card.SRSLevel++
		doc.Cards[cardID] = card
		updated = card
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return updated, nil
}

// ResetDeck zeroes mastery for every card of the deck in a single write
func (fs *FileStorage) ResetDeck(ctx context.Context, deckID string, now time.Time) error {
	return fs.mutate(ctx, "reset_deck", func(doc *StudyDocument) error {
		deck, ok := doc.Decks[deckID]
		if !ok {
			return ErrDeckNotFound
		}
		for id, card := range doc.Cards {
			if card.DeckID != deckID {
				continue
			}
			card.SRSLevel = 0
			card.NextReview = now
			doc.Cards[id] = card
		}
		deck.Settings.LastSessionCompletedAt = nil
		doc.Decks[deckID] = deck
		return nil
	})
}

// AddReview appends a review record
func (fs *FileStorage) AddReview(ctx context.Context, review Review) error {
	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	return fs.mutate(ctx, "add_review", func(doc *StudyDocument) error {
		if _, ok := doc.Cards[review.CardID]; !ok {
			return ErrCardNotFound
		}
		doc.Reviews = append(doc.Reviews, review)
		return nil
	})
}

// ListReviews returns the reviews of a deck in insertion order
func (fs *FileStorage) ListReviews(ctx context.Context, deckID string) ([]Review, error) {
	doc, done, err := fs.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if _, ok := doc.Decks[deckID]; !ok {
		return nil, ErrDeckNotFound
	}
	var reviews []Review
	for _, review := range doc.Reviews {
		if review.DeckID == deckID {
			reviews = append(reviews, review)
		}
	}
	return reviews, nil
}

// LoadWeights returns a copy of the quiz weight map. Unknown quizzes have no weights.
func (fs *FileStorage) LoadWeights(ctx context.Context, quizID string) (map[string]int, error) {
	doc, done, err := fs.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	weights := make(map[string]int)
	for item, w := range doc.Quizzes[quizID].Weights {
		weights[item] = w
	}
	return weights, nil
}

// SaveWeights replaces the quiz weight map
func (fs *FileStorage) SaveWeights(ctx context.Context, quizID string, weights map[string]int) error {
	return fs.mutate(ctx, "save_weights", func(doc *StudyDocument) error {
		rec := doc.Quizzes[quizID]
		rec.Weights = make(map[string]int, len(weights))
		for item, w := range weights {
			rec.Weights[item] = clampWeight(w)
		}
		doc.Quizzes[quizID] = rec
		return nil
	})
}

// MergeWeights adds deltas to the stored weights in one write
func (fs *FileStorage) MergeWeights(ctx context.Context, quizID string, deltas map[string]int) (map[string]int, error) {
	merged := make(map[string]int)
	err := fs.mutate(ctx, "merge_weights", func(doc *StudyDocument) error {
		rec := doc.Quizzes[quizID]
		if rec.Weights == nil {
			rec.Weights = make(map[string]int)
		}
		for item, delta := range deltas {
			rec.Weights[item] = clampWeight(rec.Weights[item] + delta)
		}
		doc.Quizzes[quizID] = rec
		for item, w := range rec.Weights {
			merged[item] = w
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadBestScore returns the best score of a quiz, zero if never played
func (fs *FileStorage) LoadBestScore(ctx context.Context, quizID string) (int, error) {
	doc, done, err := fs.read(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	return doc.Quizzes[quizID].BestScore, nil
}

// SaveBestScore keeps the higher of the stored and the given score
func (fs *FileStorage) SaveBestScore(ctx context.Context, quizID string, score int) (int, error) {
	var best int
	err := fs.mutate(ctx, "save_best_score", func(doc *StudyDocument) error {
		rec := doc.Quizzes[quizID]
		if score > rec.BestScore {
			rec.BestScore = score
		}
		doc.Quizzes[quizID] = rec
		best = rec.BestScore
		return nil
	})
	if err != nil {
		return 0, err
	}
	return best, nil
}
