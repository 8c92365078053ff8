package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// SQLStorage implements Storage on SQLite. Counters are updated in SQL
// relative to the stored value, batch writes run in one transaction.
type SQLStorage struct {
	db     *sqlx.DB
	now    func() time.Time
	logger *zap.Logger
}

type deckRow struct {
	ID                     string        `db:"id"`
	Name                   string        `db:"name"`
	CreatedAt              time.Time     `db:"created_at"`
	SessionSize            sql.NullInt64 `db:"session_size"`
	LastSessionCompletedAt sql.NullTime  `db:"last_session_completed_at"`
}

func (r deckRow) deck() Deck {
	deck := Deck{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt}
	if r.SessionSize.Valid {
		size := int(r.SessionSize.Int64)
		deck.Settings.SessionSize = &size
	}
	if r.LastSessionCompletedAt.Valid {
		at := r.LastSessionCompletedAt.Time
		deck.Settings.LastSessionCompletedAt = &at
	}
	return deck
}

type cardRow struct {
	ID         string        `db:"id"`
	DeckID     string        `db:"deck_id"`
	Front      string        `db:"front"`
	Back       string        `db:"back"`
	CreatedAt  time.Time     `db:"created_at"`
	SRSLevel   sql.NullInt64 `db:"srs_level"`
	NextReview sql.NullTime  `db:"next_review"`
}

func (r cardRow) card(now time.Time) Card {
	card := Card{
		ID:         r.ID,
		DeckID:     r.DeckID,
		Front:      r.Front,
		Back:       r.Back,
		CreatedAt:  r.CreatedAt,
		NextReview: now,
	}
	if r.SRSLevel.Valid && r.SRSLevel.Int64 > 0 {
		card.SRSLevel = int(r.SRSLevel.Int64)
	}
	if r.NextReview.Valid {
		card.NextReview = r.NextReview.Time
	}
	return card
}

type reviewRow struct {
	ID         string    `db:"id"`
	CardID     string    `db:"card_id"`
	DeckID     string    `db:"deck_id"`
	KnewIt     bool      `db:"knew_it"`
	Rating     int       `db:"rating"`
	ReviewedAt time.Time `db:"reviewed_at"`
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// transient tags a database failure as retryable unless it is a context error.
func transient(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, ErrTransient, err)
}

// OpenSQLite creates a new database connection and ensures the schema is up to date.
func OpenSQLite(dsn string, opts ...Option) (*SQLStorage, error) {
	o := buildOptions(opts)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	o.logger.Debug("SQLite storage opened", zap.String("dsn", dsn))
	return &SQLStorage{db: db, now: o.now, logger: o.logger}, nil
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction and rolls back on any error.
func (s *SQLStorage) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return transient("start transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		s.logger.Debug("Transaction rolled back", zap.String("op", op), zap.Error(err))
		return err
	}
	if err := tx.Commit(); err != nil {
		return transient("commit transaction", err)
	}
	return nil
}

func (s *SQLStorage) CreateDeck(ctx context.Context, name string, settings DeckSettings) (Deck, error) {
	if err := validateSettings(settings); err != nil {
		return Deck{}, err
	}
	deck := Deck{ID: uuid.New().String(), Name: name, CreatedAt: s.now(), Settings: settings.clone()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decks (id, name, created_at, session_size, last_session_completed_at)
		VALUES (?, ?, ?, ?, ?)
	`, deck.ID, deck.Name, deck.CreatedAt, nullInt(settings.SessionSize), nullTime(settings.LastSessionCompletedAt))
	if err != nil {
		return Deck{}, transient("insert deck", err)
	}
	return deck, nil
}

func getDeck(ctx context.Context, q sqlx.QueryerContext, deckID string) (Deck, error) {
	var row deckRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, name, created_at, session_size, last_session_completed_at
		FROM decks WHERE id = ?
	`, deckID)
	if errors.Is(err, sql.ErrNoRows) {
		return Deck{}, ErrDeckNotFound
	}
	if err != nil {
		return Deck{}, transient("get deck", err)
	}
	return row.deck(), nil
}

func (s *SQLStorage) GetDeck(ctx context.Context, deckID string) (Deck, error) {
	return getDeck(ctx, s.db, deckID)
}

func (s *SQLStorage) ListDecks(ctx context.Context) ([]Deck, error) {
	var rows []deckRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, created_at, session_size, last_session_completed_at
		FROM decks ORDER BY created_at, id
	`)
	if err != nil {
		return nil, transient("list decks", err)
	}
	decks := make([]Deck, 0, len(rows))
	for _, row := range rows {
		decks = append(decks, row.deck())
	}
	return decks, nil
}

func (s *SQLStorage) CreateCard(ctx context.Context, deckID, front, back string) (Card, error) {
	now := s.now()
	card := Card{
		ID:         uuid.New().String(),
		DeckID:     deckID,
		Front:      front,
		Back:       back,
		CreatedAt:  now,
		NextReview: now,
	}
	err := s.inTx(ctx, "create_card", func(tx *sqlx.Tx) error {
		if _, err := getDeck(ctx, tx, deckID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cards (id, deck_id, front, back, created_at, srs_level, next_review)
			VALUES (?, ?, ?, ?, ?, 0, ?)
		`, card.ID, card.DeckID, card.Front, card.Back, card.CreatedAt, card.NextReview)
		if err != nil {
			return transient("insert card", err)
		}
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

func (s *SQLStorage) getCard(ctx context.Context, q sqlx.QueryerContext, cardID string) (Card, error) {
	var row cardRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, deck_id, front, back, created_at, srs_level, next_review
		FROM cards WHERE id = ?
	`, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrCardNotFound
	}
	if err != nil {
		return Card{}, transient("get card", err)
	}
	return row.card(s.now()), nil
}

func (s *SQLStorage) GetCard(ctx context.Context, cardID string) (Card, error) {
	return s.getCard(ctx, s.db, cardID)
}

func (s *SQLStorage) DeleteCard(ctx context.Context, cardID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", cardID)
	if err != nil {
		return transient("delete card", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return transient("get rows affected", err)
	}
	if rows == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (s *SQLStorage) LoadCards(ctx context.Context, deckID string) ([]Card, error) {
	if _, err := s.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}
	var rows []cardRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, deck_id, front, back, created_at, srs_level, next_review
		FROM cards WHERE deck_id = ? ORDER BY created_at, id
	`, deckID)
	if err != nil {
		return nil, transient("load cards", err)
	}
	now := s.now()
	cards := make([]Card, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, row.card(now))
	}
	return cards, nil
}

func (s *SQLStorage) SaveCard(ctx context.Context, card Card) error {
	return s.inTx(ctx, "save_card", func(tx *sqlx.Tx) error {
		if _, err := getDeck(ctx, tx, card.DeckID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE cards SET deck_id = ?, front = ?, back = ?, srs_level = ?, next_review = ?
			WHERE id = ?
		`, card.DeckID, card.Front, card.Back, card.SRSLevel, card.NextReview, card.ID)
		if err != nil {
			return transient("update card", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return transient("get rows affected", err)
		}
		if rows == 0 {
			return ErrCardNotFound
		}
		return nil
	})
}

func (s *SQLStorage) LoadDeckSettings(ctx context.Context, deckID string) (DeckSettings, error) {
	deck, err := s.GetDeck(ctx, deckID)
	if err != nil {
		return DeckSettings{}, err
	}
	return deck.Settings, nil
}

func (s *SQLStorage) SaveDeckSettings(ctx context.Context, deckID string, patch SettingsPatch) (DeckSettings, error) {
	var updated DeckSettings
	err := s.inTx(ctx, "save_deck_settings", func(tx *sqlx.Tx) error {
		deck, err := getDeck(ctx, tx, deckID)
		if err != nil {
			return err
		}
		settings := patch.Apply(deck.Settings)
		if err := validateSettings(settings); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE decks SET session_size = ?, last_session_completed_at = ? WHERE id = ?
		`, nullInt(settings.SessionSize), nullTime(settings.LastSessionCompletedAt), deckID)
		if err != nil {
			return transient("update deck settings", err)
		}
		updated = settings
		return nil
	})
	if err != nil {
		return DeckSettings{}, err
	}
	return updated, nil
}

func (s *SQLStorage) IncrementLevel(ctx context.Context, cardID string) (Card, error) {
	var updated Card
	err := s.inTx(ctx, "increment_level", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE cards SET srs_level = MAX(COALESCE(srs_level, 0), 0) + 1,
			                 next_review = COALESCE(next_review, ?)
			WHERE id = ?
		`, s.now(), cardID)
		if err != nil {
			return transient("increment level", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return transient("get rows affected", err)
		}
		if rows == 0 {
			return ErrCardNotFound
		}
		updated, err = s.getCard(ctx, tx, cardID)
		return err
	})
	if err != nil {
		return Card{}, err
	}
	return updated, nil
}

func (s *SQLStorage) ResetDeck(ctx context.Context, deckID string, now time.Time) error {
	return s.inTx(ctx, "reset_deck", func(tx *sqlx.Tx) error {
		if _, err := getDeck(ctx, tx, deckID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE cards SET srs_level = 0, next_review = ? WHERE deck_id = ?", now, deckID); err != nil {
			return transient("reset cards", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE decks SET last_session_completed_at = NULL WHERE id = ?", deckID); err != nil {
			return transient("clear last session", err)
		}
		return nil
	})
}

func (s *SQLStorage) AddReview(ctx context.Context, review Review) error {
	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	return s.inTx(ctx, "add_review", func(tx *sqlx.Tx) error {
		if _, err := s.getCard(ctx, tx, review.CardID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (id, card_id, deck_id, knew_it, rating, reviewed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, review.ID, review.CardID, review.DeckID, review.KnewIt, int(review.Rating), review.Timestamp)
		if err != nil {
			return transient("insert review", err)
		}
		return nil
	})
}

func (s *SQLStorage) ListReviews(ctx context.Context, deckID string) ([]Review, error) {
	if _, err := s.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}
	var rows []reviewRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, card_id, deck_id, knew_it, rating, reviewed_at
		FROM reviews WHERE deck_id = ? ORDER BY reviewed_at, rowid
	`, deckID)
	if err != nil {
		return nil, transient("list reviews", err)
	}
	var reviews []Review
	for _, row := range rows {
		reviews = append(reviews, Review{
			ID:        row.ID,
			CardID:    row.CardID,
			DeckID:    row.DeckID,
			KnewIt:    row.KnewIt,
			Rating:    fsrs.Rating(row.Rating),
			Timestamp: row.ReviewedAt,
		})
	}
	return reviews, nil
}

type weightRow struct {
	ItemID string `db:"item_id"`
	Weight int    `db:"weight"`
}

func loadWeights(ctx context.Context, q sqlx.QueryerContext, quizID string) (map[string]int, error) {
	var rows []weightRow
	if err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT item_id, weight FROM quiz_weights WHERE quiz_id = ?", quizID); err != nil {
		return nil, transient("load weights", err)
	}
	weights := make(map[string]int, len(rows))
	for _, row := range rows {
		weights[row.ItemID] = row.Weight
	}
	return weights, nil
}

func (s *SQLStorage) LoadWeights(ctx context.Context, quizID string) (map[string]int, error) {
	return loadWeights(ctx, s.db, quizID)
}

func (s *SQLStorage) SaveWeights(ctx context.Context, quizID string, weights map[string]int) error {
	return s.inTx(ctx, "save_weights", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM quiz_weights WHERE quiz_id = ?", quizID); err != nil {
			return transient("clear weights", err)
		}
		for item, w := range weights {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO quiz_weights (quiz_id, item_id, weight) VALUES (?, ?, ?)",
				quizID, item, clampWeight(w)); err != nil {
				return transient("insert weight", err)
			}
		}
		return nil
	})
}

func (s *SQLStorage) MergeWeights(ctx context.Context, quizID string, deltas map[string]int) (map[string]int, error) {
	var merged map[string]int
	err := s.inTx(ctx, "merge_weights", func(tx *sqlx.Tx) error {
		for item, delta := range deltas {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO quiz_weights (quiz_id, item_id, weight) VALUES (?, ?, 0)
				ON CONFLICT (quiz_id, item_id) DO NOTHING
			`, quizID, item); err != nil {
				return transient("seed weight", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE quiz_weights SET weight = MAX(0, weight + ?)
				WHERE quiz_id = ? AND item_id = ?
			`, delta, quizID, item); err != nil {
				return transient("merge weight", err)
			}
		}
		var err error
		merged, err = loadWeights(ctx, tx, quizID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *SQLStorage) LoadBestScore(ctx context.Context, quizID string) (int, error) {
	var best int
	err := s.db.GetContext(ctx, &best, "SELECT best_score FROM quiz_scores WHERE quiz_id = ?", quizID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, transient("load best score", err)
	}
	return best, nil
}

func (s *SQLStorage) SaveBestScore(ctx context.Context, quizID string, score int) (int, error) {
	var best int
	err := s.inTx(ctx, "save_best_score", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quiz_scores (quiz_id, best_score) VALUES (?, ?)
			ON CONFLICT (quiz_id) DO UPDATE SET best_score = MAX(best_score, excluded.best_score)
		`, quizID, score); err != nil {
			return transient("save best score", err)
		}
		if err := tx.GetContext(ctx, &best,
			"SELECT best_score FROM quiz_scores WHERE quiz_id = ?", quizID); err != nil {
			return transient("read best score", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return best, nil
}
