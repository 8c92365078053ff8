package storage

const schema = `
-- Decks carry the scheduling settings. A NULL session_size means no cap.
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    session_size INTEGER CHECK (session_size IS NULL OR session_size >= 1),
    last_session_completed_at DATETIME
);

-- Mastery columns are nullable; NULL loads as level 0 due now.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    deck_id TEXT NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    srs_level INTEGER,
    next_review DATETIME,

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);

CREATE TABLE IF NOT EXISTS reviews (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL,
    deck_id TEXT NOT NULL,
    knew_it BOOLEAN NOT NULL,
    rating INTEGER NOT NULL,
    reviewed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reviews_deck ON reviews(deck_id);

CREATE TABLE IF NOT EXISTS quiz_weights (
    quiz_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    weight INTEGER NOT NULL DEFAULT 0 CHECK (weight >= 0),
    PRIMARY KEY (quiz_id, item_id)
);

CREATE TABLE IF NOT EXISTS quiz_scores (
    quiz_id TEXT PRIMARY KEY,
    best_score INTEGER NOT NULL DEFAULT 0
);
`
