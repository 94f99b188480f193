package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/repositories/models"
)

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database file at path and applies migrations.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) CreateGame(ctx context.Context, doc *types.GameDocument) error {
	doc.Version = 1
	b, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	q := `
	INSERT INTO games (game_code, version, document, created_at, updated_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	created := doc.CreatedAt.UnixMilli()
	_, err = r.db.ExecContext(ctx, q, doc.GameCode, doc.Version, b, created, created, doc.ExpiresAt.UnixMilli())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &ErrGameExists{GameCode: doc.GameCode}
		}
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LoadGame(ctx context.Context, gameCode string) (*types.GameDocument, error) {
	q := `
	SELECT version, document FROM games WHERE game_code = ? AND expires_at > ?;
	`
	var version int64
	var b []byte
	if err := r.db.QueryRowContext(ctx, q, gameCode, time.Now().UnixMilli()).Scan(&version, &b); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan game: %w", err)
	}
	doc, err := decodeDocument(b)
	if err != nil {
		return nil, err
	}
	doc.Version = version
	return doc, nil
}

func (r *SQLiteRepository) SaveGame(ctx context.Context, doc *types.GameDocument) error {
	loaded := doc.Version
	doc.Version = loaded + 1
	b, err := encodeDocument(doc)
	if err != nil {
		doc.Version = loaded
		return err
	}
	q := `
	UPDATE games SET document = ?, version = ?, updated_at = ?, expires_at = ?
	WHERE game_code = ? AND version = ?;
	`
	res, err := r.db.ExecContext(ctx, q, b, doc.Version, time.Now().UnixMilli(), doc.ExpiresAt.UnixMilli(), doc.GameCode, loaded)
	if err != nil {
		doc.Version = loaded
		return fmt.Errorf("failed to update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		doc.Version = loaded
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		doc.Version = loaded
		var exists int
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM games WHERE game_code = ?", doc.GameCode).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check game: %w", err)
		}
		if exists == 0 {
			return &ErrNotFound{}
		}
		return &ErrVersionConflict{GameCode: doc.GameCode, Version: loaded}
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpiredGames(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM games WHERE expires_at <= ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired games: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) SaveGameResult(ctx context.Context, result *models.GameResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range result.Players {
		q := `
		INSERT OR REPLACE INTO game_results (game_code, player_id, nickname, score, rounds, topic, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
		`
		if _, err := tx.ExecContext(ctx, q, result.GameCode, p.PlayerID, p.Nickname, p.Score, result.Rounds, result.Topic, result.FinishedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert game result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListGameResults(ctx context.Context, gameCode string) ([]models.PlayerResult, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT player_id, nickname, score FROM game_results WHERE game_code = ? ORDER BY score DESC, nickname", gameCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query game results: %w", err)
	}
	defer rows.Close()

	results := []models.PlayerResult{}
	for rows.Next() {
		var p models.PlayerResult
		if err := rows.Scan(&p.PlayerID, &p.Nickname, &p.Score); err != nil {
			return nil, fmt.Errorf("failed to scan game result: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (r *SQLiteRepository) FindWordByLabel(ctx context.Context, label string) (*types.WordRef, error) {
	q := `
	SELECT word_id, label, x, y, z, embedding FROM words WHERE label_lower = ? LIMIT 1;
	`
	word, err := scanSQLWord(r.db.QueryRowContext(ctx, q, strings.ToLower(strings.TrimSpace(label))))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan word: %w", err)
	}
	return word, nil
}

func (r *SQLiteRepository) GetWords(ctx context.Context, ids []string) ([]*types.WordRef, error) {
	if len(ids) == 0 {
		return []*types.WordRef{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, "SELECT word_id, label, x, y, z, embedding FROM words WHERE word_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	return collectSQLWords(rows)
}

func (r *SQLiteRepository) ListWordsByTopic(ctx context.Context, topic string, limit int) ([]*types.WordRef, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT word_id, label, x, y, z, embedding FROM words WHERE topic = ? ORDER BY RANDOM() LIMIT ?", topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	return collectSQLWords(rows)
}

func (r *SQLiteRepository) SaveWordEmbedding(ctx context.Context, wordID string, embedding []float32) error {
	res, err := r.db.ExecContext(ctx, "UPDATE words SET embedding = ? WHERE word_id = ?", encodeEmbedding(embedding), wordID)
	if err != nil {
		return fmt.Errorf("failed to update word embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return &ErrNotFound{}
	}
	return nil
}

func (r *SQLiteRepository) SaveWords(ctx context.Context, topic string, words []*types.WordRef) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := `
	INSERT INTO words (word_id, label, label_lower, topic, x, y, z, embedding)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (word_id) DO UPDATE SET label = excluded.label, label_lower = excluded.label_lower,
		topic = excluded.topic, x = excluded.x, y = excluded.y, z = excluded.z,
		embedding = COALESCE(excluded.embedding, words.embedding);
	`
	for _, w := range words {
		if _, err := tx.ExecContext(ctx, q, w.ID, w.Label, strings.ToLower(w.Label), topic, w.Position[0], w.Position[1], w.Position[2], encodeEmbedding(w.Embedding)); err != nil {
			return fmt.Errorf("failed to insert word %s: %w", w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqlScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLWord(row sqlScanner) (*types.WordRef, error) {
	word := &types.WordRef{}
	var embedding []byte
	if err := row.Scan(&word.ID, &word.Label, &word.Position[0], &word.Position[1], &word.Position[2], &embedding); err != nil {
		return nil, err
	}
	decoded, err := decodeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	word.Embedding = decoded
	return word, nil
}

func collectSQLWords(rows *sql.Rows) ([]*types.WordRef, error) {
	defer rows.Close()
	words := []*types.WordRef{}
	for rows.Next() {
		word, err := scanSQLWord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan word: %w", err)
		}
		words = append(words, word)
	}
	return words, rows.Err()
}
