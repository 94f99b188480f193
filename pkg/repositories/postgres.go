package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/repositories/models"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to the database and applies migrations.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	var username string
	var database string
	if err := pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %w", err)
	}
	log.Info("Connected to %s as %s", database, username)

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrate(db, "postgres", "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) CreateGame(ctx context.Context, doc *types.GameDocument) error {
	doc.Version = 1
	b, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	q := `
	INSERT INTO games (game_code, version, document, created_at, updated_at, expires_at)
	VALUES ($1, $2, $3, $4, $4, $5);
	`
	_, err = r.pool.Exec(ctx, q, doc.GameCode, doc.Version, b, doc.CreatedAt, doc.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &ErrGameExists{GameCode: doc.GameCode}
		}
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadGame(ctx context.Context, gameCode string) (*types.GameDocument, error) {
	q := `
	SELECT version, document FROM games WHERE game_code = $1 AND expires_at > $2;
	`
	var version int64
	var b []byte
	if err := r.pool.QueryRow(ctx, q, gameCode, time.Now()).Scan(&version, &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (r *PostgresRepository) SaveGame(ctx context.Context, doc *types.GameDocument) error {
	loaded := doc.Version
	doc.Version = loaded + 1
	b, err := encodeDocument(doc)
	if err != nil {
		doc.Version = loaded
		return err
	}
	q := `
	UPDATE games SET document = $1, version = $2, updated_at = $3, expires_at = $4
	WHERE game_code = $5 AND version = $6;
	`
	tag, err := r.pool.Exec(ctx, q, b, doc.Version, time.Now(), doc.ExpiresAt, doc.GameCode, loaded)
	if err != nil {
		doc.Version = loaded
		return fmt.Errorf("failed to update game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		doc.Version = loaded
		return r.missOrConflict(ctx, doc.GameCode, loaded)
	}
	return nil
}

func (r *PostgresRepository) missOrConflict(ctx context.Context, gameCode string, version int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM games WHERE game_code = $1)", gameCode).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check game: %w", err)
	}
	if !exists {
		return &ErrNotFound{}
	}
	return &ErrVersionConflict{GameCode: gameCode, Version: version}
}

func (r *PostgresRepository) DeleteExpiredGames(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM games WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired games: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) SaveGameResult(ctx context.Context, result *models.GameResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range result.Players {
		q := `
		INSERT INTO game_results (game_code, player_id, nickname, score, rounds, topic, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_code, player_id) DO UPDATE SET nickname = $3, score = $4, rounds = $5, topic = $6, finished_at = $7;
		`
		if _, err := tx.Exec(ctx, q, result.GameCode, p.PlayerID, p.Nickname, p.Score, result.Rounds, result.Topic, result.FinishedAt); err != nil {
			return fmt.Errorf("failed to insert game result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListGameResults(ctx context.Context, gameCode string) ([]models.PlayerResult, error) {
	rows, err := r.pool.Query(ctx, "SELECT player_id, nickname, score FROM game_results WHERE game_code = $1 ORDER BY score DESC, nickname", gameCode)
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

func (r *PostgresRepository) FindWordByLabel(ctx context.Context, label string) (*types.WordRef, error) {
	q := `
	SELECT word_id, label, x, y, z, embedding FROM words WHERE label_lower = $1 LIMIT 1;
	`
	word, err := scanWord(r.pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(label))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan word: %w", err)
	}
	return word, nil
}

func (r *PostgresRepository) GetWords(ctx context.Context, ids []string) ([]*types.WordRef, error) {
	if len(ids) == 0 {
		return []*types.WordRef{}, nil
	}
	rows, err := r.pool.Query(ctx, "SELECT word_id, label, x, y, z, embedding FROM words WHERE word_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	return collectWords(rows)
}

func (r *PostgresRepository) ListWordsByTopic(ctx context.Context, topic string, limit int) ([]*types.WordRef, error) {
	rows, err := r.pool.Query(ctx, "SELECT word_id, label, x, y, z, embedding FROM words WHERE topic = $1 ORDER BY random() LIMIT $2", topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	return collectWords(rows)
}

func (r *PostgresRepository) SaveWordEmbedding(ctx context.Context, wordID string, embedding []float32) error {
	tag, err := r.pool.Exec(ctx, "UPDATE words SET embedding = $1 WHERE word_id = $2", encodeEmbedding(embedding), wordID)
	if err != nil {
		return fmt.Errorf("failed to update word embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{}
	}
	return nil
}

func (r *PostgresRepository) SaveWords(ctx context.Context, topic string, words []*types.WordRef) error {
	batch := &pgx.Batch{}
	for _, w := range words {
		batch.Queue(`
		INSERT INTO words (word_id, label, label_lower, topic, x, y, z, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (word_id) DO UPDATE SET label = $2, label_lower = $3, topic = $4, x = $5, y = $6, z = $7,
			embedding = COALESCE($8, words.embedding);
		`, w.ID, w.Label, strings.ToLower(w.Label), topic, w.Position[0], w.Position[1], w.Position[2], encodeEmbedding(w.Embedding))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save words: %w", err)
	}
	return nil
}

func scanWord(row pgx.Row) (*types.WordRef, error) {
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

func collectWords(rows pgx.Rows) ([]*types.WordRef, error) {
	defer rows.Close()
	words := []*types.WordRef{}
	for rows.Next() {
		word, err := scanWord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan word: %w", err)
		}
		words = append(words, word)
	}
	return words, rows.Err()
}
