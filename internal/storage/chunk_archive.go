package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ChunkArchive persists the raw provider chunks of a completed stream together
// with the final response text, keyed by the Discord message id of the reply.
// The data is stored as JSONB so the chunk shape can evolve without
// migrations. Archival is strictly best effort and optional; a nil archive is
// safe to call.
type ChunkArchive struct {
	db *sql.DB
}

// NewChunkArchive initialises the archive with the shared database connection.
// Returns nil when no database is configured.
func NewChunkArchive(dbURL string) *ChunkArchive {
	if dbURL == "" {
		return nil
	}
	db, err := GetDatabase(dbURL)
	if err != nil {
		log.Printf("Stream chunk archive disabled: %v", err)
		return nil
	}
	return &ChunkArchive{db: db}
}

// SaveStream upserts the raw chunks and final response for a message.
func (a *ChunkArchive) SaveStream(ctx context.Context, messageID, model string, rawChunks []string, finalResponse string) error {
	if a == nil || messageID == "" {
		return nil
	}

	data, err := json.Marshal(rawChunks)
	if err != nil {
		return fmt.Errorf("failed to marshal chunks: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO stream_chunks (message_id, model, chunks, final_response, archived_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(message_id) DO UPDATE SET
			model = EXCLUDED.model,
			chunks = EXCLUDED.chunks,
			final_response = EXCLUDED.final_response,
			archived_at = EXCLUDED.archived_at
	`, messageID, model, data, finalResponse, time.Now().Unix())

	return err
}

// GetStream retrieves the archived chunks for a message. Returns (nil, "",
// nil) on a miss.
func (a *ChunkArchive) GetStream(ctx context.Context, messageID string) ([]string, string, error) {
	if a == nil {
		return nil, "", nil
	}

	var rawData []byte
	var finalResponse string
	err := a.db.QueryRowContext(ctx,
		`SELECT chunks, final_response FROM stream_chunks WHERE message_id = $1`,
		messageID,
	).Scan(&rawData, &finalResponse)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("query error: %w", err)
	}

	var chunks []string
	if err := json.Unmarshal(rawData, &chunks); err != nil {
		return nil, "", fmt.Errorf("unmarshal error: %w", err)
	}
	return chunks, finalResponse, nil
}

// PruneOlderThan deletes archive rows older than the horizon. Returns the
// number of rows removed.
func (a *ChunkArchive) PruneOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	if a == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-horizon).Unix()
	result, err := a.db.ExecContext(ctx, `DELETE FROM stream_chunks WHERE archived_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
