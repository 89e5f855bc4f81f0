package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
)

// Embeddings are stored as little-endian float32 blobs. The dimension column
// guards against mixing vectors from different embedding backends.

// StoreEmbedding stores or replaces the embedding for a memory.
func (s *Store) StoreEmbedding(ctx context.Context, memoryID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", storage.ErrInvalidInput)
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_id, embedding, dimension, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension
	`, memoryID, encodeVector(embedding), len(embedding), ms(time.Now()))
	return wrapErr("store embedding", err)
}

// GetEmbedding retrieves the embedding for a memory.
func (s *Store) GetEmbedding(ctx context.Context, memoryID string) ([]float32, error) {
	var blob []byte
	err := s.reader.QueryRowContext(ctx,
		"SELECT embedding FROM memory_embeddings WHERE memory_id = ?", memoryID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get embedding", err)
	}
	return decodeVector(blob), nil
}

// AllEmbeddings returns cached embeddings for non-expired memories, newest
// memories first. The cap bounds memory use when the corpus grows large.
func (s *Store) AllEmbeddings(ctx context.Context, limit int) ([]storage.MemoryEmbedding, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT e.memory_id, m.topic, e.embedding
		FROM memory_embeddings e
		JOIN memories m ON m.id = e.memory_id
		WHERE m.expires_at IS NULL OR m.expires_at > ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, ms(time.Now()), limit)
	if err != nil {
		return nil, wrapErr("list embeddings", err)
	}
	defer rows.Close()

	var embeddings []storage.MemoryEmbedding
	for rows.Next() {
		var (
			memID string
			topic string
			blob  []byte
		)
		if err := rows.Scan(&memID, &topic, &blob); err != nil {
			return nil, wrapErr("scan embedding", err)
		}
		embeddings = append(embeddings, storage.MemoryEmbedding{
			MemoryID:  memID,
			Topic:     topic,
			Embedding: decodeVector(blob),
		})
	}
	return embeddings, rows.Err()
}

// encodeVector packs a float32 slice into a little-endian blob.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a little-endian blob into a float32 slice.
func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
