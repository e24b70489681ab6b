package vectorindex

import (
	"database/sql"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
)

// EmbeddingCache avoids re-calling the embedding service for chunk text
// that hashes identically under the same model (e.g. shared boilerplate
// repeated verbatim across chunks or tasks).
type EmbeddingCache struct {
	db *sql.DB
}

const embeddingCacheDDL = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	content_hash TEXT NOT NULL,
	model        TEXT NOT NULL,
	vector       BLOB NOT NULL,
	PRIMARY KEY (content_hash, model)
);
`

// OpenEmbeddingCache opens (creating if needed) the cache database at path.
func OpenEmbeddingCache(path string) (*EmbeddingCache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	if _, err := db.Exec(embeddingCacheDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate embedding cache: %w", err)
	}
	return &EmbeddingCache{db: db}, nil
}

// Close closes the underlying database handle.
func (c *EmbeddingCache) Close() error { return c.db.Close() }

// Get returns the cached vector for (hash, model), if present.
func (c *EmbeddingCache) Get(hash, model string) ([]float32, bool) {
	var blob []byte
	err := c.db.QueryRow(`SELECT vector FROM embedding_cache WHERE content_hash = ? AND model = ?`, hash, model).Scan(&blob)
	if err != nil {
		return nil, false
	}
	return decodeVector(blob), true
}

// Put stores vector under (hash, model).
func (c *EmbeddingCache) Put(hash, model string, vector []float32) error {
	_, err := c.db.Exec(`
		INSERT INTO embedding_cache (content_hash, model, vector) VALUES (?, ?, ?)
		ON CONFLICT(content_hash, model) DO UPDATE SET vector = excluded.vector
	`, hash, model, encodeVector(vector))
	return err
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4+0]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
