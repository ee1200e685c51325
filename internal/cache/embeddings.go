package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketEmbeddings = []byte("embeddings")
	errMiss          = errors.New("cache miss")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type entry struct {
	Model     string    `json:"model"`
	Values    []float32 `json:"values"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingCache memoizes provider embeddings on disk, keyed by model and text.
// It only saves provider calls across restarts; the corpus itself is still
// rebuilt in memory on every start.
type EmbeddingCache struct {
	db     *bbolt.DB
	next   Embedder
	model  string
	hits   atomic.Int64
	misses atomic.Int64
}

func NewEmbeddingCache(path string, next Embedder, model string) (*EmbeddingCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create embedding bucket: %w", err)
	}

	return &EmbeddingCache{db: db, next: next, model: model}, nil
}

func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.model, text)

	if values, ok := c.get(key); ok {
		c.hits.Add(1)
		return values, nil
	}
	c.misses.Add(1)

	values, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		if err := c.put(key, values); err != nil {
			log.Printf("Warning: failed to cache embedding: %v", err)
		}
	}
	return values, nil
}

func (c *EmbeddingCache) get(key []byte) ([]float32, bool) {
	var e entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEmbeddings).Get(key)
		if data == nil {
			return errMiss
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		if err != errMiss {
			log.Printf("Warning: unreadable embedding cache entry, refetching: %v", err)
		}
		return nil, false
	}
	if e.Model != c.model || len(e.Values) == 0 {
		return nil, false
	}
	return e.Values, true
}

func (c *EmbeddingCache) put(key []byte, values []float32) error {
	data, err := json.Marshal(entry{Model: c.model, Values: values, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put(key, data)
	})
}

// Stats returns cache hits and misses since open.
func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *EmbeddingCache) Close() error {
	return c.db.Close()
}

func cacheKey(model, text string) []byte {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return []byte(hex.EncodeToString(sum[:]))
}
