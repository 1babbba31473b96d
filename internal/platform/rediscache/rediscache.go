package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/semlink/semlink/internal/platform/logger"
)

// EmbeddingCache stores triple embeddings across pool rebuilds so a
// knowledge-base reload does not re-embed unchanged triples.
type EmbeddingCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewEmbeddingCache returns (nil, nil) when REDIS_ADDR is unset; the cache is
// an optimization, not a requirement.
func NewEmbeddingCache(log *logger.Logger) (*EmbeddingCache, error) {
	if log == nil {
		return nil, fmt.Errorf("rediscache: logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}

	ttl := 7 * 24 * time.Hour
	return &EmbeddingCache{
		log: log.With("client", "EmbeddingCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

// Key derives a stable cache key from the embedding model version and the
// embeddable text.
func Key(modelVersion, text string) string {
	h := sha256.Sum256([]byte(modelVersion + "\x00" + text))
	return "semlink:emb:" + hex.EncodeToString(h[:16])
}

func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingCache) Set(ctx context.Context, key string, vec []float32) {
	if c == nil || c.rdb == nil || len(vec) == 0 {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("embedding cache write failed", "error", err)
	}
}

func (c *EmbeddingCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
