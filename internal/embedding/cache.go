package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Nik853/semantic-layer-agent/internal/common/database"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/common/metrics"
)

// CachedEmbedder wraps another Embedder with a Redis vector cache. Cache
// failures degrade to the inner embedder; they never fail the request.
type CachedEmbedder struct {
	inner  Embedder
	redis  *database.RedisClient
	ttl    time.Duration
	logger logger.Logger
}

// NewCachedEmbedder builds the decorator. A zero ttl means entries never
// expire.
func NewCachedEmbedder(inner Embedder, rdb *database.RedisClient, ttl time.Duration, log logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		redis:  rdb,
		ttl:    ttl,
		logger: log,
	}
}

func (c *CachedEmbedder) Name() string    { return c.inner.Name() }
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Embed checks Redis first and falls through to the inner embedder on a
// miss. Fresh vectors are written back best-effort.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if raw, err := c.redis.Get(ctx, key); err == nil {
		if vector, decodeErr := decodeVector([]byte(raw), c.inner.Dimensions()); decodeErr == nil {
			metrics.EmbeddingCacheHits.WithLabelValues("hit").Inc()
			return vector, nil
		}
		// Undecodable entry, drop it and re-embed.
		_ = c.redis.Del(ctx, key)
	} else if err != redis.Nil {
		metrics.EmbeddingCacheHits.WithLabelValues("error").Inc()
		c.logger.WithError(err).Warn("Embedding cache read failed, falling through")
	} else {
		metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
	}

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.redis.Set(ctx, key, encodeVector(vector), c.ttl); err != nil {
		c.logger.WithError(err).Warn("Embedding cache write failed")
	}
	return vector, nil
}

// cacheKey hashes model and text together so switching models never
// serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "|" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// encodeVector packs float32s little-endian. Binary keeps entries a
// quarter of the JSON size.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(data []byte, dimensions int) ([]float32, error) {
	if len(data) != 4*dimensions {
		return nil, fmt.Errorf("cached vector has %d bytes (want %d)", len(data), 4*dimensions)
	}
	v := make([]float32, dimensions)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v, nil
}
