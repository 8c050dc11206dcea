package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/redisx"
)

// Cached keeps recent answers in redis. Redis failures fall through to Next.
type Cached struct {
	Next  Suggester
	Redis redis.Cmdable
	TTL   time.Duration
	Log   *logger.Logger
}

func (c *Cached) SuggestSimilar(ctx context.Context, variantIDs []string, limit int) ([]Suggestion, error) {
	limit = clampLimit(limit)
	key := cacheKey(variantIDs, limit)

	if s, err := c.Redis.Get(ctx, key).Result(); err == nil {
		var out []Suggestion
		if json.Unmarshal([]byte(s), &out) == nil {
			return out, nil
		}
	} else if err != redis.Nil && c.Log != nil {
		c.Log.Warn("suggest cache read", "key", key, err)
	}

	out, err := c.Next.SuggestSimilar(ctx, variantIDs, limit)
	if err != nil {
		return nil, err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = redisx.TTLSuggest
	}
	b, _ := json.Marshal(out)
	if err := c.Redis.Set(ctx, key, b, ttl).Err(); err != nil && c.Log != nil {
		c.Log.Warn("suggest cache write", "key", key, err)
	}
	return out, nil
}

func cacheKey(ids []string, limit int) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return fmt.Sprintf(redisx.KeySuggest, strings.Join(sorted, ","), limit)
}
