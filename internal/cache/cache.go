package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Cache — общий интерфейс кэша. Значения — сериализованные байты,
// чтобы одинаково работать и с памятью, и с Redis.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// GetJSON читает и декодирует значение. ok=false — промах или битое значение.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

// Key склеивает части ключа через двоеточие: Key("availability", salon, ...).
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
