package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrSerialization wraps encode/decode failures in the typed helpers. The
// byte-oriented core never returns it.
var ErrSerialization = errors.New("cache: serialization failure")

// Serializer converts typed values to and from the bytes the cache trades
// in. It lives beside the coordinator, not inside it.
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

func (JSONSerializer) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSONSerializer) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

// SetAs encodes v with s and stores it under key.
func SetAs[T any](ctx context.Context, c Cache, s Serializer, key string, v T, exp Expiration) error {
	b, err := s.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return c.Set(ctx, key, b, exp)
}

// GetAs reads key and decodes it with s. ok is false on a cache miss.
func GetAs[T any](ctx context.Context, c Cache, s Serializer, key string) (T, bool, error) {
	var out T
	b, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := s.Decode(b, &out); err != nil {
		return out, false, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return out, true, nil
}
