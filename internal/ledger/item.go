package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Item is a typed single slot stored as JSON under a fixed key.
type Item[T any] struct{ key string }

func NewItem[T any](key string) Item[T] { return Item[T]{key: key} }

func (i Item[T]) Key() string { return i.key }

// Load returns ErrNotFound when the slot is empty.
func (i Item[T]) Load(ctx context.Context, s Store) (T, error) {
	var v T
	raw, err := s.Load(ctx, i.key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: decode %s: %v", ErrStorage, i.key, err)
	}
	return v, nil
}

// MayLoad is Load that reports an empty slot as (zero, false, nil).
func (i Item[T]) MayLoad(ctx context.Context, s Store) (T, bool, error) {
	v, err := i.Load(ctx, s)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

func (i Item[T]) Save(ctx context.Context, s Store, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorage, i.key, err)
	}
	return s.Save(ctx, i.key, raw)
}

func (i Item[T]) Remove(ctx context.Context, s Store) error {
	return s.Delete(ctx, i.key)
}

// Map is a typed collection of JSON values under a common key prefix.
type Map[T any] struct{ prefix string }

func NewMap[T any](prefix string) Map[T] { return Map[T]{prefix: prefix} }

func (m Map[T]) item(key string) Item[T] { return Item[T]{key: m.prefix + key} }

func (m Map[T]) Load(ctx context.Context, s Store, key string) (T, error) {
	return m.item(key).Load(ctx, s)
}

func (m Map[T]) MayLoad(ctx context.Context, s Store, key string) (T, bool, error) {
	return m.item(key).MayLoad(ctx, s)
}

func (m Map[T]) Save(ctx context.Context, s Store, key string, v T) error {
	return m.item(key).Save(ctx, s, v)
}

func (m Map[T]) Remove(ctx context.Context, s Store, key string) error {
	return m.item(key).Remove(ctx, s)
}

// Pair is one decoded Map entry.
type Pair[T any] struct {
	Key   string
	Value T
}

// Range decodes every entry of the map, ordered by key.
func (m Map[T]) Range(ctx context.Context, s Store) ([]Pair[T], error) {
	entries, err := s.List(ctx, m.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Pair[T], 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrStorage, e.Key, err)
		}
		out = append(out, Pair[T]{Key: e.Key[len(m.prefix):], Value: v})
	}
	return out, nil
}
