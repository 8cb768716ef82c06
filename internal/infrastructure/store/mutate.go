package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// MaxMutateAttempts bounds the compare-and-swap retry loop in Mutate.
const MaxMutateAttempts = 64

// ErrSkipWrite may be returned by a Mutate callback to finish without writing.
// Mutate then returns the loaded value and a nil error.
var ErrSkipWrite = errors.New("skip write")

// ErrContention is returned when Mutate keeps losing the version race.
var ErrContention = fmt.Errorf("too much contention: %w", ErrVersionConflict)

// Load reads a record and decodes it into a new T.
func Load[T any](ctx context.Context, rs RecordStoreInterface, collection, id string) (*T, int64, error) {
	rec, err := rs.Get(ctx, collection, id)
	if err != nil {
		return nil, 0, err
	}
	v := new(T)
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return nil, 0, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return v, rec.Version, nil
}

// LoadAll decodes every record of a collection.
func LoadAll[T any](ctx context.Context, rs RecordStoreInterface, collection string) ([]*T, error) {
	recs, err := rs.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := json.Unmarshal(rec.Data, v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Mutate performs an atomic read-modify-write of one record: it loads the
// record, applies fn and writes it back conditioned on the version it read,
// retrying from a fresh read when another writer got there first. An error
// returned by fn aborts without writing and is passed through unchanged.
func Mutate[T any](ctx context.Context, rs RecordStoreInterface, collection, id string, fn func(*T) error) (*T, error) {
	for attempt := 0; attempt < MaxMutateAttempts; attempt++ {
		v, version, err := Load[T](ctx, rs, collection, id)
		if err != nil {
			return nil, err
		}
		if err := fn(v); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return v, nil
			}
			return nil, err
		}
		_, err = rs.CompareAndSwap(ctx, collection, id, version, v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		if err := backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, ErrContention
}

func backoff(ctx context.Context, attempt int) error {
	if attempt < 2 {
		return ctx.Err()
	}
	d := time.Duration(rand.IntN(50*(attempt+1))) * time.Microsecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
