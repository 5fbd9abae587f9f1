package keypool

import (
	"strings"
	"sync/atomic"

	"paperflow/internal/services"
)

// Rotator hands out credentials round-robin from a fixed pool.
type Rotator struct {
	provider string
	keys     []string
	cursor   atomic.Uint64
}

// NewRotator copies keys, dropping blanks, into a new pool for provider.
func NewRotator(provider string, keys []string) *Rotator {
	pool := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			pool = append(pool, k)
		}
	}
	return &Rotator{provider: provider, keys: pool}
}

// Provider returns the provider name the pool belongs to.
func (r *Rotator) Provider() string { return r.provider }

// Len reports the pool size.
func (r *Rotator) Len() int { return len(r.keys) }

// Pick returns pool[cursor mod len] and advances the cursor. Concurrent
// callers each observe a distinct cursor value.
func (r *Rotator) Pick() (string, error) {
	_, key, err := r.next()
	return key, err
}

func (r *Rotator) next() (int, string, error) {
	if len(r.keys) == 0 {
		return 0, "", services.Wrap(services.ErrConfiguration, r.provider, "pick credential", "", ErrEmptyPool)
	}
	n := r.cursor.Add(1) - 1
	idx := int(n % uint64(len(r.keys)))
	return idx, r.keys[idx], nil
}

// Cursor returns the number of picks made so far.
func (r *Rotator) Cursor() uint64 { return r.cursor.Load() }

// Mask shortens a credential for display.
func Mask(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "…" + key[len(key)-4:]
}
