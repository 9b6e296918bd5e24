package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// In-memory implementation of [SessionStore].
//
// Sessions are short-lived by design (see SessionTTL), so process-local
// storage is sufficient: if the process restarts, users restart the login
// flow. A background janitor evicts entries shortly after expiry; Get also
// checks expiry itself so reads never race the janitor.
type MemStore struct {
	cache *ttlcache.Cache[string, *AuthSession]
}

var _ SessionStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	cache := ttlcache.New[string, *AuthSession](
		ttlcache.WithDisableTouchOnHit[string, *AuthSession](),
	)
	go cache.Start()
	return &MemStore{cache: cache}
}

// Stops the background eviction goroutine.
func (m *MemStore) Close() {
	m.cache.Stop()
}

func (m *MemStore) Save(ctx context.Context, sess *AuthSession) error {
	if sess.State == "" {
		return fmt.Errorf("session has empty state token")
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		// already expired; keep it visible to the expiry check in Get rather than guessing here
		ttl = time.Minute
	}
	m.cache.Set(sess.State, sess, ttl)
	return nil
}

func (m *MemStore) Get(ctx context.Context, state string) (*AuthSession, error) {
	item := m.cache.Get(state)
	if item == nil {
		return nil, ErrSessionNotFound
	}
	sess := item.Value()
	if sess.Expired(time.Now()) {
		m.cache.Delete(state)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemStore) Delete(ctx context.Context, state string) error {
	m.cache.Delete(state)
	return nil
}
