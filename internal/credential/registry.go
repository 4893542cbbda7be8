// Package credential holds the process-wide identity registry.
//
// Object storage drivers never keep credentials of their own. At fetch time
// they take a [Bundle] snapshot for their identity from the registry; when
// the snapshot is expired the registry asks the refresh callback for a new
// one. Refreshes take the writer lock, snapshots the reader lock.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/logging"
)

// Bundle is one set of credentials for an identity.
type Bundle struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	// Expiration is zero for credentials that never expire.
	Expiration time.Time
}

// Expired reports whether b is past its expiration at now.
func (b Bundle) Expired(now time.Time) bool {
	return !b.Expiration.IsZero() && !now.Before(b.Expiration)
}

// RefreshFunc produces a fresh bundle for identity.
type RefreshFunc func(ctx context.Context, identity string) (Bundle, error)

// Registry maps identities to credential bundles.
type Registry struct {
	mu      sync.RWMutex
	bundles map[string]Bundle
	refresh RefreshFunc
	now     func() time.Time
	log     *logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bundles: make(map[string]Bundle),
		now:     time.Now,
		log:     logging.For("credential"),
	}
}

var (
	defaultMu  sync.Mutex
	defaultReg = NewRegistry()
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultReg
}

// Init installs a fresh process-wide registry with the given refresh
// callback, which may be nil.
func Init(refresh RefreshFunc) *Registry {
	r := NewRegistry()
	r.refresh = refresh
	defaultMu.Lock()
	defaultReg = r
	defaultMu.Unlock()
	return r
}

// Shutdown drops every bundle and the refresh callback of the process-wide
// registry.
func Shutdown() {
	Init(nil)
}

// SetRefresher registers the callback used when a bundle is missing or
// expired.
func (r *Registry) SetRefresher(fn RefreshFunc) {
	r.mu.Lock()
	r.refresh = fn
	r.mu.Unlock()
}

// Provide stores b as the current bundle for identity.
func (r *Registry) Provide(identity string, b Bundle) {
	r.mu.Lock()
	r.bundles[identity] = b
	r.mu.Unlock()
	r.log.Debug("credentials provided", "identity", identity, "expiration", b.Expiration)
}

// ProvideISO is Provide with the expiration given as an ISO 8601 timestamp.
// An empty expiration means the bundle never expires.
func (r *Registry) ProvideISO(identity, accessKey, secretKey, sessionToken, expiration string) error {
	b := Bundle{AccessKey: accessKey, SecretKey: secretKey, SessionToken: sessionToken}
	if expiration != "" {
		t, err := time.Parse(time.RFC3339, expiration)
		if err != nil {
			return fmt.Errorf("credential %s: parse expiration: %w", identity, err)
		}
		b.Expiration = t
	}
	r.Provide(identity, b)
	return nil
}

// Get returns a snapshot of the bundle for identity. A missing or expired
// bundle is refreshed through the callback; without one Get fails with
// ErrAuthExpired.
func (r *Registry) Get(ctx context.Context, identity string) (Bundle, error) {
	r.mu.RLock()
	b, ok := r.bundles[identity]
	r.mu.RUnlock()
	if ok && !b.Expired(r.now()) {
		return b, nil
	}
	return r.Refresh(ctx, identity)
}

// Refresh forces a new bundle for identity from the refresh callback.
func (r *Registry) Refresh(ctx context.Context, identity string) (Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refresh == nil {
		r.log.Critical("credentials expired and no refresh callback registered", "identity", identity)
		return Bundle{}, fmt.Errorf("identity %q: %w", identity, h5err.ErrAuthExpired)
	}
	b, err := r.refresh(ctx, identity)
	if err != nil {
		r.log.Error("credential refresh failed", "identity", identity, "err", err)
		return Bundle{}, fmt.Errorf("identity %q: refresh: %w", identity, h5err.ErrAuthFailed)
	}
	if b.Expired(r.now()) {
		r.log.Critical("refresh callback returned expired credentials", "identity", identity)
		return Bundle{}, fmt.Errorf("identity %q: %w", identity, h5err.ErrAuthExpired)
	}
	r.bundles[identity] = b
	r.log.Info("credentials refreshed", "identity", identity, "expiration", b.Expiration)
	return b, nil
}
