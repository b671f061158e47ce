// Package secrets abstracts where API credentials live. The execution
// engine loads them lazily on the first signed request and caches them in
// memory; a single-flight lock keeps concurrent first loads from hitting the
// backing store more than once.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Provider fetches a named secret.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// Env reads secrets from environment variables.
type Env struct{}

func (Env) Get(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s not set", name)
	}
	return v, nil
}

// Static serves a fixed map; tests use it.
type Static map[string]string

func (s Static) Get(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %s not set", name)
	}
	return v, nil
}

// Lazy caches a successful load forever and retries failures. The mutex is
// the named single-flight credential lock: it is held across the backing
// fetch so exactly one caller performs the first load.
type Lazy struct {
	provider Provider
	names    []string

	mu     sync.Mutex
	values []string
	loaded bool
	calls  int
}

// NewLazy wraps a provider with single-flight caching for a fixed set of
// secret names.
func NewLazy(p Provider, names ...string) *Lazy {
	return &Lazy{provider: p, names: names}
}

// Load returns the cached values, fetching them on first use. The returned
// slice matches the order of the names given to NewLazy.
func (l *Lazy) Load(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.values, nil
	}
	l.calls++

	values := make([]string, len(l.names))
	for i, name := range l.names {
		v, err := l.provider.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	l.values = values
	l.loaded = true
	return values, nil
}

// FetchCount reports how many backing fetch attempts were made.
func (l *Lazy) FetchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
