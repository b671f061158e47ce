package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	mu    sync.Mutex
	calls int
	data  map[string]string
}

func (c *countingProvider) Get(_ context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	v, ok := c.data[name]
	if !ok {
		return "", errors.New("missing")
	}
	return v, nil
}

func TestLazyLoadsOnce(t *testing.T) {
	p := &countingProvider{data: map[string]string{"API_KEY": "k", "API_SECRET": "s"}}
	lazy := NewLazy(p, "API_KEY", "API_SECRET")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vals, err := lazy.Load(context.Background())
			require.NoError(t, err)
			require.Equal(t, []string{"k", "s"}, vals)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, lazy.FetchCount())
	p.mu.Lock()
	require.Equal(t, 2, p.calls, "one fetch per secret name")
	p.mu.Unlock()
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	p := &countingProvider{data: map[string]string{}}
	lazy := NewLazy(p, "API_KEY")

	_, err := lazy.Load(context.Background())
	require.Error(t, err)

	p.mu.Lock()
	p.data["API_KEY"] = "late"
	p.mu.Unlock()

	vals, err := lazy.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"late"}, vals)
	require.Equal(t, 2, lazy.FetchCount())
}

func TestStaticProvider(t *testing.T) {
	s := Static{"NAME": "value"}
	v, err := s.Get(context.Background(), "NAME")
	require.NoError(t, err)
	require.Equal(t, "value", v)
	_, err = s.Get(context.Background(), "OTHER")
	require.Error(t, err)
}
