package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepipe/pkg/cache"
	"tradepipe/pkg/circuit"
	"tradepipe/pkg/types"
)

const testSecret = "api-test-secret"

type fakeKillSwitch struct {
	active     bool
	lastReason string
}

func (f *fakeKillSwitch) Active() bool { return f.active }
func (f *fakeKillSwitch) Activate(_ context.Context, reason string, _ float64) {
	f.active = true
	f.lastReason = reason
}
func (f *fakeKillSwitch) Deactivate(_ context.Context, reason string) {
	f.active = false
	f.lastReason = reason
}

type fakeStrategies struct {
	enabled map[string]bool
}

func (f *fakeStrategies) Toggle(name string, enabled bool) error {
	if _, ok := f.enabled[name]; !ok {
		return errors.New("unknown strategy " + name)
	}
	f.enabled[name] = enabled
	return nil
}
func (f *fakeStrategies) Strategies() map[string]bool { return f.enabled }

type fakeMode struct{}

func (fakeMode) Mode() types.TradingMode { return types.ModePaper }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, breakers ...*circuit.Breaker) (*Server, *fakeKillSwitch, *fakeStrategies) {
	t.Helper()
	ks := &fakeKillSwitch{}
	strats := &fakeStrategies{enabled: map[string]bool{"ma_cross": true}}
	srv := NewServer(Deps{
		Cache:      cache.NewMemory(),
		Breakers:   breakers,
		KillSwitch: ks,
		Strategies: strats,
		Mode:       fakeMode{},
		JWTSecret:  testSecret,
	}, zerolog.Nop())
	return srv, ks, strats
}

func doRequest(srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := GenerateToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	return token
}

func TestLiveness(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessHealthy(t *testing.T) {
	b := circuit.NewBreaker("feed", 3, time.Minute)
	srv, _, _ := newTestServer(t, b)

	rec := doRequest(srv, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"breaker.feed":"closed"`)
}

func TestReadinessOpenBreaker(t *testing.T) {
	b := circuit.NewBreaker("feed", 1, time.Minute)
	b.Failure()
	srv, _, _ := newTestServer(t, b)

	rec := doRequest(srv, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"breaker.feed":"open"`)
}

func TestReadinessStoreDown(t *testing.T) {
	ks := &fakeKillSwitch{}
	srv := NewServer(Deps{
		Cache:      cache.NewMemory(),
		Store:      failingPinger{},
		KillSwitch: ks,
		Strategies: &fakeStrategies{enabled: map[string]bool{}},
		JWTSecret:  testSecret,
	}, zerolog.Nop())

	rec := doRequest(srv, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestOpsRequireToken(t *testing.T) {
	srv, ks, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/killswitch/activate", "{}", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, ks.Active())

	rec = doRequest(srv, http.MethodPost, "/api/killswitch/activate", "{}", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRejectsTokenSignedWithWrongSecret(t *testing.T) {
	srv, _, _ := newTestServer(t)
	forged, err := GenerateToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/status", "", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKillSwitchLifecycle(t *testing.T) {
	srv, ks, _ := newTestServer(t)
	token := operatorToken(t)

	rec := doRequest(srv, http.MethodPost, "/api/killswitch/activate", `{"reason":"fat finger"}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ks.Active())
	assert.Equal(t, "fat finger", ks.lastReason)

	rec = doRequest(srv, http.MethodGet, "/api/status", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"killSwitchActive":true`)
	assert.Contains(t, rec.Body.String(), `"tradingMode":"PAPER"`)

	rec = doRequest(srv, http.MethodPost, "/api/killswitch/deactivate", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ks.Active())
	assert.Equal(t, "manual deactivation via API", ks.lastReason)
}

func TestStrategyToggle(t *testing.T) {
	srv, _, strats := newTestServer(t)
	token := operatorToken(t)

	rec := doRequest(srv, http.MethodPost, "/api/strategies/ma_cross/toggle", `{"enabled":false}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, strats.enabled["ma_cross"])

	rec = doRequest(srv, http.MethodPost, "/api/strategies/nope/toggle", `{"enabled":true}`, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/strategies/ma_cross/toggle", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
