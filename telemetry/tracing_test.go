package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestGenerateOTLPBearerTokenWithExpiration(t *testing.T) {
	token, err := GenerateOTLPBearerTokenWithExpiration("test-shared-secret", time.Now().Add(time.Hour))
	assert.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)
	assert.True(t, strings.HasPrefix(token, "1h."+strconv.FormatInt(time.Now().Unix(), 10)[:8]))
}

func TestGenerateOTLPBearerTokenWithExpirationLong(t *testing.T) {
	token, err := GenerateOTLPBearerTokenWithExpiration("test-shared-secret", time.Now().Add(time.Hour*24*30))
	assert.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)
	assert.True(t, strings.HasPrefix(token, "4w"))
}

func TestGenerateOTLPBearerTokenErrors(t *testing.T) {
	_, err := GenerateOTLPBearerTokenWithExpiration("secret", time.Now().Add(-time.Hour))
	assert.ErrorContains(t, err, "expiration time is in the past")

	_, err = GenerateOTLPBearerTokenWithExpiration("secret", time.Now().Add(400*24*time.Hour))
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestGenerateOTLPBearerTokenWithNoExpiration(t *testing.T) {
	a, err := GenerateOTLPBearerToken("test-shared-secret", "test-token")
	assert.NoError(t, err)
	assert.Len(t, strings.Split(a, "."), 2)

	b, _ := GenerateOTLPBearerToken("other-secret", "test-token")
	assert.NotEqual(t, a, b)
}

func TestNewTracingDisabled(t *testing.T) {
	shutdown, err := NewTracing(context.Background(), TracingConfig{ServiceName: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewTracingExports(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		auth  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	shutdown, err := NewTracing(context.Background(), TracingConfig{
		ServiceName:  "test-service",
		URL:          server.URL,
		SharedSecret: "secret",
		SampleRate:   1,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "cache get_user")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "/v1/traces")
	assert.True(t, strings.HasPrefix(auth, "Bearer 1d."))
}

func TestNewTracingBadURL(t *testing.T) {
	_, err := NewTracing(context.Background(), TracingConfig{URL: "://nope"})
	assert.Error(t, err)
}
