package sourceprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func probeAgainst(t *testing.T, status int, contentLength string) (int64, bool, error) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if contentLength != "" {
			w.Header().Set("Content-Length", contentLength)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	p := New(srv.Client(), zap.NewNop())
	return p.Probe(context.Background(), srv.URL+"/artifact.tar")
}

func TestProbeReadySource(t *testing.T) {
	total, ready, err := probeAgainst(t, http.StatusOK, "4096")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, int64(4096), total)
}

func TestProbeReadyWithoutLength(t *testing.T) {
	total, ready, err := probeAgainst(t, http.StatusOK, "")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, int64(0), total)
}

func TestProbeNotReadyStatuses(t *testing.T) {
	for _, status := range []int{
		http.StatusNotFound, http.StatusForbidden,
		http.StatusUnauthorized, http.StatusTooManyRequests,
	} {
		_, ready, err := probeAgainst(t, status, "")
		require.NoError(t, err, "status %d", status)
		assert.False(t, ready, "status %d", status)
	}
}

func TestProbeHeadRefusedIsReady(t *testing.T) {
	_, ready, err := probeAgainst(t, http.StatusMethodNotAllowed, "")
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestProbeServerErrorFails(t *testing.T) {
	_, _, err := probeAgainst(t, http.StatusInternalServerError, "")
	require.Error(t, err)
}

func TestProbeSkipsNonHTTPSchemes(t *testing.T) {
	p := New(nil, zap.NewNop())
	total, ready, err := p.Probe(context.Background(), "s3://bucket/key")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, int64(0), total)
}
