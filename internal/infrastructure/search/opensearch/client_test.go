package opensearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/RegScan/pkg/errors"
)

func newTestServer(statusCode int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
	}))
}

func newTestConfig(addr string) ClientConfig {
	return ClientConfig{
		Addresses:      []string{addr},
		RequestTimeout: time.Second,
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr string
	}{
		{"valid", ClientConfig{Addresses: []string{"http://localhost:9200"}, RequestTimeout: 10 * time.Second}, ""},
		{"no addresses", ClientConfig{RequestTimeout: time.Second}, "invalid configuration"},
		{"negative retries", ClientConfig{Addresses: []string{"http://x"}, MaxRetries: -1, RequestTimeout: time.Second}, "MaxRetries must be >= 0"},
		{"zero timeout", ClientConfig{Addresses: []string{"http://x"}}, "RequestTimeout must be > 0"},
		{"tls without cert", ClientConfig{Addresses: []string{"http://x"}, RequestTimeout: time.Second, TLSEnabled: true}, "TLSCertPath required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg ClientConfig
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, DefaultAssessmentIndex, cfg.Index)
}

func TestNewClient_Success(t *testing.T) {
	server := newTestServer(http.StatusOK)
	defer server.Close()

	client, err := NewClient(newTestConfig(server.URL), logging.NewNopLogger())
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.IsHealthy())
	assert.NotNil(t, client.GetClient())
	assert.Equal(t, []string{server.URL}, client.Config().Addresses)
}

func TestNewClient_PingFails(t *testing.T) {
	server := newTestServer(http.StatusServiceUnavailable)
	defer server.Close()

	cfg := newTestConfig(server.URL)
	cfg.MaxRetries = 0
	client, err := NewClient(cfg, logging.NewNopLogger())
	assert.Nil(t, client)
	assert.Equal(t, ErrConnectionFailed, err)
}

func TestPing_TracksHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	client, err := newUnchecked(ClientConfig{Addresses: []string{server.URL}}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Ping(context.Background()))
	assert.True(t, client.IsHealthy())

	status.Store(http.StatusBadRequest)
	assert.Error(t, client.Ping(context.Background()))
	assert.False(t, client.IsHealthy())
}
