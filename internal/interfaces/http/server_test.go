package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServeAndStop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, handler, nil)
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_Defaults(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 8080}, http.NotFoundHandler(), nil)
	assert.Equal(t, ":8080", srv.Addr())
	assert.Equal(t, 30*time.Second, srv.shutdownTimeout)
	assert.Equal(t, 15*time.Second, srv.srv.ReadTimeout)
	assert.NotNil(t, srv.Handler())
}
