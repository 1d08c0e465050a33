package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nft-marketplace/marketnode/internal/rpc/handlers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func statusRoutes() handlers.MethodHandlers {
	return (&handlers.MarketHandlers{Source: "local"}).Routes()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func waitForServer(t *testing.T, url string) *http.Response {
	t.Helper()
	var (
		resp *http.Response
		err  error
	)
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	return resp
}

func TestStartRPCServer_StartAndClose(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closeFunc := StartRPCServer(port, statusRoutes(), ctx)

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/status", port)
	resp := waitForServer(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), `"event_source":"local"`)

	start := time.Now()
	closeFunc()
	require.Less(t, time.Since(start), 5*time.Second, "server shutdown took too long")

	_, err = http.Get(url)
	require.Error(t, err, "expected error after server shutdown")
}

func TestStartRPCServer_CloseAfterContextCancel(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	closeFunc := StartRPCServer(port, statusRoutes(), ctx)
	resp := waitForServer(t, fmt.Sprintf("http://127.0.0.1:%d/api/v1/status", port))
	resp.Body.Close()

	cancel()
	closeFunc()

	_, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/status", port))
	require.Error(t, err)
}

func TestNewMux_Routes(t *testing.T) {
	server := httptest.NewServer(NewMux(statusRoutes()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/invalid-route")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "go_goroutines")
}

func TestLoggingMiddleware_StatusCodeCapture(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	originalLogger := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(originalLogger)

	server := httptest.NewServer(loggingMiddleware(NewMux(statusRoutes())))
	defer server.Close()

	for _, path := range []string{"/api/v1/status", "/api/v1/collections"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	require.Equal(t, int64(http.StatusOK), fields["status"])
	require.Equal(t, http.MethodGet, fields["method"])
	require.Equal(t, "/api/v1/status", fields["path"])
	require.NotEmpty(t, fields["ip"])

	require.Equal(t, int64(http.StatusBadRequest), entries[1].ContextMap()["status"], "missing address is rejected")
}
