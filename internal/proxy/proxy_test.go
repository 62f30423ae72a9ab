package proxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/registry"
)

func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	return New(registry.NewMemory(), hookbus.New(zerolog.Nop()), zerolog.Nop())
}

func backendFromServer(t *testing.T, srv *httptest.Server) *model.Backend {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &model.Backend{Host: host, Port: port, Weight: 1, Status: model.BackendHealthy}
}

func TestProxy_RegisterAndForward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := newTestProxy(t)
	target := model.ProxyTarget{Name: "web", Policy: model.PolicyRoundRobin, MaxRetries: 1}
	require.NoError(t, p.RegisterTarget(context.Background(), target))
	require.NoError(t, p.AddBackend("web", backendFromServer(t, srv)))

	resp, err := p.Proxy(context.Background(), "web", http.MethodGet, "/", http.Header{}, nil, "1.2.3.4", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestProxy_ActiveConnections(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProxy(t)
	require.NoError(t, p.RegisterTarget(context.Background(), model.ProxyTarget{Name: "web", Policy: model.PolicyRoundRobin}))
	require.NoError(t, p.AddBackend("web", backendFromServer(t, srv)))

	done := make(chan struct{})
	go func() {
		_, _ = p.Proxy(context.Background(), "web", http.MethodPost, "/", http.Header{}, []byte("payload"), "1.2.3.4", "")
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.ActiveConnections("web") > 0 }, time.Second, 5*time.Millisecond)

	close(release)
	<-done
	assert.Equal(t, int64(0), p.ActiveConnections("web"))
}

func TestProxy_NoHealthyBackendsErrors(t *testing.T) {
	p := newTestProxy(t)
	require.NoError(t, p.RegisterTarget(context.Background(), model.ProxyTarget{Name: "web", Policy: model.PolicyRoundRobin}))
	_, err := p.Proxy(context.Background(), "web", http.MethodGet, "/", http.Header{}, nil, "1.2.3.4", "")
	assert.Error(t, err)
}

func TestSelectBackend_LeastConnections(t *testing.T) {
	a := &backendState{backend: &model.Backend{Host: "a", Status: model.BackendHealthy, CurrentConnections: 5}}
	b := &backendState{backend: &model.Backend{Host: "b", Status: model.BackendHealthy, CurrentConnections: 1}}
	best := leastConnections([]*backendState{a, b})
	assert.Equal(t, "b", best.backend.Host)
}

func TestSelectBackend_HealthBased(t *testing.T) {
	a := &backendState{backend: &model.Backend{Host: "a", Status: model.BackendHealthy, SuccessCount: 5, ErrorCount: 5}}
	b := &backendState{backend: &model.Backend{Host: "b", Status: model.BackendHealthy, SuccessCount: 9, ErrorCount: 1}}
	best := healthBased([]*backendState{a, b})
	assert.Equal(t, "b", best.backend.Host)
}

func TestSetMaintenance_ExcludesFromSelection(t *testing.T) {
	p := newTestProxy(t)
	require.NoError(t, p.RegisterTarget(context.Background(), model.ProxyTarget{Name: "web", Policy: model.PolicyRoundRobin}))
	backend := &model.Backend{Host: "a", Port: 1, Status: model.BackendHealthy}
	require.NoError(t, p.AddBackend("web", backend))
	require.NoError(t, p.SetMaintenance("web", backend.Addr(), true))

	ts, err := p.targetState("web")
	require.NoError(t, err)
	_, _, err = p.selectBackend(ts, "1.2.3.4", "", map[string]bool{})
	assert.Error(t, err)
}

func TestHygienicRequestHeaders_StripsHopByHopAndAddsForwarding(t *testing.T) {
	in := http.Header{}
	in.Set("Connection", "keep-alive")
	in.Set("Host", "original.example.com")

	out := hygienicRequestHeaders(in, "9.9.9.9", "backend:80")
	assert.Empty(t, out.Get("Connection"))
	assert.Empty(t, out.Get("Host"))
	assert.Equal(t, "9.9.9.9", out.Get("X-Real-IP"))
	assert.Equal(t, "9.9.9.9", out.Get("X-Forwarded-For"))
	assert.Equal(t, "http", out.Get("X-Forwarded-Proto"))
}

func TestProbeOne_RespectsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProxy(t)
	b := backendFromServer(t, srv)
	ok := p.probeOne(context.Background(), b, "/", 5*time.Millisecond)
	assert.False(t, ok)
}
