package discovery

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/dnscache"

	"github.com/cuemby/selfstart/internal/model"
)

// HTTPProber issues a real GET against an endpoint's health_path.
type HTTPProber struct {
	Client   *http.Client
	resolver *dnscache.Resolver
}

// NewHTTPProber returns a prober using a dedicated client so probe
// timeouts never borrow another component's http.Client deadline. Probe
// targets are the same handful of service hosts polled over and over on
// a fixed interval, so DNS lookups are cached and refreshed in the
// background rather than resolved fresh on every probe.
func NewHTTPProber() *HTTPProber {
	resolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil || len(ips) == 0 {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}
	return &HTTPProber{Client: &http.Client{Transport: transport}, resolver: resolver}
}

func (p *HTTPProber) Probe(ctx context.Context, endpoint model.Endpoint, timeout time.Duration) bool {
	scheme := endpoint.Protocol
	if scheme == "" {
		scheme = "http"
	}
	path := endpoint.HealthPath
	if path == "" {
		path = "/"
	}
	url := scheme + "://" + endpoint.Host + ":" + strconv.Itoa(endpoint.Port) + path

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
