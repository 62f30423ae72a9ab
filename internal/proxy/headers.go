package proxy

import "net/http"

// hopByHopHeaders are stripped from both directions per RFC 7230 §6.1;
// these are connection-scoped and meaningless once forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHop(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}

// hygienicRequestHeaders strips hop-by-hop headers, drops the
// incoming Host, and stamps forwarding headers.
func hygienicRequestHeaders(in http.Header, clientIP, backendHost string) http.Header {
	out := stripHopByHop(in)
	out.Del("Host")
	out.Set("X-Real-IP", clientIP)
	if existing := out.Get("X-Forwarded-For"); existing != "" {
		out.Set("X-Forwarded-For", existing+", "+clientIP)
	} else {
		out.Set("X-Forwarded-For", clientIP)
	}
	out.Set("X-Forwarded-Proto", "http")
	return out
}

func hygienicResponseHeaders(in http.Header) http.Header {
	return stripHopByHop(in)
}
