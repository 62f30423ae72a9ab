package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
)

func (d *dependencies) handleProxyTargetsList(w http.ResponseWriter, r *http.Request) {
	targets, err := d.store.ListProxyTargets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (d *dependencies) handleProxyTargetsRegister(w http.ResponseWriter, r *http.Request) {
	var t model.ProxyTarget
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, orcherr.Validation("api.proxy.targets", "", err))
		return
	}
	if err := d.proxy.RegisterTarget(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (d *dependencies) handleProxyBackendAdd(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("name")
	var b model.Backend
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, orcherr.Validation("api.proxy.backends", target, err))
		return
	}
	if err := d.proxy.AddBackend(target, &b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (d *dependencies) handleProxyBackendRemove(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("name")
	addr := r.URL.Query().Get("addr")
	if err := d.proxy.RemoveBackend(target, addr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": addr})
}

func (d *dependencies) handleProxyBackendMaintenance(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("name")
	addr := r.URL.Query().Get("addr")
	on := r.URL.Query().Get("on") == "true"
	if err := d.proxy.SetMaintenance(target, addr, on); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"addr": addr, "maintenance": on})
}

// handleProxyForward implements "ANY /proxy/{target}/{path...}": the
// request is forwarded to target with headers hygienized per the
// reverse proxy's forwarding rules.
func (d *dependencies) handleProxyForward(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	path := "/" + r.PathValue("path")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, orcherr.Validation("api.proxy.forward", target, err))
		return
	}

	clientIP := r.Header.Get("X-Forwarded-For")
	if clientIP == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			clientIP = host
		} else {
			clientIP = r.RemoteAddr
		}
	}

	sessionID := ""
	if c, err := r.Cookie("selfstart_session"); err == nil {
		sessionID = c.Value
	}

	resp, err := d.proxy.Proxy(r.Context(), target, r.Method, path, r.Header, body, clientIP, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	for k, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
