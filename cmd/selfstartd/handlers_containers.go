package main

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/selfstart/internal/orcherr"
)

type statusResponse struct {
	Status        string `json:"status"`
	ContainerName string `json:"container_name"`
	Uptime        int64  `json:"uptime"`
	Port          int    `json:"port"`
	Message       string `json:"message"`
}

func (d *dependencies) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, orcherr.Validation("api.status", "", nil))
		return
	}

	status, err := d.orchestrator.Status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{
		Status:        string(status.State),
		ContainerName: name,
		Message:       status.ErrorMessage,
	}
	if status.StartedAt != nil {
		resp.Uptime = int64(time.Since(*status.StartedAt).Seconds())
	}
	if svc, err := d.store.GetService(r.Context(), name); err == nil && len(svc.Endpoints) > 0 {
		resp.Port = svc.Endpoints[0].Port
	}
	writeJSON(w, http.StatusOK, resp)
}

type actionResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ContainerName string `json:"container_name"`
}

func (d *dependencies) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	force := r.URL.Query().Get("force") == "true"
	if name == "" {
		writeError(w, orcherr.Validation("api.start", "", nil))
		return
	}
	if err := d.orchestrator.Start(r.Context(), name, force); err != nil {
		writeJSON(w, http.StatusOK, actionResponse{Success: false, Message: err.Error(), ContainerName: name})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "started", ContainerName: name})
}

func (d *dependencies) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	force := r.URL.Query().Get("force") == "true"
	if name == "" {
		writeError(w, orcherr.Validation("api.stop", "", nil))
		return
	}
	if err := d.orchestrator.Stop(r.Context(), name, force); err != nil {
		writeJSON(w, http.StatusOK, actionResponse{Success: false, Message: err.Error(), ContainerName: name})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "stopped", ContainerName: name})
}

type containerEntry struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	State  string `json:"state"`
}

func (d *dependencies) handleContainers(w http.ResponseWriter, r *http.Request) {
	configs, err := d.store.ListContainerConfigs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]containerEntry, 0, len(configs))
	for _, cfg := range configs {
		entry := containerEntry{Name: cfg.Name, Image: cfg.Image, State: "unknown"}
		if status, err := d.store.GetContainerStatus(r.Context(), cfg.Name); err == nil && status != nil {
			entry.State = string(status.State)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *dependencies) handleLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	rc, err := d.orchestrator.Logs(r.Context(), name, lines)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.Copy(w, rc)
}
