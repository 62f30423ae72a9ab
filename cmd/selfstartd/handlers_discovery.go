package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/selfstart/internal/discovery"
	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
)

func (d *dependencies) handleDiscoveryList(w http.ResponseWriter, r *http.Request) {
	services, err := d.store.ListServices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (d *dependencies) handleDiscoveryGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	svc, err := d.store.GetService(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// handleDiscoveryRegister accepts a manually declared Service for
// workloads outside the label-based discovery loop (e.g. external
// processes fronted by the reverse proxy).
func (d *dependencies) handleDiscoveryRegister(w http.ResponseWriter, r *http.Request) {
	var svc model.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		writeError(w, orcherr.Validation("api.discovery.register", "", err))
		return
	}
	svc.LastSeen = time.Now()
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = svc.LastSeen
	}
	if err := svc.Validate(); err != nil {
		writeError(w, orcherr.Validation("api.discovery.register", svc.Name, err))
		return
	}
	if err := d.store.UpsertService(r.Context(), &svc, discovery.DefaultConfig().ServiceTTL); err != nil {
		writeError(w, orcherr.Store("api.discovery.register", svc.Name, err))
		return
	}
	d.bus.Publish(hookbus.OnServiceDiscovery, &svc)
	writeJSON(w, http.StatusCreated, svc)
}
