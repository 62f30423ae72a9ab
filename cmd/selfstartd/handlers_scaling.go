package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
)

func (d *dependencies) handleScalingPoliciesList(w http.ResponseWriter, r *http.Request) {
	policies, err := d.store.ListScalingPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (d *dependencies) handleScalingPoliciesUpsert(w http.ResponseWriter, r *http.Request) {
	var p model.ScalingPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, orcherr.Validation("api.scaling.policies", "", err))
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, orcherr.Validation("api.scaling.policies", p.ServiceName, err))
		return
	}
	if err := d.store.UpsertScalingPolicy(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (d *dependencies) handleScalingScale(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	replicas, err := strconv.Atoi(r.URL.Query().Get("replicas"))
	if err != nil {
		writeError(w, orcherr.Validation("api.scaling.scale", name, err))
		return
	}
	if err := d.autoscaler.ManualScale(r.Context(), name, replicas); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service_name": name, "replicas": replicas})
}

func (d *dependencies) handleScalingEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := d.store.ListScalingEvents(r.Context(), name, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
