// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package admin provides the operational HTTP surface every pipeline
// binary (router, immediate consumer, batch consumer) exposes alongside
// its Kafka processing loop: liveness/readiness probes and a debug
// lookup of a profile's current fast-path version.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"profilesync/health"
	"profilesync/noop"
	"profilesync/version"
)

// Options configures a [Router].
type Options struct {
	log       *slog.Logger
	liveness  health.Monitor
	readiness health.Monitor
	versions  *version.Manager
}

// Option sets a value on [Options].
type Option interface {
	ApplyAdminOption(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) ApplyAdminOption(o *Options) {
	f(o)
}

// Log sets the logger used to report handler-level errors.
func Log(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		o.log = l
	})
}

// Liveness registers the [health.Monitor] backing "/livez".
func Liveness(m health.Monitor) Option {
	return optionFunc(func(o *Options) {
		o.liveness = m
	})
}

// Readiness registers the [health.Monitor] backing "/readyz".
func Readiness(m health.Monitor) Option {
	return optionFunc(func(o *Options) {
		o.readiness = m
	})
}

// Versions registers the fast-path [version.Manager] backing
// "/debug/users/{id}/version". Omitting it disables that route with a
// 404, as the router does, since it has no fast-path store to query.
func Versions(m *version.Manager) Option {
	return optionFunc(func(o *Options) {
		o.versions = m
	})
}

// Router is the admin HTTP surface. It implements http.Handler.
type Router struct {
	mux *chi.Mux
}

// New builds a [Router] with the standard probe endpoints plus an
// optional debug version lookup.
func New(opts ...Option) *Router {
	var alwaysHealthy health.Binary
	alwaysHealthy.MarkHealthy()

	o := &Options{
		log:       slog.New(noop.LogHandler{}),
		liveness:  &alwaysHealthy,
		readiness: &alwaysHealthy,
	}
	for _, opt := range opts {
		opt.ApplyAdminOption(o)
	}

	m := chi.NewMux()
	m.Get("/livez", probeHandler(o.liveness))
	m.Get("/readyz", probeHandler(o.readiness))
	if o.versions != nil {
		m.Get("/debug/users/{id}/version", versionHandler(o.versions, o.log))
	}

	return &Router{mux: m}
}

// ServeHTTP implements the [http.Handler] interface.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func probeHandler(m health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, err := m.Healthy(r.Context())
		if !healthy || err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type versionResponse struct {
	UserID  string `json:"user_id"`
	Version uint64 `json:"version"`
	Exists  bool   `json:"exists"`
}

func versionHandler(m *version.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		if userID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		exists, err := m.Exists(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "failed to check profile existence", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		v, err := m.CurrentVersion(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "failed to read current version", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(versionResponse{UserID: userID, Version: v, Exists: exists})
	}
}
