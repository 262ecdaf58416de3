// Package api serves the generation pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tweetbot/internal/config"
	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/pipeline"
	"github.com/kalambet/tweetbot/internal/proxy"
)

const maxRequestBodySize = 1 << 20 // 1MB; subjects may carry thread context

// ModelLister lists the provider's models. Implemented by *proxy.Client.
type ModelLister interface {
	ListModels(ctx context.Context) ([]proxy.Model, error)
}

// Deps holds the handler's collaborators.
type Deps struct {
	Generator *pipeline.Generator
	Sessions  *pipeline.Sessions
	Models    ModelLister // optional; /v1/models is not mounted without it
	Token     string      // bearer token for /v1; empty disables auth
	Logger    *slog.Logger
}

// NewHandler returns the HTTP API. /health is always unauthenticated.
func NewHandler(deps Deps) http.Handler {
	if deps.Sessions == nil {
		deps.Sessions = &pipeline.Sessions{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/generate", handleGenerate(deps))
		r.Post("/generate/stream", handleGenerateStream(deps))
		r.Post("/clarify/stream", handleClarifyStream(deps))
		r.Get("/history", handleListHistory(deps))
		r.Delete("/history", handleClearHistory(deps))
		r.Post("/history/{id}/selection", handleRecordSelection(deps))
		r.Get("/usage", handleUsage(deps))
		r.Delete("/usage", handleResetUsage(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/personas", handlePersonas)
		r.Get("/settings", handleSettings(deps))
		if deps.Models != nil {
			r.Get("/models", handleModels(deps.Models))
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body of at most maxRequestBodySize into v. It
// writes the 400 response itself and reports false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.Request
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.Generator.Generate(r.Context(), req)
		if err != nil {
			deps.Logger.Warn("generation failed", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Generator.History(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "listing history: %v", err)
			return
		}
		if entries == nil {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, entries)
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Generator.ClearHistory(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "clearing history: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type selectionRequest struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func handleRecordSelection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req selectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ok, err := deps.Generator.RecordSelection(r.Context(), id, req.Index, req.Text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "recording selection: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"recorded": ok})
	}
}

func handleUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Generator.UsageSnapshot(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "reading usage: %v", err)
			return
		}
		writeJSON(w, snap)
	}
}

func handleResetUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Generator.ResetUsage(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "resetting usage: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Generator.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "reading stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func handlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, persona.All())
}

// settingsView is the settings as shown to collaborators.
type settingsView struct {
	Model     string          `json:"model"`
	Persona   persona.Persona `json:"persona"`
	Topics    []string        `json:"topics"`
	APIKey    string          `json:"apiKey"`
	APIKeySet bool            `json:"apiKeySet"`
}

func handleSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Generator.Settings()
		topics := s.Topics
		if topics == nil {
			topics = []string{}
		}
		writeJSON(w, settingsView{
			Model:     s.Model,
			Persona:   s.Persona.OrDefault(),
			Topics:    topics,
			APIKey:    config.Redact(s.APIKey),
			APIKeySet: s.APIKey != "",
		})
	}
}

func handleModels(m ModelLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := m.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		writeJSON(w, proxy.ModelList{
			Object: "list",
			Data:   models,
		})
	}
}
