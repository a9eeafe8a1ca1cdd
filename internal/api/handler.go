// Package api exposes the conversation pipeline over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jpviola/theoagent-sub002/internal/quota"
	"github.com/jpviola/theoagent-sub002/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the handler's dependencies.
type Deps struct {
	Orchestrator *session.Orchestrator
	Token        string
}

// TurnRequest is the wire form of one chat turn.
type TurnRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Tier    string `json:"tier"`
}

// TurnResponse is returned for an admitted turn.
type TurnResponse struct {
	Response   string          `json:"response"`
	Remaining  quota.Remaining `json:"remaining"`
	QueryCount int             `json:"query_count"`
	Complexity string          `json:"complexity_level"`
}

// NewHandler returns the HTTP API. /health is open; everything under /v1
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/turns", handleTurn(deps))
		r.Post("/conversation/clear", handleClear(deps))
		r.Get("/conversation/stats", handleStats(deps))
		r.Get("/profile", handleProfile(deps))
		r.Get("/quota", handleQuota(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		tier, err := quota.ParseTier(req.Tier)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		result, err := deps.Orchestrator.HandleTurn(r.Context(), session.TurnRequest{
			UserID:  req.UserID,
			Message: req.Message,
			Tier:    tier,
		})
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}

		if !result.Allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"allowed":   false,
				"remaining": result.Remaining,
				"error": map[string]any{
					"message": "daily message limit reached",
					"type":    "quota_exceeded",
				},
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TurnResponse{
			Response:   result.Response,
			Remaining:  result.Remaining,
			QueryCount: result.Profile.QueryCount,
			Complexity: string(result.Profile.ComplexityLevel),
		})
	}
}

type clearRequest struct {
	UserID string `json:"user_id"`
}

func handleClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req clearRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Orchestrator.ClearHistory(r.Context(), req.UserID); err != nil {
			writeOrchestratorError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"cleared": true})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		stats, err := deps.Orchestrator.ConversationStats(r.Context(), userID)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		p, err := deps.Orchestrator.Profile(userID)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handleQuota(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		tier, err := quota.ParseTier(r.URL.Query().Get("tier"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		d, err := deps.Orchestrator.QuotaStatus(userID, tier)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"allowed":   d.Allowed,
			"remaining": d.Remaining,
		})
	}
}

// writeOrchestratorError maps pipeline sentinels to HTTP responses. Upstream
// and storage failures are reported generically; details stay in the logs.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrAuthRequired):
		httpError(w, http.StatusUnauthorized, "authentication_error", "user_id is required")
	case errors.Is(err, session.ErrUserNotFound):
		httpError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, session.ErrEngineFailure):
		httpError(w, http.StatusBadGateway, "api_error", "conversation engine unavailable")
	case errors.Is(err, session.ErrStorageUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "temporarily unavailable, try again")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
