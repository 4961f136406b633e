// Package api provides HTTP handlers for LeadPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// webhookRequest is the JSON body of POST /webhook.
type webhookRequest struct {
	ContactID string `json:"contact_id"`
	FirstName string `json:"first_name,omitempty"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

// webhookHandler runs one conversation turn for an inbound lead message
// (POST /webhook). The reply decision comes back in the response body;
// transport delivery, when configured, rides the outbox independently.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing webhook request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	msg := models.LeadMessage{
		MessageID: req.MessageID,
		ContactID: req.ContactID,
		FirstName: req.FirstName,
		Body:      req.Message,
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.webhookHandler: validation failed", "error", err, "contactID", req.ContactID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	reply, err := s.engine.ProcessMessage(r.Context(), msg)
	switch {
	case err == nil:
		slog.Info("Server.webhookHandler: turn complete", "contactID", reply.ContactID, "source", reply.Source, "stage", reply.Stage)
		writeJSONResponse(w, http.StatusOK, models.Success(reply))
	case errors.Is(err, models.ErrDuplicateMessage):
		// Redeliveries must not loop on a non-2xx, so a duplicate reports
		// success without a reply.
		slog.Info("Server.webhookHandler: duplicate message ignored", "contactID", req.ContactID, "messageID", req.MessageID)
		writeJSONResponse(w, http.StatusOK, models.RecordedWithMessage("Duplicate message ignored"))
	case errors.Is(err, models.ErrConversationFrozen):
		slog.Info("Server.webhookHandler: conversation frozen", "contactID", req.ContactID)
		writeJSONResponse(w, http.StatusConflict, models.Error("Conversation is frozen"))
	default:
		slog.Error("Server.webhookHandler: turn failed", "error", err, "contactID", req.ContactID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
	}
}

// patternsHandler dumps the pattern library, strongest first (GET /patterns).
func (s *Server) patternsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.patternsHandler: processing patterns request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.patternsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	patterns := s.engine.Library().All()
	slog.Debug("Server.patternsHandler: patterns fetched", "count", len(patterns))
	writeJSONResponse(w, http.StatusOK, models.Success(patterns))
}

// receiptsHandler returns recorded delivery receipts (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.receiptsHandler: processing receipts request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.receiptsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing. It stays off the API key so probes need no credentials.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// A store that cannot serve reads cannot persist turns either.
	if _, err := s.st.GetReceipts(); err != nil {
		slog.Warn("Server.healthHandler: store check failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Store unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
