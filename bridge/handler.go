// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hookbridge/hookbridge/webhook"
)

// hookResponse is the JSON body every webhook request gets back.
type hookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NewHandler returns the HTTP handler for the webhook ingestion surface.
// The only route is POST /api/v1/matrix/hook/{id}; the webhook id in the
// path is the sole authentication.
func NewHandler(deliverer *Deliverer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/matrix/hook/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleHook(w, r, deliverer, logger)
	})
	return mux
}

func handleHook(w http.ResponseWriter, r *http.Request, deliverer *Deliverer, logger *slog.Logger) {
	webhookID := r.PathValue("id")

	var payload webhook.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeHookResponse(w, http.StatusBadRequest, hookResponse{
			Success: false,
			Message: "invalid JSON body: " + err.Error(),
		}, logger)
		return
	}
	if err := payload.Validate(); err != nil {
		writeHookResponse(w, http.StatusBadRequest, hookResponse{
			Success: false,
			Message: err.Error(),
		}, logger)
		return
	}

	if err := deliverer.Deliver(r.Context(), webhookID, &payload); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrWebhookNotFound) {
			status = http.StatusNotFound
		} else {
			// Unknown ids are routine probing; real delivery failures
			// deserve a log line with the cause.
			logger.Error("webhook delivery failed",
				"webhook_id", webhookID, "error", err)
		}
		writeHookResponse(w, status, hookResponse{
			Success: false,
			Message: err.Error(),
		}, logger)
		return
	}

	writeHookResponse(w, http.StatusOK, hookResponse{Success: true}, logger)
}

func writeHookResponse(w http.ResponseWriter, status int, response hookResponse, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Debug("writing webhook response", "error", err)
	}
}
