package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/engine"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// NLUHandler exposes the extraction pipeline and sync triggers. The intents
// and entities CRUD lives in the authoring surface, not here.
type NLUHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewNLUHandler creates a handler over the shared engine.
func NewNLUHandler(eng *engine.Engine, logger *zap.Logger) *NLUHandler {
	return &NLUHandler{engine: eng, logger: logger.Named("nlu-handler")}
}

// RegisterRoutes registers the NLU routes on the given mux.
func (h *NLUHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/nlu/extract", h.Extract)
	mux.HandleFunc("/nlu/sync", h.Sync)
	mux.HandleFunc("/nlu/entities", h.AvailableEntities)
}

// Extract handles POST /nlu/extract. The body is one message event; the
// response is the same event with NLU annotations attached (or without them
// when extraction degraded).
func (h *NLUHandler) Extract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if event.BotID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_bot_id", "botId is required")
		return
	}
	if event.Type == "" {
		event.Type = models.EventTypeText
	}

	orch, err := h.engine.ForBot(r.Context(), event.BotID)
	if err != nil {
		WriteNLUError(w, h.logger, err)
		return
	}

	if err := orch.ProcessEvent(r.Context(), &event); err != nil {
		WriteNLUError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, event); err != nil {
		h.logger.Error("Failed to encode extract response", zap.Error(err))
	}
}

type syncRequest struct {
	BotID string `json:"botId"`
}

// Sync handles POST /nlu/sync: checks whether the bot's model is stale and
// retrains when it is.
func (h *NLUHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BotID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_bot_id", "botId is required")
		return
	}

	orch, err := h.engine.ForBot(r.Context(), req.BotID)
	if err != nil {
		WriteNLUError(w, h.logger, err)
		return
	}

	provider := orch.Provider()
	needed, err := provider.CheckSyncNeeded(r.Context())
	if err != nil {
		WriteNLUError(w, h.logger, err)
		return
	}
	if needed {
		if err := provider.Sync(r.Context()); err != nil {
			WriteNLUError(w, h.logger, err)
			return
		}
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"synced": needed})
}

// AvailableEntities handles GET /nlu/entities?botId=...: the entity names
// usable in annotated utterances for the configured provider.
func (h *NLUHandler) AvailableEntities(w http.ResponseWriter, r *http.Request) {
	botID := r.URL.Query().Get("botId")
	if botID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_bot_id", "botId is required")
		return
	}

	orch, err := h.engine.ForBot(r.Context(), botID)
	if err != nil {
		WriteNLUError(w, h.logger, err)
		return
	}

	entities, err := orch.Provider().GetAvailableEntities(r.Context())
	if err != nil {
		WriteNLUError(w, h.logger, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, entities)
}
