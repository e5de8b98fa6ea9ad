package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/studybuddy-ai/server/internal/middleware"
	chatmodel "github.com/studybuddy-ai/server/internal/model/chat"
	chatservice "github.com/studybuddy-ai/server/internal/service/chat"
	"github.com/studybuddy-ai/server/internal/service/rag"
	"github.com/studybuddy-ai/server/internal/store"
	"github.com/studybuddy-ai/server/pkg/utils"
)

// generationBudget bounds an upstream turn after the client goes away.
const generationBudget = 2 * time.Minute

// Handler exposes the chat-session REST surface.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the chat handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes wires the chat routes. The limiter guards only the
// message and retrieval endpoints.
func (h *Handler) RegisterRoutes(r chi.Router, limiter func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Post("/message", h.handleMessage)
		r.Post("/rag", h.handleRag)
	})

	r.Post("/history", h.handleRotate)
	r.Get("/history", h.handleListHistory)
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message      string `json:"message"`
		SessionID    string `json:"sessionId"`
		IsRagEnabled bool   `json:"isRagEnabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	// The turn keeps running on client disconnect; a client-side
	// timeout only stops waiting, it does not cancel generation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), generationBudget)
	defer cancel()

	reply, err := h.chatSvc.HandleMessage(ctx, middleware.UserID(r.Context()), payload.SessionID, payload.Message, payload.IsRagEnabled)
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrEmptyMessage):
			utils.RespondError(w, http.StatusBadRequest, "Message text required.")
		case errors.Is(err, chatservice.ErrInvalidSessionID):
			utils.RespondError(w, http.StatusBadRequest, "Valid session ID required.")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "Failed to process message.")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": reply})
}

func (h *Handler) handleRag(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	docs, err := h.chatSvc.Retrieve(r.Context(), middleware.UserID(r.Context()), payload.Message)
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrEmptyMessage):
			utils.RespondError(w, http.StatusBadRequest, "Query message text required.")
		case errors.Is(err, rag.ErrUnavailable), errors.Is(err, chatservice.ErrRetrievalNotConfigured):
			utils.RespondError(w, http.StatusServiceUnavailable, "RAG service is unavailable.")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "Failed to retrieve relevant documents.")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"relevantDocs": docs})
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string              `json:"sessionId"`
		Messages  []chatmodel.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	newID, err := h.chatSvc.Rotate(r.Context(), middleware.UserID(r.Context()), payload.SessionID, payload.Messages)
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrInvalidSessionID):
			utils.RespondError(w, http.StatusBadRequest, "Valid session ID required.")
			return
		case errors.Is(err, chatservice.ErrInvalidMessage):
			utils.RespondError(w, http.StatusBadRequest, "Messages must have a valid role and non-empty text.")
			return
		}
	}

	if newID == "" {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "No messages to save."})
		return
	}

	response := map[string]string{"newSessionId": newID}
	if err != nil {
		// Availability over durability: the caller continues with the
		// new id even though the old session may not be saved.
		response["warning"] = "Failed to save session history."
	}
	utils.RespondJSON(w, http.StatusOK, response)
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	limit := parseIntQuery(r, "limit", 50)

	historyPage, err := h.chatSvc.ListHistory(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("sessionId"), page, limit)
	if err != nil {
		if errors.Is(err, chatservice.ErrInvalidSessionID) {
			utils.RespondError(w, http.StatusBadRequest, "Invalid session ID format.")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "Failed to retrieve chat history.")
		return
	}

	utils.RespondJSON(w, http.StatusOK, historyPage)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	limit := parseIntQuery(r, "limit", 20)

	sessionPage, err := h.chatSvc.ListSessions(r.Context(), middleware.UserID(r.Context()), page, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to retrieve chat sessions.")
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionPage)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.chatSvc.CreateSession(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to create chat session.")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrInvalidSessionID):
			utils.RespondError(w, http.StatusBadRequest, "Valid session ID parameter is required.")
		case errors.Is(err, store.ErrNotFound):
			utils.RespondError(w, http.StatusNotFound, "Chat session not found or access denied.")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "Failed to retrieve chat session details.")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId":    session.ID,
		"messages":     session.Messages,
		"createdAt":    session.CreatedAt,
		"updatedAt":    session.UpdatedAt,
		"messageCount": len(session.Messages),
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.chatSvc.DeleteSession(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrInvalidSessionID):
			utils.RespondError(w, http.StatusBadRequest, "Valid session ID parameter is required.")
		case errors.Is(err, store.ErrNotFound):
			utils.RespondError(w, http.StatusNotFound, "Chat session not found or access denied.")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "Failed to delete chat session.")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
