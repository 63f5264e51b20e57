package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	middleware "github.com/markdave123-py/autophile/internal/api/middlewares"
	"github.com/markdave123-py/autophile/internal/core/rag"
	"github.com/markdave123-py/autophile/internal/models"
	"github.com/markdave123-py/autophile/internal/services"
)

// ChatAPI is the chat service surface the handlers call.
type ChatAPI interface {
	Ask(ctx context.Context, in services.ChatInput) (*services.ChatReply, error)
	Stream(ctx context.Context, in services.ChatInput, started func(sessionID string), emit func(rag.Event) error) error
	Sessions(ctx context.Context, documentID string) ([]models.ChatSession, error)
	History(ctx context.Context, sessionID string) (*models.ChatSession, []models.ChatMessage, error)
}

type ChatHandler struct {
	chat     ChatAPI
	validate *validator.Validate
	log      *slog.Logger
}

func NewChatHandler(chat ChatAPI, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		chat:     chat,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.With("component", "http"),
	}
}

type ChatRequest struct {
	DocumentID string `json:"document_id" validate:"required"`
	SessionID  string `json:"session_id"`
	Message    string `json:"message" validate:"required,max=8000"`
}

func (h *ChatHandler) decode(r *http.Request) (services.ChatInput, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return services.ChatInput{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return services.ChatInput{}, err
	}
	return services.ChatInput{
		UserID:     middleware.UserID(r.Context()),
		DocumentID: req.DocumentID,
		SessionID:  req.SessionID,
		Message:    req.Message,
	}, nil
}

// Chat answers one message in a single response.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	in, err := h.decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := h.chat.Ask(r.Context(), in)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if reply.Citations == nil {
		reply.Citations = []models.Citation{}
	}
	writeJSON(w, http.StatusOK, reply)
}

// ChatStream relays engine events as server-sent events. Rejections found
// before the first event are plain JSON errors; later failures arrive as an
// error event. Every stream ends with data: [DONE].
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	in, err := h.decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var (
		started  bool
		sawError bool
	)
	send := func(payload []byte) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err = h.chat.Stream(r.Context(), in,
		func(sessionID string) {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.Header().Set("X-Session-ID", sessionID)
			w.WriteHeader(http.StatusOK)
			flusher.Flush()
		},
		func(ev rag.Event) error {
			if ev.Type == rag.EventError {
				sawError = true
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			return send(payload)
		})

	if !started {
		if err != nil {
			fail(w, h.log, err)
		}
		return
	}
	if r.Context().Err() != nil {
		return
	}
	if err != nil {
		h.log.Warn("chat stream ended with error", "document_id", in.DocumentID, "err", err)
		if !sawError {
			payload, _ := json.Marshal(rag.Event{Type: rag.EventError, Content: err.Error()})
			_ = send(payload)
		}
	}
	_ = send([]byte("[DONE]"))
}

func (h *ChatHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chat.Sessions(r.Context(), chi.URLParam(r, "document_id"))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type historyResponse struct {
	SessionID  string               `json:"session_id"`
	DocumentID string               `json:"document_id"`
	Messages   []models.ChatMessage `json:"messages"`
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	session, msgs, err := h.chat.History(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: session.ID, DocumentID: session.DocumentID, Messages: msgs})
}
