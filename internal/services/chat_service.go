package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/core/rag"
	"github.com/markdave123-py/autophile/internal/models"
)

// ErrDocumentNotReady rejects chat against a document that is not READY.
var ErrDocumentNotReady = errors.New("document is not ready for chat")

const (
	historyTurns = 6
	titleRunes   = 50
)

// Answerer is the RAG surface the chat service drives.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (rag.Answer, error)
	Stream(ctx context.Context, req rag.Request, emit func(rag.Event) error) error
}

type ChatService struct {
	docs  core.DocumentStore
	chats core.ChatStore
	rag   Answerer
	log   *slog.Logger
}

func NewChatService(docs core.DocumentStore, chats core.ChatStore, answerer Answerer, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{docs: docs, chats: chats, rag: answerer, log: logger.With("component", "chat")}
}

// ChatInput is one user message. An empty SessionID starts a new session.
type ChatInput struct {
	UserID     string
	DocumentID string
	SessionID  string
	Message    string
}

// ChatReply is the persisted assistant answer.
type ChatReply struct {
	SessionID string            `json:"session_id"`
	MessageID string            `json:"message_id"`
	Content   string            `json:"content"`
	Citations []models.Citation `json:"citations"`
}

// Ask answers in one call and stores both sides of the exchange.
func (s *ChatService) Ask(ctx context.Context, in ChatInput) (*ChatReply, error) {
	session, req, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	ans, err := s.rag.Answer(ctx, req)
	if err != nil {
		return nil, err
	}
	msg, err := s.saveAssistant(ctx, session.ID, ans.Content, ans.Citations)
	if err != nil {
		return nil, err
	}
	return &ChatReply{SessionID: session.ID, MessageID: msg.ID, Content: ans.Content, Citations: ans.Citations}, nil
}

// Stream relays engine events to emit. The assistant message is stored only
// when the stream completes; an aborted or failed stream stores nothing.
// started is called with the session id before the first event.
func (s *ChatService) Stream(ctx context.Context, in ChatInput, started func(sessionID string), emit func(rag.Event) error) error {
	session, req, err := s.prepare(ctx, in)
	if err != nil {
		return err
	}
	if started != nil {
		started(session.ID)
	}

	var (
		content   string
		citations []models.Citation
	)
	err = s.rag.Stream(ctx, req, func(ev rag.Event) error {
		switch ev.Type {
		case rag.EventContent:
			content += ev.Content
		case rag.EventCitations:
			citations = ev.Citations
		}
		return emit(ev)
	})
	if err != nil {
		return err
	}
	_, err = s.saveAssistant(context.WithoutCancel(ctx), session.ID, content, citations)
	return err
}

// prepare validates the document, resolves the session, stores the user
// message and loads the history that precedes it.
func (s *ChatService) prepare(ctx context.Context, in ChatInput) (*models.ChatSession, rag.Request, error) {
	doc, err := s.docs.GetDocumentByID(ctx, in.DocumentID)
	if err != nil {
		return nil, rag.Request{}, err
	}
	if doc.Status != models.StatusReady {
		return nil, rag.Request{}, fmt.Errorf("%w (status %s)", ErrDocumentNotReady, doc.Status)
	}

	session, err := s.session(ctx, in)
	if err != nil {
		return nil, rag.Request{}, err
	}

	userMsg := &models.ChatMessage{ID: uuid.NewString(), SessionID: session.ID, Role: models.RoleUser, Content: in.Message}
	if err := s.chats.AddChatMessage(ctx, userMsg); err != nil {
		return nil, rag.Request{}, fmt.Errorf("save user message: %w", err)
	}

	recent, err := s.chats.GetRecentMessages(ctx, session.ID, userMsg.ID, historyTurns)
	if err != nil {
		return nil, rag.Request{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]core.Turn, len(recent))
	for i, m := range recent {
		history[i] = core.Turn{Role: m.Role, Content: m.Content}
	}
	return session, rag.Request{DocumentID: doc.ID, Query: in.Message, History: history}, nil
}

func (s *ChatService) session(ctx context.Context, in ChatInput) (*models.ChatSession, error) {
	if in.SessionID != "" {
		session, err := s.chats.GetChatSession(ctx, in.SessionID)
		if err != nil {
			return nil, err
		}
		if session.DocumentID != in.DocumentID {
			return nil, core.ErrNotFound
		}
		return session, nil
	}
	session := &models.ChatSession{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		DocumentID: in.DocumentID,
		Title:      sessionTitle(in.Message),
	}
	if err := s.chats.CreateChatSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Debug("chat session created", "session_id", session.ID, "document_id", in.DocumentID)
	return session, nil
}

func (s *ChatService) saveAssistant(ctx context.Context, sessionID, content string, citations []models.Citation) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   content,
		Citations: citations,
	}
	if err := s.chats.AddChatMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	return msg, nil
}

func (s *ChatService) Sessions(ctx context.Context, documentID string) ([]models.ChatSession, error) {
	return s.chats.ListChatSessions(ctx, documentID)
}

// History returns a session with all its messages in order.
func (s *ChatService) History(ctx context.Context, sessionID string) (*models.ChatSession, []models.ChatMessage, error) {
	session, err := s.chats.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.chats.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, msgs, nil
}

func sessionTitle(message string) string {
	r := []rune(message)
	if len(r) > titleRunes {
		return string(r[:titleRunes]) + "..."
	}
	return message
}
