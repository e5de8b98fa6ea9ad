package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	chatmodel "github.com/studybuddy-ai/server/internal/model/chat"
	"github.com/studybuddy-ai/server/internal/service/ai"
	"github.com/studybuddy-ai/server/internal/service/rag"
	"github.com/studybuddy-ai/server/internal/store"
)

var (
	ErrInvalidSessionID       = errors.New("valid session id is required")
	ErrEmptyMessage           = errors.New("message text is required")
	ErrInvalidMessage         = errors.New("message history contains invalid entries")
	ErrRetrievalNotConfigured = errors.New("retrieval service not configured")
)

const (
	ragTopK             = 5
	maxRAGContextLength = 5000
	previewLength       = 75

	ragContextPreamble = "Use the following documents to help answer the user's question:\n\n"
	noDocsNote         = "No relevant documents found; answering without RAG context."
	apologyMessage     = "Sorry, there was an issue generating the response."
	defaultPreview     = "Chat Session"
)

// Generator produces a model reply for a conversation history.
type Generator interface {
	Generate(ctx context.Context, history []chatmodel.Message, systemContext string) (string, error)
}

// Retriever fetches documents relevant to a query for one user.
type Retriever interface {
	Query(ctx context.Context, userID, query string, k int) ([]rag.Document, error)
}

// Service orchestrates conversation turns and session rotation.
type Service struct {
	store     store.Store
	generator Generator
	retriever Retriever

	mu       sync.Mutex
	inFlight map[string]int
}

// NewService wires the lifecycle manager. Generator and retriever may
// be nil; the corresponding paths then degrade gracefully.
func NewService(st store.Store, generator Generator, retriever Retriever) *Service {
	return &Service{
		store:     st,
		generator: generator,
		retriever: retriever,
		inFlight:  make(map[string]int),
	}
}

// HandleMessage processes one inbound conversation turn: append the
// user message, generate a reply (optionally RAG-grounded), append the
// model message, and persist the session as a single document write.
func (s *Service) HandleMessage(ctx context.Context, userID, sessionID, text string, ragEnabled bool) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if uuid.Validate(sessionID) != nil {
		return "", ErrInvalidSessionID
	}

	s.beginTurn(userID)
	defer s.endTurn(userID)

	session, err := s.store.Find(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		session = chatmodel.NewSession(sessionID, userID)
	} else if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}

	session.Append(chatmodel.NewTextMessage(chatmodel.RoleUser, trimmed))

	var notePrefix, systemContext string
	if ragEnabled {
		docs := s.retrieveForChat(ctx, userID, trimmed)
		if len(docs) == 0 {
			log.Printf("[chat] no relevant documents for session=%s", sessionID)
			notePrefix = noDocsNote + "\n\n"
		} else {
			systemContext = ragContextPreamble + truncate(joinDocuments(docs), maxRAGContextLength)
		}
	}

	reply := notePrefix + s.generateReply(ctx, sessionID, session.Messages, systemContext)

	session.Append(chatmodel.NewTextMessage(chatmodel.RoleModel, reply))

	if err := s.store.Save(ctx, session); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	return reply, nil
}

// Rotate persists the supplied messages under the current session id
// and mints a fresh id for the caller to continue with. An empty
// message list, or a generation call in flight for the user, is an
// early no-op that issues no new id. Every supplied message must carry
// a defined role and non-empty text; otherwise nothing is saved.
//
// When persistence fails the caller still receives a locally minted id
// together with the error, so the conversation can continue even
// though the finished session may not have been durably saved.
func (s *Service) Rotate(ctx context.Context, userID, sessionID string, messages []chatmodel.Message) (string, error) {
	if len(messages) == 0 || s.turnInFlight(userID) {
		return "", nil
	}
	if uuid.Validate(sessionID) != nil {
		return "", ErrInvalidSessionID
	}
	for _, msg := range messages {
		if !msg.Valid() {
			return "", ErrInvalidMessage
		}
	}

	session := &chatmodel.Session{
		ID:       sessionID,
		UserID:   userID,
		Messages: messages,
	}

	newID := uuid.NewString()
	if err := s.store.Save(ctx, session); err != nil {
		log.Printf("[chat] rotation save failed for session=%s, issuing local id: %v", sessionID, err)
		return newID, fmt.Errorf("save session: %w", err)
	}
	return newID, nil
}

// SessionSummary is the listing projection of a session.
type SessionSummary struct {
	SessionID    string `json:"sessionId"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
	Preview      string `json:"preview"`
}

// DateGroup collects the summaries that were last updated on one
// calendar date, newest first.
type DateGroup struct {
	Date     string           `json:"date"`
	Sessions []SessionSummary `json:"sessions"`
}

// Pagination describes an offset-based result page.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// SessionPage is one page of date-grouped session summaries.
type SessionPage struct {
	Groups     []DateGroup `json:"sessionsByDate"`
	Pagination Pagination  `json:"pagination"`
}

// HistoryPage is one page of flat session summaries.
type HistoryPage struct {
	Sessions   []SessionSummary `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

// ListSessions returns the user's sessions newest-updated-first,
// grouped by the server-local calendar date of their last update.
func (s *Service) ListSessions(ctx context.Context, userID string, page, limit int) (*SessionPage, error) {
	page, limit = normalizePage(page, limit, 20)

	sessions, total, err := s.store.List(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	groups := make([]DateGroup, 0, len(sessions))
	for _, session := range sessions {
		date := session.UpdatedAt.Local().Format("2006-01-02")
		if n := len(groups); n > 0 && groups[n-1].Date == date {
			groups[n-1].Sessions = append(groups[n-1].Sessions, summarize(session))
			continue
		}
		groups = append(groups, DateGroup{Date: date, Sessions: []SessionSummary{summarize(session)}})
	}

	return &SessionPage{
		Groups:     groups,
		Pagination: paginate(total, page, limit),
	}, nil
}

// ListHistory returns a flat page of summaries, optionally narrowed to
// a single session id.
func (s *Service) ListHistory(ctx context.Context, userID, sessionID string, page, limit int) (*HistoryPage, error) {
	page, limit = normalizePage(page, limit, 50)

	if sessionID != "" {
		if uuid.Validate(sessionID) != nil {
			return nil, ErrInvalidSessionID
		}
		session, err := s.store.Find(ctx, sessionID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return &HistoryPage{Sessions: []SessionSummary{}, Pagination: paginate(0, page, limit)}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find session: %w", err)
		}
		return &HistoryPage{
			Sessions:   []SessionSummary{summarize(*session)},
			Pagination: paginate(1, page, limit),
		}, nil
	}

	sessions, total, err := s.store.List(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, summarize(session))
	}

	return &HistoryPage{
		Sessions:   summaries,
		Pagination: paginate(total, page, limit),
	}, nil
}

// GetSession returns the full session document scoped to the user.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*chatmodel.Session, error) {
	if uuid.Validate(sessionID) != nil {
		return nil, ErrInvalidSessionID
	}
	return s.store.Find(ctx, sessionID, userID)
}

// CreateSession mints and persists a new empty session for the user.
func (s *Service) CreateSession(ctx context.Context, userID string) (string, error) {
	session := chatmodel.NewSession(uuid.NewString(), userID)
	if err := s.store.Save(ctx, session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return session.ID, nil
}

// DeleteSession permanently removes the session and its messages.
// Deleting a session owned by another user reports store.ErrNotFound.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if uuid.Validate(sessionID) != nil {
		return ErrInvalidSessionID
	}
	return s.store.Delete(ctx, sessionID, userID)
}

// Retrieve serves the standalone retrieval operation: unlike the chat
// path, service unavailability is surfaced to the caller.
func (s *Service) Retrieve(ctx context.Context, userID, text string) ([]rag.Document, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	if s.retriever == nil {
		return nil, ErrRetrievalNotConfigured
	}

	docs, err := s.retriever.Query(ctx, userID, trimmed, ragTopK)
	if err != nil {
		return nil, fmt.Errorf("query rag service: %w", err)
	}
	if docs == nil {
		docs = []rag.Document{}
	}
	return docs, nil
}

// retrieveForChat degrades any retrieval failure to an empty result so
// the turn can proceed ungrounded.
func (s *Service) retrieveForChat(ctx context.Context, userID, query string) []rag.Document {
	if s.retriever == nil {
		return nil
	}
	docs, err := s.retriever.Query(ctx, userID, query, ragTopK)
	if err != nil {
		log.Printf("[chat] retrieval failed, continuing without context: %v", err)
		return nil
	}
	return docs
}

// generateReply calls the generation gateway and converts failures
// into a user-visible chat message instead of aborting the turn.
// Client-class upstream errors are surfaced verbatim.
func (s *Service) generateReply(ctx context.Context, sessionID string, history []chatmodel.Message, systemContext string) string {
	if s.generator == nil {
		log.Printf("[chat] generation unavailable for session=%s: no generator configured", sessionID)
		return apologyMessage
	}

	text, err := s.generator.Generate(ctx, history, systemContext)
	if err != nil {
		log.Printf("[chat] generation failed for session=%s: %v", sessionID, err)
		var clientErr *ai.ClientError
		if errors.As(err, &clientErr) {
			return clientErr.Message
		}
		return apologyMessage
	}
	return text
}

func (s *Service) beginTurn(userID string) {
	s.mu.Lock()
	s.inFlight[userID]++
	s.mu.Unlock()
}

func (s *Service) endTurn(userID string) {
	s.mu.Lock()
	if s.inFlight[userID] <= 1 {
		delete(s.inFlight, userID)
	} else {
		s.inFlight[userID]--
	}
	s.mu.Unlock()
}

func (s *Service) turnInFlight(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[userID] > 0
}

func summarize(session chatmodel.Session) SessionSummary {
	preview := defaultPreview
	if len(session.Messages) > 0 {
		if text := session.Messages[0].Text(); text != "" {
			preview = truncate(text, previewLength)
		}
	}
	return SessionSummary{
		SessionID:    session.ID,
		MessageCount: len(session.Messages),
		CreatedAt:    session.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt:    session.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		Preview:      preview,
	}
}

func joinDocuments(docs []rag.Document) string {
	contents := make([]string, 0, len(docs))
	for _, doc := range docs {
		contents = append(contents, doc.Content)
	}
	return strings.Join(contents, "\n\n")
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

func normalizePage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	return page, limit
}

func paginate(total, page, limit int) Pagination {
	return Pagination{
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: int(math.Ceil(float64(total) / float64(limit))),
	}
}
