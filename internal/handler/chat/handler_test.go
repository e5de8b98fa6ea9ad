package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/studybuddy-ai/server/internal/handler"
	chatmodel "github.com/studybuddy-ai/server/internal/model/chat"
	chatservice "github.com/studybuddy-ai/server/internal/service/chat"
	"github.com/studybuddy-ai/server/internal/store"
)

const testSessionID = "a1b2c3d4-e5f6-4a0b-8c0d-1e2f3a4b5c6d"

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, history []chatmodel.Message, _ string) (string, error) {
	return "echo: " + history[len(history)-1].Text(), nil
}

func newTestRouter(rateLimitMax int) (http.Handler, *store.Memory) {
	mem := store.NewMemory()
	svc := chatservice.NewService(mem, echoGenerator{}, nil)
	return handler.NewRouter(svc, rateLimitMax, time.Minute), mem
}

func doRequest(t *testing.T, h http.Handler, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer test-token")
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRoutesRequireAuth(t *testing.T) {
	router, _ := newTestRouter(100)

	rec := doRequest(t, router, http.MethodPost, "/api/chat/message", "", map[string]string{"message": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := decodeBody(t, rec)["message"]; got != "Not authorized." {
		t.Fatalf("unexpected body message %q", got)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	router, mem := newTestRouter(100)

	rec := doRequest(t, router, http.MethodPost, "/api/chat/message", "user-1", map[string]any{
		"message":   "hello",
		"sessionId": testSessionID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != "echo: hello" {
		t.Fatalf("unexpected reply %q", got)
	}

	session, err := mem.Find(context.Background(), testSessionID, "user-1")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(session.Messages))
	}
}

func TestMessageValidation(t *testing.T) {
	router, _ := newTestRouter(100)

	cases := []struct {
		name    string
		payload map[string]any
		message string
	}{
		{"empty text", map[string]any{"message": "   ", "sessionId": testSessionID}, "Message text required."},
		{"bad session id", map[string]any{"message": "hi", "sessionId": "not-a-uuid"}, "Valid session ID required."},
	}
	for _, tc := range cases {
		rec := doRequest(t, router, http.MethodPost, "/api/chat/message", "user-1", tc.payload)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, rec.Code)
		}
		if got := decodeBody(t, rec)["message"]; got != tc.message {
			t.Fatalf("%s: message = %q, want %q", tc.name, got, tc.message)
		}
	}
}

func TestMessageInvalidBody(t *testing.T) {
	router, _ := newTestRouter(100)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRagUnavailableWithoutRetriever(t *testing.T) {
	router, _ := newTestRouter(100)

	rec := doRequest(t, router, http.MethodPost, "/api/chat/rag", "user-1", map[string]string{"message": "query"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRotateMintsNewSession(t *testing.T) {
	router, mem := newTestRouter(100)

	messages := []chatmodel.Message{
		chatmodel.NewTextMessage(chatmodel.RoleUser, "q"),
		chatmodel.NewTextMessage(chatmodel.RoleModel, "a"),
	}
	rec := doRequest(t, router, http.MethodPost, "/api/chat/history", "user-1", map[string]any{
		"sessionId": testSessionID,
		"messages":  messages,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	newID, ok := body["newSessionId"].(string)
	if !ok || newID == "" || newID == testSessionID {
		t.Fatalf("unexpected newSessionId in %v", body)
	}
	if _, hasWarning := body["warning"]; hasWarning {
		t.Fatalf("unexpected warning in %v", body)
	}

	if _, err := mem.Find(context.Background(), testSessionID, "user-1"); err != nil {
		t.Fatalf("rotated session not persisted: %v", err)
	}
}

func TestRotateRejectsMalformedMessages(t *testing.T) {
	router, mem := newTestRouter(100)

	rec := doRequest(t, router, http.MethodPost, "/api/chat/history", "user-1", map[string]any{
		"sessionId": testSessionID,
		"messages": []map[string]any{
			{"role": "admin", "parts": []map[string]string{{"text": "escalate"}}},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeBody(t, rec)["message"]; got != "Messages must have a valid role and non-empty text." {
		t.Fatalf("unexpected body %q", got)
	}
	if _, err := mem.Find(context.Background(), testSessionID, "user-1"); err == nil {
		t.Fatal("rejected history was persisted")
	}
}

func TestRotateWithoutMessages(t *testing.T) {
	router, _ := newTestRouter(100)

	rec := doRequest(t, router, http.MethodPost, "/api/chat/history", "user-1", map[string]any{
		"sessionId": testSessionID,
		"messages":  []chatmodel.Message{},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["message"]; got != "No messages to save." {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	router, _ := newTestRouter(100)

	rec := doRequest(t, router, http.MethodPost, "/api/chat/sessions", "user-1", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	sessionID, _ := decodeBody(t, rec)["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("create returned no sessionId")
	}

	rec = doRequest(t, router, http.MethodGet, "/api/chat/sessions/"+sessionID, "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	detail := decodeBody(t, rec)
	if detail["sessionId"] != sessionID || detail["messageCount"] != float64(0) {
		t.Fatalf("unexpected session detail %v", detail)
	}

	// another user cannot see or delete it
	rec = doRequest(t, router, http.MethodGet, "/api/chat/sessions/"+sessionID, "user-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-user get status = %d, want 404", rec.Code)
	}
	rec = doRequest(t, router, http.MethodDelete, "/api/chat/sessions/"+sessionID, "user-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-user delete status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/chat/sessions/"+sessionID, "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodGet, "/api/chat/sessions/"+sessionID, "user-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestListSessionsGroupsByDate(t *testing.T) {
	router, _ := newTestRouter(100)

	seeds := []struct{ id, text string }{
		{"11111111-1111-4111-8111-111111111111", "first question"},
		{"22222222-2222-4222-8222-222222222222", "second question"},
	}
	for _, seed := range seeds {
		rec := doRequest(t, router, http.MethodPost, "/api/chat/message", "user-1", map[string]any{
			"message":   seed.text,
			"sessionId": seed.id,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("seed message status = %d", rec.Code)
		}
	}

	rec := doRequest(t, router, http.MethodGet, "/api/chat/sessions?page=1&limit=20", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	groups, ok := body["sessionsByDate"].([]any)
	if !ok || len(groups) != 1 {
		t.Fatalf("expected one date group, got %v", body["sessionsByDate"])
	}
	pagination, _ := body["pagination"].(map[string]any)
	if pagination["total"] != float64(2) {
		t.Fatalf("unexpected pagination %v", pagination)
	}
}

func TestListSessionsPaginationFallbacks(t *testing.T) {
	router, _ := newTestRouter(100)

	cases := []string{
		"page=99999999999999999999&limit=20", // overflows int
		"page=-3&limit=0",
		"page=two&limit=ten",
	}
	for _, query := range cases {
		rec := doRequest(t, router, http.MethodGet, "/api/chat/sessions?"+query, "user-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", query, rec.Code)
		}
		pagination, _ := decodeBody(t, rec)["pagination"].(map[string]any)
		if pagination["page"] != float64(1) || pagination["limit"] != float64(20) {
			t.Fatalf("%s: unexpected pagination %v", query, pagination)
		}
	}
}

func TestRateLimitOnMessageRoute(t *testing.T) {
	router, _ := newTestRouter(2)

	payload := map[string]any{"message": "hi", "sessionId": testSessionID}
	for i := 0; i < 2; i++ {
		rec := doRequest(t, router, http.MethodPost, "/api/chat/message", "user-1", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := doRequest(t, router, http.MethodPost, "/api/chat/message", "user-1", payload)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	// other users keep their own budget
	rec = doRequest(t, router, http.MethodPost, "/api/chat/message", "user-2", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("other user status = %d, want 200", rec.Code)
	}

	// unlimited routes stay open
	rec = doRequest(t, router, http.MethodGet, "/api/chat/sessions", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200", rec.Code)
	}
}
