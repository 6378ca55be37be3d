package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/script"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// rawResponse mirrors models.APIResponse with an undecoded result.
type rawResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := script.Default()
	if err != nil {
		t.Fatalf("failed to load default script: %v", err)
	}
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	return NewServer(flow.NewOrchestrator(repo, st, nil, nil))
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, rawResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp rawResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func decodeTurn(t *testing.T, resp rawResponse) (string, []models.OutboundMessage) {
	t.Helper()
	var turn TurnResult
	if err := json.Unmarshal(resp.Result, &turn); err != nil {
		t.Fatalf("failed to decode turn result: %v", err)
	}
	msgs, err := models.UnmarshalOutbound(turn.Messages)
	if err != nil {
		t.Fatalf("failed to decode outbound messages: %v", err)
	}
	return turn.SessionID, msgs
}

func startSession(t *testing.T, s *Server) string {
	t.Helper()
	rec, resp := do(t, s, http.MethodPost, "/sessions", `{"user_id":"user-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeTurn(t, resp)
	return id
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	rec, resp := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected healthy response, got %d %+v", rec.Code, resp)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestStartSessionHandler(t *testing.T) {
	s := newTestServer(t)
	rec, resp := do(t, s, http.MethodPost, "/sessions", `{"user_id":"user-1","metadata":{"channel":"web"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id, msgs := decodeTurn(t, resp)
	if id == "" {
		t.Fatal("expected session id")
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	first, ok := msgs[0].(models.AssistantMessage)
	if !ok || first.Stage != models.StageWelcome {
		t.Errorf("expected welcome prompt, got %#v", msgs[0])
	}
}

func TestStartSessionHandlerRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"user_id":`, http.StatusBadRequest},
		{"unknown field", `{"user_id":"u","phone":"+1"}`, http.StatusBadRequest},
		{"empty user", `{"user_id":"  "}`, http.StatusBadRequest},
		{"long user", `{"user_id":"` + strings.Repeat("u", models.MaxUserIDLength+1) + `"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, s, http.MethodPost, "/sessions", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if resp.Status != string(models.APIStatusError) {
				t.Errorf("expected error status, got %q", resp.Status)
			}
		})
	}
}

func TestResponseHandlerAdvances(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	rec, resp := do(t, s, http.MethodPost, "/sessions/"+id+"/responses", `{"text":"My name is Priya"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	_, msgs := decodeTurn(t, resp)
	if len(msgs) == 0 {
		t.Fatal("expected outbound messages")
	}
	progress, ok := msgs[len(msgs)-1].(models.ProgressUpdate)
	if !ok || progress.Percent != 11 {
		t.Errorf("expected trailing 11%% progress update, got %#v", msgs[len(msgs)-1])
	}

	rec, resp = do(t, s, http.MethodGet, "/sessions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var state models.ConversationState
	if err := json.Unmarshal(resp.Result, &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.CurrentStage != models.StageIdentity {
		t.Errorf("expected identity stage, got %s", state.CurrentStage)
	}
}

func TestResponseHandlerErrors(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown session", "/sessions/missing/responses", `{"text":"hello"}`, http.StatusNotFound},
		{"empty text", "/sessions/" + id + "/responses", `{"text":"   "}`, http.StatusBadRequest},
		{"too long", "/sessions/" + id + "/responses", `{"text":"` + strings.Repeat("a", models.MaxResponseLength+1) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, s, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc/responses", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestPauseResumeHandlers(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	if rec, _ := do(t, s, http.MethodPost, "/sessions/"+id+"/pause", ""); rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodPost, "/sessions/"+id+"/responses", `{"text":"Call me Sam"}`); rec.Code != http.StatusConflict {
		t.Errorf("reply while paused: expected 409, got %d", rec.Code)
	}

	rec, resp := do(t, s, http.MethodPost, "/sessions/"+id+"/resume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	_, msgs := decodeTurn(t, resp)
	if len(msgs) != 1 || msgs[0].Kind() != models.KindAssistantMessage {
		t.Errorf("expected re-emitted prompt, got %#v", msgs)
	}
	if rec, _ := do(t, s, http.MethodPost, "/sessions/"+id+"/responses", `{"text":"Call me Sam"}`); rec.Code != http.StatusOK {
		t.Errorf("reply after resume: expected 200, got %d", rec.Code)
	}
}

func TestCompleteHandlerPending(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	rec, resp := do(t, s, http.MethodPost, "/sessions/"+id+"/complete", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Status != string(models.APIStatusPending) {
		t.Errorf("expected pending status, got %q", resp.Status)
	}
}

func TestCompleteHandlerSafetyBlocked(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	rec, resp := do(t, s, http.MethodPost, "/sessions/"+id+"/responses", `{"text":"I want to kill myself"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected crisis turn to succeed, got %d", rec.Code)
	}
	_, msgs := decodeTurn(t, resp)
	if len(msgs) != 1 || msgs[0].Kind() != models.KindCrisisAlert {
		t.Fatalf("expected a single crisis alert, got %#v", msgs)
	}

	rec, _ = do(t, s, http.MethodPost, "/sessions/"+id+"/complete", "")
	if rec.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAbandonHandler(t *testing.T) {
	s := newTestServer(t)
	id := startSession(t, s)

	if rec, _ := do(t, s, http.MethodPost, "/sessions/"+id+"/abandon", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodPost, "/sessions/"+id+"/abandon", ""); rec.Code != http.StatusConflict {
		t.Errorf("second abandon: expected 409, got %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodPost, "/sessions/"+id+"/complete", ""); rec.Code != http.StatusConflict {
		t.Errorf("complete after abandon: expected 409, got %d", rec.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
