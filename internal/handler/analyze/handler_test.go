package analyze

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
	"github.com/zhouzirui/z-insight/backend/internal/pipeline"
	sessionsvc "github.com/zhouzirui/z-insight/backend/internal/service/session"
	"github.com/zhouzirui/z-insight/backend/internal/stream"
)

type fakeQuality struct{}

func (fakeQuality) Assess(_ context.Context, s speech.Sample) (speech.QualityResult, error) {
	return speech.QualityResult{Kind: "text", Usable: true, Score: 100}, nil
}

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(_ context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	return &speech.ASRResponse{SessionID: req.SessionID, Text: f.text, Confidence: 0.8}, nil
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(context.Context, string) (analysis.EmotionResult, error) {
	return analysis.NeutralEmotion(), nil
}

type note struct {
	Text string `json:"text"`
}

func (note) Contribute(*session.Summary) {}

type fakeAnalyzer struct{ name string }

func (a fakeAnalyzer) Name() string { return a.name }
func (a fakeAnalyzer) Analyze(_ context.Context, text string, _ session.Context) (analysis.Finding, error) {
	return note{Text: text}, nil
}
func (a fakeAnalyzer) Default() analysis.Finding { return note{} }

func setupRouter(t *testing.T) (*chi.Mux, *sessionsvc.Store, *stream.Hub) {
	t.Helper()
	reg := pipeline.NewRegistry(fakeQuality{}, fakeTranscriber{text: "they said the deal closes tomorrow"}, fakeClassifier{})
	for _, name := range []string{"intent", "credibility"} {
		if err := reg.Register(fakeAnalyzer{name: name}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	store := sessionsvc.NewStore(sessionsvc.Options{})
	orch := pipeline.New(reg, store, nil, pipeline.Config{
		AnalyzerTimeout: time.Second,
		MinTextLength:   10,
		MinAudioBytes:   4,
	})
	hub := stream.NewHub()

	r := chi.NewRouter()
	New(orch, store, hub, 1<<20).RegisterRoutes(r)
	return r, store, hub
}

func readLines(t *testing.T, body *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("invalid ndjson line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestAnalyzeTextStreamsNDJSON(t *testing.T) {
	r, store, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"text":"please transfer the money before noon"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	sessionID := resp.Header().Get(SessionHeader)
	if sessionID == "" {
		t.Fatal("missing session header")
	}

	lines := readLines(t, resp.Body)
	if len(lines) != 11 {
		t.Fatalf("expected 11 events, got %d", len(lines))
	}
	last := lines[len(lines)-1]
	if last["type"] != "complete" {
		t.Fatalf("expected complete last, got %v", last)
	}
	data := last["data"].(map[string]any)
	if data["sessionId"] != sessionID {
		t.Fatalf("report session mismatch: %v", data["sessionId"])
	}

	history, err := store.History(sessionID)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one record, got %d (%v)", len(history), err)
	}
}

func TestAnalyzeReusesKnownSession(t *testing.T) {
	r, store, _ := setupRouter(t)
	id := store.ResolveOrCreate("")

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"text":"we need an answer by tonight","sessionId":"`+id+`"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if got := resp.Header().Get(SessionHeader); got != id {
		t.Fatalf("expected session %s, got %s", id, got)
	}
}

func TestAnalyzeValidationFailure(t *testing.T) {
	r, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("validation error must not open a stream, got %q", ct)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`not json`)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.Code)
	}
}

func TestAnalyzeAudioUploadAsSSE(t *testing.T) {
	r, _, _ := setupRouter(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", "clip.mp3")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("fake-mp3-bytes")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "text/event-stream")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	out := resp.Body.String()
	if !strings.Contains(out, "the deal closes tomorrow") || !strings.Contains(out, `"type":"complete"`) {
		t.Fatalf("unexpected sse body %q", out)
	}
}

func TestWebSocketRunAndPush(t *testing.T) {
	r, store, hub := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	id := store.ResolveOrCreate("")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello["type"] != "connected" || hello["sessionId"] != id {
		t.Fatalf("unexpected hello %v", hello)
	}
	if hub.Count(id) != 1 {
		t.Fatalf("expected one registered listener, got %d", hub.Count(id))
	}

	if err := conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "short"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var rejected map[string]any
	if err := conn.ReadJSON(&rejected); err != nil || rejected["type"] != "error" {
		t.Fatalf("expected validation error, got %v (%v)", rejected, err)
	}

	if err := conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "you must decide right now or lose it"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var types []string
	for {
		var ev map[string]any
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		types = append(types, ev["type"].(string))
		if ev["type"] == "complete" {
			break
		}
	}
	if len(types) != 11 || types[0] != "progress" {
		t.Fatalf("unexpected event sequence %v", types)
	}

	history, _ := store.History(id)
	if len(history) != 1 {
		t.Fatalf("expected websocket run to be recorded, got %d", len(history))
	}
}

func TestInferAudioFormat(t *testing.T) {
	if inferAudioFormat("a.MP3") != "mp3" || inferAudioFormat("a.wave") != "wav" || inferAudioFormat("noext") != "wav" {
		t.Fatal("unexpected format inference")
	}
}
