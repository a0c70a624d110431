package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

func TestHTTPASRTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			http.NotFound(w, r)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "RIFFdata" {
			http.Error(w, "unexpected body", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(transcribeResponse{
			Segments: []transcribeSegment{{Start: 0, End: 1.2, Text: " you never listen "}, {Start: 1.2, End: 2.5, Text: "to me"}},
			Language: "en",
		})
	}))
	defer srv.Close()

	svc := NewService(&speech.SpeechConfig{HTTPURL: srv.URL})
	if !svc.Enabled() {
		t.Fatal("http backend should enable the service")
	}
	resp, err := svc.Transcribe(context.Background(), &speech.ASRRequest{
		SessionID: "s1",
		AudioData: bytes.NewReader([]byte("RIFFdata")),
		Format:    "wav",
	})
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	if resp.Text != "you never listen to me" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Duration != 2500 || resp.Language != "en" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHTTPASRServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPASRClient(srv.URL, srv.Client())
	_, err := client.Transcribe(context.Background(), &speech.ASRRequest{AudioData: bytes.NewReader([]byte("x"))})
	if err == nil {
		t.Fatal("expected error on 503")
	}
}
