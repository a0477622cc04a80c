package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMimeOrder(t *testing.T) {
	testCases := []struct {
		input string
		first string
	}{
		{"audio/webm", MimeWebm},
		{"audio/webm;codecs=opus", MimeWebm},
		{"audio/ogg", MimeOgg},
		{"audio/OGG", MimeOgg},
		{"ogg", MimeOgg},
		{"", MimeWebm},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			order := MimeOrder(tc.input)
			if len(order) != 2 {
				t.Fatalf("expected 2 hints, got %d", len(order))
			}
			if order[0] != tc.first {
				t.Errorf("expected first hint %s, got %s", tc.first, order[0])
			}
			if order[1] == order[0] {
				t.Error("fallback hint should differ from the first")
			}
		})
	}
}

func TestExtForMime(t *testing.T) {
	if got := ExtForMime("audio/ogg;codecs=opus"); got != "ogg" {
		t.Errorf("expected ogg, got %s", got)
	}
	if got := ExtForMime("audio/webm"); got != "webm" {
		t.Errorf("expected webm, got %s", got)
	}
	if got := ExtForMime(""); got != "webm" {
		t.Errorf("expected webm default, got %s", got)
	}
}

func TestGoogleSTTTranscribe(t *testing.T) {
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req googleRecognizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		gotEncoding = req.Config.Encoding
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"alternatives": []map[string]any{{"transcript": "hello world"}}},
			},
		})
	}))
	defer srv.Close()

	g := NewGoogleSTT("test-key", "")
	g.endpoint = srv.URL

	text, err := g.Transcribe(context.Background(), []byte("opus-bytes"), MimeOgg)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("expected transcript, got %q", text)
	}
	if gotEncoding != "OGG_OPUS" {
		t.Errorf("expected OGG_OPUS encoding for ogg hint, got %s", gotEncoding)
	}
}

func TestGoogleSTTEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGoogleSTT("test-key", "en-US")
	g.endpoint = srv.URL

	text, err := g.Transcribe(context.Background(), []byte("opus-bytes"), MimeWebm)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty transcript, got %q", text)
	}
}

func TestGoogleSTTUnavailable(t *testing.T) {
	g := NewGoogleSTT("", "")
	if g.Available() {
		t.Error("adapter without a key should be unavailable")
	}
	if _, err := g.Transcribe(context.Background(), nil, MimeWebm); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestGeminiTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req genaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("unexpected content shape: %+v", req)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  spoken text  "}]}}]}`))
	}))
	defer srv.Close()

	g := NewGemini("test-key", "")
	g.endpoint = srv.URL

	text, err := g.Transcribe(context.Background(), []byte("opus-bytes"), MimeWebm)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "spoken text" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
}

func TestGeminiHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad container", http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewGemini("test-key", "gemini-1.5-flash")
	g.endpoint = srv.URL

	if _, err := g.Transcribe(context.Background(), []byte("x"), MimeWebm); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}

func TestExtractGenaiText(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{
			"candidates path",
			`{"candidates":[{"content":{"parts":[{"text":"one"},{"text":"two"}]}}]}`,
			"one\ntwo",
		},
		{
			"top-level text fallback",
			`{"text":" plain "}`,
			"plain",
		},
		{
			"empty candidates fall through to text",
			`{"candidates":[{"content":{"parts":[{"text":"  "}]}}],"text":"fallback"}`,
			"fallback",
		},
		{
			"nothing usable",
			`{"candidates":[]}`,
			"",
		},
		{
			"invalid json",
			`not-json`,
			"",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractGenaiText([]byte(tc.raw)); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestVertexUnavailableWithoutProject(t *testing.T) {
	v := NewVertex("", "", "", "token")
	if v.Available() {
		t.Error("vertex without a project should be unavailable")
	}
	if _, err := v.Transcribe(context.Background(), nil, MimeWebm); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestAWSTranscribeUnavailable(t *testing.T) {
	a := NewAWSTranscribe()
	if a.Available() {
		t.Error("aws scaffold should report unavailable")
	}
	if _, err := a.Transcribe(context.Background(), nil, MimeWebm); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
