package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/internal/dispatch"
	"github.com/voxrelay/voxrelay/internal/provider"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/internal/store"
)

// fakeProvider returns fixed text for any container hint.
type fakeProvider struct {
	key  string
	text string
}

func (f *fakeProvider) Key() string     { return f.key }
func (f *fakeProvider) Label() string   { return f.key }
func (f *fakeProvider) Available() bool { return true }

func (f *fakeProvider) Transcribe(ctx context.Context, audio []byte, mimeHint string) (string, error) {
	return f.text, nil
}

type testEnv struct {
	t    *testing.T
	srv  *httptest.Server
	conn *websocket.Conn
	st   *store.Store
	reg  *registry.Registry
	dir  string
}

func newTestEnv(t *testing.T, providers map[string]provider.Transcriber) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st := store.New()
	reg := registry.New()
	for _, svc := range reg.List() {
		reg.SetEnabled(svc.Key, false)
	}

	engine := dispatch.New(providers, st, time.Second)
	h := NewHandler(Config{RecordingsDir: dir, AuthReady: true}, st, reg, engine)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(wr, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		h.Handle(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testEnv{t: t, srv: srv, conn: conn, st: st, reg: reg, dir: dir}
}

func (e *testEnv) send(v any) {
	e.t.Helper()
	if err := e.conn.WriteJSON(v); err != nil {
		e.t.Fatalf("send failed: %v", err)
	}
}

func (e *testEnv) recv() map[string]any {
	e.t.Helper()
	e.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := e.conn.ReadJSON(&frame); err != nil {
		e.t.Fatalf("recv failed: %v", err)
	}
	return frame
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestHelloReady(t *testing.T) {
	env := newTestEnv(t, nil)
	env.send(map[string]any{"type": "hello"})
	if frame := env.recv(); frame["type"] != "ready" {
		t.Errorf("expected ready, got %v", frame)
	}
}

func TestPingLiveness(t *testing.T) {
	env := newTestEnv(t, nil)

	env.send(map[string]any{"type": "ping"})
	frame := env.recv()
	if frame["type"] != "pong" || frame["ts"] == nil {
		t.Errorf("expected pong with ts, got %v", frame)
	}

	env.send(map[string]any{"type": "ping_start"})
	if frame := env.recv(); frame["type"] != "ack" || frame["what"] != "start" {
		t.Errorf("expected ack/start, got %v", frame)
	}

	env.send(map[string]any{"type": "ping_stop"})
	if frame := env.recv(); frame["type"] != "ack" || frame["what"] != "stop" {
		t.Errorf("expected ack/stop, got %v", frame)
	}
}

func TestUnknownFrameAcked(t *testing.T) {
	env := newTestEnv(t, nil)
	env.send(map[string]any{"type": "mystery"})
	if frame := env.recv(); frame["type"] != "ack" {
		t.Errorf("expected generic ack, got %v", frame)
	}
}

// Scenario A: segment with transcription disabled saves without dispatching.
func TestSegmentSavedWithoutTranscription(t *testing.T) {
	env := newTestEnv(t, map[string]provider.Transcriber{
		"google": &fakeProvider{key: "google", text: "should not appear"},
	})
	env.reg.SetEnabled("google", true)

	env.send(map[string]any{"type": "hello"})
	env.recv()

	env.send(map[string]any{
		"type":  "segment",
		"audio": b64([]byte("0123456789")),
		"mime":  "audio/webm",
	})
	frame := env.recv()
	if frame["type"] != "segment_saved" {
		t.Fatalf("expected segment_saved, got %v", frame)
	}
	if frame["idx"].(float64) != 0 {
		t.Errorf("expected idx 0, got %v", frame["idx"])
	}
	if frame["size"].(float64) != 10 {
		t.Errorf("expected size 10, got %v", frame["size"])
	}
	if frame["ext"] != "webm" {
		t.Errorf("expected webm ext, got %v", frame["ext"])
	}

	// A ping answered without any transcript frame in between proves no
	// provider was dispatched.
	env.send(map[string]any{"type": "ping"})
	if frame := env.recv(); frame["type"] != "pong" {
		t.Errorf("expected pong, got unexpected frame %v", frame)
	}
}

// Scenario B: two enabled providers yield segment_saved followed by exactly
// two transcript frames, one per provider, in any order.
func TestSegmentDispatchTwoProviders(t *testing.T) {
	env := newTestEnv(t, map[string]provider.Transcriber{
		"google": &fakeProvider{key: "google", text: "alpha"},
		"gemini": &fakeProvider{key: "gemini", text: "beta"},
	})
	env.reg.SetEnabled("google", true)
	env.reg.SetEnabled("gemini", true)

	env.send(map[string]any{"type": "transcribe", "enabled": true})
	if frame := env.recv(); frame["type"] != "ack" || frame["what"] != "transcribe" {
		t.Fatalf("expected transcribe ack, got %v", frame)
	}
	if frame := env.recv(); frame["type"] != "auth" || frame["ready"] != true {
		t.Fatalf("expected auth notice, got %v", frame)
	}
	if frame := env.recv(); frame["type"] != "status" {
		t.Fatalf("expected status notice, got %v", frame)
	}

	env.send(map[string]any{
		"type":  "segment",
		"audio": b64([]byte("opus-bytes")),
		"mime":  "audio/ogg",
		"id":    "client-7",
		"ts":    42,
	})

	frame := env.recv()
	if frame["type"] != "segment_saved" {
		t.Fatalf("segment_saved must precede transcripts, got %v", frame)
	}

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		f := env.recv()
		ftype, _ := f["type"].(string)
		if !strings.HasPrefix(ftype, "segment_transcript_") {
			t.Fatalf("expected transcript frame, got %v", f)
		}
		if f["idx"].(float64) != 0 || f["id"] != "client-7" || f["ts"].(float64) != 42 {
			t.Errorf("correlation fields lost: %v", f)
		}
		got[ftype] = f["transcript"].(string)
	}
	if got["segment_transcript_google"] != "alpha" || got["segment_transcript_gemini"] != "beta" {
		t.Errorf("unexpected transcripts: %v", got)
	}
}

// Scenario C: end_stream reports the bytes streamed so far and terminates.
func TestEndStream(t *testing.T) {
	env := newTestEnv(t, nil)

	// Bare audio frames append to the raw recording.
	env.send(map[string]any{"audio": b64([]byte("aaaa"))})
	env.send(map[string]any{"audio": b64([]byte("bbbbbb"))})
	env.send(map[string]any{"end_stream": true})

	frame := env.recv()
	if frame["type"] != "saved" {
		t.Fatalf("expected saved, got %v", frame)
	}
	if frame["size"].(float64) != 10 {
		t.Errorf("expected size 10, got %v", frame["size"])
	}

	// The loop has terminated; the server side closes and further reads fail.
	env.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next map[string]any
	if err := env.conn.ReadJSON(&next); err == nil {
		t.Errorf("expected closed connection, got frame %v", next)
	}
}

// A control frame that also carries the stop sentinel is serviced as a
// control frame; only a frame reaching the sentinel check terminates.
func TestEndStreamOnControlFrameIgnored(t *testing.T) {
	env := newTestEnv(t, nil)

	env.send(map[string]any{"type": "ping", "end_stream": true})
	if frame := env.recv(); frame["type"] != "pong" {
		t.Fatalf("expected pong, got %v", frame)
	}

	// Session still open.
	env.send(map[string]any{"type": "hello"})
	if frame := env.recv(); frame["type"] != "ready" {
		t.Fatalf("expected ready after sentinel-carrying ping, got %v", frame)
	}

	env.send(map[string]any{"end_stream": true})
	if frame := env.recv(); frame["type"] != "saved" {
		t.Fatalf("expected saved, got %v", frame)
	}
	env.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next map[string]any
	if err := env.conn.ReadJSON(&next); err == nil {
		t.Errorf("expected closed connection, got frame %v", next)
	}
}

func TestMalformedSegmentDropped(t *testing.T) {
	env := newTestEnv(t, nil)

	env.send(map[string]any{"type": "segment", "audio": "%%%not-base64%%%", "mime": "audio/webm"})
	env.send(map[string]any{"type": "ping"})

	// No segment_saved for the malformed segment; the loop survives.
	if frame := env.recv(); frame["type"] != "pong" {
		t.Errorf("expected pong directly after dropped segment, got %v", frame)
	}

	env.send(map[string]any{"type": "segment", "audio": b64([]byte("good")), "mime": "audio/webm"})
	frame := env.recv()
	if frame["type"] != "segment_saved" || frame["idx"].(float64) != 0 {
		t.Errorf("dropped segment must not consume an idx, got %v", frame)
	}
}

func TestSegmentIndexesIncrease(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 3; i++ {
		env.send(map[string]any{"type": "segment", "audio": b64([]byte("x")), "mime": "audio/ogg"})
		frame := env.recv()
		if frame["idx"].(float64) != float64(i) {
			t.Errorf("expected idx %d, got %v", i, frame["idx"])
		}
		if frame["ext"] != "ogg" {
			t.Errorf("expected ogg ext, got %v", frame["ext"])
		}
	}
}

func TestFullUpload(t *testing.T) {
	env := newTestEnv(t, map[string]provider.Transcriber{
		"vertex": &fakeProvider{key: "vertex", text: "full text"},
	})
	env.reg.SetEnabled("vertex", true)

	env.send(map[string]any{"type": "full_upload", "audio": b64([]byte("whole-recording")), "mime": "audio/ogg"})
	frame := env.recv()
	if frame["type"] != "saved" {
		t.Fatalf("expected saved, got %v", frame)
	}
	if frame["size"].(float64) != 15 {
		t.Errorf("expected size 15, got %v", frame["size"])
	}
	url, _ := frame["url"].(string)
	if !strings.HasSuffix(url, ".ogg") {
		t.Errorf("expected ogg recording url, got %q", url)
	}

	// Whole-recording transcription runs in the background and lands on the
	// session record.
	sessionID := strings.TrimSuffix(strings.TrimPrefix(url[strings.LastIndex(url, "/")+1:], "recording_"), ".ogg")
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, ok := env.st.Session(sessionID)
		if ok && rec.FullAppend["vertex"] == "full text" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("full transcript never accumulated: %+v", rec.FullAppend)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
