package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/internal/dispatch"
	"github.com/voxrelay/voxrelay/internal/metrics"
	"github.com/voxrelay/voxrelay/internal/provider"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/internal/store"
)

// Config carries the handler's collaborator-facing knobs.
type Config struct {
	RecordingsDir string
	PublicPrefix  string // URL prefix the recordings dir is served under
	AuthReady     bool
	AuthInfo      map[string]any
}

// Handler owns the receive loop for one connection at a time. It is shared
// across connections; all per-connection state lives on the session struct.
type Handler struct {
	cfg      Config
	store    *store.Store
	registry *registry.Registry
	engine   *dispatch.Engine
}

func NewHandler(cfg Config, st *store.Store, reg *registry.Registry, engine *dispatch.Engine) *Handler {
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = "/static/recordings"
	}
	return &Handler{cfg: cfg, store: st, registry: reg, engine: engine}
}

// session is the per-connection state. Mutated only by the receive loop.
type session struct {
	id                string
	dir               string
	rawExt            string
	rawName           string
	rawPath           string
	rawFile           *os.File
	segmentIdx        int
	transcribeEnabled bool
	metrics           *metrics.SessionMetrics
}

var sessionClock int64

// nextSessionID derives an opaque, time-based session id. The counter guard
// keeps ids unique when two connections open in the same millisecond.
func nextSessionID() string {
	now := nowMs()
	for {
		last := atomic.LoadInt64(&sessionClock)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&sessionClock, last, now) {
			return fmt.Sprintf("%d", now)
		}
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Handle runs the connection's receive loop until end_stream or disconnect.
// Cleanup (file close, metrics) runs on every exit path.
func (h *Handler) Handle(conn *websocket.Conn) {
	w := NewWriter(conn)
	defer w.Close()

	sess, err := h.newSession()
	if err != nil {
		log.Printf("Session: setup failed: %v", err)
		return
	}
	defer sess.closeRaw()

	h.store.StartSession(sess.id, nowMs())
	log.Printf("Session %s: started", sess.id)

	for {
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("Session %s: read ended: %v", sess.id, err)
			break
		}
		if !h.handleFrame(sess, &msg, w) {
			break
		}
	}

	sess.metrics.Finalize()
	log.Printf("Session %s: ended\n%s", sess.id, sess.metrics.Summary())
}

func (h *Handler) newSession() (*session, error) {
	id := nextSessionID()
	sess := &session{
		id:      id,
		rawExt:  "webm", // adjusted if the client later declares ogg
		metrics: metrics.NewSessionMetrics(id),
	}
	sess.rawName = fmt.Sprintf("recording_%s.%s", id, sess.rawExt)
	sess.rawPath = filepath.Join(h.cfg.RecordingsDir, sess.rawName)
	sess.dir = filepath.Join(h.cfg.RecordingsDir, "session_"+id)

	if err := os.MkdirAll(sess.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	f, err := os.OpenFile(sess.rawPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw recording file: %w", err)
	}
	sess.rawFile = f
	return sess, nil
}

// handleFrame processes one inbound frame. Returns false when the receive
// loop should terminate.
func (h *Handler) handleFrame(sess *session, msg *Inbound, w *Writer) bool {
	switch msg.Type {
	case "hello":
		w.Send(readyFrame{Type: "ready"})
		return true
	case "ping":
		w.Send(pongFrame{Type: "pong", Ts: nowMs()})
		return true
	case "ping_start":
		w.Send(ackFrame{Type: "ack", What: "start"})
		return true
	case "ping_stop":
		w.Send(ackFrame{Type: "ack", What: "stop"})
		return true
	case "transcribe":
		sess.transcribeEnabled = msg.Enabled
		enabled := msg.Enabled
		w.Send(ackFrame{Type: "ack", What: "transcribe", Enabled: &enabled})
		if enabled {
			w.Send(authFrame{Type: "auth", Ready: h.cfg.AuthReady, Info: h.authInfo()})
			w.Send(statusFrame{Type: "status", Message: "Transcribing... awaiting results"})
		}
		return true
	case "full_upload":
		if msg.Audio != "" {
			h.handleFullUpload(sess, msg, w)
			return true
		}
	}

	// The stop sentinel is serviced after the control frames, so a control
	// frame that also carries end_stream keeps the session open.
	if msg.EndStream {
		h.handleEndStream(sess, w)
		return false
	}

	switch {
	case msg.Type == "segment" && msg.Audio != "":
		h.handleSegment(sess, msg, w)
	case msg.Audio != "":
		// Bare audio frames append to the raw recording file.
		h.appendRawChunk(sess, msg.Audio)
	default:
		w.Send(ackFrame{Type: "ack"})
	}
	return true
}

func (h *Handler) authInfo() map[string]any {
	if h.cfg.AuthInfo == nil {
		return map[string]any{}
	}
	return h.cfg.AuthInfo
}

// handleSegment persists the segment and acknowledges it before any provider
// is invoked, so the client can render a row the transcripts later fill in.
// A malformed or unwritable segment is dropped without an acknowledgement.
func (h *Handler) handleSegment(sess *session, msg *Inbound, w *Writer) {
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		log.Printf("Session %s: segment decode failed: %v", sess.id, err)
		return
	}

	ext := provider.ExtForMime(msg.Mime)
	idx := sess.segmentIdx
	segPath := filepath.Join(sess.dir, fmt.Sprintf("segment_%d.%s", idx, ext))
	if err := os.WriteFile(segPath, raw, 0644); err != nil {
		log.Printf("Session %s: segment write failed: %v", sess.id, err)
		return
	}

	clientID := msg.ID
	if clientID == nil {
		clientID = uuid.NewString()
	}
	clientTs := msg.Ts
	if clientTs == 0 {
		clientTs = nowMs()
	}
	segURL := fmt.Sprintf("%s/session_%s/segment_%d.%s", h.cfg.PublicPrefix, sess.id, idx, ext)

	storeID := h.store.RecordSegment(store.Segment{
		SessionID: sess.id,
		Idx:       idx,
		URL:       segURL,
		Mime:      msg.Mime,
		Size:      len(raw),
		ClientID:  clientID,
		Ts:        clientTs,
		StartMs:   msg.Start,
		EndMs:     msg.End,
	})
	sess.metrics.AddSegment(len(raw))

	w.Send(segmentSavedFrame{
		Type:   "segment_saved",
		Idx:    idx,
		URL:    segURL,
		ID:     clientID,
		Ts:     clientTs,
		Status: "ws_ok",
		Ext:    ext,
		Mime:   msg.Mime,
		Size:   len(raw),
	})

	if sess.transcribeEnabled {
		h.engine.Dispatch(dispatch.Segment{
			SessionID: sess.id,
			StoreID:   storeID,
			Idx:       idx,
			Bytes:     raw,
			Mime:      msg.Mime,
			ClientID:  clientID,
			Ts:        clientTs,
		}, h.registry.Snapshot(), w, sess.metrics)
	}

	sess.segmentIdx++
}

// handleFullUpload replaces the raw recording with a client-buffered whole
// file, switching the extension if the declared container differs.
func (h *Handler) handleFullUpload(sess *session, msg *Inbound, w *Writer) {
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		log.Printf("Session %s: full_upload decode failed: %v", sess.id, err)
		return
	}

	newExt := provider.ExtForMime(msg.Mime)
	if newExt != sess.rawExt {
		sess.rawExt = newExt
		sess.rawName = fmt.Sprintf("recording_%s.%s", sess.id, newExt)
		sess.rawPath = filepath.Join(h.cfg.RecordingsDir, sess.rawName)
	}
	sess.closeRaw()
	if err := os.WriteFile(sess.rawPath, raw, 0644); err != nil {
		log.Printf("Session %s: full_upload write failed: %v", sess.id, err)
		return
	}

	savedURL := h.cfg.PublicPrefix + "/" + sess.rawName
	h.store.FinishSession(sess.id, 0, savedURL, int64(len(raw)))
	w.Send(savedFrame{Type: "saved", URL: savedURL, Size: int64(len(raw))})

	enabled := h.registry.Snapshot()
	go h.engine.TranscribeFull(context.Background(), sess.id, raw, msg.Mime, enabled)
}

func (h *Handler) appendRawChunk(sess *session, audio string) {
	raw, err := base64.StdEncoding.DecodeString(audio)
	if err != nil {
		log.Printf("Session %s: chunk decode failed: %v", sess.id, err)
		return
	}
	if sess.rawFile == nil {
		log.Printf("Session %s: chunk after raw file closed, dropped", sess.id)
		return
	}
	if _, err := sess.rawFile.Write(raw); err != nil {
		log.Printf("Session %s: chunk write failed: %v", sess.id, err)
	}
}

// handleEndStream flushes and closes the raw file, reports the final size,
// and records session stop. The receive loop terminates after this.
func (h *Handler) handleEndStream(sess *session, w *Writer) {
	sess.closeRaw()

	var size int64
	if info, err := os.Stat(sess.rawPath); err == nil {
		size = info.Size()
	}
	savedURL := h.cfg.PublicPrefix + "/" + sess.rawName
	h.store.FinishSession(sess.id, nowMs(), savedURL, size)
	w.Send(savedFrame{Type: "saved", URL: savedURL, Size: size})
}

func (s *session) closeRaw() {
	if s.rawFile == nil {
		return
	}
	if err := s.rawFile.Sync(); err != nil {
		log.Printf("Session %s: raw file sync failed: %v", s.id, err)
	}
	if err := s.rawFile.Close(); err != nil {
		log.Printf("Session %s: raw file close failed: %v", s.id, err)
	}
	s.rawFile = nil
}
