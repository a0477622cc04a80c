package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxrelay/voxrelay/internal/metrics"
	"github.com/voxrelay/voxrelay/internal/provider"
	"github.com/voxrelay/voxrelay/internal/store"
)

// DefaultCallTimeout bounds one provider call. A hung remote call resolves to
// a timeout status instead of leaving the result pending forever.
const DefaultCallTimeout = 45 * time.Second

// Sink receives outbound frames. The session's serialized writer implements
// it; dispatch tasks for one segment and across segments all share one sink.
type Sink interface {
	Send(frame any)
}

// Segment carries everything a dispatch task needs. Bytes are shared
// read-only between all provider tasks once handed over.
type Segment struct {
	SessionID string
	StoreID   int64
	Idx       int
	Bytes     []byte
	Mime      string
	ClientID  any
	Ts        int64
}

// TranscriptFrame is the terminal event for one (segment, provider) pair.
type TranscriptFrame struct {
	Type       string `json:"type"`
	Idx        int    `json:"idx"`
	Transcript string `json:"transcript"`
	ID         any    `json:"id"`
	Ts         int64  `json:"ts"`
}

// Engine fans one segment out to every enabled provider concurrently. It has
// no per-session state; the sink and metrics are passed per dispatch.
type Engine struct {
	providers map[string]provider.Transcriber
	store     *store.Store
	timeout   time.Duration
}

func New(providers map[string]provider.Transcriber, st *store.Store, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Engine{providers: providers, store: st, timeout: timeout}
}

// Dispatch spawns one task per enabled, available provider. The enabled set
// is a snapshot taken by the caller; toggles after this point apply only to
// later segments. Dispatch itself never blocks on provider completion.
func (e *Engine) Dispatch(seg Segment, enabled []string, sink Sink, m *metrics.SessionMetrics) {
	for _, key := range enabled {
		tr, ok := e.providers[key]
		if !ok || !tr.Available() {
			continue
		}
		e.store.SetResult(seg.StoreID, store.ProviderResult{Provider: key, Status: store.StatusPending})
		go e.run(tr, seg, sink, m)
	}
}

func (e *Engine) run(tr provider.Transcriber, seg Segment, sink Sink, m *metrics.SessionMetrics) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	text, status := e.callWithFallback(ctx, tr, seg.Bytes, seg.Mime)
	latency := time.Since(start)

	if text != "" {
		e.store.AppendTranscript(seg.StoreID, tr.Key(), text)
	}
	e.store.SetResult(seg.StoreID, store.ProviderResult{
		Provider:  tr.Key(),
		Status:    status,
		Text:      text,
		LatencyMs: latency.Milliseconds(),
	})
	if m != nil {
		m.AddResult(tr.Key(), text, latency)
	}

	// Exactly one terminal frame per (segment, provider), empty string when
	// the provider produced nothing.
	sink.Send(TranscriptFrame{
		Type:       "segment_transcript_" + tr.Key(),
		Idx:        seg.Idx,
		Transcript: text,
		ID:         seg.ClientID,
		Ts:         seg.Ts,
	})
}

// callWithFallback offers the provider each container hint in order until one
// yields non-empty text or all are exhausted. Failures never escape; they
// degrade to a terminal status.
func (e *Engine) callWithFallback(ctx context.Context, tr provider.Transcriber, audio []byte, mime string) (string, store.ResultStatus) {
	var lastErr error
	for _, hint := range provider.MimeOrder(mime) {
		text, err := tr.Transcribe(ctx, audio, hint)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if text != "" {
			return text, store.StatusSuccess
		}
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Printf("Dispatch: %s timed out: %v", tr.Key(), lastErr)
		return "", store.StatusTimeout
	case lastErr != nil:
		log.Printf("Dispatch: %s failed: %v", tr.Key(), lastErr)
		return "", store.StatusError
	default:
		return "", store.StatusEmpty
	}
}

// TranscribeFull runs the whole recording through every enabled provider
// concurrently and accumulates per-provider text on the session record. Used
// after a full_upload; results are not streamed back over the connection.
func (e *Engine) TranscribeFull(ctx context.Context, sessionID string, audio []byte, mime string, enabled []string) {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range enabled {
		tr, ok := e.providers[key]
		if !ok || !tr.Available() {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			text, _ := e.callWithFallback(callCtx, tr, audio, mime)
			if text != "" {
				e.store.AppendFull(sessionID, tr.Key(), text)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("Dispatch: full transcription for %s: %v", sessionID, err)
	}
}
