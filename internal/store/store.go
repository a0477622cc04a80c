package store

import (
	"strings"
	"sync"
)

// ResultStatus is the terminal (or pending) state of one provider's attempt
// at one segment.
type ResultStatus string

const (
	StatusPending ResultStatus = "pending"
	StatusSuccess ResultStatus = "success"
	StatusEmpty   ResultStatus = "empty"
	StatusError   ResultStatus = "error"
	StatusTimeout ResultStatus = "timeout"
)

// Segment is the metadata recorded for one accepted audio segment. The bytes
// themselves are not retained here; they live on disk.
type Segment struct {
	ID        int64  `json:"segment_id"`
	SessionID string `json:"recording_id"`
	Idx       int    `json:"idx"`
	URL       string `json:"url"`
	Mime      string `json:"mime"`
	Size      int    `json:"size"`
	ClientID  any    `json:"client_id"`
	Ts        int64  `json:"ts"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
}

// ProviderResult is the outcome of one (segment, provider) dispatch.
type ProviderResult struct {
	Provider  string       `json:"provider"`
	Status    ResultStatus `json:"status"`
	Text      string       `json:"text"`
	LatencyMs int64        `json:"latency_ms"`
}

// Record is the accumulated view of one session, shaped for the read API.
type Record struct {
	Segments        []Segment           `json:"segments"`
	Transcripts     map[string][]string `json:"transcripts"`
	FullAppend      map[string]string   `json:"fullAppend"`
	StartTs         int64               `json:"startTs"`
	StopTs          int64               `json:"stopTs"`
	ServerURL       string              `json:"serverUrl"`
	ServerSizeBytes int64               `json:"serverSizeBytes"`
}

type segmentRow struct {
	meta        Segment
	transcripts map[string]string
	results     map[string]ProviderResult
}

type sessionRow struct {
	startTs         int64
	stopTs          int64
	serverURL       string
	serverSizeBytes int64
	fullAppend      map[string]string
	segments        []int64
}

// Store is the per-process segment table. Pure bookkeeping, no I/O; safe for
// concurrent use by the session handler and dispatch tasks.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	segments map[int64]*segmentRow
	sessions map[string]*sessionRow
}

func New() *Store {
	return &Store{
		segments: make(map[int64]*segmentRow),
		sessions: make(map[string]*sessionRow),
	}
}

// StartSession registers a session keyed by its opaque id.
func (s *Store) StartSession(sessionID string, startTs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; ok {
		return
	}
	s.sessions[sessionID] = &sessionRow{
		startTs:    startTs,
		fullAppend: make(map[string]string),
	}
}

// RecordSegment inserts one segment row and returns its stable identifier.
func (s *Store) RecordSegment(seg Segment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	seg.ID = s.nextID
	s.segments[seg.ID] = &segmentRow{
		meta:        seg,
		transcripts: make(map[string]string),
		results:     make(map[string]ProviderResult),
	}
	if sess, ok := s.sessions[seg.SessionID]; ok {
		sess.segments = append(sess.segments, seg.ID)
	}
	return seg.ID
}

// AppendTranscript accumulates provider text for a segment. Repeated appends
// for the same provider are joined with a single space so providers that
// deliver partial results build up one transcript.
func (s *Store) AppendTranscript(segmentID int64, provider, text string) bool {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.segments[segmentID]
	if !ok {
		return false
	}
	row.transcripts[provider] = joinAppend(row.transcripts[provider], text)
	return true
}

// SetResult records the provider outcome for a segment. The first terminal
// status wins; later writes for the same pair are ignored.
func (s *Store) SetResult(segmentID int64, result ProviderResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.segments[segmentID]
	if !ok {
		return
	}
	if prev, ok := row.results[result.Provider]; ok && prev.Status != StatusPending {
		return
	}
	row.results[result.Provider] = result
}

// Result returns the recorded outcome for one (segment, provider) pair.
func (s *Store) Result(segmentID int64, provider string) (ProviderResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.segments[segmentID]
	if !ok {
		return ProviderResult{}, false
	}
	r, ok := row.results[provider]
	return r, ok
}

// AppendFull accumulates whole-recording transcript text per provider.
func (s *Store) AppendFull(sessionID, provider, text string) {
	if strings.TrimSpace(provider) == "" || text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	sess.fullAppend[provider] = joinAppend(sess.fullAppend[provider], text)
}

// FinishSession records the final raw-recording location and size. StopTs is
// only set once; later calls update the URL and size (full_upload may land
// after end_stream bookkeeping).
func (s *Store) FinishSession(sessionID string, stopTs int64, serverURL string, sizeBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if sess.stopTs == 0 {
		sess.stopTs = stopTs
	}
	sess.serverURL = serverURL
	sess.serverSizeBytes = sizeBytes
}

// Session returns a copy of the accumulated record for one session.
func (s *Store) Session(sessionID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Record{}, false
	}

	rec := Record{
		Segments:        make([]Segment, 0, len(sess.segments)),
		Transcripts:     make(map[string][]string),
		FullAppend:      make(map[string]string),
		StartTs:         sess.startTs,
		StopTs:          sess.stopTs,
		ServerURL:       sess.serverURL,
		ServerSizeBytes: sess.serverSizeBytes,
	}
	providers := make(map[string]struct{})
	for _, id := range sess.segments {
		for provider := range s.segments[id].transcripts {
			providers[provider] = struct{}{}
		}
	}
	// Transcripts[p][i] lines up with Segments[i]; segments a provider produced
	// no text for hold an empty string.
	for _, id := range sess.segments {
		row := s.segments[id]
		rec.Segments = append(rec.Segments, row.meta)
		for provider := range providers {
			rec.Transcripts[provider] = append(rec.Transcripts[provider], row.transcripts[provider])
		}
	}
	for provider, text := range sess.fullAppend {
		rec.FullAppend[provider] = text
	}
	return rec, true
}

func joinAppend(prev, text string) string {
	if prev != "" && text != "" {
		return strings.TrimSpace(prev + " " + text)
	}
	return strings.TrimSpace(prev + text)
}
