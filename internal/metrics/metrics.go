package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProviderStats accumulates dispatch outcomes for one provider in a session.
type ProviderStats struct {
	Results         int
	TranscriptChars int
	TotalLatency    time.Duration
}

// SessionMetrics tracks one connection's segment and dispatch activity.
type SessionMetrics struct {
	SessionID       string
	StartTime       time.Time
	EndTime         time.Time
	SegmentCount    int
	AudioBytes      int64
	FirstResultTime *time.Time
	providers       map[string]*ProviderStats
	mu              sync.Mutex
}

func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		SessionID: sessionID,
		StartTime: time.Now(),
		providers: make(map[string]*ProviderStats),
	}
}

func (m *SessionMetrics) AddSegment(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SegmentCount++
	m.AudioBytes += int64(bytes)
}

func (m *SessionMetrics) AddResult(provider, text string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FirstResultTime == nil {
		now := time.Now()
		m.FirstResultTime = &now
	}

	stats, ok := m.providers[provider]
	if !ok {
		stats = &ProviderStats{}
		m.providers[provider] = stats
	}
	stats.Results++
	stats.TranscriptChars += len(text)
	stats.TotalLatency += latency
}

func (m *SessionMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

func (m *SessionMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.EndTime.Sub(m.StartTime)
	var firstLatency time.Duration
	if m.FirstResultTime != nil {
		firstLatency = m.FirstResultTime.Sub(m.StartTime)
	}

	out := fmt.Sprintf(
		"Session: %s\nDuration: %v\nSegments: %d\nAudio Bytes: %d\nFirst Result Latency: %v\n",
		m.SessionID, duration, m.SegmentCount, m.AudioBytes, firstLatency,
	)

	keys := make([]string, 0, len(m.providers))
	for key := range m.providers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		stats := m.providers[key]
		avg := time.Duration(0)
		if stats.Results > 0 {
			avg = stats.TotalLatency / time.Duration(stats.Results)
		}
		out += fmt.Sprintf("Provider %s: %d results, %d chars, avg latency %v\n",
			key, stats.Results, stats.TranscriptChars, avg)
	}
	return out
}
