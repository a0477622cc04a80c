package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSegments is returned synchronously when a session has no stored
// segment files to export.
var ErrNoSegments = errors.New("no_segments")

type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Job is one export request. Mutated by exactly one background worker;
// terminal once done or error.
type Job struct {
	ID        string    `json:"jobId"`
	SessionID string    `json:"sessionId"`
	Status    JobStatus `json:"status"`
	OutputURL string    `json:"outputUrl,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Manager reassembles a session's stored segments into one downloadable
// artifact, best effort: stream-copy concat, then re-encode, then a plain
// archive so the user always gets something.
type Manager struct {
	recordingsDir string
	publicPrefix  string
	ffmpegBin     string
	jobTimeout    time.Duration

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewManager(recordingsDir, publicPrefix string) *Manager {
	if publicPrefix == "" {
		publicPrefix = "/static/recordings"
	}
	return &Manager{
		recordingsDir: recordingsDir,
		publicPrefix:  publicPrefix,
		ffmpegBin:     "ffmpeg",
		jobTimeout:    5 * time.Minute,
		jobs:          make(map[string]*Job),
	}
}

// StartExport validates the session synchronously and hands the work to a
// dedicated background worker. Returns the job id for polling.
func (m *Manager) StartExport(sessionID string) (string, error) {
	segments, err := m.listSegments(sessionID)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", ErrNoSegments
	}

	job := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    StatusQueued,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.run(job.ID, sessionID, segments)
	return job.ID, nil
}

// Poll returns the job's current state. Terminal jobs keep returning the
// same payload indefinitely.
func (m *Manager) Poll(jobID string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (m *Manager) setStatus(jobID string, status JobStatus, outputURL, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	if job.Status == StatusDone || job.Status == StatusError {
		return
	}
	job.Status = status
	job.OutputURL = outputURL
	job.Error = errMsg
}

// listSegments returns the session's segment files ordered by index.
func (m *Manager) listSegments(sessionID string) ([]string, error) {
	dir := filepath.Join(m.recordingsDir, "session_"+sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	type indexed struct {
		idx  int
		path string
	}
	var files []indexed
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "segment_") {
			continue
		}
		base := strings.TrimPrefix(name, "segment_")
		base = strings.TrimSuffix(base, filepath.Ext(base))
		idx, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		files = append(files, indexed{idx: idx, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].idx < files[j].idx })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

type strategy struct {
	name string
	fn   func(ctx context.Context, sessionID string, segments []string) (string, error)
}

func (m *Manager) run(jobID, sessionID string, segments []string) {
	m.setStatus(jobID, StatusRunning, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), m.jobTimeout)
	defer cancel()

	strategies := []strategy{
		{"stream-copy", m.concatCopy},
		{"re-encode", m.concatReencode},
		{"archive", m.archive},
	}

	var lastErr error
	for _, s := range strategies {
		out, err := s.fn(ctx, sessionID, segments)
		if err == nil {
			m.setStatus(jobID, StatusDone, m.publicPrefix+"/"+filepath.Base(out), "")
			log.Printf("Export %s: %s succeeded: %s", jobID, s.name, out)
			return
		}
		log.Printf("Export %s: %s failed: %v", jobID, s.name, err)
		lastErr = err
	}
	m.setStatus(jobID, StatusError, "", lastErr.Error())
}

// writeConcatList writes an ffmpeg concat-demuxer list file for the segments.
func writeConcatList(dir string, segments []string) (string, error) {
	var b strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", abs)
	}
	listPath := filepath.Join(dir, "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	return listPath, nil
}

func (m *Manager) concatCopy(ctx context.Context, sessionID string, segments []string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(segments[0]), ".")
	out := filepath.Join(m.recordingsDir, fmt.Sprintf("export_%s.%s", sessionID, ext))
	return m.runFFmpeg(ctx, segments, out, "-c", "copy")
}

func (m *Manager) concatReencode(ctx context.Context, sessionID string, segments []string) (string, error) {
	out := filepath.Join(m.recordingsDir, fmt.Sprintf("export_%s.ogg", sessionID))
	return m.runFFmpeg(ctx, segments, out, "-c:a", "libopus")
}

func (m *Manager) runFFmpeg(ctx context.Context, segments []string, out string, codecArgs ...string) (string, error) {
	listPath, err := writeConcatList(filepath.Dir(segments[0]), segments)
	if err != nil {
		return "", err
	}
	defer os.Remove(listPath)

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
	args = append(args, codecArgs...)
	args = append(args, out)

	cmd := exec.CommandContext(ctx, m.ffmpegBin, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, tail(string(output)))
	}
	return out, nil
}

// archive packages the raw segment files into a zip so the export never
// leaves the user empty-handed.
func (m *Manager) archive(ctx context.Context, sessionID string, segments []string) (string, error) {
	out := filepath.Join(m.recordingsDir, fmt.Sprintf("export_%s.zip", sessionID))
	f, err := os.Create(out)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			zw.Close()
			os.Remove(out)
			return "", err
		}
		src, err := os.Open(seg)
		if err != nil {
			zw.Close()
			os.Remove(out)
			return "", err
		}
		dst, err := zw.Create(filepath.Base(seg))
		if err == nil {
			_, err = io.Copy(dst, src)
		}
		src.Close()
		if err != nil {
			zw.Close()
			os.Remove(out)
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[len(s)-300:]
	}
	return s
}
