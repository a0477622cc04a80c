package provider

import (
	"context"
	"errors"
	"strings"
)

// Supported segment containers. The browser records either WebM/Opus or
// Ogg/Opus depending on the platform; the core never transcodes between them.
const (
	MimeWebm = "audio/webm"
	MimeOgg  = "audio/ogg"
)

// ErrUnavailable is returned by adapters that have no usable client or
// credentials. The dispatcher skips such providers without spawning a task.
var ErrUnavailable = errors.New("provider unavailable")

// Transcriber is the common interface for all transcription providers.
type Transcriber interface {
	// Key identifies the provider in registry entries and frame suffixes.
	Key() string
	// Label is the human-friendly name shown by the admin surface.
	Label() string
	// Available reports whether the adapter has a working client.
	Available() bool
	// Transcribe submits one audio segment declared as mimeHint and returns
	// the transcript text, which may legitimately be empty.
	Transcribe(ctx context.Context, audio []byte, mimeHint string) (string, error)
}

// MimeOrder returns the container hints to offer a provider, client-declared
// container first. Providers occasionally reject one container while
// accepting the other for the same Opus stream, so callers try each in turn.
func MimeOrder(extOrMime string) []string {
	if strings.Contains(strings.ToLower(extOrMime), "ogg") {
		return []string{MimeOgg, MimeWebm}
	}
	return []string{MimeWebm, MimeOgg}
}

// ExtForMime maps a client-declared mime to the on-disk segment extension.
func ExtForMime(mime string) string {
	if strings.Contains(strings.ToLower(mime), "ogg") {
		return "ogg"
	}
	return "webm"
}
