package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultVertexModel = "gemini-2.5-flash"

// Vertex sends segment audio to the same Gemini model family through the
// Vertex AI endpoint, authenticated with a bearer access token instead of an
// API key.
type Vertex struct {
	project     string
	location    string
	model       string
	accessToken string
	endpoint    string
	httpClient  *http.Client
}

func NewVertex(project, location, model, accessToken string) *Vertex {
	if location == "" {
		location = "us-central1"
	}
	if model == "" {
		model = defaultVertexModel
	}
	return &Vertex{
		project:     project,
		location:    location,
		model:       model,
		accessToken: accessToken,
		endpoint: fmt.Sprintf(
			"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
			location, project, location, model,
		),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (v *Vertex) Key() string   { return "vertex" }
func (v *Vertex) Label() string { return "Gemini (Vertex AI)" }

func (v *Vertex) Available() bool { return v.project != "" && v.accessToken != "" }

func (v *Vertex) Transcribe(ctx context.Context, audio []byte, mimeHint string) (string, error) {
	if !v.Available() {
		return "", ErrUnavailable
	}

	body, err := json.Marshal(buildGenaiRequest(audio, mimeHint))
	if err != nil {
		return "", fmt.Errorf("failed to encode generateContent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.accessToken)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vertex call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("vertex http %d: %s", resp.StatusCode, string(raw))
	}

	return extractGenaiText(raw), nil
}
