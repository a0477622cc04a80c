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

const defaultGeminiModel = "gemini-1.5-flash"

// Gemini sends segment audio inline to the consumer Generative Language API.
type Gemini struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		apiKey:     apiKey,
		model:      model,
		endpoint:   "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *Gemini) Key() string   { return "gemini" }
func (g *Gemini) Label() string { return "Gemini (API)" }

func (g *Gemini) Available() bool { return g.apiKey != "" }

func (g *Gemini) Transcribe(ctx context.Context, audio []byte, mimeHint string) (string, error) {
	if !g.Available() {
		return "", ErrUnavailable
	}

	body, err := json.Marshal(buildGenaiRequest(audio, mimeHint))
	if err != nil {
		return "", fmt.Errorf("failed to encode generateContent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"?key="+g.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini http %d: %s", resp.StatusCode, string(raw))
	}

	return extractGenaiText(raw), nil
}
