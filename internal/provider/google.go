package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const googleRecognizeURL = "https://speech.googleapis.com/v1/speech:recognize"

// GoogleSTT calls Google Cloud Speech-to-Text synchronous recognition for one
// segment. Opus segments are submitted as-is with the matching encoding.
type GoogleSTT struct {
	apiKey       string
	languageCode string
	endpoint     string
	httpClient   *http.Client
}

func NewGoogleSTT(apiKey, languageCode string) *GoogleSTT {
	if languageCode == "" {
		languageCode = "en-US"
	}
	return &GoogleSTT{
		apiKey:       apiKey,
		languageCode: languageCode,
		endpoint:     googleRecognizeURL,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GoogleSTT) Key() string   { return "google" }
func (g *GoogleSTT) Label() string { return "Google STT" }

func (g *GoogleSTT) Available() bool { return g.apiKey != "" }

type googleRecognizeRequest struct {
	Config googleRecognitionConfig `json:"config"`
	Audio  googleRecognitionAudio  `json:"audio"`
}

type googleRecognitionConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

type googleRecognitionAudio struct {
	Content string `json:"content"`
}

type googleRecognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (g *GoogleSTT) Transcribe(ctx context.Context, audio []byte, mimeHint string) (string, error) {
	if !g.Available() {
		return "", ErrUnavailable
	}

	encoding := "WEBM_OPUS"
	if mimeHint == MimeOgg {
		encoding = "OGG_OPUS"
	}

	payload := googleRecognizeRequest{
		Config: googleRecognitionConfig{
			Encoding:        encoding,
			SampleRateHertz: 48000,
			LanguageCode:    g.languageCode,
		},
		Audio: googleRecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(audio),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode recognize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"?key="+g.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("google recognize call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("google recognize http %d: %s", resp.StatusCode, string(b))
	}

	var parsed googleRecognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse recognize response: %w", err)
	}

	if len(parsed.Results) > 0 && len(parsed.Results[0].Alternatives) > 0 {
		return parsed.Results[0].Alternatives[0].Transcript, nil
	}
	return "", nil
}
