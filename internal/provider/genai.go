package provider

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// transcribePrompt is the fixed instruction sent alongside segment audio to
// generative providers.
const transcribePrompt = "Transcribe the spoken audio to plain text. Return only the transcript."

type genaiRequest struct {
	Contents []genaiContent `json:"contents"`
}

type genaiContent struct {
	Parts []genaiPart `json:"parts"`
}

type genaiPart struct {
	Text       string           `json:"text,omitempty"`
	InlineData *genaiInlineData `json:"inline_data,omitempty"`
}

type genaiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

func buildGenaiRequest(audio []byte, mimeType string) genaiRequest {
	return genaiRequest{
		Contents: []genaiContent{{
			Parts: []genaiPart{
				{Text: transcribePrompt},
				{InlineData: &genaiInlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}},
	}
}

type genaiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Text string `json:"text"`
}

// extractGenaiText locates transcript text in a generateContent response.
// Two strategies are tried in order because the response shape has shifted
// across API revisions: the candidates/content/parts path first, then a
// top-level text field.
func extractGenaiText(raw []byte) string {
	var parsed genaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}

	if len(parsed.Candidates) > 0 {
		var texts []string
		for _, part := range parsed.Candidates[0].Content.Parts {
			if t := strings.TrimSpace(part.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}

	return strings.TrimSpace(parsed.Text)
}
