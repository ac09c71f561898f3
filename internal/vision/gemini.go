package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hollowpine/tidewatch/internal/httpkit"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// geminiAdapter calls the Gemini generateContent API. Gemini has no
// separate system role here; prompt and inline image data travel
// together as parts of one content entry.
type geminiAdapter struct {
	httpClient *http.Client
	logger     *slog.Logger
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (a *geminiAdapter) analyze(ctx context.Context, req Request, imageB64 string) (map[string]any, error) {
	base := geminiAPIBase
	if req.BaseURL != "" {
		base = req.BaseURL
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", base, req.model(DefaultModelGemini))

	payload := geminiRequest{
		Contents: []geminiContent{
			{
				Parts: []geminiPart{
					{Text: systemPrompt(req.RoomName)},
					{
						InlineData: &geminiInlineData{
							MimeType: "image/jpeg",
							Data:     imageB64,
						},
					},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &MalformedResponseError{Provider: ProviderGemini, Detail: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Provider: ProviderGemini, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: ProviderGemini, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		a.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &TransportError{Provider: ProviderGemini, StatusCode: resp.StatusCode, Body: errBody}
	}

	var envelope geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &MalformedResponseError{Provider: ProviderGemini, Detail: "decode response envelope", Err: err}
	}
	if len(envelope.Candidates) == 0 {
		return nil, &MalformedResponseError{Provider: ProviderGemini, Detail: "no candidates in response"}
	}

	var text string
	for _, part := range envelope.Candidates[0].Content.Parts {
		if part.Text != "" {
			text = part.Text
			break
		}
	}
	if text == "" {
		return nil, &MalformedResponseError{Provider: ProviderGemini, Detail: "no text part in first candidate"}
	}

	a.logger.Log(ctx, LevelTrace, "model output", "text", text)

	return decodeModelJSON(ProviderGemini, text)
}
