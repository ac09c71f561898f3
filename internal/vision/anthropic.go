package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hollowpine/tidewatch/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// anthropicAdapter calls the Anthropic Messages API. The image travels
// as a base64 source block ahead of the instruction text; the system
// prompt goes in the top-level system field.
type anthropicAdapter struct {
	httpClient *http.Client
	logger     *slog.Logger
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string              `json:"type"`
	Text   string              `json:"text,omitempty"`
	Source *anthropicImgSource `json:"source,omitempty"`
}

type anthropicImgSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *anthropicAdapter) analyze(ctx context.Context, req Request, imageB64 string) (map[string]any, error) {
	url := anthropicAPIURL
	if req.BaseURL != "" {
		url = req.BaseURL
	}

	payload := anthropicRequest{
		Model:     req.model(DefaultModelAnthropic),
		System:    systemPrompt(req.RoomName),
		MaxTokens: 1024,
		Messages: []anthropicMessage{
			{
				Role: "user",
				Content: []anthropicContent{
					{
						Type: "image",
						Source: &anthropicImgSource{
							Type:      "base64",
							MediaType: "image/jpeg",
							Data:      imageB64,
						},
					},
					{Type: "text", Text: userPrompt},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &MalformedResponseError{Provider: ProviderAnthropic, Detail: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Provider: ProviderAnthropic, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: ProviderAnthropic, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		a.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &TransportError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Body: errBody}
	}

	var envelope anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &MalformedResponseError{Provider: ProviderAnthropic, Detail: "decode response envelope", Err: err}
	}

	var text string
	for _, block := range envelope.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, &MalformedResponseError{Provider: ProviderAnthropic, Detail: "no text block in response content"}
	}

	a.logger.Log(ctx, LevelTrace, "model output", "text", text)

	return decodeModelJSON(ProviderAnthropic, text)
}
