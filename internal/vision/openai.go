package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hollowpine/tidewatch/internal/httpkit"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// openaiAdapter calls the OpenAI chat completions API with an embedded
// data-URL image. response_format json_object keeps the model honest
// about returning a bare JSON object.
type openaiAdapter struct {
	httpClient *http.Client
	logger     *slog.Logger
}

type openaiRequest struct {
	Model          string           `json:"model"`
	ResponseFormat openaiRespFormat `json:"response_format"`
	Messages       []openaiMessage  `json:"messages"`
}

type openaiRespFormat struct {
	Type string `json:"type"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openaiContent
}

type openaiContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			// Content is a plain string for most models, but some
			// gateways return a list of typed content blocks.
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *openaiAdapter) analyze(ctx context.Context, req Request, imageB64 string) (map[string]any, error) {
	url := openaiAPIURL
	if req.BaseURL != "" {
		url = req.BaseURL
	}

	payload := openaiRequest{
		Model:          req.model(DefaultModelOpenAI),
		ResponseFormat: openaiRespFormat{Type: "json_object"},
		Messages: []openaiMessage{
			{
				Role:    "system",
				Content: systemPrompt(req.RoomName),
			},
			{
				Role: "user",
				Content: []openaiContent{
					{Type: "text", Text: userPrompt},
					{
						Type:     "image_url",
						ImageURL: &openaiImageURL{URL: "data:image/jpeg;base64," + imageB64},
					},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &MalformedResponseError{Provider: ProviderOpenAI, Detail: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Provider: ProviderOpenAI, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: ProviderOpenAI, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		a.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &TransportError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Body: errBody}
	}

	var envelope openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &MalformedResponseError{Provider: ProviderOpenAI, Detail: "decode response envelope", Err: err}
	}
	if len(envelope.Choices) == 0 {
		return nil, &MalformedResponseError{Provider: ProviderOpenAI, Detail: "no choices in response"}
	}

	text, err := openaiMessageText(envelope.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	a.logger.Log(ctx, LevelTrace, "model output", "text", text)

	return decodeModelJSON(ProviderOpenAI, text)
}

// openaiMessageText extracts the assistant's text from the content
// field, which is either a JSON string or a list of content blocks
// with the text in the first text-typed block.
func openaiMessageText(content json.RawMessage) (string, error) {
	if len(content) == 0 {
		return "", &MalformedResponseError{Provider: ProviderOpenAI, Detail: "empty message content"}
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text, nil
	}

	var blocks []openaiContent
	if err := json.Unmarshal(content, &blocks); err != nil {
		return "", &MalformedResponseError{Provider: ProviderOpenAI, Detail: "unexpected message content shape", Err: err}
	}
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text, nil
		}
	}
	return "", &MalformedResponseError{Provider: ProviderOpenAI, Detail: "no text block in message content"}
}
