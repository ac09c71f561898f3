package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hollowpine/tidewatch/internal/httpkit"
)

// analyzeTimeout bounds one provider call end to end.
const analyzeTimeout = 60 * time.Second

// adapter translates one provider's request/response shapes. It returns
// the model's raw JSON payload for Normalize to validate.
type adapter interface {
	analyze(ctx context.Context, req Request, imageB64 string) (map[string]any, error)
}

// Client dispatches analysis requests to the adapter for the configured
// provider. It is stateless with respect to zones: provider, model, and
// credentials arrive on every Request.
type Client struct {
	adapters   map[string]adapter
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client with all implemented provider adapters
// registered. All adapters share one HTTP client; vision models can sit
// on a request for a long time before sending headers, so the transport
// gets a response-header timeout matching the overall call bound.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = analyzeTimeout

	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(analyzeTimeout),
		httpkit.WithTransport(t),
	)

	c := &Client{
		adapters:   make(map[string]adapter),
		httpClient: httpClient,
		logger:     logger,
	}
	c.adapters[ProviderOpenAI] = &openaiAdapter{httpClient: httpClient, logger: logger.With("provider", ProviderOpenAI)}
	c.adapters[ProviderAnthropic] = &anthropicAdapter{httpClient: httpClient, logger: logger.With("provider", ProviderAnthropic)}
	c.adapters[ProviderGemini] = &geminiAdapter{httpClient: httpClient, logger: logger.With("provider", ProviderGemini)}
	return c
}

// Analyze sends the image to the configured provider and returns the
// normalized verdict. The provider id selects the adapter; ids without
// an adapter fail with an UnsupportedProviderError.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	a, ok := c.adapters[req.Provider]
	if !ok {
		return nil, &UnsupportedProviderError{Provider: req.Provider}
	}

	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	imageB64 := base64.StdEncoding.EncodeToString(req.Image)

	c.logger.Debug("analyzing image",
		"provider", req.Provider,
		"room", req.RoomName,
		"model", req.Model,
		"image_bytes", len(req.Image),
	)

	raw, err := a.analyze(ctx, req, imageB64)
	if err != nil {
		return nil, err
	}

	return Normalize(raw)
}

// decodeModelJSON parses the text a model returned as a JSON object.
// Adapters call it after digging the text out of their envelope.
func decodeModelJSON(provider, text string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &MalformedResponseError{Provider: provider, Detail: "model output is not valid JSON", Err: err}
	}
	return raw, nil
}
