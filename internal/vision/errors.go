package vision

import "fmt"

// UnsupportedProviderError is returned when a zone's configured
// provider id has no adapter.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	if KnownProvider(e.Provider) {
		return fmt.Sprintf("provider %q not implemented yet, use openai, anthropic or gemini", e.Provider)
	}
	return fmt.Sprintf("unknown provider %q", e.Provider)
}

// TransportError is returned when a provider call fails at the HTTP
// layer: a network error, or a non-2xx response. StatusCode is zero
// when the request never reached the server.
type TransportError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a provider's response
// envelope doesn't match the expected shape, or the embedded model
// output is not valid JSON.
type MalformedResponseError struct {
	Provider string
	Detail   string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s response: %s: %v", e.Provider, e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Provider, e.Detail)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// InvalidResponseError is returned by Normalize when the model's JSON
// parses but violates the canonical schema's hard constraints.
type InvalidResponseError struct {
	Detail string
}

func (e *InvalidResponseError) Error() string {
	return "invalid model response: " + e.Detail
}
