// Package vision asks multimodal LLM providers whether a room needs
// tidying. It dispatches to provider-specific adapters (OpenAI,
// Anthropic, Gemini) and normalizes their incompatible response shapes
// into one canonical Result.
package vision

import (
	"log/slog"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Provider ids accepted in zone configuration. OpenRouter and custom
// endpoints are recognized but have no adapter yet; analysis against
// them fails with an UnsupportedProviderError.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderCustom     = "custom"
)

// Default models per provider, used when a zone leaves model empty.
const (
	DefaultModelOpenAI    = "gpt-4.1-mini"
	DefaultModelAnthropic = "claude-3-5-sonnet-latest"
	DefaultModelGemini    = "gemini-1.5-flash-latest"
)

// KnownProvider reports whether id is a recognized provider id,
// implemented or not.
func KnownProvider(id string) bool {
	switch id {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOpenRouter, ProviderCustom:
		return true
	}
	return false
}

// Status is the model's verdict on a room.
type Status string

// Valid Result statuses. Error and unknown states exist only at the
// zone level; a Result always carries a definite verdict.
const (
	StatusClean Status = "clean"
	StatusMessy Status = "messy"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Task is one actionable tidying item extracted from the image.
type Task struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// Result is the canonical, validated outcome of one analysis,
// independent of which provider produced it.
type Result struct {
	Status  Status `json:"status"`
	Tasks   []Task `json:"tasks"`
	Comment string `json:"comment"`
}

// Request carries everything an adapter needs for one analysis call.
// The image is expected to be JPEG, as delivered by the Home Assistant
// camera proxy.
type Request struct {
	Image    []byte
	RoomName string
	Provider string
	Model    string
	APIKey   string
	BaseURL  string // optional endpoint override
}

// model returns the configured model, falling back to the provider default.
func (r Request) model(fallback string) string {
	if strings.TrimSpace(r.Model) != "" {
		return r.Model
	}
	return fallback
}
