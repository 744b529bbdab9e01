package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// debugLogEntry is one request/response pair written in debug mode.
type debugLogEntry struct {
	Timestamp time.Time            `json:"timestamp"`
	Method    string               `json:"method"`
	Provider  string               `json:"provider"`
	Model     string               `json:"model"`
	Params    GenerationConfig     `json:"params"`
	Messages  []models.ChatMessage `json:"messages"`
	Response  string               `json:"response"`
	Error     string               `json:"error,omitempty"`
}

// writeDebugLog writes one JSON file per call under stateDir/debug. Failures are logged only.
func (c *Client) writeDebugLog(method string, messages []models.ChatMessage, response string, callErr error) {
	if c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("GenAI debug: failed to create directory", "dir", dir, "error", err)
		return
	}

	now := time.Now().UTC()
	entry := debugLogEntry{
		Timestamp: now,
		Method:    method,
		Provider:  c.provider.name(),
		Model:     c.model,
		Params:    c.config,
		Messages:  messages,
		Response:  response,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI debug: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("GenAI debug: failed to write entry", "error", err)
	}
}
