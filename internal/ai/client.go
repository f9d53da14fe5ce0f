package ai

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Client talks to the Gemini REST API. It is the opaque oracle of the
// system: give it text or a screenshot, get structured JSON back. All
// calls go through a circuit breaker so a flapping API fails fast
// instead of stalling the bet pipeline.
type Client struct {
	apiKey  string
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewClient(apiKey string, log zerolog.Logger) *Client {
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.5-flash" // Sensible default
	}

	// Dynamic endpoint construction
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", model)

	l := log.With().Str("component", "ai").Logger()
	if apiKey == "" {
		l.Warn().Msg("no Gemini API key, AI features disabled")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gemini",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("from", from.String()).Str("to", to.String()).Msg("AI breaker state change")
		},
	})

	return &Client{
		apiKey:  apiKey,
		url:     url,
		http:    &http.Client{Timeout: 45 * time.Second},
		breaker: breaker,
		log:     l,
	}
}

// Enabled reports whether the client is configured with a key.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// generate sends one prompt (optionally with an inline image) and
// returns the raw text of the first candidate.
func (c *Client) generate(systemInstruction, prompt string, image []byte) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("AI client not configured")
	}

	parts := []map[string]interface{}{
		{"text": prompt},
	}
	if len(image) > 0 {
		parts = append(parts, map[string]interface{}{
			"inline_data": map[string]interface{}{
				"mime_type": "image/png",
				"data":      base64.StdEncoding.EncodeToString(image),
			},
		})
	}

	payload := map[string]interface{}{
		"system_instruction": map[string]interface{}{
			"parts": map[string]interface{}{
				"text": systemInstruction,
			},
		},
		"contents": []map[string]interface{}{
			{"parts": parts},
		},
		"generationConfig": map[string]interface{}{
			"response_mime_type": "application/json",
		},
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequest("POST", c.url+"?key="+c.apiKey, bytes.NewBuffer(jsonPayload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("AI API error %d: %s", resp.StatusCode, string(body))
		}

		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return "", err
	}

	// Extract text from the Gemini response structure:
	// candidates[0].content.parts[0].text
	result := out.(map[string]interface{})
	candidates, ok := result["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return "", fmt.Errorf("no candidates in AI response")
	}
	candidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("malformed candidate in AI response")
	}
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("malformed content in AI response")
	}
	partsOut, ok := content["parts"].([]interface{})
	if !ok || len(partsOut) == 0 {
		return "", fmt.Errorf("no parts in AI response")
	}
	part, ok := partsOut[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("malformed part in AI response")
	}
	text, ok := part["text"].(string)
	if !ok {
		return "", fmt.Errorf("no text in AI response")
	}
	return text, nil
}
