package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"betflow/internal/models"
)

const parseInstruction = `You extract betting instructions from raw chat messages.
Respond with JSON only: {"teams": "<TeamA vs TeamB>", "market": "<market name>"}.
If the message is not a betting instruction, respond {"teams": "", "market": ""}.`

const visionInstruction = `You locate UI elements on bookmaker web pages.
Given a screenshot and a logical element name, respond with JSON only:
{"selector": "<CSS selector of the element>"}.
If you cannot find the element, respond {"selector": ""}.`

// ParseSignal turns a raw message into a structured Signal. A message
// the model does not recognize as a betting instruction yields nil.
func (c *Client) ParseSignal(raw string) (*models.Signal, error) {
	text, err := c.generate(parseInstruction, raw, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Teams  string `json:"teams"`
		Market string `json:"market"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse AI JSON output: %v. Raw: %s", err, text)
	}

	if strings.TrimSpace(parsed.Teams) == "" {
		return nil, nil
	}
	return &models.Signal{
		Teams:   parsed.Teams,
		Market:  parsed.Market,
		RawText: raw,
	}, nil
}

// SuggestSelector asks the vision model where an element lives on the
// page. Used as the last healing tier when DOM analysis found nothing.
func (c *Client) SuggestSelector(screenshot []byte, key string) (string, error) {
	prompt := fmt.Sprintf("Find the element logically named %q on this page.", key)
	text, err := c.generate(visionInstruction, prompt, screenshot)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse AI JSON output: %v. Raw: %s", err, text)
	}

	selector := strings.TrimSpace(parsed.Selector)
	if selector == "" {
		return "", fmt.Errorf("vision model found no selector for %q", key)
	}
	return selector, nil
}
