package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies what happened. Consumers switch on this.
type EventType string

const (
	EventBetSuccess   EventType = "BET_SUCCESS"
	EventBetFailed    EventType = "BET_FAILED"
	EventStateChanged EventType = "STATE_CHANGED"
	EventBalanceSync  EventType = "BALANCE_SYNC"
	EventHealApplied  EventType = "HEAL_APPLIED"
)

// Event is the envelope published on the bus. Payload is one of the
// typed payloads below depending on Type.
type Event struct {
	Type    EventType   `json:"type"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// BetOutcome is the payload for BET_SUCCESS and BET_FAILED.
// TxID is empty when the signal failed before reservation.
type BetOutcome struct {
	TxID   string          `json:"tx_id,omitempty"`
	Teams  string          `json:"teams,omitempty"`
	Market string          `json:"market,omitempty"`
	Stake  decimal.Decimal `json:"stake,omitempty"`
	Odds   float64         `json:"odds,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// StateChange is the payload for STATE_CHANGED.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// HealRecord is the payload for HEAL_APPLIED and the shape stored in
// the healing history file.
type HealRecord struct {
	At          time.Time `json:"at"`
	Key         string    `json:"key"`
	OldSelector string    `json:"old_selector"`
	NewSelector string    `json:"new_selector"`
	Tier        string    `json:"tier"` // "dom" or "vision"
}
