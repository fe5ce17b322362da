package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// BlueprintStatus enumerates blueprint lifecycle states.
type BlueprintStatus string

const (
	BlueprintStatusPending   BlueprintStatus = "pending"
	BlueprintStatusCompleted BlueprintStatus = "completed"
	BlueprintStatusFailed    BlueprintStatus = "failed"
)

// PromptSegments splits a prompt into system and user parts for providers that
// support role separation.
type PromptSegments struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// RequestData is the immutable payload needed to (re)generate a blueprint.
type RequestData struct {
	Prompt         string            `json:"prompt"`
	PromptSegments *PromptSegments   `json:"promptSegments,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate reports whether the request can be sent to a provider at all.
func (r RequestData) Validate() error {
	if strings.TrimSpace(r.Prompt) != "" {
		return nil
	}
	if r.PromptSegments != nil && strings.TrimSpace(r.PromptSegments.User) != "" {
		return nil
	}
	return ErrInvalidRequest
}

// Blueprint is the record tracked by the blueprint store.
type Blueprint struct {
	ID          string
	UserID      string
	Title       string
	Status      BlueprintStatus
	RequestData RequestData
	Payload     json.RawMessage
	Provider    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
