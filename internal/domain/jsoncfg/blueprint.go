package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Habit struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Cadence     string   `json:"cadence,omitempty"`
	Steps       []string `json:"steps"`
}

type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Note  string `json:"note,omitempty"`
}

type ActionItem struct {
	Week  int    `json:"week,omitempty"`
	Focus string `json:"focus"`
}

// BlueprintJSON is the document a provider must return and the payload
// persisted on completion.
type BlueprintJSON struct {
	Version    string       `json:"version,omitempty"`
	Title      string       `json:"title"`
	Overview   string       `json:"overview"`
	Habits     []Habit      `json:"habits"`
	Resources  []Resource   `json:"resources,omitempty"`
	ActionPlan []ActionItem `json:"action_plan,omitempty"`
}

const (
	// DefaultBlueprintVersion is stamped on payloads that omit a version.
	DefaultBlueprintVersion = "2025-01"
	// MaxHabits caps how many habits a stored blueprint keeps.
	MaxHabits = 12
	// DefaultHabitCadence is applied when a habit omits its cadence.
	DefaultHabitCadence = "daily"
)

// Normalize trims text fields, drops blank steps and applies defaults.
func (b *BlueprintJSON) Normalize() {
	if b == nil {
		return
	}
	if b.Version == "" {
		b.Version = DefaultBlueprintVersion
	}
	b.Title = strings.TrimSpace(b.Title)
	b.Overview = strings.TrimSpace(b.Overview)
	if len(b.Habits) > MaxHabits {
		b.Habits = b.Habits[:MaxHabits]
	}
	for i := range b.Habits {
		h := &b.Habits[i]
		h.Name = strings.TrimSpace(h.Name)
		h.Description = strings.TrimSpace(h.Description)
		h.Cadence = strings.TrimSpace(h.Cadence)
		if h.Cadence == "" {
			h.Cadence = DefaultHabitCadence
		}
		steps := h.Steps[:0]
		for _, step := range h.Steps {
			if s := strings.TrimSpace(step); s != "" {
				steps = append(steps, s)
			}
		}
		h.Steps = steps
	}
	resources := b.Resources[:0]
	for _, r := range b.Resources {
		r.Title = strings.TrimSpace(r.Title)
		if r.Title == "" {
			continue
		}
		r.URL = strings.TrimSpace(r.URL)
		resources = append(resources, r)
	}
	b.Resources = resources
}

// Validate checks the fields the rest of the system relies on after Normalize.
func (b BlueprintJSON) Validate() error {
	if b.Title == "" {
		return fmt.Errorf("title is required")
	}
	if b.Overview == "" {
		return fmt.Errorf("overview is required")
	}
	if len(b.Habits) == 0 {
		return fmt.Errorf("at least one habit is required")
	}
	for i, h := range b.Habits {
		if h.Name == "" {
			return fmt.Errorf("habits[%d].name is required", i)
		}
		if len(h.Steps) == 0 {
			return fmt.Errorf("habits[%d].steps must not be empty", i)
		}
	}
	return nil
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
