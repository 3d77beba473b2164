// Package roomconfig loads and merges the per-room JSON5 configuration that
// drives command resolution, proactive interjection and system-prompt
// assembly: a "rooms.common" section deep-merged with "rooms.<room>".
package roomconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Root is the parsed top-level configuration file.
type Root struct {
	Rooms      map[string]RoomConfig `json:"rooms"`
	PromptVars map[string]string     `json:"prompt_vars,omitempty"`
}

// RoomConfig is one room's settings, either as declared under "rooms.common"
// / "rooms.<room>" before merge, or as returned by GetRoomConfig after it.
type RoomConfig struct {
	Command    CommandConfig     `json:"command"`
	Proactive  ProactiveConfig   `json:"proactive"`
	PromptVars map[string]string `json:"prompt_vars,omitempty"`
}

// CommandConfig is the "command:" section of a room config.
type CommandConfig struct {
	HistorySize      int                   `json:"history_size"`
	RateLimit        int                   `json:"rate_limit"`
	RatePeriod       int                   `json:"rate_period"`
	ResponseMaxBytes int                   `json:"response_max_bytes,omitempty"`
	Debounce         int                   `json:"debounce,omitempty"`
	IgnoreUsers      []string              `json:"ignore_users,omitempty"`
	DefaultMode      string                `json:"default_mode,omitempty"`
	ChannelModes     map[string]string     `json:"channel_modes,omitempty"`
	ModeClassifier   ClassifierConfig      `json:"mode_classifier"`
	Modes            map[string]ModeConfig `json:"modes"`
}

// ClassifierConfig is the "command.mode_classifier:" section.
type ClassifierConfig struct {
	Model         string            `json:"model"`
	Prompt        string            `json:"prompt"`
	Labels        map[string]string `json:"labels"`
	FallbackLabel string            `json:"fallback_label,omitempty"`
}

// ModeConfig is one entry of "command.modes:".
type ModeConfig struct {
	Prompt                string          `json:"prompt"`
	Model                 ModelField      `json:"model"`
	HistorySize           *int            `json:"history_size,omitempty"`
	ReasoningEffort       string          `json:"reasoning_effort,omitempty"`
	AllowedTools          []string        `json:"allowed_tools,omitempty"`
	Steering              *bool           `json:"steering,omitempty"`
	AutoReduceContext     *bool           `json:"auto_reduce_context,omitempty"`
	IncludeChapterSummary *bool           `json:"include_chapter_summary,omitempty"`
	Triggers              OrderedTriggers `json:"triggers"`
}

// TriggerOverrides is the per-trigger override block under a mode's
// "triggers:" map; unset fields fall back to the mode's own settings.
type TriggerOverrides struct {
	Model           string   `json:"model,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	AllowedTools    []string `json:"allowed_tools,omitempty"`
	Steering        *bool    `json:"steering,omitempty"`
}

// TriggerEntry pairs a trigger token with its overrides, preserving the
// declaration order of the config file.
type TriggerEntry struct {
	Trigger   string
	Overrides TriggerOverrides
}

// OrderedTriggers is a JSON object decoded as an ordered list rather than a
// map, since the first declared trigger is a mode's implicit default.
type OrderedTriggers []TriggerEntry

// UnmarshalJSON decodes an object preserving key order via json.Decoder's
// token stream, since encoding/json's map decoding does not.
func (t *OrderedTriggers) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("roomconfig: decode triggers: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("roomconfig: triggers must be an object")
	}

	var out OrderedTriggers
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("roomconfig: decode trigger key: %w", err)
		}
		key, _ := keyTok.(string)
		var overrides TriggerOverrides
		if err := dec.Decode(&overrides); err != nil {
			return fmt.Errorf("roomconfig: decode trigger %q: %w", key, err)
		}
		out = append(out, TriggerEntry{Trigger: key, Overrides: overrides})
	}
	*t = out
	return nil
}

// MarshalJSON re-encodes as a plain object; trigger declaration order is not
// preserved in the output.
func (t OrderedTriggers) MarshalJSON() ([]byte, error) {
	m := make(map[string]TriggerOverrides, len(t))
	for _, e := range t {
		m[e.Trigger] = e.Overrides
	}
	return json.Marshal(m)
}

// ModelField accepts either a bare modelspec string or a list of them, as
// "command.modes.<mode>.model" allows both shapes.
type ModelField []string

func (m *ModelField) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*m = nil
		} else {
			*m = ModelField{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("roomconfig: model must be a string or list of strings: %w", err)
	}
	*m = list
	return nil
}

func (m ModelField) MarshalJSON() ([]byte, error) {
	if len(m) == 1 {
		return json.Marshal(m[0])
	}
	return json.Marshal([]string(m))
}

// Primary returns the first configured model, or "" if none.
func (m ModelField) Primary() string {
	if len(m) == 0 {
		return ""
	}
	return m[0]
}

// ProactiveConfig is the "proactive:" section of a room config.
type ProactiveConfig struct {
	RateLimit          int              `json:"rate_limit"`
	RatePeriod         int              `json:"rate_period"`
	DebounceSeconds    int              `json:"debounce_seconds"`
	HistorySize        int              `json:"history_size"`
	InterjectThreshold int              `json:"interject_threshold"`
	Interjecting       []string         `json:"interjecting,omitempty"`
	InterjectingTest   []string         `json:"interjecting_test,omitempty"`
	Models             ProactiveModels  `json:"models"`
	Prompts            ProactivePrompts `json:"prompts"`
}

// ProactiveModels is "proactive.models:".
type ProactiveModels struct {
	Validation []string `json:"validation"`
	Serious    string   `json:"serious"`
}

// ProactivePrompts is "proactive.prompts:".
type ProactivePrompts struct {
	Interject    string `json:"interject"`
	SeriousExtra string `json:"serious_extra"`
}
