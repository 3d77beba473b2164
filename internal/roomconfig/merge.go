package roomconfig

import "fmt"

// GetRoomConfig deep-merges "rooms.common" with "rooms.<roomName>" per the
// policy: ignore_users lists concatenate (common first), prompt_vars merge
// key-by-key (string+string concatenates, anything else is override-wins),
// and every other field is override-wins — room settings take precedence,
// falling back to common where the room leaves a field unset.
func GetRoomConfig(root *Root, roomName string) (RoomConfig, error) {
	if root == nil {
		return RoomConfig{}, fmt.Errorf("roomconfig: nil root")
	}
	common := root.Rooms["common"]
	room, ok := root.Rooms[roomName]
	if !ok && roomName != "common" {
		room = RoomConfig{}
	}

	merged := RoomConfig{
		Command:    mergeCommand(common.Command, room.Command),
		Proactive:  mergeProactive(common.Proactive, room.Proactive),
		PromptVars: mergePromptVars(common.PromptVars, room.PromptVars),
	}
	merged.applyDefaults()
	return merged, nil
}

func mergeCommand(base, over CommandConfig) CommandConfig {
	out := base
	out.IgnoreUsers = concatStrings(base.IgnoreUsers, over.IgnoreUsers)
	out.ChannelModes = mergeStringMap(base.ChannelModes, over.ChannelModes)
	out.ModeClassifier = mergeClassifier(base.ModeClassifier, over.ModeClassifier)
	out.Modes = mergeModes(base.Modes, over.Modes)

	if over.HistorySize != 0 {
		out.HistorySize = over.HistorySize
	}
	if over.RateLimit != 0 {
		out.RateLimit = over.RateLimit
	}
	if over.RatePeriod != 0 {
		out.RatePeriod = over.RatePeriod
	}
	if over.ResponseMaxBytes != 0 {
		out.ResponseMaxBytes = over.ResponseMaxBytes
	}
	if over.Debounce != 0 {
		out.Debounce = over.Debounce
	}
	if over.DefaultMode != "" {
		out.DefaultMode = over.DefaultMode
	}
	return out
}

func mergeClassifier(base, over ClassifierConfig) ClassifierConfig {
	out := base
	out.Labels = mergeStringMap(base.Labels, over.Labels)
	if over.Model != "" {
		out.Model = over.Model
	}
	if over.Prompt != "" {
		out.Prompt = over.Prompt
	}
	if over.FallbackLabel != "" {
		out.FallbackLabel = over.FallbackLabel
	}
	return out
}

// mergeModes merges per-mode-key, so a room may override one field of a
// mode (e.g. just the model) while inheriting the rest from common.
func mergeModes(base, over map[string]ModeConfig) map[string]ModeConfig {
	out := make(map[string]ModeConfig, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range over {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		merged := bv
		if ov.Prompt != "" {
			merged.Prompt = ov.Prompt
		}
		if len(ov.Model) > 0 {
			merged.Model = ov.Model
		}
		if ov.HistorySize != nil {
			merged.HistorySize = ov.HistorySize
		}
		if ov.ReasoningEffort != "" {
			merged.ReasoningEffort = ov.ReasoningEffort
		}
		if ov.AllowedTools != nil {
			merged.AllowedTools = ov.AllowedTools
		}
		if ov.Steering != nil {
			merged.Steering = ov.Steering
		}
		if ov.AutoReduceContext != nil {
			merged.AutoReduceContext = ov.AutoReduceContext
		}
		if ov.IncludeChapterSummary != nil {
			merged.IncludeChapterSummary = ov.IncludeChapterSummary
		}
		if len(ov.Triggers) > 0 {
			merged.Triggers = ov.Triggers
		}
		out[k] = merged
	}
	return out
}

func mergeProactive(base, over ProactiveConfig) ProactiveConfig {
	out := base
	if over.Interjecting != nil {
		out.Interjecting = append([]string(nil), over.Interjecting...)
	}
	if over.InterjectingTest != nil {
		out.InterjectingTest = append([]string(nil), over.InterjectingTest...)
	}

	if over.RateLimit != 0 {
		out.RateLimit = over.RateLimit
	}
	if over.RatePeriod != 0 {
		out.RatePeriod = over.RatePeriod
	}
	if over.DebounceSeconds != 0 {
		out.DebounceSeconds = over.DebounceSeconds
	}
	if over.HistorySize != 0 {
		out.HistorySize = over.HistorySize
	}
	if over.InterjectThreshold != 0 {
		out.InterjectThreshold = over.InterjectThreshold
	}
	if len(over.Models.Validation) > 0 {
		out.Models.Validation = over.Models.Validation
	}
	if over.Models.Serious != "" {
		out.Models.Serious = over.Models.Serious
	}
	if over.Prompts.Interject != "" {
		out.Prompts.Interject = over.Prompts.Interject
	}
	if over.Prompts.SeriousExtra != "" {
		out.Prompts.SeriousExtra = over.Prompts.SeriousExtra
	}
	return out
}

func concatStrings(base, over []string) []string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make([]string, 0, len(base)+len(over))
	out = append(out, base...)
	out = append(out, over...)
	return out
}

func mergeStringMap(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// mergePromptVars merges per-key: when both sides define the same key as a
// string, the values concatenate (common first); otherwise room overrides.
func mergePromptVars(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		if existing, ok := out[k]; ok {
			out[k] = existing + v
			continue
		}
		out[k] = v
	}
	return out
}
