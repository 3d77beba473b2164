package roomconfig

import "testing"

func TestGetRoomConfig_ScalarFieldsOverrideWins(t *testing.T) {
	root := &Root{Rooms: map[string]RoomConfig{
		"common": {Command: CommandConfig{HistorySize: 10, DefaultMode: "classifier"}},
		"chat":   {Command: CommandConfig{HistorySize: 40}},
	}}

	merged, err := GetRoomConfig(root, "chat")
	if err != nil {
		t.Fatalf("GetRoomConfig: %v", err)
	}
	if merged.Command.HistorySize != 40 {
		t.Errorf("expected room override (40) to win, got %d", merged.Command.HistorySize)
	}
	if merged.Command.DefaultMode != "classifier" {
		t.Errorf("expected default_mode inherited from common, got %q", merged.Command.DefaultMode)
	}
}

func TestGetRoomConfig_IgnoreUsersConcatenatesCommonFirst(t *testing.T) {
	root := &Root{Rooms: map[string]RoomConfig{
		"common": {Command: CommandConfig{IgnoreUsers: []string{"bot1", "bot2"}}},
		"chat":   {Command: CommandConfig{IgnoreUsers: []string{"bot3"}}},
	}}

	merged, err := GetRoomConfig(root, "chat")
	if err != nil {
		t.Fatalf("GetRoomConfig: %v", err)
	}
	want := []string{"bot1", "bot2", "bot3"}
	if len(merged.Command.IgnoreUsers) != len(want) {
		t.Fatalf("expected %v, got %v", want, merged.Command.IgnoreUsers)
	}
	for i, v := range want {
		if merged.Command.IgnoreUsers[i] != v {
			t.Errorf("expected %v, got %v", want, merged.Command.IgnoreUsers)
			break
		}
	}
}

func TestGetRoomConfig_PromptVarsConcatenateOnSharedKey(t *testing.T) {
	root := &Root{Rooms: map[string]RoomConfig{
		"common": {PromptVars: map[string]string{"tone": "friendly, "}},
		"chat":   {PromptVars: map[string]string{"tone": "concise", "extra": "only here"}},
	}}

	merged, err := GetRoomConfig(root, "chat")
	if err != nil {
		t.Fatalf("GetRoomConfig: %v", err)
	}
	if merged.PromptVars["tone"] != "friendly, concise" {
		t.Errorf("expected concatenated prompt var, got %q", merged.PromptVars["tone"])
	}
	if merged.PromptVars["extra"] != "only here" {
		t.Errorf("expected room-only key to survive, got %q", merged.PromptVars["extra"])
	}
}

func TestGetRoomConfig_ModesOverridePerField(t *testing.T) {
	steering := true
	root := &Root{Rooms: map[string]RoomConfig{
		"common": {Command: CommandConfig{Modes: map[string]ModeConfig{
			"chat": {Prompt: "common prompt", Model: ModelField{"gpt-5"}},
		}}},
		"chat": {Command: CommandConfig{Modes: map[string]ModeConfig{
			"chat": {Model: ModelField{"gpt-5-mini"}, Steering: &steering},
		}}},
	}}

	merged, err := GetRoomConfig(root, "chat")
	if err != nil {
		t.Fatalf("GetRoomConfig: %v", err)
	}
	mode := merged.Command.Modes["chat"]
	if mode.Prompt != "common prompt" {
		t.Errorf("expected prompt inherited from common, got %q", mode.Prompt)
	}
	if mode.Model.Primary() != "gpt-5-mini" {
		t.Errorf("expected room's model override, got %q", mode.Model.Primary())
	}
	if mode.Steering == nil || !*mode.Steering {
		t.Errorf("expected room's steering override to apply, got %+v", mode.Steering)
	}
}

func TestGetRoomConfig_MissingRoomFallsBackToCommon(t *testing.T) {
	root := &Root{Rooms: map[string]RoomConfig{
		"common": {Command: CommandConfig{HistorySize: 15}},
	}}

	merged, err := GetRoomConfig(root, "nonexistent")
	if err != nil {
		t.Fatalf("GetRoomConfig: %v", err)
	}
	if merged.Command.HistorySize != 15 {
		t.Errorf("expected common defaults for an undeclared room, got %d", merged.Command.HistorySize)
	}
}

func TestGetRoomConfig_AppliesHardDefaults(t *testing.T) {
	root := &Root{Rooms: map[string]RoomConfig{
		"common": {},
		"chat":   {},
	}}

	merged, err := GetRoomConfig(root, "chat")
	if err != nil {
		t.Fatalf("GetRoomConfig: %v", err)
	}
	if merged.Command.ResponseMaxBytes != defaultResponseMaxBytes {
		t.Errorf("expected default response_max_bytes, got %d", merged.Command.ResponseMaxBytes)
	}
	if merged.Command.DefaultMode != "classifier" {
		t.Errorf("expected default_mode to default to classifier, got %q", merged.Command.DefaultMode)
	}
}
