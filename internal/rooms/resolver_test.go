package rooms

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/roomsteer/internal/roomconfig"
)

func testCommandConfig() roomconfig.CommandConfig {
	steering := true
	return roomconfig.CommandConfig{
		HistorySize: 20,
		DefaultMode: "classifier",
		ChannelModes: map[string]string{
			"demo#forced": "!ask",
			"demo#serio":  "serious",
		},
		ModeClassifier: roomconfig.ClassifierConfig{
			Model:         "gpt-5",
			FallbackLabel: "chat",
			Labels: map[string]string{
				"chat":    "!chat",
				"serious": "!ask",
			},
		},
		Modes: map[string]roomconfig.ModeConfig{
			"chat": {
				Triggers: roomconfig.OrderedTriggers{
					{Trigger: "!chat", Overrides: roomconfig.TriggerOverrides{}},
				},
			},
			"serious": {
				Triggers: roomconfig.OrderedTriggers{
					{Trigger: "!ask", Overrides: roomconfig.TriggerOverrides{Steering: &steering}},
				},
			},
		},
	}
}

func newTestResolver(t *testing.T, classify ModeClassifier) *CommandResolver {
	t.Helper()
	r, err := NewCommandResolver(testCommandConfig(), classify, "!h", []string{"!c"}, func(s string) string { return s })
	if err != nil {
		t.Fatalf("NewCommandResolver: %v", err)
	}
	return r
}

func TestNewCommandResolver_RejectsUnknownFallbackLabel(t *testing.T) {
	cfg := testCommandConfig()
	cfg.ModeClassifier.FallbackLabel = "nonexistent"
	if _, err := NewCommandResolver(cfg, nil, "!h", nil, nil); err == nil {
		t.Fatal("expected an error for an undefined fallback label")
	}
}

func TestNewCommandResolver_RejectsDuplicateTrigger(t *testing.T) {
	cfg := testCommandConfig()
	modes := cfg.Modes
	m := modes["chat"]
	m.Triggers = append(m.Triggers, roomconfig.TriggerEntry{Trigger: "!ask"})
	modes["chat"] = m
	if _, err := NewCommandResolver(cfg, nil, "!h", nil, nil); err == nil {
		t.Fatal("expected an error for a trigger reused across modes")
	}
}

func TestParsePrefix_FlagThenModeThenModelOverride(t *testing.T) {
	r := newTestResolver(t, nil)
	parsed := r.ParsePrefix("!c !ask @gpt-5-mini what is the weather")
	if !parsed.NoContext {
		t.Error("expected !c to set NoContext")
	}
	if parsed.ModeToken != "!ask" {
		t.Errorf("expected mode token !ask, got %q", parsed.ModeToken)
	}
	if parsed.ModelOverride != "gpt-5-mini" {
		t.Errorf("expected model override gpt-5-mini, got %q", parsed.ModelOverride)
	}
	if parsed.QueryText != "what is the weather" {
		t.Errorf("expected remaining query text, got %q", parsed.QueryText)
	}
}

func TestParsePrefix_TwoModeTokensIsError(t *testing.T) {
	r := newTestResolver(t, nil)
	parsed := r.ParsePrefix("!ask !chat hello")
	if parsed.Error == "" {
		t.Fatal("expected an error for two mode tokens")
	}
}

func TestParsePrefix_UnknownBangTokenIsError(t *testing.T) {
	r := newTestResolver(t, nil)
	parsed := r.ParsePrefix("!bogus hello")
	if parsed.Error == "" {
		t.Fatal("expected an error for an unrecognized ! token")
	}
}

func TestParsePrefix_NoTokensPassesTextThrough(t *testing.T) {
	r := newTestResolver(t, nil)
	parsed := r.ParsePrefix("  just a plain message  ")
	if parsed.Error != "" || parsed.ModeToken != "" || parsed.ModelOverride != "" {
		t.Fatalf("expected no tokens consumed, got %+v", parsed)
	}
	if parsed.QueryText != "just a plain message" {
		t.Errorf("expected trimmed message passthrough, got %q", parsed.QueryText)
	}
}

func TestResolve_ExplicitTriggerBypassesClassifier(t *testing.T) {
	called := false
	classify := func(ctx context.Context, c []ContextMessage) (string, error) {
		called = true
		return "chat", nil
	}
	r := newTestResolver(t, classify)
	msg := RoomMessage{ServerTag: "demo", ChannelName: "general", Content: "!ask hello"}

	resolved, err := r.Resolve(context.Background(), msg, nil, 20)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if called {
		t.Error("classifier must not be consulted when an explicit trigger is given")
	}
	if resolved.SelectedTrigger != "!ask" || resolved.ModeKey != "serious" {
		t.Errorf("expected explicit !ask/serious, got %+v", resolved)
	}
	if resolved.SelectedAutomatically {
		t.Error("explicit trigger selection must not be marked automatic")
	}
}

func TestResolve_ClassifierChannelConsultsClassifier(t *testing.T) {
	classify := func(ctx context.Context, c []ContextMessage) (string, error) {
		return "serious", nil
	}
	r := newTestResolver(t, classify)
	msg := RoomMessage{ServerTag: "demo", ChannelName: "general", Content: "how do I file taxes"}

	resolved, err := r.Resolve(context.Background(), msg, nil, 20)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.SelectedTrigger != "!ask" {
		t.Errorf("expected classifier label 'serious' to map to !ask, got %+v", resolved)
	}
	if !resolved.SelectedAutomatically {
		t.Error("classifier-driven selection must be marked automatic")
	}
}

func TestResolve_ForcedTriggerChannelSkipsClassifier(t *testing.T) {
	called := false
	classify := func(ctx context.Context, c []ContextMessage) (string, error) {
		called = true
		return "chat", nil
	}
	r := newTestResolver(t, classify)
	msg := RoomMessage{ServerTag: "demo", ChannelName: "forced", Content: "anything"}

	resolved, err := r.Resolve(context.Background(), msg, nil, 20)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if called {
		t.Error("a channel forced to a trigger must not consult the classifier")
	}
	if resolved.SelectedTrigger != "!ask" {
		t.Errorf("expected forced trigger !ask, got %+v", resolved)
	}
}

func TestResolve_UnknownChannelPolicyIsError(t *testing.T) {
	r := newTestResolver(t, func(ctx context.Context, c []ContextMessage) (string, error) {
		return "chat", nil
	})
	msg := RoomMessage{ServerTag: "demo", ChannelName: "weird", Content: "hi"}

	cfg := testCommandConfig()
	cfg.ChannelModes["demo#weird"] = "not-a-real-policy"
	r2, err := NewCommandResolver(cfg, r.classifyMode, "!h", []string{"!c"}, nil)
	if err != nil {
		t.Fatalf("NewCommandResolver: %v", err)
	}

	resolved, err := r2.Resolve(context.Background(), msg, nil, 20)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Error == "" {
		t.Fatal("expected an error result for an unknown channel policy")
	}
}

func TestResolve_HelpTokenShortCircuits(t *testing.T) {
	r := newTestResolver(t, nil)
	msg := RoomMessage{ServerTag: "demo", ChannelName: "general", Content: "!h"}

	resolved, err := r.Resolve(context.Background(), msg, nil, 20)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.HelpRequested {
		t.Error("expected HelpRequested for the configured help token")
	}
}

func TestResolve_ClassifierErrorPropagates(t *testing.T) {
	wantErr := errors.New("classifier unavailable")
	r := newTestResolver(t, func(ctx context.Context, c []ContextMessage) (string, error) {
		return "", wantErr
	})
	msg := RoomMessage{ServerTag: "demo", ChannelName: "general", Content: "hi"}

	_, err := r.Resolve(context.Background(), msg, nil, 20)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected classifier error to propagate, got %v", err)
	}
}

func TestRuntimeForTrigger_OverrideWinsOverModeDefault(t *testing.T) {
	r := newTestResolver(t, nil)
	modeKey, rt, err := r.RuntimeForTrigger("!ask")
	if err != nil {
		t.Fatalf("RuntimeForTrigger: %v", err)
	}
	if modeKey != "serious" {
		t.Errorf("expected mode 'serious', got %q", modeKey)
	}
	if !rt.Steering {
		t.Error("expected per-trigger Steering override (true) to apply")
	}
}

func TestShouldBypassSteeringQueue_ParseErrorBypasses(t *testing.T) {
	r := newTestResolver(t, nil)
	msg := RoomMessage{ServerTag: "demo", ChannelName: "general", Content: "!bogus hi"}
	if !r.ShouldBypassSteeringQueue(msg) {
		t.Error("expected a parse error to bypass the steering queue")
	}
}

func TestShouldBypassSteeringQueue_NoContextFlagBypasses(t *testing.T) {
	r := newTestResolver(t, nil)
	msg := RoomMessage{ServerTag: "demo", ChannelName: "general", Content: "!c hi"}
	if !r.ShouldBypassSteeringQueue(msg) {
		t.Error("expected !c to bypass the steering queue")
	}
}

func TestNormalizeServerTagAndChannelKey(t *testing.T) {
	if got := NormalizeServerTag("discord:myserver"); got != "myserver" {
		t.Errorf("expected discord: prefix stripped, got %q", got)
	}
	if got := NormalizeServerTag("slack:myserver"); got != "myserver" {
		t.Errorf("expected slack: prefix stripped, got %q", got)
	}
	if got := NormalizeServerTag("irc.example.org"); got != "irc.example.org" {
		t.Errorf("expected untagged server unchanged, got %q", got)
	}
	if got := ChannelKey("discord:myserver", "general"); got != "myserver#general" {
		t.Errorf("expected normalized channel key, got %q", got)
	}
}
