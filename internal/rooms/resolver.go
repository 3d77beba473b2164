package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/roomsteer/internal/roomconfig"
)

// Runtime is the effective per-trigger settings a resolved command runs
// under, composed from mode-level config and any per-trigger override.
type Runtime struct {
	ReasoningEffort string
	AllowedTools    []string
	Steering        bool
	Model           string
	HistorySize     int
}

// ParsedPrefix is the result of scanning a message's leading modifier tokens.
type ParsedPrefix struct {
	NoContext     bool
	ModeToken     string
	ModelOverride string
	QueryText     string
	Error         string
}

// ResolvedCommand is the result of resolving command text and channel
// policy into a runnable mode/runtime, or a parse/policy error.
type ResolvedCommand struct {
	NoContext             bool
	QueryText             string
	ModelOverride         string
	SelectedLabel         string
	SelectedTrigger       string
	ModeKey               string
	Runtime               *Runtime
	Error                 string
	HelpRequested         bool
	ChannelMode           string
	SelectedAutomatically bool
}

// ModeClassifier classifies a message's conversational context into a
// classifier label. Resolve returns any error the classifier returns; the
// Handler's own classifier recovers internally and returns the fallback
// label instead (mirroring the Python classify_mode), so through the Handler
// no classification error reaches Resolve.
type ModeClassifier func(ctx context.Context, context []ContextMessage) (string, error)

// ModelNameFormatter reduces a model spec to the short form used in
// announcements and prompt substitution (e.g. modelspec.CoreName).
type ModelNameFormatter func(model string) string

// CommandResolver owns command-prefix parsing and channel-policy resolution
// derived once, at construction time, from a room's command config.
type CommandResolver struct {
	config roomconfig.CommandConfig

	classifyMode       ModeClassifier
	helpToken          string
	flagTokens         map[string]bool
	modelNameFormatter ModelNameFormatter

	triggerToMode            map[string]string
	triggerOverrides         map[string]roomconfig.TriggerOverrides
	defaultTriggerByMode     map[string]string
	classifierLabelToTrigger map[string]string
	fallbackClassifierLabel  string
}

// NewCommandResolver validates command config and builds the resolver's
// derived lookup tables. It never panics on bad config — every validation
// failure is a returned error so callers can log-and-exit at startup.
func NewCommandResolver(
	config roomconfig.CommandConfig,
	classifyMode ModeClassifier,
	helpToken string,
	flagTokens []string,
	modelNameFormatter ModelNameFormatter,
) (*CommandResolver, error) {
	r := &CommandResolver{
		config:                   config,
		classifyMode:             classifyMode,
		helpToken:                helpToken,
		flagTokens:               make(map[string]bool, len(flagTokens)),
		modelNameFormatter:       modelNameFormatter,
		triggerToMode:            make(map[string]string),
		triggerOverrides:         make(map[string]roomconfig.TriggerOverrides),
		defaultTriggerByMode:     make(map[string]string),
		classifierLabelToTrigger: map[string]string{},
	}
	for _, tok := range flagTokens {
		r.flagTokens[tok] = true
	}

	for modeKey, modeCfg := range config.Modes {
		if len(modeCfg.Triggers) == 0 {
			return nil, fmt.Errorf("rooms: mode %q must define at least one trigger", modeKey)
		}
		r.defaultTriggerByMode[modeKey] = modeCfg.Triggers[0].Trigger
		for _, entry := range modeCfg.Triggers {
			trigger := entry.Trigger
			if _, dup := r.triggerToMode[trigger]; dup {
				return nil, fmt.Errorf("rooms: duplicate trigger %q in command mode config", trigger)
			}
			if !strings.HasPrefix(trigger, "!") {
				return nil, fmt.Errorf("rooms: invalid trigger %q for mode %q", trigger, modeKey)
			}
			r.triggerToMode[trigger] = modeKey
			r.triggerOverrides[trigger] = entry.Overrides
		}
	}

	if len(config.ModeClassifier.Labels) == 0 {
		return nil, fmt.Errorf("rooms: command.mode_classifier.labels must not be empty")
	}
	for label, trigger := range config.ModeClassifier.Labels {
		if _, ok := r.triggerToMode[trigger]; !ok {
			return nil, fmt.Errorf("rooms: classifier label %q points to unknown trigger %q", label, trigger)
		}
	}
	r.classifierLabelToTrigger = config.ModeClassifier.Labels

	r.fallbackClassifierLabel = config.ModeClassifier.FallbackLabel
	if r.fallbackClassifierLabel == "" {
		for label := range r.classifierLabelToTrigger {
			r.fallbackClassifierLabel = label
			break
		}
	}
	if _, ok := r.classifierLabelToTrigger[r.fallbackClassifierLabel]; !ok {
		return nil, fmt.Errorf("rooms: classifier fallback label %q is not defined", r.fallbackClassifierLabel)
	}

	return r, nil
}

// ParsePrefix scans the leading modifier tokens of a message: `!c`-style
// flags, at most one mode/help token, and `@model` overrides, left to right.
func (r *CommandResolver) ParsePrefix(message string) ParsedPrefix {
	text := strings.TrimSpace(message)
	if text == "" {
		return ParsedPrefix{QueryText: ""}
	}

	tokens := strings.Fields(text)
	var (
		noContext     bool
		modeToken     string
		modelOverride string
		parseErr      string
		consumed      int
	)

tokenLoop:
	for i, tok := range tokens {
		switch {
		case r.flagTokens[tok]:
			noContext = true
			consumed = i + 1

		case r.triggerToMode[tok] != "" || tok == r.helpToken:
			if modeToken != "" {
				parseErr = "Only one mode command allowed."
				break tokenLoop
			}
			modeToken = tok
			consumed = i + 1

		case strings.HasPrefix(tok, "@") && len(tok) > 1:
			if modelOverride == "" {
				modelOverride = tok[1:]
			}
			consumed = i + 1

		case strings.HasPrefix(tok, "!"):
			parseErr = fmt.Sprintf("Unknown command '%s'. Use %s for help.", tok, r.helpToken)
			break tokenLoop

		default:
			break tokenLoop
		}
	}

	queryText := text
	if consumed > 0 {
		queryText = strings.Join(tokens[consumed:], " ")
	}

	return ParsedPrefix{
		NoContext:     noContext,
		ModeToken:     modeToken,
		ModelOverride: modelOverride,
		QueryText:     queryText,
		Error:         parseErr,
	}
}

// RuntimeForTrigger composes a trigger's effective runtime from its mode
// config and per-trigger overrides, falling back to hard defaults.
func (r *CommandResolver) RuntimeForTrigger(trigger string) (modeKey string, rt Runtime, err error) {
	modeKey, ok := r.triggerToMode[trigger]
	if !ok {
		return "", Runtime{}, fmt.Errorf("rooms: unknown trigger %q", trigger)
	}

	modeCfg := r.config.Modes[modeKey]
	overrides := r.triggerOverrides[trigger]

	reasoningEffort := overrides.ReasoningEffort
	if reasoningEffort == "" {
		reasoningEffort = modeCfg.ReasoningEffort
	}
	if reasoningEffort == "" {
		reasoningEffort = "minimal"
	}

	allowedTools := overrides.AllowedTools
	if allowedTools == nil {
		allowedTools = modeCfg.AllowedTools
	}

	steering := true
	if overrides.Steering != nil {
		steering = *overrides.Steering
	} else if modeCfg.Steering != nil {
		steering = *modeCfg.Steering
	}

	historySize := r.config.HistorySize
	if modeCfg.HistorySize != nil {
		historySize = *modeCfg.HistorySize
	}

	model := overrides.Model
	if model == "" {
		model = modeCfg.Model.Primary()
	}

	return modeKey, Runtime{
		ReasoningEffort: reasoningEffort,
		AllowedTools:    allowedTools,
		Steering:        steering,
		Model:           model,
		HistorySize:     historySize,
	}, nil
}

// TriggerForLabel maps a classifier label to its configured trigger,
// logging and falling back when the label is unrecognized.
func (r *CommandResolver) TriggerForLabel(label string) string {
	trigger, ok := r.classifierLabelToTrigger[label]
	if !ok {
		slog.Warn("unknown classifier label, using fallback", "label", label, "fallback", r.fallbackClassifierLabel)
		return r.classifierLabelToTrigger[r.fallbackClassifierLabel]
	}
	return trigger
}

// NormalizeServerTag strips a "discord:"/"slack:" transport prefix, leaving
// the bare server identity channel keys are built from.
func NormalizeServerTag(serverTag string) string {
	if rest, ok := strings.CutPrefix(serverTag, "discord:"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(serverTag, "slack:"); ok {
		return rest
	}
	return serverTag
}

// ChannelKey builds the "<server>#<channel>" key config references channels
// by.
func ChannelKey(serverTag, channelName string) string {
	return NormalizeServerTag(serverTag) + "#" + channelName
}

func (r *CommandResolver) getChannelMode(serverTag, channelName string) string {
	key := ChannelKey(serverTag, channelName)
	if mode, ok := r.config.ChannelModes[key]; ok {
		return mode
	}
	if r.config.DefaultMode != "" {
		return r.config.DefaultMode
	}
	return "classifier"
}

// ShouldBypassSteeringQueue reports whether msg's command should skip
// steering-queue serialization entirely (parse errors, `!c`, `!h`, or any
// trigger/channel-policy whose resolved runtime has steering disabled).
func (r *CommandResolver) ShouldBypassSteeringQueue(msg RoomMessage) bool {
	parsed := r.ParsePrefix(msg.Content)
	if parsed.Error != "" || parsed.NoContext {
		return true
	}
	if parsed.ModeToken == r.helpToken {
		return true
	}
	if parsed.ModeToken != "" {
		_, rt, err := r.RuntimeForTrigger(parsed.ModeToken)
		if err != nil {
			return true
		}
		return !rt.Steering
	}

	trigger := r.getChannelMode(msg.ServerTag, msg.ChannelName)
	if _, isTrigger := r.triggerToMode[trigger]; !isTrigger {
		if _, isMode := r.config.Modes[trigger]; isMode {
			trigger = r.defaultTriggerByMode[trigger]
		}
	}
	if _, ok := r.triggerToMode[trigger]; ok {
		_, rt, err := r.RuntimeForTrigger(trigger)
		if err != nil {
			return false
		}
		return !rt.Steering
	}
	return false
}

// BuildHelpMessage renders the command help text for a channel's current
// policy.
func (r *CommandResolver) BuildHelpMessage(serverTag, channelName string) string {
	channelMode := r.getChannelMode(serverTag, channelName)

	var defaultDesc string
	switch {
	case channelMode == "classifier":
		defaultDesc = fmt.Sprintf("automatic mode (%s decides)", r.config.ModeClassifier.Model)
	case strings.HasPrefix(channelMode, "classifier:"):
		defaultDesc = fmt.Sprintf("automatic mode constrained to %s", strings.TrimPrefix(channelMode, "classifier:"))
	default:
		if modeKey, ok := r.triggerToMode[channelMode]; ok {
			defaultDesc = fmt.Sprintf("forced trigger %s (%s)", channelMode, modeKey)
		} else {
			defaultDesc = channelMode + " mode"
		}
	}

	var modeParts []string
	for modeKey, modeCfg := range r.config.Modes {
		if len(modeCfg.Triggers) == 0 {
			continue
		}
		triggers := make([]string, len(modeCfg.Triggers))
		for i, entry := range modeCfg.Triggers {
			triggers[i] = entry.Trigger
		}
		modelDesc := ""
		if primary := modeCfg.Model.Primary(); primary != "" && r.modelNameFormatter != nil {
			modelDesc = r.modelNameFormatter(primary)
		}
		modeParts = append(modeParts, fmt.Sprintf("%s = %s (%s)", strings.Join(triggers, "/"), modeKey, modelDesc))
	}

	return fmt.Sprintf(
		"default is %s; modes: %s; use @modelid to override model; !c disables context",
		defaultDesc, strings.Join(modeParts, ", "),
	)
}

// Resolve resolves a message's command text and channel policy into a
// runnable mode/runtime, consulting the classifier only when no explicit
// trigger was given and the channel's policy calls for one.
func (r *CommandResolver) Resolve(ctx context.Context, msg RoomMessage, context_ []ContextMessage, defaultSize int) (ResolvedCommand, error) {
	parsed := r.ParsePrefix(msg.Content)
	if parsed.Error != "" {
		return ResolvedCommand{
			NoContext:     parsed.NoContext,
			QueryText:     parsed.QueryText,
			ModelOverride: parsed.ModelOverride,
			Error:         parsed.Error,
		}, nil
	}

	if parsed.ModeToken == r.helpToken {
		return ResolvedCommand{
			NoContext:     parsed.NoContext,
			QueryText:     parsed.QueryText,
			ModelOverride: parsed.ModelOverride,
			HelpRequested: true,
		}, nil
	}

	noContext := parsed.NoContext
	modelOverride := parsed.ModelOverride
	queryText := parsed.QueryText

	if parsed.ModeToken != "" {
		selectedTrigger := parsed.ModeToken
		modeKey, rt, err := r.RuntimeForTrigger(selectedTrigger)
		if err != nil {
			return ResolvedCommand{}, err
		}
		return ResolvedCommand{
			NoContext:       noContext,
			QueryText:       queryText,
			ModelOverride:   modelOverride,
			SelectedLabel:   selectedTrigger,
			SelectedTrigger: selectedTrigger,
			ModeKey:         modeKey,
			Runtime:         &rt,
		}, nil
	}

	channelMode := r.getChannelMode(msg.ServerTag, msg.ChannelName)

	var selectedLabel, selectedTrigger string
	switch {
	case channelMode == "classifier":
		label, err := r.classifyMode(ctx, context_)
		if err != nil {
			return ResolvedCommand{}, err
		}
		selectedLabel = label
		selectedTrigger = r.TriggerForLabel(label)

	case strings.HasPrefix(channelMode, "classifier:"):
		constrainedMode := strings.TrimPrefix(channelMode, "classifier:")
		if _, ok := r.config.Modes[constrainedMode]; !ok {
			return ResolvedCommand{
				NoContext:             noContext,
				QueryText:             queryText,
				ModelOverride:         modelOverride,
				Error:                 fmt.Sprintf("Unknown channel mode policy '%s': mode '%s' missing", channelMode, constrainedMode),
				ChannelMode:           channelMode,
				SelectedAutomatically: true,
			}, nil
		}
		constrainedContext := context_
		if len(constrainedContext) > defaultSize {
			constrainedContext = constrainedContext[len(constrainedContext)-defaultSize:]
		}
		label, err := r.classifyMode(ctx, constrainedContext)
		if err != nil {
			return ResolvedCommand{}, err
		}
		selectedLabel = label
		selectedTrigger = r.TriggerForLabel(label)
		selectedModeKey, _, err := r.RuntimeForTrigger(selectedTrigger)
		if err != nil {
			return ResolvedCommand{}, err
		}
		if selectedModeKey != constrainedMode {
			selectedTrigger = r.defaultTriggerByMode[constrainedMode]
			selectedLabel = selectedTrigger
		}

	case r.triggerToMode[channelMode] != "":
		selectedTrigger = channelMode
		selectedLabel = selectedTrigger

	default:
		if _, ok := r.config.Modes[channelMode]; ok {
			selectedTrigger = r.defaultTriggerByMode[channelMode]
			selectedLabel = selectedTrigger
		} else {
			return ResolvedCommand{
				NoContext:             noContext,
				QueryText:             queryText,
				ModelOverride:         modelOverride,
				Error:                 fmt.Sprintf("Unknown channel mode policy '%s'", channelMode),
				ChannelMode:           channelMode,
				SelectedAutomatically: true,
			}, nil
		}
	}

	modeKey, rt, err := r.RuntimeForTrigger(selectedTrigger)
	if err != nil {
		return ResolvedCommand{}, err
	}
	return ResolvedCommand{
		NoContext:             noContext,
		QueryText:             queryText,
		ModelOverride:         modelOverride,
		SelectedLabel:         selectedLabel,
		SelectedTrigger:       selectedTrigger,
		ModeKey:               modeKey,
		Runtime:               &rt,
		ChannelMode:           channelMode,
		SelectedAutomatically: true,
	}, nil
}
