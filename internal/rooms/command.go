package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/roomsteer/internal/actorrt"
	"github.com/nextlevelbuilder/roomsteer/internal/artifact"
	"github.com/nextlevelbuilder/roomsteer/internal/autochronicler"
	"github.com/nextlevelbuilder/roomsteer/internal/history"
	"github.com/nextlevelbuilder/roomsteer/internal/modelspec"
	"github.com/nextlevelbuilder/roomsteer/internal/ratelimit"
	"github.com/nextlevelbuilder/roomsteer/internal/roomconfig"
)

const (
	helpToken = "!h"
)

var flagTokens = []string{"!c"}

// ReplySender delivers a response back to the channel a message came from.
type ReplySender = func(text string) error

// ResponseCleaner is an optional post-processing hook applied to actor
// output before it is sent, e.g. stripping channel-unsafe formatting.
type ResponseCleaner func(text, nick string) string

// Deps are RoomCommandHandler's external collaborators — every one
// injected at construction time, no package-level state.
type Deps struct {
	History         history.Store
	Actor           actorrt.ActorRuntime
	RawCaller       actorrt.RawModelCaller
	Chronicler      autochronicler.Chronicler
	Artifacts       artifact.Executor
	ResponseCleaner ResponseCleaner
}

// Handler is the orchestrator wiring CommandResolver, SteeringQueue and
// ProactiveDebouncer together: the full command + proactive pipeline for
// one room.
type Handler struct {
	roomName   string
	roomConfig roomconfig.RoomConfig
	deps       Deps

	resolver             *CommandResolver
	rateLimiter          *ratelimit.Limiter
	proactiveRateLimiter *ratelimit.Limiter
	proactiveDebouncer   *ProactiveDebouncer
	steeringQueue        *SteeringQueue
}

// NewHandler constructs a room's handler, validating its command config via
// CommandResolver construction.
func NewHandler(roomName string, roomConfig roomconfig.RoomConfig, deps Deps) (*Handler, error) {
	h := &Handler{
		roomName:      roomName,
		roomConfig:    roomConfig,
		deps:          deps,
		steeringQueue: NewSteeringQueue(),
	}

	resolver, err := NewCommandResolver(
		roomConfig.Command,
		h.classifyMode,
		helpToken,
		flagTokens,
		modelspec.CoreName,
	)
	if err != nil {
		return nil, fmt.Errorf("rooms: room %q: %w", roomName, err)
	}
	h.resolver = resolver

	h.rateLimiter = ratelimit.New(roomConfig.Command.RateLimit, time.Duration(roomConfig.Command.RatePeriod)*time.Second)
	h.proactiveRateLimiter = ratelimit.New(roomConfig.Proactive.RateLimit, time.Duration(roomConfig.Proactive.RatePeriod)*time.Second)
	h.proactiveDebouncer = NewProactiveDebouncer(time.Duration(roomConfig.Proactive.DebounceSeconds) * time.Second)

	return h, nil
}

func (h *Handler) responseMaxBytes() int {
	if h.roomConfig.Command.ResponseMaxBytes > 0 {
		return h.roomConfig.Command.ResponseMaxBytes
	}
	return 600
}

func (h *Handler) cleanResponseText(text, nick string) string {
	cleaned := strings.TrimSpace(text)
	if h.deps.ResponseCleaner != nil {
		cleaned = h.deps.ResponseCleaner(cleaned, nick)
	}
	return strings.TrimSpace(cleaned)
}

// ShouldIgnoreUser reports whether nick is on this room's ignore list.
func (h *Handler) ShouldIgnoreUser(nick string) bool {
	for _, ignored := range h.roomConfig.Command.IgnoreUsers {
		if strings.EqualFold(nick, ignored) {
			return true
		}
	}
	return false
}

var triggerModelPlaceholder = regexp.MustCompile(`\{(![A-Za-z][\w-]*)_model\}`)

// buildSystemPrompt renders a mode's prompt template, substituting
// {mynick}, {current_time}, every prompt_vars entry, and any {<trigger>_model}
// placeholder with that trigger's resolved model core name.
func (h *Handler) buildSystemPrompt(mode, myNick, modelOverride string) (string, error) {
	modeCfg, ok := h.roomConfig.Command.Modes[mode]
	if !ok {
		return "", fmt.Errorf("rooms: command mode %q not found in config", mode)
	}

	triggerModelVars := make(map[string]string)
	var placeholderErr error
	for trigger, modeKey := range h.resolver.triggerToMode {
		trigModeCfg := h.roomConfig.Command.Modes[modeKey]
		override := h.resolver.triggerOverrides[trigger]

		var modelValue string
		if override.Model != "" {
			modelValue = override.Model
		} else if modeKey == mode && modelOverride != "" {
			modelValue = modelOverride
		} else {
			modelValue = trigModeCfg.Model.Primary()
		}
		triggerModelVars[trigger] = modelspec.CoreName(modelValue)
	}

	prompt := triggerModelPlaceholder.ReplaceAllStringFunc(modeCfg.Prompt, func(match string) string {
		trigger := triggerModelPlaceholder.FindStringSubmatch(match)[1]
		val, ok := triggerModelVars[trigger]
		if !ok {
			placeholderErr = fmt.Errorf("rooms: prompt placeholder '{%s_model}' references unknown trigger", trigger)
			return match
		}
		return val
	})
	if placeholderErr != nil {
		return "", placeholderErr
	}

	prompt = strings.ReplaceAll(prompt, "{mynick}", myNick)
	prompt = strings.ReplaceAll(prompt, "{current_time}", time.Now().Format("2006-01-02 15:04"))
	for k, v := range h.roomConfig.PromptVars {
		prompt = strings.ReplaceAll(prompt, "{"+k+"}", v)
	}
	return prompt, nil
}

var angleNickPrefix = regexp.MustCompile(`^<[^>]+>\s*(.*)$`)
var looseNickPrefix = regexp.MustCompile(`^<?\S+>\s*(.*)$`)

func stripAngleNickPrefix(s string) string {
	if m := angleNickPrefix.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func stripLooseNickPrefix(s string) string {
	if m := looseNickPrefix.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// classifyMode recovers any classifier failure into the fallback label —
// Resolve's caller never sees a classification error, mirroring the source
// classify_mode catching every exception.
func (h *Handler) classifyMode(ctx context.Context, contextMsgs []ContextMessage) (string, error) {
	label, err := h.classifyModeInner(ctx, contextMsgs)
	if err != nil {
		slog.Warn("error classifying mode", "error", err)
		return h.resolver.fallbackClassifierLabel, nil
	}
	return label, nil
}

func (h *Handler) classifyModeInner(ctx context.Context, contextMsgs []ContextMessage) (string, error) {
	if len(contextMsgs) == 0 {
		return "", fmt.Errorf("context cannot be empty - must include at least the current message")
	}
	current := stripAngleNickPrefix(contextMsgs[len(contextMsgs)-1].Content)

	classifier := h.roomConfig.Command.ModeClassifier
	prompt := formatMessageTemplate(classifier.Prompt, current)

	response, err := h.deps.RawCaller.CallRaw(ctx, classifier.Model, toActorContext(contextMsgs), prompt)
	if err != nil {
		return "", err
	}

	upper := strings.ToUpper(response)
	bestLabel, bestCount := "", 0
	for label := range h.resolver.classifierLabelToTrigger {
		if count := strings.Count(upper, strings.ToUpper(label)); count > bestCount {
			bestLabel, bestCount = label, count
		}
	}
	if bestCount == 0 {
		slog.Warn("invalid mode classification response", "response", response)
		return h.resolver.fallbackClassifierLabel, nil
	}
	return bestLabel, nil
}

// shouldInterjectProactively runs the validation-model cascade described in
// the proactive design: each model scores the conversation 0-10; any score
// below threshold-1 rejects early, a score in [threshold-1, threshold)
// still interjects but flags test mode (the final model's score decides).
func (h *Handler) shouldInterjectProactively(ctx context.Context, contextMsgs []ContextMessage) (shouldInterject bool, reason string, testMode bool, err error) {
	if len(contextMsgs) == 0 {
		return false, "No context provided", false, nil
	}

	current := stripLooseNickPrefix(contextMsgs[len(contextMsgs)-1].Content)
	prompt := formatMessageTemplate(h.roomConfig.Proactive.Prompts.Interject, current)
	validationModels := h.roomConfig.Proactive.Models.Validation
	threshold := h.roomConfig.Proactive.InterjectThreshold

	var finalScore int
	haveScore := false

	scorePattern := regexp.MustCompile(`(\d+)/10`)

	for i, model := range validationModels {
		response, callErr := h.deps.RawCaller.CallRaw(ctx, model, toActorContext(contextMsgs), prompt)
		if callErr != nil || response == "" || strings.HasPrefix(response, "API error:") {
			return false, fmt.Sprintf("No response from validation model %d", i+1), false, nil
		}
		response = strings.TrimSpace(response)

		m := scorePattern.FindStringSubmatch(response)
		if m == nil {
			slog.Warn("no valid score found in proactive interject response", "step", i+1, "response", response)
			return false, fmt.Sprintf("No score found in validation step %d", i+1), false, nil
		}
		var score int
		fmt.Sscanf(m[1], "%d", &score)
		finalScore = score
		haveScore = true

		if score < threshold-1 {
			return false, fmt.Sprintf("Rejected at validation step %d (Score: %d)", i+1, score), false, nil
		}
	}

	if !haveScore {
		return false, "No valid final score", false, nil
	}
	if finalScore >= threshold {
		return true, fmt.Sprintf("Interjection decision (Final Score: %d)", finalScore), false, nil
	}
	if finalScore >= threshold-1 {
		return true, fmt.Sprintf("Barely triggered - test mode (Final Score: %d)", finalScore), true, nil
	}
	return false, fmt.Sprintf("No interjection (Final Score: %d)", finalScore), false, nil
}

func formatMessageTemplate(template, message string) string {
	return strings.ReplaceAll(template, "{message}", message)
}

// runActor invokes the actor runtime, recovering any error into a
// synthesized "Error: ..." result rather than propagating it, and spills
// oversized responses to an artifact.
func (h *Handler) runActor(ctx context.Context, params actorrt.RunParams) (*actorrt.AgentResult, error) {
	result, err := h.deps.Actor.RunActor(ctx, params)
	if err != nil {
		slog.Error("error during agent execution", "error", err)
		return &actorrt.AgentResult{Text: "Error: " + err.Error()}, nil
	}
	if result == nil {
		return nil, nil
	}

	text := result.Text
	maxBytes := h.responseMaxBytes()
	if text != "" && len(text) > maxBytes {
		slog.Info("response too long, creating artifact", "bytes", len(text), "max", maxBytes)
		spilled, artErr := h.longResponseToArtifact(ctx, text)
		if artErr != nil {
			slog.Error("error creating artifact for long response", "error", artErr)
		} else {
			text = spilled
		}
	}
	if text != "" {
		text = strings.TrimSpace(text)
	}

	out := *result
	out.Text = text
	return &out, nil
}

// longResponseToArtifact spills fullResponse to the artifact executor and
// returns a trimmed lead-in plus the artifact's URL, never splitting a
// multi-byte rune and preferring to end on a sentence or word boundary. The
// lead-in is cut so that lead-in plus URL tail fits response_max_bytes; when
// the tail alone is longer than that, the lead-in is empty.
func (h *Handler) longResponseToArtifact(ctx context.Context, fullResponse string) (string, error) {
	if h.deps.Artifacts == nil {
		return fullResponse, nil
	}
	url, err := h.deps.Artifacts.Execute(ctx, fullResponse)
	if err != nil {
		return "", fmt.Errorf("rooms: share artifact: %w", err)
	}

	tail := fmt.Sprintf("... full response: %s", url)
	maxBytes := h.responseMaxBytes() - len(tail)
	trimmed := fullResponse
	for len(trimmed) > maxBytes && trimmed != "" {
		_, size := utf8.DecodeLastRuneInString(trimmed)
		trimmed = trimmed[:len(trimmed)-size]
	}

	minLen := len(trimmed) - 100
	if minLen < 0 {
		minLen = 0
	}
	if idx := strings.LastIndex(trimmed, "."); idx > minLen {
		trimmed = trimmed[:idx+1]
	} else if idx := strings.LastIndex(trimmed, " "); idx > minLen {
		trimmed = trimmed[:idx]
	}

	return trimmed + tail, nil
}

func toActorContext(msgs []ContextMessage) []actorrt.ContextMessage {
	out := make([]actorrt.ContextMessage, len(msgs))
	for i, m := range msgs {
		out[i] = actorrt.ContextMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func fromHistoryContext(msgs []history.ContextMessage) []ContextMessage {
	out := make([]ContextMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ContextMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func toMessageRef(msg RoomMessage) history.MessageRef {
	return history.MessageRef{
		ServerTag:   msg.ServerTag,
		ChannelName: msg.ChannelName,
		ThreadID:    msg.ThreadID,
		Nick:        msg.Nick,
		Content:     msg.Content,
		Arc:         msg.Arc,
	}
}

func maxModeHistorySize(cfg roomconfig.CommandConfig) int {
	max := cfg.HistorySize
	for _, mode := range cfg.Modes {
		if mode.HistorySize != nil && *mode.HistorySize > max {
			max = *mode.HistorySize
		}
	}
	return max
}

// HandleCommand handles an explicitly-addressed command message, either
// inline (bypassing the steering queue) or through it.
func (h *Handler) HandleCommand(ctx context.Context, msg RoomMessage, triggerMessageID int64, reply ReplySender) error {
	h.proactiveDebouncer.CancelChannel(ChannelKey(msg.ServerTag, msg.ChannelName))

	if h.resolver.ShouldBypassSteeringQueue(msg) {
		return h.handleCommandCore(ctx, msg, triggerMessageID, reply, KeyForMessage(msg))
	}
	return h.runOrQueueCommand(ctx, msg, triggerMessageID, reply)
}

func (h *Handler) handleCommandCore(ctx context.Context, msg RoomMessage, triggerMessageID int64, reply ReplySender, steeringKey SteeringKey) error {
	if !h.rateLimiter.CheckLimit() {
		slog.Warn("rate limiting triggered", "nick", msg.Nick)
		rateMsg := fmt.Sprintf("%s: Slow down a little, will you? (rate limiting)", msg.Nick)
		if err := reply(rateMsg); err != nil {
			return err
		}
		_, err := h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, rateMsg)), history.AddMessageOpts{})
		return err
	}

	slog.Info("received command", "nick", msg.Nick, "server", msg.ServerTag, "channel", msg.ChannelName, "content", msg.Content)

	defaultSize := h.roomConfig.Command.HistorySize
	maxSize := maxModeHistorySize(h.roomConfig.Command)
	historyCtx, err := h.deps.History.GetContextForMessage(ctx, toMessageRef(msg), maxSize)
	if err != nil {
		return fmt.Errorf("rooms: get context: %w", err)
	}
	contextMsgs := fromHistoryContext(historyCtx)

	if debounce := h.roomConfig.Command.Debounce; debounce > 0 {
		originalTimestamp := time.Now()
		select {
		case <-time.After(time.Duration(debounce) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}

		followups, err := h.deps.History.GetRecentMessagesSince(ctx, msg.ServerTag, msg.ChannelName, msg.Nick, originalTimestamp, msg.ThreadID)
		if err != nil {
			return fmt.Errorf("rooms: get recent messages: %w", err)
		}
		if len(followups) > 0 && len(contextMsgs) > 0 {
			var extra strings.Builder
			for _, f := range followups {
				extra.WriteByte('\n')
				extra.WriteString(f.Content)
			}
			last := &contextMsgs[len(contextMsgs)-1]
			last.Content += extra.String()
		}
	}

	resolved, err := h.resolver.Resolve(ctx, msg, contextMsgs, defaultSize)
	if err != nil {
		return fmt.Errorf("rooms: resolve command: %w", err)
	}

	if err := h.routeCommand(ctx, msg, contextMsgs, triggerMessageID, reply, steeringKey, resolved); err != nil {
		return err
	}

	h.proactiveDebouncer.CancelChannel(ChannelKey(msg.ServerTag, msg.ChannelName))
	return h.checkAndChronicle(ctx, msg.MyNick, msg.ServerTag, msg.ChannelName, defaultSize)
}

func (h *Handler) checkAndChronicle(ctx context.Context, myNick, serverTag, channelName string, historySize int) error {
	if h.deps.Chronicler == nil {
		return nil
	}
	return h.deps.Chronicler.CheckAndChronicle(ctx, myNick, serverTag, channelName, historySize)
}

// runOrQueueCommand enqueues a command, becoming the session runner if it
// is the first item for this key. The single loop here processes both
// commands and compacted passive tails: the queue's mutex is held only for
// the brief mutation inside TakeNextWorkCompacted, so new items may arrive
// while a turn is in flight — the loop re-checks after every item.
func (h *Handler) runOrQueueCommand(ctx context.Context, msg RoomMessage, triggerMessageID int64, reply ReplySender) error {
	isRunner, steeringKey, item := h.steeringQueue.EnqueueCommandOrStartRunner(msg, triggerMessageID, reply)
	if !isRunner {
		return item.Wait()
	}

	active := item
	for active != nil {
		var err error
		if active.Kind == KindCommand {
			err = h.handleCommandCore(ctx, active.Msg, active.TriggerMessageID, active.ReplySender, steeringKey)
		} else {
			err = h.handlePassiveMessageCore(ctx, active.Msg, active.ReplySender)
		}
		if err != nil {
			h.steeringQueue.AbortSession(steeringKey, err)
			h.steeringQueue.FailItem(active, err)
			return err
		}
		h.steeringQueue.FinishItem(active)

		var dropped []*QueuedInboundMessage
		dropped, active = h.steeringQueue.TakeNextWorkCompacted(steeringKey)
		for _, d := range dropped {
			h.steeringQueue.FinishItem(d)
		}
	}
	return nil
}

// HandlePassiveMessage handles an unaddressed message: if a session already
// owns this key it queues behind it, otherwise it is handled inline.
func (h *Handler) HandlePassiveMessage(ctx context.Context, msg RoomMessage, reply ReplySender) error {
	item := h.steeringQueue.EnqueuePassiveIfSessionExists(msg, reply)
	if item == nil {
		return h.handlePassiveMessageCore(ctx, msg, reply)
	}
	return item.Wait()
}

func (h *Handler) handlePassiveMessageCore(ctx context.Context, msg RoomMessage, reply ReplySender) error {
	channelKey := ChannelKey(msg.ServerTag, msg.ChannelName)
	if isProactiveChannel(h.roomConfig.Proactive, channelKey) {
		h.proactiveDebouncer.ScheduleCheck(msg, channelKey, reply, h.handleDebouncedProactiveCheck)
	}

	maxSize := h.roomConfig.Command.HistorySize
	return h.checkAndChronicle(ctx, msg.MyNick, msg.ServerTag, msg.ChannelName, maxSize)
}

func isProactiveChannel(cfg roomconfig.ProactiveConfig, channelKey string) bool {
	for _, k := range cfg.Interjecting {
		if k == channelKey {
			return true
		}
	}
	for _, k := range cfg.InterjectingTest {
		if k == channelKey {
			return true
		}
	}
	return false
}

func (h *Handler) handleDebouncedProactiveCheck(msg RoomMessage, reply ReplySender) {
	ctx := context.Background()

	if !h.proactiveRateLimiter.CheckLimit() {
		slog.Debug("proactive rate limit exceeded during debounced check", "nick", msg.Nick)
		return
	}

	historyCtx, err := h.deps.History.GetContextForMessage(ctx, toMessageRef(msg), h.roomConfig.Proactive.HistorySize)
	if err != nil {
		slog.Error("error in debounced proactive check", "channel", msg.ChannelName, "error", err)
		return
	}
	contextMsgs := fromHistoryContext(historyCtx)

	shouldInterject, reason, forcedTestMode, err := h.shouldInterjectProactively(ctx, contextMsgs)
	if err != nil {
		slog.Error("error checking proactive interject", "error", err)
		return
	}
	if !shouldInterject {
		return
	}

	classifiedLabel, _ := h.classifyMode(ctx, contextMsgs)
	classifiedTrigger := h.resolver.TriggerForLabel(classifiedLabel)
	classifiedModeKey, classifiedRuntime, err := h.resolver.RuntimeForTrigger(classifiedTrigger)
	if err != nil {
		slog.Error("error resolving classified trigger", "error", err)
		return
	}
	if classifiedModeKey != "serious" {
		slog.Warn("proactive interjection suggested but not serious mode", "label", classifiedLabel, "trigger", classifiedTrigger, "reason", reason)
		return
	}

	isTestChannel := false
	for _, k := range h.roomConfig.Proactive.InterjectingTest {
		if k == ChannelKey(msg.ServerTag, msg.ChannelName) {
			isTestChannel = true
			break
		}
	}
	sendMessage := true
	if isTestChannel || forcedTestMode {
		sendMessage = false
		slog.Info("test mode proactive interjection", "channel", msg.ChannelName, "reason", reason)
	} else {
		slog.Info("interjecting proactively", "nick", msg.Nick, "channel", msg.ChannelName, "reason", reason)
	}

	systemPrompt, err := h.buildSystemPrompt("serious", msg.MyNick, "")
	if err != nil {
		slog.Error("error building proactive system prompt", "error", err)
		return
	}
	systemPrompt += " " + h.roomConfig.Proactive.Prompts.SeriousExtra

	result, err := h.runActor(ctx, actorrt.RunParams{
		Context:         toActorContext(contextMsgs),
		MyNick:          msg.MyNick,
		Mode:            "serious",
		SystemPrompt:    systemPrompt,
		Model:           h.roomConfig.Proactive.Models.Serious,
		ReasoningEffort: classifiedRuntime.ReasoningEffort,
		Arc:             msg.Arc,
		Secrets:         msg.Secrets,
	})
	if err != nil || result == nil || result.Text == "" || strings.HasPrefix(result.Text, "Error: ") {
		slog.Info("agent decided not to interject proactively", "channel", msg.ChannelName)
		return
	}

	responseText := h.cleanResponseText(result.Text, msg.Nick)
	if sendMessage {
		responseText = fmt.Sprintf("[%s] %s", modelspec.CoreName(h.roomConfig.Proactive.Models.Serious), responseText)
		slog.Info("sending proactive agent response", "label", classifiedLabel, "trigger", classifiedTrigger, "channel", msg.ChannelName)
		if err := reply(responseText); err != nil {
			slog.Error("error sending proactive response", "error", err)
			return
		}
		if _, err := h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, responseText)), history.AddMessageOpts{Mode: classifiedTrigger}); err != nil {
			slog.Error("error persisting proactive response", "error", err)
		}
		if err := h.checkAndChronicle(ctx, msg.MyNick, msg.ServerTag, msg.ChannelName, h.roomConfig.Command.HistorySize); err != nil {
			slog.Error("error chronicling after proactive response", "error", err)
		}
	} else {
		slog.Info("generated proactive response in test mode", "channel", msg.ChannelName, "response", responseText)
	}
}

func withBotNick(msg RoomMessage, content string) RoomMessage {
	out := msg
	out.Nick = msg.MyNick
	out.Content = content
	return out
}

func (h *Handler) routeCommand(ctx context.Context, msg RoomMessage, contextMsgs []ContextMessage, triggerMessageID int64, reply ReplySender, steeringKey SteeringKey, resolved ResolvedCommand) error {
	if resolved.Error != "" {
		slog.Warn("command parse error", "nick", msg.Nick, "error", resolved.Error, "content", msg.Content)
		return reply(fmt.Sprintf("%s: %s", msg.Nick, resolved.Error))
	}

	if resolved.HelpRequested {
		helpMsg := h.resolver.BuildHelpMessage(msg.ServerTag, msg.ChannelName)
		if err := reply(helpMsg); err != nil {
			return err
		}
		_, err := h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, helpMsg)), history.AddMessageOpts{})
		return err
	}

	selectedTrigger := resolved.SelectedTrigger
	selectedLabel := resolved.SelectedLabel
	modeKey := resolved.ModeKey
	runtime := resolved.Runtime
	noContext := resolved.NoContext

	steeringEnabled := runtime.Steering && !noContext

	steeringProvider := func(ctx context.Context) ([]actorrt.ContextMessage, error) {
		if !steeringEnabled {
			return nil, nil
		}
		return toActorContext(h.steeringQueue.DrainSteeringContextMessages(steeringKey)), nil
	}

	progressCb := func(ctx context.Context, text string) error {
		if err := reply(text); err != nil {
			return err
		}
		_, err := h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, text)), history.AddMessageOpts{})
		return err
	}

	persistenceCb := func(ctx context.Context, text string) error {
		_, err := h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, text)), history.AddMessageOpts{ContentTemplate: "[internal monologue] {message}"})
		return err
	}

	model := resolved.ModelOverride
	if model == "" {
		model = runtime.Model
	}

	systemPrompt, err := h.buildSystemPrompt(modeKey, msg.MyNick, resolved.ModelOverride)
	if err != nil {
		return fmt.Errorf("rooms: build system prompt: %w", err)
	}

	turnContext := contextMsgs
	if len(turnContext) > runtime.HistorySize {
		turnContext = turnContext[len(turnContext)-runtime.HistorySize:]
	}

	agentResult, err := h.runActor(ctx, actorrt.RunParams{
		Context:         toActorContext(turnContext),
		MyNick:          msg.MyNick,
		Mode:            modeKey,
		SystemPrompt:    systemPrompt,
		Model:           model,
		ReasoningEffort: runtime.ReasoningEffort,
		AllowedTools:    runtime.AllowedTools,
		Arc:             msg.Arc,
		Secrets:         msg.Secrets,
		NoContext:       noContext,
		SteeringMessages: steeringProvider,
		Progress:         progressCb,
		Persistence:      persistenceCb,
	})
	if err != nil {
		return fmt.Errorf("rooms: run actor: %w", err)
	}
	if agentResult == nil || agentResult.Text == "" {
		slog.Info("agent chose not to answer", "label", selectedLabel, "trigger", selectedTrigger, "channel", msg.ChannelName)
		return nil
	}

	responseText := h.cleanResponseText(agentResult.Text, msg.Nick)

	var llmCallID *int64
	if agentResult.PrimaryModel != "" {
		if spec, specErr := modelspec.Parse(agentResult.PrimaryModel); specErr == nil {
			id, logErr := h.deps.History.LogLLMCall(ctx, history.LLMCall{
				Provider:         spec.Provider,
				Model:            spec.Name,
				InputTokens:      agentResult.TotalInputTokens,
				OutputTokens:     agentResult.TotalOutputTokens,
				Cost:             agentResult.TotalCost,
				CallType:         "agent_run",
				Arc:              msg.Arc,
				TriggerMessageID: triggerMessageID,
			})
			if logErr != nil {
				slog.Warn("could not log llm call", "error", logErr)
			} else {
				llmCallID = &id
			}
		} else {
			slog.Warn("could not parse model spec", "model", agentResult.PrimaryModel)
		}
	}

	if err := reply(responseText); err != nil {
		return err
	}
	responseMessageID, err := h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, responseText)), history.AddMessageOpts{Mode: selectedTrigger, LLMCallID: llmCallID})
	if err != nil {
		return fmt.Errorf("rooms: persist response: %w", err)
	}
	if llmCallID != nil {
		if err := h.deps.History.UpdateLLMCallResponse(ctx, *llmCallID, responseMessageID); err != nil {
			slog.Warn("could not update llm call response", "error", err)
		}
	}

	if agentResult.TotalCost != nil && *agentResult.TotalCost > 0.2 {
		inTokens, outTokens := 0, 0
		if agentResult.TotalInputTokens != nil {
			inTokens = *agentResult.TotalInputTokens
		}
		if agentResult.TotalOutputTokens != nil {
			outTokens = *agentResult.TotalOutputTokens
		}
		costMsg := fmt.Sprintf(
			"(this message used %d tool calls, %d in / %d out tokens, and cost $%.4f)",
			agentResult.ToolCallsCount, inTokens, outTokens, *agentResult.TotalCost,
		)
		if err := reply(costMsg); err == nil {
			h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, costMsg)), history.AddMessageOpts{})
		}
	}

	if agentResult.TotalCost != nil {
		costBefore, err := h.deps.History.GetArcCostToday(ctx, msg.Arc)
		if err == nil {
			costBefore -= *agentResult.TotalCost
			dollarsBefore := int(costBefore)
			dollarsAfter := int(costBefore + *agentResult.TotalCost)
			if dollarsAfter > dollarsBefore {
				total := costBefore + *agentResult.TotalCost
				funMsg := fmt.Sprintf("(fun fact: my messages in this channel have already cost $%.4f today)", total)
				if err := reply(funMsg); err == nil {
					h.deps.History.AddMessage(ctx, toMessageRef(withBotNick(msg, funMsg)), history.AddMessageOpts{})
				}
			}
		}
	}

	return nil
}
