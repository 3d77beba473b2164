package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/roomsteer/internal/actorrt"
)

// echoActor is a stand-in for the real agent runtime, which is an external
// collaborator referenced only by interface (actorrt.ActorRuntime) and out of
// this repo's scope. It exists so roomsteerd has something runnable to wire
// against without fabricating a provider SDK dependency; swap it for a real
// implementation to go live.
type echoActor struct{}

func (echoActor) RunActor(ctx context.Context, params actorrt.RunParams) (*actorrt.AgentResult, error) {
	var last string
	if n := len(params.Context); n > 0 {
		last = params.Context[n-1].Content
	}

	var steeredSuffix strings.Builder
	if steered, err := params.SteeringMessages(ctx); err == nil && len(steered) > 0 {
		for _, m := range steered {
			steeredSuffix.WriteString(" " + m.Content)
		}
		if params.Progress != nil {
			_ = params.Progress(ctx, fmt.Sprintf("[%s] incorporating %d steered message(s)...", params.Mode, len(steered)))
		}
	}

	text := fmt.Sprintf("[%s/%s] echo: %s%s", params.Mode, params.Model, last, steeredSuffix.String())

	inTokens, outTokens := len(last)/4, len(text)/4
	cost := float64(inTokens+outTokens) * 0.000002

	return &actorrt.AgentResult{
		Text:              text,
		TotalInputTokens:  &inTokens,
		TotalOutputTokens: &outTokens,
		TotalCost:         &cost,
		ToolCallsCount:    0,
		PrimaryModel:      params.Model,
	}, nil
}

// CallRaw stands in for a single-shot model call used by mode classification
// and proactive-interjection scoring. It always returns a score of 0, so the
// proactive cascade never fires and classification always falls through to
// the configured fallback label — wire a real RawModelCaller to exercise
// either path meaningfully.
func (echoActor) CallRaw(ctx context.Context, model string, context []actorrt.ContextMessage, prompt string) (string, error) {
	return "0/10", nil
}
