package focus

import (
	"context"

	"github.com/animus-run/animus/internal/engage"
	"github.com/animus-run/animus/pkg/model"
)

// LoopEngageRunner adapts an internal/engage.Loop to the EngageRunner
// interface this package depends on, keeping focus free of the
// llmclient/toolregistry wiring that constructs a Loop.
type LoopEngageRunner struct {
	Loop         *engage.Loop
	SystemPrompt string
}

// Run seeds a fresh engage.State from the Orient phase's context text (as
// one opening user message) and runs the loop to completion.
func (a *LoopEngageRunner) Run(ctx context.Context, auth model.AuthContext, systemPrompt string, skillFragments []string, orientContext string) (string, bool, error) {
	var initial []model.Message
	if orientContext != "" {
		initial = append(initial, model.UserMessage(model.TextUserBlock(orientContext)))
	}
	st := engage.NewState(auth.WorkItemID, initial)

	prompt := systemPrompt
	if prompt == "" {
		prompt = a.SystemPrompt
	}

	result, err := a.Loop.Run(ctx, auth, prompt, skillFragments, st)
	if err != nil {
		return "", false, err
	}
	return result.OutcomeText, result.Cancelled, nil
}
