package engage

import (
	"context"

	"github.com/animus-run/animus/pkg/model"
)

// charsPerToken mirrors internal/compaction.EstimateTokens' ~4-char
// heuristic; exact tokenization is the provider's concern, not the loop's.
const charsPerToken = 4

// estimateTokens sums a rough token count across messages.
func estimateTokens(messages []model.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Text()) + charsPerToken - 1) / charsPerToken
	}
	return total
}

// maybeCompact implements ledger-based compaction: independent of block
// truncation,
// if messages exceed contextWindow*threshold tokens, replace everything
// before the final keepRecent messages with a ledger-read-formatted
// synthetic exchange. If that is still over threshold (the agent never
// maintained its ledger), fall back to one emergency LLM summarization
// call over the dropped portion.
func (l *Loop) maybeCompact(ctx context.Context, st *State) error {
	if l.cfg.CompactThreshold <= 0 || l.cfg.ContextWindow <= 0 {
		return nil
	}
	threshold := int(float64(l.cfg.ContextWindow) * l.cfg.CompactThreshold)
	if estimateTokens(st.Messages) <= threshold {
		return nil
	}

	keepRecent := l.cfg.CompactKeepRecent
	if keepRecent <= 0 || keepRecent >= len(st.Messages) {
		return nil
	}
	dropped := st.Messages[:len(st.Messages)-keepRecent]
	recent := st.Messages[len(st.Messages)-keepRecent:]

	formatted, err := l.ledger.ReadFormatted(ctx, st.WorkItemID)
	if err != nil {
		return err
	}
	compacted := []model.Message{
		model.UserMessage(model.TextUserBlock(formatted)),
		model.AssistantMessage(model.TextAssistantBlock("Acknowledged; continuing from the ledger summary above.")),
	}
	compacted = append(compacted, recent...)

	if estimateTokens(compacted) > threshold && l.client != nil {
		summary, err := l.emergencySummarize(ctx, dropped)
		if err == nil && summary != "" {
			compacted = append([]model.Message{model.UserMessage(model.TextUserBlock(summary))}, recent...)
			l.EmergencySummarizations++
			if l.metrics != nil {
				l.metrics.RecordEmergencySummarization(l.faculty)
			}
		}
	}

	// The ledger summary supersedes every closed-block stub, so block
	// accounting restarts: the whole compacted history is the open block.
	st.Messages = compacted
	st.OpenBlockStart = 0
	st.closedStubs = nil
	return nil
}

func (l *Loop) emergencySummarize(ctx context.Context, dropped []model.Message) (string, error) {
	prompt := "Summarize the following conversation history concisely, preserving any decisions, findings, and unresolved steps:\n\n"
	for _, m := range dropped {
		prompt += string(m.Role) + ": " + m.Text() + "\n"
	}
	resp, err := l.client.Complete(ctx, model.CompletionRequest{
		Model:     l.cfg.Model,
		Messages:  []model.Message{model.UserMessage(model.TextUserBlock(prompt))},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return resp.TextContent(), nil
}
