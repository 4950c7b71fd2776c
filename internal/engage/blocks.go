package engage

import (
	"fmt"

	"github.com/animus-run/animus/pkg/model"
)

type ledgerAppendInput struct {
	EntryType model.EntryType `json:"entry_type"`
	Content   string          `json:"content"`
}

// visibleMessages builds the messages array actually sent to the LLM: every
// closed block [start, openBlockStart) is collapsed to one synthetic stub
// message (when truncateClosedBlocks is set), and the open block
// [openBlockStart, len(messages)) is passed verbatim.
func visibleMessages(messages []model.Message, openBlockStart int, truncateClosedBlocks bool, closedStubs []string) []model.Message {
	if !truncateClosedBlocks || openBlockStart <= 0 {
		return messages
	}
	if openBlockStart > len(messages) {
		openBlockStart = len(messages)
	}

	out := make([]model.Message, 0, len(closedStubs)+len(messages)-openBlockStart)
	for _, stub := range closedStubs {
		out = append(out, model.UserMessage(model.TextUserBlock(stub)))
	}
	out = append(out, messages[openBlockStart:]...)
	return out
}

// stepStub formats the stub for a block closed by a ledger step entry.
func stepStub(seq int, content string) string {
	return fmt.Sprintf("[completed step %d: %s]", seq, content)
}
