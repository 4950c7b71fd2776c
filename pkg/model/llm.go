package model

import "encoding/json"

// StopReason classifies why a completion stopped.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates the tagged union carried by UserBlock/AssistantBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolResult BlockKind = "tool_result"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "tool_use"
)

// UserBlock is one element of a User message's content: Text, ToolResult, or Image.
type UserBlock struct {
	Kind BlockKind `json:"kind"`

	// Text
	Text string `json:"text,omitempty"`

	// ToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// TextUserBlock builds a text content block.
func TextUserBlock(text string) UserBlock { return UserBlock{Kind: BlockText, Text: text} }

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(toolUseID, content string, isError bool) UserBlock {
	return UserBlock{Kind: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// ImageBlock builds an inline image content block.
func ImageBlock(mediaType, data string) UserBlock {
	return UserBlock{Kind: BlockImage, MediaType: mediaType, Data: data}
}

// AssistantBlock is one element of an Assistant message's content: Text or ToolUse.
type AssistantBlock struct {
	Kind BlockKind `json:"kind"`

	// Text
	Text string `json:"text,omitempty"`

	// ToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// TextAssistantBlock builds a text content block.
func TextAssistantBlock(text string) AssistantBlock {
	return AssistantBlock{Kind: BlockText, Text: text}
}

// ToolUseBlock builds a tool-invocation content block.
func ToolUseBlock(id, name string, input json.RawMessage) AssistantBlock {
	return AssistantBlock{Kind: BlockToolUse, ID: id, Name: name, Input: input}
}

// Message is the tagged union the engage loop builds and the LLM client
// contract consumes: System carries plain content, User and Assistant
// carry block sequences.
type Message struct {
	Role           Role             `json:"role"`
	SystemContent  string           `json:"content,omitempty"`
	UserBlocks     []UserBlock      `json:"user_blocks,omitempty"`
	AssistantBlocks []AssistantBlock `json:"assistant_blocks,omitempty"`
}

// SystemMessage builds a System message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, SystemContent: content}
}

// UserMessage builds a User message from content blocks.
func UserMessage(blocks ...UserBlock) Message {
	return Message{Role: RoleUser, UserBlocks: blocks}
}

// AssistantMessage builds an Assistant message from content blocks.
func AssistantMessage(blocks ...AssistantBlock) Message {
	return Message{Role: RoleAssistant, AssistantBlocks: blocks}
}

// Text concatenates all text blocks in a message, in order; used for
// ledger stubs, compaction, and display.
func (m Message) Text() string {
	var out string
	switch m.Role {
	case RoleSystem:
		out = m.SystemContent
	case RoleUser:
		for _, b := range m.UserBlocks {
			if b.Kind == BlockText {
				out += b.Text
			}
		}
	case RoleAssistant:
		for _, b := range m.AssistantBlocks {
			if b.Kind == BlockText {
				out += b.Text
			}
		}
	}
	return out
}

// ToolDefinition describes one callable tool to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Usage carries token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionRequest is what the engage loop sends to the LLM client.
type CompletionRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// CompletionResponse is the fully assembled response returned by complete
// and complete_stream alike.
type CompletionResponse struct {
	Content    []AssistantBlock `json:"content"`
	StopReason StopReason       `json:"stop_reason"`
	Usage      Usage            `json:"usage"`
}

// TextContent concatenates all text blocks of the response.
func (r *CompletionResponse) TextContent() string {
	var out string
	for _, b := range r.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns all tool-use blocks of the response, in order.
func (r *CompletionResponse) ToolUses() []AssistantBlock {
	var out []AssistantBlock
	for _, b := range r.Content {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// StreamEventKind discriminates StreamEvent.
type StreamEventKind string

const (
	StreamTextDelta      StreamEventKind = "text_delta"
	StreamToolStart      StreamEventKind = "tool_start"
	StreamToolInputDelta StreamEventKind = "tool_input_delta"
	StreamDone           StreamEventKind = "done"
)

// StreamEvent is one unit pushed to an EventSink during complete_stream.
type StreamEvent struct {
	Kind StreamEventKind

	Text string

	ToolUseID   string
	ToolName    string
	PartialJSON string
}

// EventSink receives StreamEvents as a completion streams in. Implementations
// must not block for long; the engage loop only needs the final assembled
// CompletionResponse, streaming is for observability and early hook
// intervention.
type EventSink func(StreamEvent)
