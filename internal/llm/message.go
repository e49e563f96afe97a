package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Block content types.
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// Block is one content block inside a multi-part message.
//
// The wire shape is a flat object with a "type" discriminator; unused
// fields are omitted, so a text block serializes as {"type":"text","text":...}
// and a tool_use block carries id/name/input.
type Block struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image (base64 payload)
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   *bool  `json:"is_error,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Content is either a plain text string or an ordered block sequence.
// JSON encoding preserves whichever form the message was built with:
// plain text encodes as a bare string, blocks encode as an array.
type Content struct {
	Text   string
	Blocks []Block
}

func TextContent(text string) Content {
	return Content{Text: text}
}

func BlockContent(blocks ...Block) Content {
	return Content{Blocks: blocks}
}

func (c Content) IsBlocks() bool {
	return c.Blocks != nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Blocks = nil
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Text = ""
	c.Blocks = blocks
	return nil
}

// Message is one turn in a conversation.
type Message struct {
	Role     Role           `json:"role"`
	Content  Content        `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func System(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent(text)}
}

func User(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// ToolResultMessage builds a tool-role message carrying a single
// tool_result block keyed to the given tool_use id.
func ToolResultMessage(toolUseID string, content string, isError bool) Message {
	return Message{
		Role: RoleTool,
		Content: BlockContent(Block{
			Type:      BlockTypeToolResult,
			ToolUseID: toolUseID,
			IsError:   &isError,
			Content:   content,
		}),
	}
}

// Text collapses all text content of the message into a single string.
// Returns "" when the message carries no text blocks.
func (m Message) Text() string {
	if !m.Content.IsBlocks() {
		return m.Content.Text
	}
	parts := make([]string, 0, len(m.Content.Blocks))
	for _, block := range m.Content.Blocks {
		if block.Type != BlockTypeText {
			continue
		}
		if txt := block.Text; txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolUse reports whether the message contains at least one tool_use block.
func (m Message) HasToolUse() bool {
	for _, block := range m.Content.Blocks {
		if block.Type == BlockTypeToolUse {
			return true
		}
	}
	return false
}

// ToolUses returns the tool_use blocks in model-provided order.
func (m Message) ToolUses() []Block {
	var out []Block
	for _, block := range m.Content.Blocks {
		if block.Type == BlockTypeToolUse {
			out = append(out, block)
		}
	}
	return out
}
