package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/corohq/coro-agent/internal/config"
)

const anthropicDefaultMaxTokens = 8192

type anthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature *float64
	topP        *float64
}

func newAnthropicClient(cfg config.Provider, apiKey string) *anthropicClient {
	opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, aoption.WithBaseURL(base))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &anthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       strings.TrimSpace(cfg.Model),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}
}

func (c *anthropicClient) ModelName() string    { return c.model }
func (c *anthropicClient) ProviderName() string { return "anthropic" }

func (c *anthropicClient) Complete(ctx context.Context, messages []Message, tools []ToolDefinition, opts *Options) (*Response, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}
	toolParams, aliasToReal := buildAnthropicTools(tools)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  buildAnthropicMessages(messages),
		Tools:     toolParams,
	}
	if opts != nil && opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if temp := pickFloat(optTemperature(opts), c.temperature); temp != nil {
		params.Temperature = anthropic.Float(*temp)
	}
	if topP := pickFloat(optTopP(opts), c.topP); topP != nil {
		params.TopP = anthropic.Float(*topP)
	}
	if system := collectSystemText(messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyProviderError("anthropic", err)
	}

	blocks := make([]Block, 0, len(msg.Content))
	hasToolUse := false
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if txt := variant.Text; strings.TrimSpace(txt) != "" {
				blocks = append(blocks, Block{Type: BlockTypeText, Text: txt})
			}
		case anthropic.ToolUseBlock:
			hasToolUse = true
			name := strings.TrimSpace(variant.Name)
			if realName, ok := aliasToReal[name]; ok {
				name = realName
			}
			input := json.RawMessage(`{}`)
			if len(variant.Input) > 0 {
				input = json.RawMessage(variant.Input)
			}
			blocks = append(blocks, Block{
				Type:  BlockTypeToolUse,
				ID:    strings.TrimSpace(variant.ID),
				Name:  name,
				Input: input,
			})
		}
	}

	out := Message{Role: RoleAssistant, Content: BlockContent(blocks...)}
	if !hasToolUse && len(blocks) == 1 && blocks[0].Type == BlockTypeText {
		out.Content = TextContent(blocks[0].Text)
	}

	finish := mapAnthropicStopReason(msg.StopReason)
	if hasToolUse {
		finish = FinishToolCalls
	}
	usage := &Usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
	}
	return &Response{Message: out, Usage: usage, Model: c.model, FinishReason: finish}, nil
}

func buildAnthropicTools(defs []ToolDefinition) ([]anthropic.ToolUnionParam, map[string]string) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	aliasToReal := make(map[string]string, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schemaMap := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schemaMap)
		}
		required, _ := toStringSlice(schemaMap["required"])
		alias := sanitizeProviderToolName(name)
		param := anthropic.ToolParam{
			Name:        alias,
			Description: anthropic.String(strings.TrimSpace(def.Description)),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: schemaMap["properties"], Required: required},
		}
		aliasToReal[alias] = name
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, aliasToReal
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			// Carried separately via the system parameter.
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		if !msg.Content.IsBlocks() {
			if txt := strings.TrimSpace(msg.Content.Text); txt != "" {
				blocks = append(blocks, anthropic.NewTextBlock(txt))
			}
		}
		for _, part := range msg.Content.Blocks {
			switch part.Type {
			case BlockTypeText:
				if txt := strings.TrimSpace(part.Text); txt != "" {
					blocks = append(blocks, anthropic.NewTextBlock(txt))
				}
			case BlockTypeToolUse:
				id := strings.TrimSpace(part.ID)
				if id == "" {
					continue
				}
				var input any = map[string]any{}
				if len(part.Input) > 0 {
					var decoded any
					if err := json.Unmarshal(part.Input, &decoded); err == nil && decoded != nil {
						input = decoded
					}
				}
				toolUse := anthropic.ToolUseBlockParam{
					ID:    id,
					Name:  sanitizeProviderToolName(part.Name),
					Input: input,
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &toolUse})
			case BlockTypeToolResult:
				callID := strings.TrimSpace(part.ToolUseID)
				if callID == "" {
					continue
				}
				isError := part.IsError != nil && *part.IsError
				blocks = append(blocks, anthropic.NewToolResultBlock(callID, part.Content, isError))
			case BlockTypeImage:
				if data := strings.TrimSpace(part.Data); data != "" {
					mediaType := strings.TrimSpace(part.MimeType)
					if mediaType == "" {
						mediaType = "image/png"
					}
					blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			// Anthropic expects tool results inside user-role messages.
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}

func mapAnthropicStopReason(reason anthropic.StopReason) string {
	switch strings.TrimSpace(strings.ToLower(string(reason))) {
	case "tool_use":
		return FinishToolCalls
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "refusal":
		return FinishContentFilter
	default:
		return FinishUnknown
	}
}
