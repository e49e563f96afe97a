package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/corohq/coro-agent/internal/config"
)

const openAIDefaultMaxOutputTokens = 4096

type openAIClient struct {
	client           openai.Client
	model            string
	maxTokens        int64
	temperature      *float64
	topP             *float64
	strictToolSchema bool
}

func newOpenAIClient(cfg config.Provider, apiKey string) *openAIClient {
	opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, ooption.WithBaseURL(base))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = openAIDefaultMaxOutputTokens
	}
	return &openAIClient{
		client:           openai.NewClient(opts...),
		model:            strings.TrimSpace(cfg.Model),
		maxTokens:        maxTokens,
		temperature:      cfg.Temperature,
		topP:             cfg.TopP,
		strictToolSchema: shouldUseStrictToolSchema(cfg.Type, cfg.BaseURL),
	}
}

func (c *openAIClient) ModelName() string    { return c.model }
func (c *openAIClient) ProviderName() string { return "openai" }

func (c *openAIClient) Complete(ctx context.Context, messages []Message, tools []ToolDefinition, opts *Options) (*Response, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}
	params := oresponses.ResponseNewParams{
		Model:             oshared.ResponsesModel(c.model),
		MaxOutputTokens:   openai.Int(c.maxTokens),
		ParallelToolCalls: openai.Bool(false),
	}
	if opts != nil && opts.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(opts.MaxTokens))
	}
	if temp := pickFloat(optTemperature(opts), c.temperature); temp != nil {
		params.Temperature = openai.Float(*temp)
	}
	if topP := pickFloat(optTopP(opts), c.topP); topP != nil {
		params.TopP = openai.Float(*topP)
	}

	items, instructions := buildOpenAIInput(messages)
	if len(items) == 0 {
		items = append(items, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: items}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	toolParams, aliasToReal := buildOpenAITools(tools, c.strictToolSchema)
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, classifyProviderError("openai", err)
	}

	var blocks []Block
	if txt := strings.TrimSpace(extractOpenAIResponseText(*resp)); txt != "" {
		blocks = append(blocks, Block{Type: BlockTypeText, Text: txt})
	}
	hasToolUse := false
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "function_call" {
			continue
		}
		callID := strings.TrimSpace(item.CallID)
		if callID == "" {
			callID = strings.TrimSpace(item.ID)
		}
		if callID == "" {
			callID = fmt.Sprintf("openai_call_%d", len(blocks)+1)
		}
		name := strings.TrimSpace(item.Name)
		if realName, ok := aliasToReal[name]; ok {
			name = realName
		}
		input := json.RawMessage(`{}`)
		if raw := strings.TrimSpace(item.Arguments); raw != "" && json.Valid([]byte(raw)) {
			input = json.RawMessage(raw)
		}
		hasToolUse = true
		blocks = append(blocks, Block{Type: BlockTypeToolUse, ID: callID, Name: name, Input: input})
	}

	out := Message{Role: RoleAssistant, Content: BlockContent(blocks...)}
	if !hasToolUse && len(blocks) == 1 && blocks[0].Type == BlockTypeText {
		out.Content = TextContent(blocks[0].Text)
	}

	finish := mapOpenAIStatus(resp.Status)
	if hasToolUse {
		finish = FinishToolCalls
	}
	usage := &Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return &Response{Message: out, Usage: usage, Model: c.model, FinishReason: finish}, nil
}

func buildOpenAITools(defs []ToolDefinition, strict bool) ([]oresponses.ToolUnionParam, map[string]string) {
	out := make([]oresponses.ToolUnionParam, 0, len(defs))
	aliasToReal := make(map[string]string, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}
		schema := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		alias := sanitizeProviderToolName(def.Name)
		out = append(out, oresponses.ToolParamOfFunction(alias, schema, strict))
		aliasToReal[alias] = def.Name
	}
	return out, aliasToReal
}

func buildOpenAIInput(messages []Message) (oresponses.ResponseInputParam, string) {
	items := make(oresponses.ResponseInputParam, 0, len(messages)+2)
	instructions := ""
	assistantMsgSeq := 0
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if txt := strings.TrimSpace(msg.Text()); txt != "" {
				if instructions == "" {
					instructions = txt
				} else {
					instructions += "\n\n" + txt
				}
			}

		case RoleTool:
			for _, part := range msg.Content.Blocks {
				if part.Type != BlockTypeToolResult {
					continue
				}
				callID := strings.TrimSpace(part.ToolUseID)
				if callID == "" {
					continue
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(callID, part.Content))
			}

		case RoleAssistant:
			outputContent := make([]oresponses.ResponseOutputMessageContentUnionParam, 0, len(msg.Content.Blocks)+1)
			appendOutputText := func(text string) {
				text = strings.TrimSpace(text)
				if text == "" {
					return
				}
				outputContent = append(outputContent, oresponses.ResponseOutputMessageContentUnionParam{
					OfOutputText: &oresponses.ResponseOutputTextParam{
						Text:        text,
						Annotations: []oresponses.ResponseOutputTextAnnotationUnionParam{},
					},
				})
			}
			flushOutputMessage := func() {
				if len(outputContent) == 0 {
					return
				}
				assistantMsgSeq++
				// OpenAI Responses requires output message IDs to start with "msg_".
				msgID := fmt.Sprintf("msg_hist%d", assistantMsgSeq)
				items = append(items, oresponses.ResponseInputItemParamOfOutputMessage(
					outputContent,
					msgID,
					oresponses.ResponseOutputMessageStatusCompleted,
				))
				outputContent = outputContent[:0]
			}
			if !msg.Content.IsBlocks() {
				appendOutputText(msg.Content.Text)
			}
			for _, part := range msg.Content.Blocks {
				switch part.Type {
				case BlockTypeText:
					appendOutputText(part.Text)
				case BlockTypeToolUse:
					flushOutputMessage()
					callID := strings.TrimSpace(part.ID)
					name := sanitizeProviderToolName(part.Name)
					if callID == "" || name == "" {
						continue
					}
					argsRaw := strings.TrimSpace(string(part.Input))
					if argsRaw == "" || !json.Valid([]byte(argsRaw)) {
						argsRaw = "{}"
					}
					items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(argsRaw, callID, name))
				}
			}
			flushOutputMessage()

		default:
			content := make(oresponses.ResponseInputMessageContentListParam, 0, len(msg.Content.Blocks)+1)
			if !msg.Content.IsBlocks() {
				if txt := strings.TrimSpace(msg.Content.Text); txt != "" {
					content = append(content, oresponses.ResponseInputContentUnionParam{
						OfInputText: &oresponses.ResponseInputTextParam{Text: txt},
					})
				}
			}
			for _, part := range msg.Content.Blocks {
				switch part.Type {
				case BlockTypeText:
					if txt := strings.TrimSpace(part.Text); txt != "" {
						content = append(content, oresponses.ResponseInputContentUnionParam{
							OfInputText: &oresponses.ResponseInputTextParam{Text: txt},
						})
					}
				case BlockTypeImage:
					if data := strings.TrimSpace(part.Data); data != "" {
						mime := strings.TrimSpace(part.MimeType)
						if mime == "" {
							mime = "image/png"
						}
						content = append(content, oresponses.ResponseInputContentUnionParam{
							OfInputImage: &oresponses.ResponseInputImageParam{
								Detail:   oresponses.ResponseInputImageDetailAuto,
								ImageURL: openai.String("data:" + mime + ";base64," + data),
							},
						})
					}
				}
			}
			if len(content) == 0 {
				continue
			}
			items = append(items, oresponses.ResponseInputItemParamOfMessage(content, oresponses.EasyInputMessageRoleUser))
		}
	}
	return items, instructions
}

func extractOpenAIResponseText(resp oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if strings.TrimSpace(part.Type) != "output_text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.TrimSpace(part.Text))
		}
	}
	return sb.String()
}

func mapOpenAIStatus(status oresponses.ResponseStatus) string {
	switch strings.TrimSpace(strings.ToLower(string(status))) {
	case "completed":
		return FinishStop
	case "incomplete":
		return FinishLength
	case "failed", "cancelled":
		return FinishError
	default:
		return FinishUnknown
	}
}

func shouldUseStrictToolSchema(providerType string, baseURL string) bool {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	if providerType == "openai_compatible" {
		// Compatible gateways vary widely in strict function schema support.
		return false
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	return host == "api.openai.com"
}
