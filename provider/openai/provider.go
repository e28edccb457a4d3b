package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/casualjim/toolstream/messages"
	"github.com/casualjim/toolstream/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

const name = "openai"

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	client *openai.Client
}

// New creates an adapter for OpenAI compatible chat completion endpoints.
// Retries are left to the orchestration loop, so the client's own retries are off
// unless options turn them back on.
func New(options ...option.RequestOption) *Provider {
	opts := append([]option.RequestOption{option.WithMaxRetries(0)}, options...)
	return &Provider{
		client: openai.NewClient(opts...),
	}
}

// WithBaseURL points the client at an OpenAI compatible endpoint. Paths are resolved
// relative to the URL, so "http://host/v1" and "http://host/v1/" both reach
// "http://host/v1/chat/completions".
func WithBaseURL(base string) option.RequestOption {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return option.WithBaseURL(base)
}

func (p *Provider) Name() string {
	return name
}

func (p *Provider) buildRequest(params *provider.Request) (openai.ChatCompletionNewParams, error) {
	if params.History == nil {
		return openai.ChatCompletionNewParams{}, errors.New("request has no history")
	}
	result := turnsToOpenAI(params.SystemPrompt(), params.History.Iter())

	tools := make([]openai.ChatCompletionToolParam, len(params.Tools))
	for i, tool := range params.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("tool at %d has no name", i)
		}
		parameters := tool.Parameters
		if parameters == nil {
			parameters = provider.EmptyParameters()
		}

		def := openai.FunctionDefinitionParam{
			Name:       openai.String(tool.Name),
			Parameters: openai.F(shared.FunctionParameters(parameters)),
		}
		if strings.TrimSpace(tool.Description) != "" {
			def.Description = openai.String(tool.Description)
		}

		tools[i] = openai.ChatCompletionToolParam{
			Type:     openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(def),
		}
	}

	oaiParams := openai.ChatCompletionNewParams{
		Messages: openai.F(result),
		Model:    openai.F(params.Model),
		N:        openai.Int(1),
	}
	if len(tools) > 0 {
		oaiParams.Tools = openai.F(tools)
		oaiParams.ParallelToolCalls = openai.Bool(true)
	}
	return oaiParams, nil
}

// Stream sends the chat completion request and translates the delta stream into
// canonical events. Tool call fragments are forwarded as they arrive; their arguments
// are only parsed once the turn is complete.
func (p *Provider) Stream(ctx context.Context, params provider.Request) (<-chan provider.Event, error) {
	chatParams, err := p.buildRequest(&params)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	strm := p.client.Chat.Completions.NewStreaming(ctx, chatParams)
	if err := strm.Err(); err != nil {
		strm.Close()
		return nil, classify(err)
	}

	events := make(chan provider.Event, 10)
	go func() {
		defer close(events)
		defer strm.Close()

		var finishReason string
		for strm.Next() {
			if ctx.Err() != nil {
				break
			}
			chunk := strm.Current()
			for _, ev := range chunkToEvents(&chunk) {
				if !provider.Emit(ctx, events, ev) {
					return
				}
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "" {
				finishReason = string(chunk.Choices[0].FinishReason)
			}
		}

		if err := ctx.Err(); err != nil {
			provider.Offer(events, provider.Error{Err: err})
			return
		}
		if err := strm.Err(); err != nil {
			provider.Emit(ctx, events, provider.Error{Err: classify(err)})
			return
		}
		provider.Emit(ctx, events, provider.TurnEnd{FinishReason: finishReason})
	}()
	return events, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = provider.ParseRetryAfter(apiErr.Response.Header)
		}
		if provider.TransientStatus(apiErr.StatusCode) {
			return &provider.TransientError{Err: err, StatusCode: apiErr.StatusCode, RetryAfter: retryAfter}
		}
	}
	return err
}

// chunkToEvents maps one streaming chunk to zero or more canonical events. Chunks with
// no choices (usage reports, keep-alives) produce nothing.
func chunkToEvents(chunk *openai.ChatCompletionChunk) []provider.Event {
	if len(chunk.Choices) == 0 {
		return nil
	}

	var result []provider.Event
	if reasoning := gjson.Get(chunk.JSON.RawJSON(), "choices.0.delta.reasoning_content"); reasoning.Type == gjson.String && reasoning.String() != "" {
		result = append(result, provider.TextDelta{Text: reasoning.String(), Reasoning: true})
	}

	delta := chunk.Choices[0].Delta
	if delta.Content != "" {
		result = append(result, provider.TextDelta{Text: delta.Content})
	}
	for _, tc := range delta.ToolCalls {
		result = append(result, provider.ToolCallFragment{
			Index: int(tc.Index),
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Args:  tc.Function.Arguments,
		})
	}
	return result
}

func turnsToOpenAI(system string, turns iter.Seq[messages.Turn]) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion
	if system != "" {
		result = append(result, openai.SystemMessage(system))
	}

	for turn := range turns {
		switch turn.Role {
		case messages.RoleUser:
			if text := turn.Text(); text != "" {
				result = append(result, openai.UserMessage(text))
			}
		case messages.RoleAssistant:
			am := openai.ChatCompletionAssistantMessageParam{
				Role: openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
			}
			if text := turn.Text(); text != "" {
				am.Content = openai.F([]openai.ChatCompletionAssistantMessageParamContentUnion{
					openai.TextPart(text),
				})
			}
			if calls := turn.ToolCalls(); len(calls) > 0 {
				tcd := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
				for i, tc := range calls {
					tcd[i] = openai.ChatCompletionMessageToolCallParam{
						ID:   openai.String(tc.ID),
						Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
						Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      openai.String(tc.Name),
							Arguments: openai.String(tc.Arguments),
						}),
					}
				}
				am.ToolCalls = openai.F(tcd)
			}
			result = append(result, am)
		case messages.RoleTool:
			for _, r := range turn.Results() {
				content := r.Result
				if r.IsError() {
					content = "error: " + r.Error
				}
				result = append(result, openai.ToolMessage(r.CallID, content))
			}
		}
	}
	return result
}
