package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/casualjim/toolstream/pkg/uuidx"
	"github.com/casualjim/toolstream/provider"
	"github.com/fogfish/opts"
	"github.com/tidwall/gjson"
)

const (
	name = "gemini"

	// DefaultBaseURL is the public Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	maxErrorBody = 4096
)

var _ provider.Provider = (*Provider)(nil)

// Config holds the connection settings of the adapter.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Option configures the adapter.
type Option = opts.Option[Config]

// WithBaseURL points the adapter at a different endpoint, e.g. a proxy or a test server.
func WithBaseURL(u string) Option {
	return opts.Type[Config](func(c *Config) error {
		if _, err := url.Parse(u); err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
		c.BaseURL = strings.TrimRight(u, "/")
		return nil
	})
}

// WithAPIKey sets the key sent in the x-goog-api-key header.
var WithAPIKey = opts.ForName[Config, string]("APIKey")

// WithHTTPClient replaces the default HTTP client.
var WithHTTPClient = opts.ForName[Config, *http.Client]("HTTPClient")

// Provider streams from a part-structured backend where each tool call arrives whole,
// possibly with an opaque thought signature that must be replayed on the next request.
type Provider struct {
	cfg Config
}

// New creates a Gemini adapter.
func New(options ...Option) (*Provider, error) {
	cfg := Config{BaseURL: DefaultBaseURL}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Provider{cfg: cfg}, nil
}

func (p *Provider) Name() string {
	return name
}

func (p *Provider) endpoint(model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.cfg.BaseURL, url.PathEscape(model))
}

// Stream sends the request and translates the response into canonical events.
//
// An event stream is translated part by part. A plain JSON body, which some gateways
// return instead of a stream, is collapsed into a single TextDelta followed by TurnEnd.
func (p *Provider) Stream(ctx context.Context, params provider.Request) (<-chan provider.Event, error) {
	if strings.TrimSpace(params.Model) == "" {
		return nil, errors.New("request has no model")
	}
	body, err := buildRequest(&params)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(params.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.cfg.APIKey != "" {
		req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, provider.ClassifyStatus(resp.StatusCode, errorMessage(msg), provider.ParseRetryAfter(resp.Header))
	}

	events := make(chan provider.Event, 10)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		go func() {
			defer close(events)
			defer resp.Body.Close()
			p.readAggregated(ctx, resp.Body, events)
		}()
		return events, nil
	}

	go func() {
		defer close(events)
		defer resp.Body.Close()
		p.readStream(ctx, resp.Body, events)
	}()
	return events, nil
}

func (p *Provider) readStream(ctx context.Context, body io.Reader, events chan<- provider.Event) {
	dec := &decoder{}
	var stopped bool
	err := consumeSSE(ctx, body, func(_, data string) error {
		for _, ev := range dec.decode(data) {
			if !provider.Emit(ctx, events, ev) {
				stopped = true
				return ctx.Err()
			}
		}
		if dec.err != nil {
			return dec.err
		}
		return nil
	})

	if ctx.Err() != nil {
		provider.Offer(events, provider.Error{Err: ctx.Err()})
		return
	}
	if stopped {
		return
	}
	if err != nil {
		provider.Emit(ctx, events, provider.Error{Err: err})
		return
	}
	provider.Emit(ctx, events, provider.TurnEnd{FinishReason: dec.finishReason})
}

func (p *Provider) readAggregated(ctx context.Context, body io.Reader, events chan<- provider.Event) {
	data, err := io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			provider.Offer(events, provider.Error{Err: ctx.Err()})
			return
		}
		provider.Emit(ctx, events, provider.Error{Err: err})
		return
	}
	if !gjson.ValidBytes(data) {
		provider.Emit(ctx, events, provider.Error{Err: fmt.Errorf("invalid json response: %.200s", data)})
		return
	}

	// streamGenerateContent without alt=sse answers with an array of responses
	responses := []gjson.Result{gjson.ParseBytes(data)}
	if responses[0].IsArray() {
		responses = responses[0].Array()
	}

	dec := &decoder{}
	var text strings.Builder
	var calls []provider.Event
	for _, r := range responses {
		for _, ev := range dec.decode(r.Raw) {
			switch ev := ev.(type) {
			case provider.TextDelta:
				if !ev.Reasoning {
					text.WriteString(ev.Text)
				}
			case provider.ToolCallFragment:
				calls = append(calls, ev)
			}
		}
		if dec.err != nil {
			provider.Emit(ctx, events, provider.Error{Err: dec.err})
			return
		}
	}

	if text.Len() > 0 {
		if !provider.Emit(ctx, events, provider.TextDelta{Text: text.String()}) {
			return
		}
	}
	for _, ev := range calls {
		if !provider.Emit(ctx, events, ev) {
			return
		}
	}
	provider.Emit(ctx, events, provider.TurnEnd{FinishReason: dec.finishReason})
}

// decoder turns response chunks into events. It numbers tool calls in arrival order
// across the whole turn.
type decoder struct {
	nextIndex    int
	finishReason string
	err          error
}

func (d *decoder) decode(data string) []provider.Event {
	if !gjson.Valid(data) {
		return nil
	}
	chunk := gjson.Parse(data)
	if apiErr := chunk.Get("error"); apiErr.Exists() {
		d.err = fmt.Errorf("stream error: %s", apiErr.Get("message").String())
		if code := int(apiErr.Get("code").Int()); provider.TransientStatus(code) {
			d.err = &provider.TransientError{Err: d.err, StatusCode: code}
		}
		return nil
	}

	candidate := chunk.Get("candidates.0")
	if fr := candidate.Get("finishReason"); fr.Exists() {
		d.finishReason = fr.String()
	}

	var result []provider.Event
	for _, part := range candidate.Get("content.parts").Array() {
		if call := part.Get("functionCall"); call.Exists() {
			id := call.Get("id").String()
			if id == "" {
				id = uuidx.CallID()
			}
			args := "{}"
			if a := call.Get("args"); a.Exists() {
				args = a.Raw
			}
			result = append(result, provider.ToolCallFragment{
				Index:     d.nextIndex,
				ID:        id,
				Name:      call.Get("name").String(),
				Args:      args,
				Signature: part.Get("thoughtSignature").String(),
			})
			d.nextIndex++
			continue
		}
		if text := part.Get("text"); text.Exists() && text.String() != "" {
			result = append(result, provider.TextDelta{
				Text:      text.String(),
				Reasoning: part.Get("thought").Bool(),
			})
		}
	}
	return result
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if len(body) == 0 {
		return ""
	}
	return string(body)
}
