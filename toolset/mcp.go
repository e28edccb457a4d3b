package toolset

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/casualjim/toolstream/provider"
	json "github.com/goccy/go-json"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	stdioSchemePrefix = "stdio://"
	sseSchemePrefix   = "sse://"
)

// ClientName and ClientVersion are announced to MCP servers during the handshake.
var (
	ClientName    = "toolstream"
	ClientVersion = "dev"
)

var _ Source = (*MCPSource)(nil)

// MCPSource offers the tools of a Model Context Protocol server. The session is
// negotiated once and shared by every caller until Close.
type MCPSource struct {
	name    string
	session *mcpsdk.ClientSession

	// listing tools pages through the session and is serialized
	listMu sync.Mutex
}

// DialMCP connects to the server described by spec. Supported forms:
//
//	stdio://command arg...     subprocess speaking over stdin/stdout
//	sse://host/path            SSE transport, https is assumed
//	http+sse://host/path       SSE transport
//	http+stream://host/path    streamable HTTP transport
//	https://host/path          SSE transport
//	command arg...             subprocess
func DialMCP(ctx context.Context, spec string) (*MCPSource, error) {
	transport, err := buildTransport(spec)
	if err != nil {
		return nil, err
	}
	return ConnectMCP(ctx, sourceName(spec), transport)
}

// ConnectMCP performs the handshake over an already built transport.
func ConnectMCP(ctx context.Context, name string, transport mcpsdk.Transport) (*MCPSource, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: ClientName, Version: ClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mcp server %s: %w", name, err)
	}
	return &MCPSource{name: name, session: session}, nil
}

func (s *MCPSource) Name() string {
	return s.name
}

func (s *MCPSource) ListTools(ctx context.Context) ([]provider.ToolDescriptor, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	var result []provider.ToolDescriptor
	for t, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("failed to list tools of %s: %w", s.name, err)
		}
		if t == nil {
			continue
		}
		params, err := schemaMap(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s of %s: %w", t.Name, s.name, err)
		}
		result = append(result, provider.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return result, nil
}

func (s *MCPSource) CallTool(ctx context.Context, name, args string) (string, error) {
	arguments := map[string]any{}
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &arguments); err != nil {
			return "", &ClientError{Reason: "arguments must be a JSON object", Err: err}
		}
	}

	res, err := s.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", err
	}
	text, err := resultText(res)
	if err != nil {
		return "", err
	}
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", &ToolFailure{Message: text}
	}
	return text, nil
}

// Close ends the session. For stdio servers this also stops the subprocess.
func (s *MCPSource) Close() error {
	if s == nil || s.session == nil {
		return nil
	}
	return s.session.Close()
}

func resultText(res *mcpsdk.CallToolResult) (string, error) {
	if res == nil {
		return "", nil
	}
	var parts []string
	for _, c := range res.Content {
		switch content := c.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, content.Text)
		default:
			b, err := json.Marshal(content)
			if err != nil {
				return "", fmt.Errorf("malformed tool result: %w", err)
			}
			parts = append(parts, string(b))
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return "", fmt.Errorf("malformed tool result: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(parts, "\n"), nil
}

func schemaMap(schema any) (map[string]any, error) {
	switch s := schema.(type) {
	case nil:
		return provider.EmptyParameters(), nil
	case map[string]any:
		return s, nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("malformed input schema: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("malformed input schema: %w", err)
	}
	return result, nil
}

func buildTransport(spec string) (mcpsdk.Transport, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("mcp transport spec is empty")
	}

	lowered := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lowered, stdioSchemePrefix):
		return buildStdioTransport(spec[len(stdioSchemePrefix):])
	case strings.HasPrefix(lowered, sseSchemePrefix):
		endpoint, err := normalizeHTTPURL(spec[len(sseSchemePrefix):], true)
		if err != nil {
			return nil, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	}

	if kind, endpoint, matched, err := parseHTTPFamilySpec(spec); err != nil {
		return nil, err
	} else if matched {
		if kind == "stream" {
			return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	}

	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
		endpoint, err := normalizeHTTPURL(spec, false)
		if err != nil {
			return nil, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	}

	return buildStdioTransport(spec)
}

func buildStdioTransport(cmdSpec string) (mcpsdk.Transport, error) {
	parts := strings.Fields(cmdSpec)
	if len(parts) == 0 {
		return nil, errors.New("stdio command is empty")
	}
	// the subprocess lives as long as the session, not a request
	command := exec.Command(parts[0], parts[1:]...) // #nosec G204 -- comes from operator configuration
	return &mcpsdk.CommandTransport{Command: command}, nil
}

// parseHTTPFamilySpec recognizes http+sse:// and http+stream:// style schemes.
func parseHTTPFamilySpec(spec string) (kind, endpoint string, matched bool, err error) {
	u, parseErr := url.Parse(spec)
	if parseErr != nil || u.Scheme == "" {
		return "", "", false, nil
	}
	base, hint, hasHint := strings.Cut(strings.ToLower(u.Scheme), "+")
	if !hasHint || (base != "http" && base != "https") {
		return "", "", false, nil
	}
	switch hint {
	case "sse":
		kind = "sse"
	case "stream", "streamable", "http":
		kind = "stream"
	default:
		return "", "", true, fmt.Errorf("unsupported HTTP transport hint %q", hint)
	}
	normalized := *u
	normalized.Scheme = base
	endpoint, err = normalizeHTTPURL(normalized.String(), false)
	if err != nil {
		return "", "", true, fmt.Errorf("invalid %s endpoint: %w", kind, err)
	}
	return kind, endpoint, true, nil
}

func normalizeHTTPURL(raw string, guessScheme bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("endpoint is empty")
	}
	if guessScheme && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}

// sourceName derives a short label for logs: the host of a remote server or the
// command of a subprocess.
func sourceName(spec string) string {
	spec = strings.TrimSpace(spec)
	lowered := strings.ToLower(spec)
	if strings.HasPrefix(lowered, stdioSchemePrefix) {
		spec = spec[len(stdioSchemePrefix):]
	} else if strings.HasPrefix(lowered, sseSchemePrefix) {
		spec = "https://" + spec[len(sseSchemePrefix):]
	}
	if u, err := url.Parse(spec); err == nil && u.Host != "" {
		return u.Host
	}
	if fields := strings.Fields(spec); len(fields) > 0 {
		return filepath.Base(fields[0])
	}
	return "mcp"
}
