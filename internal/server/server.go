// Package server exposes the orchestration loop over HTTP.
//
//	POST /v1/chat              run a conversation turn, frames stream back as server-sent events
//	                           followed by a history event with the turns the run added
//	GET  /v1/runs/{id}/frames  observe the frames of a run from another connection
//	GET  /v1/tools             list the tools the model can call
//	GET  /metrics              prometheus metrics
//	GET  /healthz              liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/casualjim/toolstream/events"
	"github.com/casualjim/toolstream/internal/broker"
	"github.com/casualjim/toolstream/internal/executor"
	"github.com/casualjim/toolstream/internal/shorttermmemory"
	"github.com/casualjim/toolstream/messages"
	"github.com/casualjim/toolstream/pkg/slogx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the server settings.
type Config struct {
	// Model is used when a request doesn't name one.
	Model string
	// Prepare applies process wide defaults to every run.
	Prepare func(executor.RunCommand) executor.RunCommand
	// Broker republishes the frames of every run on a topic named after the run id.
	Broker broker.Broker
}

type Option = opts.Option[Config]

var (
	WithModel   = opts.ForName[Config, string]("Model")
	WithPrepare = opts.ForName[Config, func(executor.RunCommand) executor.RunCommand]("Prepare")
	WithBroker  = opts.ForName[Config, broker.Broker]("Broker")
)

// Server serves the HTTP API.
type Server struct {
	loop  *executor.Loop
	tools executor.Tools
	cfg   Config
	mux   *http.ServeMux
}

// New creates a server. tools may be nil when no tools are configured.
func New(loop *executor.Loop, tools executor.Tools, options ...Option) (*Server, error) {
	if loop == nil {
		return nil, errors.New("loop is required")
	}
	var cfg Config
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if cfg.Broker == nil {
		cfg.Broker = broker.Local()
	}

	s := &Server{loop: loop, tools: tools, cfg: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/runs/{id}/frames", s.handleFrames)
	s.mux.HandleFunc("GET /v1/tools", s.handleTools)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	// RunID lets a caller subscribe to the run before it starts. Generated when empty.
	RunID string `json:"run_id,omitempty"`
	Model string `json:"model,omitempty"`
	// Message is the new user message.
	Message string `json:"message"`
	// History is the conversation before Message, as stored by the caller.
	History []messages.Turn `json:"history,omitempty"`
	// Context is retrieved text the model should use, References name its sources.
	Context    string   `json:"context,omitempty"`
	References []string `json:"references,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	history := shorttermmemory.New(req.History...)
	history.Append(messages.User(req.Message))

	model := req.Model
	if model == "" {
		model = s.cfg.Model
	}
	cmd, err := executor.NewRunCommand(model, history)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.cfg.Prepare != nil {
		cmd = s.cfg.Prepare(cmd)
	}
	if req.RunID != "" {
		id, err := uuid.Parse(req.RunID)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
			return
		}
		cmd = cmd.WithRunID(id)
	}
	cmd = cmd.WithContext(req.Context, req.References...)
	if err := cmd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("X-Run-Id", cmd.ID().String())
	sse, err := events.NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	observed := publish(ctx, s.cfg.Broker.Topic(ctx, cmd.ID().String()))
	err = s.loop.Run(ctx, cmd, events.Tee(sse, observed))
	observed.Close()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// the failure was already explained in the stream
		slog.DebugContext(ctx, "chat run ended with error", slogx.RunID(cmd.ID()), slogx.Error(err))
	}

	turns := history.Turns()[len(req.History):]
	if err := sse.Event(ctx, historyEvent, ChatHistory{RunID: cmd.ID(), Turns: turns}); err != nil {
		slog.DebugContext(ctx, "failed to send history", slogx.RunID(cmd.ID()), slogx.Error(err))
	}
}

// historyEvent names the event that follows the end frame of a chat stream.
const historyEvent = "history"

// ChatHistory carries the turns a run added to the conversation, starting with the new
// user message. Callers append them to the history they send with the next request.
type ChatHistory struct {
	RunID uuid.UUID       `json:"run_id"`
	Turns []messages.Turn `json:"turns"`
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
		return
	}

	topic := s.cfg.Broker.Topic(ctx, id.String())
	defer topic.Close()

	frames := make(chan events.Frame, 64)
	sub, err := topic.Subscribe(ctx, func(ctx context.Context, f events.Frame) {
		select {
		case frames <- f:
		case <-ctx.Done():
		}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer sub.Unsubscribe()

	sse, err := events.NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for {
		select {
		case f := <-frames:
			if err := sse.Send(ctx, f); err != nil {
				return
			}
			if f.Kind == events.KindEnd {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// publishBuffer is the number of frames a run may get ahead of its observers before
// frames are dropped.
const publishBuffer = 256

// publisher republishes frames on the run topic from its own goroutine, so a slow broker
// never holds up the caller. A failing broker never stops the run.
type publisher struct {
	topic  broker.Topic
	frames chan events.Frame
}

func publish(ctx context.Context, topic broker.Topic) *publisher {
	p := &publisher{
		topic:  topic,
		frames: make(chan events.Frame, publishBuffer),
	}
	go p.run(context.WithoutCancel(ctx))
	return p
}

func (p *publisher) run(ctx context.Context) {
	for frame := range p.frames {
		if err := p.topic.Publish(ctx, frame); err != nil {
			slog.WarnContext(ctx, "failed to publish frame", slogx.RunID(frame.RunID), slogx.Error(err))
		}
	}
	if err := p.topic.Close(); err != nil {
		slog.WarnContext(ctx, "failed to release topic", slogx.Error(err))
	}
}

func (p *publisher) Send(ctx context.Context, frame events.Frame) error {
	select {
	case p.frames <- frame:
	default:
		slog.WarnContext(ctx, "observers are behind, dropping frame", slogx.RunID(frame.RunID), slog.Uint64("seq", frame.Seq))
	}
	return nil
}

// Close stops accepting frames. Queued frames are still published, then the topic is
// released.
func (p *publisher) Close() {
	close(p.frames)
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	result := []toolInfo{}
	if s.tools != nil {
		tools, err := s.tools.ListTools(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		for _, t := range tools {
			result = append(result, toolInfo(t))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slogx.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
