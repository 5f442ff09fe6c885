package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/mcp"
	"github.com/dotcommander/gizmo/internal/proto"
	"github.com/dotcommander/gizmo/internal/retrieval"
	"github.com/dotcommander/gizmo/internal/stream"
	"github.com/dotcommander/gizmo/internal/toolcall"
)

const (
	defaultMaxToolCalls = 5
	segmentSep          = " "
)

// Tools runs tool calls by name.
type Tools interface {
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Retriever finds document passages relevant to a question.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Passage, error)
}

// Hooks observe a turn. Any of them may be nil.
type Hooks struct {
	ToolStart func(call toolcall.Call)
	ToolDone  func(call ToolCall)
	Warning   func(msg string)
}

// ToolCall records one dispatched call and its outcome.
type ToolCall struct {
	Name   string
	Args   map[string]any
	Result string
	Err    error
}

// outcome is what the model is told about the call.
func (c ToolCall) outcome() string {
	if c.Err != nil {
		return fmt.Sprintf(toolFailure, c.Err)
	}
	return c.Result
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Prompt string
	// Text is the visible answer across all segments.
	Text    string
	Calls   []ToolCall
	Sources []string
	// Truncated is set when the answer wanted more tool calls than allowed.
	Truncated bool
}

// Service runs turns against one model.
//
// Turns are strictly sequential: a Service must not run two at once.
type Service struct {
	cfg       *config.Config
	client    stream.Client
	model     config.Model
	tools     Tools
	retriever Retriever
	parser    *toolcall.Parser
	hooks     Hooks
	log       *slog.Logger

	system  *string
	history []proto.Message
}

// Option configures a Service.
type Option func(*Service)

// WithTools connects a tool registry.
func WithTools(t Tools) Option { return func(s *Service) { s.tools = t } }

// WithRetriever adds document context to questions.
func WithRetriever(r Retriever) Option { return func(s *Service) { s.retriever = r } }

// WithHooks sets turn observers.
func WithHooks(h Hooks) Option { return func(s *Service) { s.hooks = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New creates a service streaming from client.
func New(cfg *config.Config, client stream.Client, model config.Model, opts ...Option) *Service {
	marker := cfg.Marker
	if marker == "" {
		marker = config.DefaultMarker
	}
	s := &Service{
		cfg:    cfg,
		client: client,
		model:  model,
		parser: toolcall.NewParser(marker),
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Parser returns the parser for the configured marker.
func (s *Service) Parser() *toolcall.Parser { return s.parser }

// History returns the remembered conversation.
func (s *Service) History() proto.Conversation { return slices.Clone(s.history) }

// Reset forgets the conversation.
func (s *Service) Reset() { s.history = nil }

// Restore replaces the remembered conversation, e.g. with a recorded
// session. System messages are dropped; the system prompt is rebuilt.
func (s *Service) Restore(convo proto.Conversation) {
	s.history = slices.DeleteFunc(slices.Clone(convo), func(m proto.Message) bool {
		return m.Role == proto.RoleSystem
	})
}

// SystemPrompt returns the configured system prompt followed by the tool
// instructions. It is computed once.
func (s *Service) SystemPrompt(ctx context.Context) (string, error) {
	if s.system != nil {
		return *s.system, nil
	}
	var parts []string
	if s.cfg.System != "" {
		sys, err := config.ReadSystemPrompt(ctx, s.cfg.System)
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Could not load the system prompt."}
		}
		parts = append(parts, sys)
	}
	if s.tools != nil {
		tp, err := ToolPrompt(s.parser.Marker(), s.tools.Tools())
		if err != nil {
			return "", err
		}
		if tp != "" {
			parts = append(parts, tp)
		}
	}
	sys := strings.Join(parts, "\n\n")
	s.system = &sys
	return sys, nil
}

// Intro runs the greeting turn. It is not remembered.
func (s *Service) Intro(ctx context.Context, sink toolcall.Sink) (TurnResult, error) {
	return s.turn(ctx, s.cfg.IntroPrompt, sink, false)
}

// Turn answers prompt, streaming visible text to sink. Tool failures never
// end the turn: they are handed to the model as the call's result. The
// error return is reserved for generation failures and cancellation.
func (s *Service) Turn(ctx context.Context, prompt string, sink toolcall.Sink) (TurnResult, error) {
	return s.turn(ctx, prompt, sink, true)
}

func (s *Service) turn(ctx context.Context, prompt string, sink toolcall.Sink, remember bool) (TurnResult, error) {
	res := TurnResult{Prompt: prompt}

	input := prompt
	if remember {
		var err error
		input, res.Sources, err = s.withContext(ctx, prompt)
		if err != nil {
			return res, err
		}
	}

	maxCalls := s.cfg.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = defaultMaxToolCalls
	}

	out := &joinSink{sink: sink, sep: segmentSep}
	st := toolcall.NewState(s.parser, out, s.cfg.MaxCallBytes)
	var segments []string
	for depth := 0; ; depth++ {
		out.next(len(segments) > 0)
		st.Reset()
		if err := s.generate(ctx, input, st); err != nil {
			if v := st.Visible(); v != "" {
				segments = append(segments, v)
			}
			res.Text = strings.Join(segments, segmentSep)
			return res, err
		}
		if v := st.Visible(); v != "" {
			segments = append(segments, v)
		}
		if st.Mode() == toolcall.Live {
			break
		}
		if depth >= maxCalls {
			s.log.Warn("tool call limit reached", "limit", maxCalls)
			res.Truncated = true
			break
		}

		call, found := st.Call()
		tc := s.dispatch(ctx, call, found)
		res.Calls = append(res.Calls, tc)

		next, err := continuationPrompt(prompt, strings.Join(segments, segmentSep), tc.outcome())
		if err != nil {
			return res, err
		}
		input = next
	}

	res.Text = strings.Join(segments, segmentSep)
	if remember {
		s.history = append(s.history,
			proto.Message{Role: proto.RoleUser, Content: prompt},
			proto.Message{Role: proto.RoleAssistant, Content: res.Text},
		)
	}
	return res, nil
}

func (s *Service) withContext(ctx context.Context, prompt string) (string, []string, error) {
	if s.retriever == nil || !s.cfg.Retrieval {
		return prompt, nil, nil
	}
	passages, err := s.retriever.Search(ctx, prompt, s.cfg.RetrievalTopK)
	if err != nil {
		s.log.Warn("document search failed", "err", err)
		return prompt, nil, nil
	}
	if len(passages) == 0 {
		return prompt, nil, nil
	}
	input, err := contextPrompt(prompt, passages)
	if err != nil {
		return "", nil, err
	}
	sources := make([]string, 0, len(passages))
	for _, p := range passages {
		sources = append(sources, p.ID)
	}
	return input, sources, nil
}

func (s *Service) dispatch(ctx context.Context, call toolcall.Call, found bool) ToolCall {
	tc := ToolCall{Name: call.Name, Args: call.Args}
	switch {
	case !found:
		tc.Err = fmt.Errorf("%w: the marker was not followed by a call", mcp.ErrToolNotFound)
	case s.tools == nil:
		tc.Err = fmt.Errorf("%w: %q, no tools are connected", mcp.ErrToolNotFound, call.Name)
	default:
		if s.hooks.ToolStart != nil {
			s.hooks.ToolStart(call)
		}
		tc.Result, tc.Err = s.tools.CallTool(ctx, call.Name, call.Args)
	}
	if tc.Err != nil {
		s.log.Debug("tool call failed", "tool", call.Name, "err", tc.Err)
	} else {
		s.log.Debug("tool call", "tool", call.Name, "result", tc.Result)
	}
	if s.hooks.ToolDone != nil {
		s.hooks.ToolDone(tc)
	}
	return tc
}

// generate streams one segment into st, retrying provider failures that
// happen before anything was shown.
func (s *Service) generate(ctx context.Context, input string, st *toolcall.State) error {
	for attempt := 0; ; attempt++ {
		msgs, err := s.messages(ctx, input)
		if err != nil {
			return err
		}
		err = s.stream(ctx, msgs, st)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("generation: %w", ctx.Err())
		}
		var werr writeError
		if errors.As(err, &werr) {
			return werr.err
		}

		action := ActionForStreamError(err, s.model, input)
		if !action.Retry || attempt >= s.cfg.MaxRetries || st.Text() != "" {
			return action.Err
		}
		s.log.Debug("retrying generation", "attempt", attempt+1, "err", err)
		input = action.Prompt
		st.Reset()
	}
}

type writeError struct{ err error }

func (e writeError) Error() string { return e.err.Error() }

func (s *Service) stream(ctx context.Context, msgs []proto.Message, st *toolcall.State) error {
	gen := s.client.Request(ctx, s.request(msgs))
	defer gen.Close() //nolint:errcheck

	for gen.Next() {
		chunk, err := gen.Current()
		if errors.Is(err, stream.ErrNoContent) {
			continue
		}
		if err != nil {
			return err //nolint:wrapcheck
		}
		if err := st.Feed(chunk.Content); err != nil {
			if errors.Is(err, toolcall.ErrCallTooLarge) {
				s.log.Warn("tool call abandoned", "err", err)
				return nil
			}
			return writeError{fmt.Errorf("write output: %w", err)}
		}
		if st.Ready() {
			// The call is complete; the rest of the generation is not needed.
			return nil
		}
	}
	for _, w := range gen.DrainWarnings() {
		if s.hooks.Warning != nil {
			s.hooks.Warning(w)
		}
	}
	return gen.Err() //nolint:wrapcheck
}

func (s *Service) messages(ctx context.Context, input string) ([]proto.Message, error) {
	sys, err := s.SystemPrompt(ctx)
	if err != nil {
		return nil, err
	}
	msgs := make([]proto.Message, 0, len(s.history)+2)
	if sys != "" {
		msgs = append(msgs, proto.Message{Role: proto.RoleSystem, Content: sys})
	}
	msgs = append(msgs, s.history...)
	msgs = append(msgs, proto.Message{Role: proto.RoleUser, Content: input})
	return msgs, nil
}

func (s *Service) request(msgs []proto.Message) proto.Request {
	cfg := s.cfg
	req := proto.Request{
		Messages: msgs,
		API:      s.model.API,
		Model:    s.model.Name,
		User:     cfg.User,
	}
	if cfg.Temperature >= 0 {
		v := cfg.Temperature
		req.Temperature = &v
	}
	if cfg.TopP >= 0 {
		v := cfg.TopP
		req.TopP = &v
	}
	if cfg.TopK >= 0 {
		v := cfg.TopK
		req.TopK = &v
	}
	if cfg.MaxTokens > 0 {
		v := cfg.MaxTokens
		req.MaxTokens = &v
	}
	return req
}

// joinSink puts sep between the segments of a turn. The separator is shown
// with the first text of a segment, so a segment that shows nothing adds
// nothing, matching how the answer text is joined.
type joinSink struct {
	sink toolcall.Sink
	sep  string
	// pending is set while the segment still owes the separator; lead is
	// the separator once shown in this segment.
	pending bool
	lead    string
}

// next starts a segment. after tells whether earlier segments showed text.
func (j *joinSink) next(after bool) {
	j.pending, j.lead = after, ""
}

func (j *joinSink) Forward(chunk string) error {
	if chunk == "" {
		return nil
	}
	if j.pending {
		j.pending, j.lead = false, j.sep
		chunk = j.sep + chunk
	}
	return j.sink.Forward(chunk) //nolint:wrapcheck
}

func (j *joinSink) Retract(shown, visible string) error {
	switch {
	case j.lead != "":
		shown = j.lead + shown
		if visible != "" {
			visible = j.lead + visible
		}
	case j.pending && visible != "":
		j.pending, j.lead = false, j.sep
		visible = j.sep + visible
	}
	return j.sink.Retract(shown, visible) //nolint:wrapcheck
}
