package fantasybridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"charm.land/fantasy"
	fopenai "charm.land/fantasy/providers/openai"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"

	"github.com/dotcommander/gizmo/internal/proto"
	"github.com/dotcommander/gizmo/internal/stream"
)

var _ stream.Client = &Client{}

// Client is a stream.Client backed by charm.land/fantasy.
type Client struct {
	provider fantasy.Provider
	config   Config
}

// New creates a new Fantasy-backed stream client.
func New(cfg Config) (*Client, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{provider: provider, config: cfg}, nil
}

// Request implements stream.Client.
func (c *Client) Request(ctx context.Context, request proto.Request) stream.Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ctx:         streamCtx,
		cancel:      cancel,
		request:     request,
		api:         c.config.API,
		warningSeen: map[string]struct{}{},
	}
	if err := s.start(c.provider); err != nil {
		s.err = err
	}
	return s
}

// Stream is a stream.Stream implementation backed by fantasy stream events.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	request proto.Request
	api     string

	mu sync.Mutex

	partCh          chan fantasy.StreamPart
	last            fantasy.StreamPart
	err             error
	warningSeen     map[string]struct{}
	pendingWarnings []string
}

// Next implements stream.Stream.
func (s *Stream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || s.partCh == nil {
		return false
	}
	part, ok := <-s.partCh
	if !ok {
		return false
	}
	s.last = part
	s.consumePart(part)
	return true
}

// Current implements stream.Stream.
func (s *Stream) Current() (proto.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.last.Type {
	case fantasy.StreamPartTypeTextDelta:
		return proto.Chunk{Content: s.last.Delta}, nil
	case fantasy.StreamPartTypeError:
		if s.last.Error != nil {
			return proto.Chunk{}, s.last.Error
		}
	}
	return proto.Chunk{}, stream.ErrNoContent
}

// Close implements stream.Stream. It stops the underlying generation; any
// parts still in flight are discarded.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

// Err implements stream.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// DrainWarnings implements stream.Stream.
func (s *Stream) DrainWarnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	warnings := s.pendingWarnings
	s.pendingWarnings = nil
	return warnings
}

func (s *Stream) start(provider fantasy.Provider) error {
	model, err := provider.LanguageModel(s.ctx, s.request.Model)
	if err != nil {
		return fmt.Errorf("fantasy language model: %w", err)
	}

	seq, err := model.Stream(s.ctx, s.buildCall())
	if err != nil {
		return fmt.Errorf("fantasy stream: %w", err)
	}

	s.partCh = make(chan fantasy.StreamPart, 64)
	go func() {
		defer close(s.partCh)
		for part := range seq {
			select {
			case <-s.ctx.Done():
				return
			case s.partCh <- part:
			}
		}
	}()
	return nil
}

func (s *Stream) buildCall() fantasy.Call {
	call := fantasy.Call{
		Prompt:          toFantasyPrompt(s.request.Messages),
		MaxOutputTokens: s.request.MaxTokens,
		Temperature:     s.request.Temperature,
		TopP:            s.request.TopP,
		TopK:            s.request.TopK,
		ProviderOptions: fantasy.ProviderOptions{},
	}

	if s.request.User == "" {
		return call
	}
	user := s.request.User
	switch s.api {
	case apiOpenAI, apiAzure:
		call.ProviderOptions[fopenai.Name] = &fopenai.ProviderOptions{User: &user}
	case apiAnthropic, apiGoogle, apiOpenRouter, apiVercel, apiBedrock:
		// no user field
	default:
		call.ProviderOptions[fopenaicompat.Name] = &fopenaicompat.ProviderOptions{User: &user}
	}
	return call
}

func (s *Stream) consumePart(part fantasy.StreamPart) {
	switch part.Type {
	case fantasy.StreamPartTypeError:
		s.err = part.Error
	case fantasy.StreamPartTypeWarnings:
		for _, warning := range part.Warnings {
			text := warningText(warning)
			key := string(warning.Type) + ":" + text
			if _, exists := s.warningSeen[key]; exists {
				continue
			}
			s.warningSeen[key] = struct{}{}
			s.pendingWarnings = append(s.pendingWarnings, text)
		}
	default:
	}
}

func warningText(w fantasy.CallWarning) string {
	if text := strings.TrimSpace(w.Message); text != "" {
		return text
	}
	if text := strings.TrimSpace(w.Details); text != "" {
		return text
	}
	if w.Setting != "" {
		return "unsupported setting: " + w.Setting
	}
	return "provider warning"
}
