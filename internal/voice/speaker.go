package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/caarlos0/go-shellwords"
)

// ErrClosed is returned by Say after Close.
var ErrClosed = errors.New("speaker closed")

const queueSize = 4

// Runner executes one speech command.
type Runner func(ctx context.Context, args []string) error

// Speaker plays text through an external command, one utterance at a time,
// on a background goroutine. Say never waits for speech to finish.
type Speaker struct {
	args []string
	run  Runner
	log  *slog.Logger

	queue  chan string
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewSpeaker parses command (for example "say -v Samantha") and starts the
// worker. The text is passed as the last argument.
func NewSpeaker(command string, run Runner, log *slog.Logger) (*Speaker, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse voice command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("voice command is empty")
	}
	if run == nil {
		run = execRunner
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Speaker{
		args:   args,
		run:    run,
		log:    log,
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.loop()
	return s, nil
}

func execRunner(ctx context.Context, args []string) error {
	// #nosec G204 -- voice-command is configured by the local user.
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, out)
	}
	return nil
}

func (s *Speaker) loop() {
	defer close(s.done)
	for text := range s.queue {
		args := append(append([]string{}, s.args...), text)
		if err := s.run(s.ctx, args); err != nil && s.ctx.Err() == nil {
			s.log.Warn("speech failed", "err", err)
		}
	}
}

// Say queues text. When the queue is full the text is dropped.
func (s *Speaker) Say(text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- text:
	default:
		s.log.Debug("speech queue full, dropping utterance")
	}
	return nil
}

// Close stops accepting text, lets the current utterance finish for up to
// wait, then kills it.
func (s *Speaker) Close(wait time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-time.After(wait):
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-time.After(wait):
		return errors.New("speaker did not stop")
	}
}
