package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Session owns one continuous speech-to-text capture. Recognizer events are
// consumed by a single loop and applied through apply, so every transition
// happens in one place.
type Session struct {
	rec      Recognizer
	onChange func(Snapshot)
	log      zerolog.Logger

	mu      sync.Mutex
	state   State
	final   string
	interim string
	reason  string
	err     error
	stream  Stream
	cancel  context.CancelFunc
	// gen invalidates events from a stream that has been stopped.
	gen uint64
}

// NewSession constructs an idle session. rec may be nil when the platform
// has no recognizer; Open then fails with ErrUnsupportedCapability.
func NewSession(rec Recognizer, onChange func(Snapshot), log zerolog.Logger) *Session {
	return &Session{rec: rec, onChange: onChange, log: log}
}

// Open begins continuous capture in language. Failures leave the session in
// StateError with a human-readable reason and are not retried.
func (s *Session) Open(ctx context.Context, language string) error {
	s.mu.Lock()
	s.stopLocked()
	s.final, s.interim = "", ""
	if s.rec == nil {
		s.failLocked("Speech recognition is not supported.", ErrUnsupportedCapability)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
		return ErrUnsupportedCapability
	}

	// Start may dial a remote service, so it runs unlocked. Stop, Close or
	// another Open in the meantime cancels ctx, bumps gen and aborts this one.
	ctx, cancel := context.WithCancel(ctx)
	s.state = StateIdle
	s.cancel = cancel
	gen := s.gen
	rec := s.rec
	s.mu.Unlock()

	stream, err := rec.Start(ctx, language)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		cancel()
		if err == nil {
			_ = stream.Stop()
		}
		return ErrAborted
	}
	if err != nil {
		cancel()
		reason := "Could not start microphone. Check permissions."
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrUnsupportedCapability) {
			err = fmt.Errorf("%w: %v", ErrRecognition, err)
		}
		if errors.Is(err, ErrUnsupportedCapability) {
			reason = "Speech recognition is not supported."
		}
		s.failLocked(reason, err)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("language", language).Msg("capture open failed")
		s.notify(snap)
		return err
	}

	s.stream, s.cancel = stream, cancel
	s.state = StateListening
	s.reason, s.err = "", nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug().Str("language", language).Msg("capture listening")
	s.notify(snap)
	go s.consume(gen, stream.Events())
	return nil
}

func (s *Session) consume(gen uint64, events <-chan Event) {
	for ev := range events {
		s.apply(gen, ev)
	}
	s.apply(gen, Event{Kind: EventEnded})
}

func (s *Session) apply(gen uint64, ev Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	changed := true
	switch ev.Kind {
	case EventStarted:
		s.state = StateListening
		s.reason, s.err = "", nil
		s.interim = ""
	case EventResult:
		changed = s.updateLocked(ev.Final, ev.Text)
	case EventError:
		reason, err := reasonForCode(ev.Code)
		s.failLocked(reason, err)
	case EventEnded:
		if s.state == StateListening {
			s.state = StateIdle
		} else {
			changed = false
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.notify(snap)
	}
}

// Update applies one recognition result: final text is appended and clears
// the interim guess, interim text replaces the previous guess. Ignored
// unless listening.
func (s *Session) Update(isFinal bool, text string) {
	s.mu.Lock()
	changed := s.updateLocked(isFinal, text)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.notify(snap)
	}
}

func (s *Session) updateLocked(isFinal bool, text string) bool {
	if s.state != StateListening {
		return false
	}
	if isFinal {
		// a final result supersedes the partial it came from
		s.final += text
		s.interim = ""
		return true
	}
	s.interim = text
	return true
}

// Submit returns the captured transcript (final text, else interim), stops
// capture and clears both buffers for the next session.
func (s *Session) Submit() (string, error) {
	s.mu.Lock()
	text := strings.TrimSpace(s.final)
	if text == "" {
		text = strings.TrimSpace(s.interim)
	}
	s.stopLocked()
	if s.state == StateListening {
		s.state = StateIdle
	}
	s.final, s.interim = "", ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	if text == "" {
		return "", ErrNoSpeechCaptured
	}
	return text, nil
}

// Stop ends capture but keeps the buffers so the transcript can still be sent.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopLocked()
	if s.state == StateListening {
		s.state = StateIdle
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Close stops capture and discards buffers. Safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	wasActive := s.stream != nil || s.final != "" || s.interim != "" || s.state != StateIdle
	s.stopLocked()
	s.state = StateIdle
	s.final, s.interim = "", ""
	s.reason, s.err = "", nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if wasActive {
		s.notify(snap)
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Err returns the error that put the session into StateError, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) stopLocked() {
	s.gen++
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("recognizer stop")
		}
		s.stream = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) failLocked(reason string, err error) {
	s.stopLocked()
	s.state = StateError
	s.reason = reason
	s.err = err
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Final: s.final, Interim: s.interim, Reason: s.reason}
}

func (s *Session) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
