package capture

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedCapability means no speech recognizer is available.
	ErrUnsupportedCapability = errors.New("capture: speech recognition not supported")
	// ErrPermissionDenied means the microphone could not be accessed.
	ErrPermissionDenied = errors.New("capture: microphone access denied")
	// ErrNoSpeechCaptured is returned by Submit when nothing was recognized.
	ErrNoSpeechCaptured = errors.New("capture: no speech captured")
	// ErrRecognition covers every other recognizer failure.
	ErrRecognition = errors.New("capture: speech recognition error")
	// ErrAborted is returned by Open when the session was stopped, closed or
	// reopened while the recognizer was starting.
	ErrAborted = errors.New("capture: open aborted")
)

// Recognition error codes reported by recognizers (browser SpeechRecognition naming).
const (
	CodeNoSpeech     = "no-speech"
	CodeAudioCapture = "audio-capture"
	CodeNotAllowed   = "not-allowed"
)

// State of a capture session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateError
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// EventKind identifies a recognizer event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventResult
	EventError
	EventEnded
)

// Event is one message on a recognizer stream. Result events carry Text and
// Final; Error events carry Code.
type Event struct {
	Kind  EventKind
	Final bool
	Text  string
	Code  string
}

// Stream is one running recognition. Events is closed when recognition ends.
type Stream interface {
	Events() <-chan Event
	Stop() error
}

// Recognizer is a speech-to-text device. Start fails with ErrPermissionDenied
// when the microphone is unavailable.
type Recognizer interface {
	Start(ctx context.Context, language string) (Stream, error)
}

// Snapshot is a copy of session state for observers.
type Snapshot struct {
	State   State
	Final   string
	Interim string
	Reason  string
}

// Transcript is what the user sees: committed text followed by the interim guess.
func (s Snapshot) Transcript() string { return s.Final + s.Interim }

func reasonForCode(code string) (string, error) {
	switch code {
	case CodeNoSpeech:
		return "No speech detected. Please try speaking again.", ErrRecognition
	case CodeAudioCapture:
		return "Microphone error. Check permissions.", ErrRecognition
	case CodeNotAllowed:
		return "Microphone access denied. Enable permissions.", ErrPermissionDenied
	default:
		return "An error occurred during speech recognition.", ErrRecognition
	}
}
