// Package speech owns the single audio output of a conversation: it turns
// assistant replies into at most one active utterance and reports the
// Idle/Speaking transitions that drive the speaking indicator.
package speech

import "context"

// State is the observable speech output state.
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

func (s State) String() string {
	if s == StateSpeaking {
		return "speaking"
	}
	return "idle"
}

// Voice is one entry of a synthesizer's voice catalog.
type Voice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default"`
}

// Synthesizer streams 48kHz PCM mono audio for text in the given voice.
type Synthesizer interface {
	Voices() []Voice
	StreamPCM48k(ctx context.Context, text string, voice Voice) (<-chan []byte, <-chan error)
}

// Sink consumes 48kHz PCM bytes and performs delivery (Opus to WebRTC,
// binary websocket frames). Implementations buffer internally and pace delivery.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued audio immediately.
	Reset()
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) FlushTail()        {}
func (nopSink) Reset()            {}
