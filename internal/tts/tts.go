// Package tts holds the speech synthesizers behind speech.Synthesizer.
package tts

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/speech"
)

// Providers accepted by New.
const (
	ProviderDeepgram   = "deepgram"
	ProviderElevenLabs = "elevenlabs"
	ProviderNone       = "none"
)

// Config selects and configures a synthesizer.
type Config struct {
	Provider          string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
}

// New returns the configured synthesizer, or nil for ProviderNone, which
// leaves the conversation text-only.
func New(cfg Config, log zerolog.Logger) (speech.Synthesizer, error) {
	switch cfg.Provider {
	case ProviderDeepgram, "":
		return NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, log.With().Str("tts", ProviderDeepgram).Logger()), nil
	case ProviderElevenLabs:
		return NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, log.With().Str("tts", ProviderElevenLabs).Logger()), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", cfg.Provider)
	}
}
