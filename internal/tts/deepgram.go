package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/speech"
)

const defaultDeepgramModel = "aura-2-thalia-en"

// Aura-2 voices. The model name doubles as the voice id.
var deepgramVoices = []speech.Voice{
	{ID: "aura-2-thalia-en", Name: "Thalia", Lang: "en-US", Default: true},
	{ID: "aura-2-andromeda-en", Name: "Andromeda", Lang: "en-US"},
	{ID: "aura-2-helena-en", Name: "Helena", Lang: "en-US"},
	{ID: "aura-2-draco-en", Name: "Draco", Lang: "en-GB", Default: true},
	{ID: "aura-2-theia-en", Name: "Theia", Lang: "en-AU", Default: true},
	{ID: "aura-2-celeste-es", Name: "Celeste", Lang: "es-CO", Default: true},
	{ID: "aura-2-estrella-es", Name: "Estrella", Lang: "es-MX", Default: true},
	{ID: "aura-2-nestor-es", Name: "Nestor", Lang: "es-ES", Default: true},
}

// DeepgramClient synthesizes speech with Deepgram Aura over the SDK websocket.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	log        zerolog.Logger
}

// NewDeepgramClient uses model as the default voice; an empty model selects Thalia.
func NewDeepgramClient(apiKey, model string, log zerolog.Logger) *DeepgramClient {
	if model == "" {
		model = defaultDeepgramModel
	}
	return &DeepgramClient{apiKey: apiKey, model: model, sampleRate: 48000, encoding: "linear16", log: log}
}

// Voices implements speech.Synthesizer. The configured model is the
// default voice for its language.
func (d *DeepgramClient) Voices() []speech.Voice {
	out := make([]speech.Voice, 0, len(deepgramVoices)+1)
	known := false
	for _, v := range deepgramVoices {
		if v.ID == d.model {
			known = true
		}
		out = append(out, v)
	}
	if !known {
		out = append([]speech.Voice{{ID: d.model, Name: d.model, Lang: "en-US", Default: true}}, out...)
	}
	return out
}

// StreamPCM48k implements speech.Synthesizer.
func (d *DeepgramClient) StreamPCM48k(ctx context.Context, text string, voice speech.Voice) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- errors.New("deepgram: API key missing")
			return
		}
		if text == "" {
			return
		}
		model := voice.ID
		if model == "" {
			model = d.model
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}

		var lastRecvUnix int64
		var seenAudio int32

		cb := &speakCallback{log: d.log, onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
			atomic.StoreInt32(&seenAudio, 1)
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			case <-ctx.Done():
			}
			return nil
		}}

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}

		var stopOnce sync.Once
		stopClient := func() { stopOnce.Do(func() { dg.Stop() }) }
		defer stopClient()

		if ok := dg.Connect(); !ok {
			errCh <- errors.New("deepgram: connect failed")
			return
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				stopClient()
			case <-done:
			}
		}()

		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			d.log.Warn().Err(err).Msg("deepgram flush")
		}

		// The socket stays open after the last frame; end the stream once
		// audio has stopped arriving for idleWindow.
		idleWindow := 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(12 * time.Second)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if time.Since(last) > idleWindow {
						return
					}
				}
				if time.Now().After(deadline) {
					d.log.Warn().Str("model", model).Msg("deepgram: no audio before deadline")
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakCallback struct {
	log      zerolog.Logger
	onBinary func([]byte) error
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(w *msginterfaces.WarningResponse) error {
	if w != nil {
		s.log.Warn().Interface("warning", w).Msg("deepgram warning")
	}
	return nil
}
func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	if e != nil {
		s.log.Error().Interface("error", e).Msg("deepgram error")
	}
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
