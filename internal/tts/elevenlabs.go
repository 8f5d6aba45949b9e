package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/speech"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsModel   = "eleven_flash_v2_5"
)

// ElevenLabsClient streams PCM_48000 audio from the ElevenLabs HTTP
// streaming endpoint. The flash model is multilingual, so one configured
// voice serves every language.
type ElevenLabsClient struct {
	APIKey     string
	VoiceID    string
	BaseURL    string
	HTTPClient *http.Client
	log        zerolog.Logger
}

func NewElevenLabsClient(apiKey, voiceID string, log zerolog.Logger) *ElevenLabsClient {
	return &ElevenLabsClient{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		BaseURL:    elevenLabsBaseURL,
		HTTPClient: &http.Client{},
		log:        log,
	}
}

// Voices implements speech.Synthesizer.
func (e *ElevenLabsClient) Voices() []speech.Voice {
	if e.VoiceID == "" {
		return nil
	}
	return []speech.Voice{{ID: e.VoiceID, Name: "ElevenLabs " + e.VoiceID, Default: true}}
}

// StreamPCM48k implements speech.Synthesizer.
func (e *ElevenLabsClient) StreamPCM48k(ctx context.Context, text string, voice speech.Voice) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		voiceID := voice.ID
		if voiceID == "" {
			voiceID = e.VoiceID
		}
		if e.APIKey == "" || voiceID == "" {
			errCh <- errors.New("elevenlabs: api key or voice id missing")
			return
		}
		if err := e.httpStream(ctx, voiceID, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsClient) httpStream(ctx context.Context, voiceID, text string, pcmCh chan<- []byte) error {
	base := e.BaseURL
	if base == "" {
		base = elevenLabsBaseURL
	}
	u, err := url.Parse(base + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("output_format", "pcm_48000")
	// 0..4, lower trades quality for latency
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": elevenLabsModel,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("elevenlabs: http stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	total := 0
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			total += n
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return nil
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || ctx.Err() != nil {
				e.log.Debug().Int("bytes", total).Msg("elevenlabs stream done")
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", rerr)
		}
	}
}
