package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/medibot/internal/speech"
)

func drain(t *testing.T, pcmCh <-chan []byte, errCh <-chan error) ([]byte, error) {
	t.Helper()
	var pcm []byte
	var err error
	timeout := time.After(2 * time.Second)
	for pcmCh != nil || errCh != nil {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			pcm = append(pcm, b...)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			err = e
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
	return pcm, err
}

func TestElevenLabs_Stream(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1/stream", r.URL.Path)
		assert.Equal(t, "pcm_48000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte{1, 2, 3, 4, 5, 6})
	}))
	defer srv.Close()

	e := NewElevenLabsClient("secret", "voice-1", zerolog.Nop())
	e.BaseURL = srv.URL
	voice := e.Voices()[0]
	pcmCh, errCh := e.StreamPCM48k(context.Background(), "Rest well.", voice)
	pcm, err := drain(t, pcmCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, pcm)
	assert.Equal(t, "Rest well.", body["text"])
}

func TestElevenLabs_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad key"}`))
	}))
	defer srv.Close()

	e := NewElevenLabsClient("bad", "voice-1", zerolog.Nop())
	e.BaseURL = srv.URL
	pcmCh, errCh := e.StreamPCM48k(context.Background(), "hi", speech.Voice{})
	_, err := drain(t, pcmCh, errCh)
	assert.ErrorContains(t, err, "status=401")

	missing := NewElevenLabsClient("", "", zerolog.Nop())
	assert.Empty(t, missing.Voices())
	pcmCh, errCh = missing.StreamPCM48k(context.Background(), "hi", speech.Voice{})
	_, err = drain(t, pcmCh, errCh)
	assert.Error(t, err)
}
