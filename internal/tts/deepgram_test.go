package tts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/medibot/internal/speech"
)

// Without an API key the stream errors quickly and never dials.
func TestDeepgram_StreamPCM48k_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.StreamPCM48k(ctx, "hello", speech.Voice{})
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestDeepgram_Voices(t *testing.T) {
	d := NewDeepgramClient("key", "", zerolog.Nop())
	voices := d.Voices()
	v, ok := speech.SelectVoice(voices, "es-MX")
	require.True(t, ok)
	assert.Equal(t, "aura-2-estrella-es", v.ID)
	v, _ = speech.SelectVoice(voices, "hi-IN")
	assert.Equal(t, defaultDeepgramModel, v.ID, "falls back to the English default")

	custom := NewDeepgramClient("key", "aura-2-custom-en", zerolog.Nop()).Voices()
	assert.Equal(t, "aura-2-custom-en", custom[0].ID)
	v, _ = speech.SelectVoice(custom, "en-US")
	assert.Equal(t, "aura-2-custom-en", v.ID)
}

func TestNew(t *testing.T) {
	s, err := New(Config{Provider: ProviderElevenLabs, ElevenLabsVoiceID: "v1"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ElevenLabsClient{}, s)

	s, err = New(Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &DeepgramClient{}, s)

	s, err = New(Config{Provider: ProviderNone}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = New(Config{Provider: "polly"}, zerolog.Nop())
	assert.Error(t, err)
}
