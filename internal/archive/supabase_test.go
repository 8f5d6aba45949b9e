package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/medibot/internal/conversation"
)

func TestArchive_UploadsDocument(t *testing.T) {
	var gotBucket, gotKey string
	var doc Document
	s := newStorage(func(bucket, key string, body io.Reader) error {
		gotBucket, gotKey = bucket, key
		return json.NewDecoder(body).Decode(&doc)
	}, "transcripts", zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	turns := []conversation.Turn{
		{ID: "ai-1", Role: conversation.RoleAssistant, Text: conversation.Greeting},
		{ID: "user-1", Role: conversation.RoleUser, Text: "I have a cough", Modality: conversation.ModalityTyped},
	}
	require.NoError(t, s.Archive(context.Background(), "conv-1", turns))
	assert.Equal(t, "transcripts", gotBucket)
	assert.Equal(t, "conversations/2026/03/04/conv-1.json", gotKey)
	assert.Equal(t, "conv-1", doc.ConversationID)
	require.Len(t, doc.Turns, 2)
	assert.Equal(t, "I have a cough", doc.Turns[1].Text)
}

func TestArchive_Errors(t *testing.T) {
	s := newStorage(func(string, string, io.Reader) error { return errors.New("403") }, "b", zerolog.Nop())
	err := s.Archive(context.Background(), "conv-1", nil)
	assert.ErrorContains(t, err, "403")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Archive(ctx, "conv-1", nil), context.Canceled)

	_, err = New(Config{URL: "https://x.supabase.co"}, zerolog.Nop())
	assert.Error(t, err)
}

// Archive satisfies the registry's archiver.
var _ conversation.Archiver = (*Storage)(nil)
