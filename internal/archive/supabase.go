// Package archive persists closed conversation logs to Supabase Storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/medibot/internal/conversation"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Enabled reports whether enough is configured to archive.
func (c Config) Enabled() bool {
	return c.URL != "" && c.ServiceRoleKey != "" && c.Bucket != ""
}

type uploadFunc func(bucket, key string, body io.Reader) error

// Storage implements conversation.Archiver.
type Storage struct {
	upload uploadFunc
	bucket string
	log    zerolog.Logger
	now    func() time.Time
}

func New(cfg Config, log zerolog.Logger) (*Storage, error) {
	if !cfg.Enabled() {
		return nil, errors.New("archive: SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY and SUPABASE_BUCKET are required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: create supabase client: %w", err)
	}
	upload := func(bucket, key string, body io.Reader) error {
		_, err := client.Storage.UploadFile(bucket, key, body)
		return err
	}
	return newStorage(upload, cfg.Bucket, log), nil
}

func newStorage(upload uploadFunc, bucket string, log zerolog.Logger) *Storage {
	return &Storage{upload: upload, bucket: bucket, log: log, now: time.Now}
}

// Document is the archived JSON shape.
type Document struct {
	ConversationID string              `json:"conversationId"`
	ArchivedAt     time.Time           `json:"archivedAt"`
	Turns          []conversation.Turn `json:"turns"`
}

// Key is the object path for a conversation archived at t.
func Key(id string, t time.Time) string {
	return path.Join("conversations", t.UTC().Format("2006/01/02"), id+".json")
}

// Archive uploads the log. Pending placeholders are archived as they are.
func (s *Storage) Archive(ctx context.Context, id string, turns []conversation.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	body, err := json.Marshal(Document{ConversationID: id, ArchivedAt: now.UTC(), Turns: turns})
	if err != nil {
		return fmt.Errorf("archive: encode: %w", err)
	}
	key := Key(id, now)
	if err := s.upload(s.bucket, key, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}
	s.log.Info().Str("conversation", id).Str("key", key).Int("turns", len(turns)).Msg("conversation archived")
	return nil
}
