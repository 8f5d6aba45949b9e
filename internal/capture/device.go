package capture

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Device is the single speech-recognition device shared by a conversation.
// Only one session may capture at a time; opening a new one closes the
// previous holder.
type Device struct {
	rec Recognizer
	log zerolog.Logger

	mu     sync.Mutex
	active *Session
}

// NewDevice wraps rec. A nil rec yields sessions that fail with ErrUnsupportedCapability.
func NewDevice(rec Recognizer, log zerolog.Logger) *Device {
	return &Device{rec: rec, log: log}
}

// Open closes any active session and opens a new one. The returned session
// is valid even when err != nil; it is then in StateError.
func (d *Device) Open(ctx context.Context, language string, onChange func(Snapshot)) (*Session, error) {
	d.mu.Lock()
	prev := d.active
	s := NewSession(d.rec, onChange, d.log)
	d.active = s
	d.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return s, s.Open(ctx, language)
}

// Release closes s if it is still the active session.
func (d *Device) Release(s *Session) {
	d.mu.Lock()
	if d.active == s {
		d.active = nil
	}
	d.mu.Unlock()
	if s != nil {
		s.Close()
	}
}
