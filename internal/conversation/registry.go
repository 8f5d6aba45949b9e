package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/llm"
	"github.com/chadiek/medibot/internal/notify"
	"github.com/chadiek/medibot/internal/speech"
)

// ErrNotFound is returned for an unknown conversation id.
var ErrNotFound = errors.New("conversation: not found")

// Archiver persists the log of a closed conversation.
type Archiver interface {
	Archive(ctx context.Context, id string, turns []Turn) error
}

// Dialog is an attached voice overlay. Attaching a new one closes the old.
type Dialog interface {
	Close()
}

// State is the application state of one conversation: its log, its speech
// output and the voice dialog attached to it, if any.
type State struct {
	ID         string
	Controller *Controller
	Speaker    *speech.Speaker
	Created    time.Time

	mu     sync.Mutex
	dialog Dialog
	subs   map[int]func(Event)
	nextID int
}

// EventKind names a conversation event pushed to subscribers.
type EventKind string

const (
	EventTurn     EventKind = "turn"
	EventSpeaking EventKind = "speaking"
)

// Event is a change pushed to subscribers (websocket clients).
type Event struct {
	Kind     EventKind `json:"kind"`
	Turn     *Turn     `json:"turn,omitempty"`
	Speaking bool      `json:"speaking,omitempty"`
}

// Subscribe registers fn for turn and speaking events and returns the
// function that removes it. fn must not block.
func (s *State) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(Event))
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *State) publish(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// AttachDialog makes d the active dialog, closing any previous one.
func (s *State) AttachDialog(d Dialog) {
	s.mu.Lock()
	prev := s.dialog
	s.dialog = d
	s.mu.Unlock()
	if prev != nil && prev != d {
		prev.Close()
	}
}

// DetachDialog clears d if it is still the active dialog.
func (s *State) DetachDialog(d Dialog) {
	s.mu.Lock()
	if s.dialog == d {
		s.dialog = nil
	}
	s.mu.Unlock()
}

// RegistryConfig holds the collaborators shared by every conversation.
type RegistryConfig struct {
	Boundary    llm.Boundary
	Notifier    notify.Notifier
	Synthesizer speech.Synthesizer
	Archiver    Archiver
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// Registry holds the live conversations.
type Registry struct {
	cfg RegistryConfig

	mu    sync.RWMutex
	convs map[string]*State
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{cfg: cfg, convs: make(map[string]*State)}
}

// Create starts a conversation whose log opens with the greeting.
func (r *Registry) Create() *State {
	id := newID("conv")
	st := &State{ID: id, Created: time.Now()}
	log := r.cfg.Logger.With().Str("conversation", id).Logger()
	st.Speaker = speech.NewSpeaker(r.cfg.Synthesizer, func(s speech.State) {
		st.publish(Event{Kind: EventSpeaking, Speaking: s == speech.StateSpeaking})
	}, log)
	st.Controller = NewController(id, Deps{
		Boundary: r.cfg.Boundary,
		Notifier: r.cfg.Notifier,
		Speaker:  st.Speaker,
		Timeout:  r.cfg.Timeout,
		Logger:   r.cfg.Logger,
		OnTurn: func(t Turn) {
			st.publish(Event{Kind: EventTurn, Turn: &t})
		},
	})
	st.Controller.Greet()

	r.mu.Lock()
	r.convs[id] = st
	r.mu.Unlock()
	log.Info().Msg("conversation created")
	return st
}

// Get looks up a live conversation.
func (r *Registry) Get(id string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.convs)
}

// Close ends a conversation: the dialog and speech are cancelled, the log is
// archived when an archiver is configured, and the id is forgotten.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	st, ok := r.convs[id]
	delete(r.convs, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	st.mu.Lock()
	d := st.dialog
	st.dialog = nil
	st.mu.Unlock()
	if d != nil {
		d.Close()
	}
	st.Speaker.Cancel()

	if r.cfg.Archiver == nil {
		return nil
	}
	if err := r.cfg.Archiver.Archive(ctx, id, st.Controller.Turns()); err != nil {
		r.cfg.Logger.Error().Err(err).Str("conversation", id).Msg("archive failed")
		return err
	}
	return nil
}

// CloseAll ends every live conversation, used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.convs))
	for id := range r.convs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Close(ctx, id)
	}
}
