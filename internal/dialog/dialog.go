// Package dialog is the voice-conversation overlay: it drives one capture
// session per spoken turn and derives what the user sees from the capture
// state, the pending turn and the speech output.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/capture"
	"github.com/chadiek/medibot/internal/conversation"
)

var (
	// ErrBusy rejects a send while the previous one awaits its response.
	ErrBusy = errors.New("dialog: awaiting response")
	// ErrNotReady rejects an action the current state does not allow.
	ErrNotReady = errors.New("dialog: action not allowed in current state")
	// ErrClosed is returned for actions on a closed dialog, and by Send when
	// the dialog was closed before the response arrived.
	ErrClosed = errors.New("dialog: closed")
)

// State of the overlay. It is derived on demand, never stored.
type State int

const (
	StateClosed State = iota
	StateListening
	StateError
	StateReadyToSend
	StateAwaitingResponse
	// StateResponded is the idle-ready state: open, not capturing, nothing to send.
	StateResponded
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	case StateReadyToSend:
		return "ready_to_send"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateResponded:
		return "responded"
	default:
		return "closed"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateClosed; st <= StateResponded; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("dialog: unknown state %q", b)
}

// Controls is which overlay actions are currently enabled.
type Controls struct {
	Listen bool `json:"listen"`
	Stop   bool `json:"stop"`
	Send   bool `json:"send"`
	Close  bool `json:"close"`
}

// View is everything the overlay renders.
type View struct {
	State      State              `json:"state"`
	Transcript string             `json:"transcript"`
	Reason     string             `json:"reason,omitempty"`
	Reply      *conversation.Turn `json:"reply,omitempty"`
	Notice     string             `json:"notice,omitempty"`
	Speaking   bool               `json:"speaking"`
	Controls   Controls           `json:"controls"`
}

// Submitter sends a spoken turn; *conversation.Controller implements it.
type Submitter interface {
	Submit(ctx context.Context, text string, modality conversation.Modality, language string) (conversation.Outcome, error)
}

// SpeechControl is the part of the speech output the dialog cancels.
type SpeechControl interface {
	Cancel()
}

// Dialog is one voice overlay bound to a conversation.
type Dialog struct {
	device   *capture.Device
	conv     Submitter
	speech   SpeechControl
	language string
	onChange func(View)
	log      zerolog.Logger

	mu       sync.Mutex
	open     bool
	session  *capture.Session
	snap     capture.Snapshot
	awaiting bool
	reply    *conversation.Turn
	notice   string
	speaking bool
	// gen changes on every Open/Listen/Close so callbacks and responses
	// belonging to an earlier capture or a closed dialog are dropped.
	gen uint64

	emitMu sync.Mutex
}

// New returns a closed dialog. onChange receives every view change and must
// not call back into the Dialog.
func New(device *capture.Device, conv Submitter, speech SpeechControl, language string, onChange func(View), log zerolog.Logger) *Dialog {
	return &Dialog{device: device, conv: conv, speech: speech, language: language, onChange: onChange, log: log}
}

// Open shows the overlay and starts listening. A capture failure leaves the
// dialog open in StateError and is returned. Reopening while a turn is
// awaiting its response fails with ErrBusy.
func (d *Dialog) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.open && d.awaiting {
		d.mu.Unlock()
		return ErrBusy
	}
	d.open = true
	d.reply, d.notice = nil, ""
	d.mu.Unlock()
	return d.startCapture(ctx)
}

// Listen restarts capture after an error or a response.
func (d *Dialog) Listen(ctx context.Context) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.awaiting {
		d.mu.Unlock()
		return ErrBusy
	}
	d.notice = ""
	d.mu.Unlock()
	return d.startCapture(ctx)
}

func (d *Dialog) startCapture(ctx context.Context) error {
	// the microphone would pick up our own voice
	d.speech.Cancel()

	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.snap = capture.Snapshot{}
	d.mu.Unlock()

	s, err := d.device.Open(ctx, d.language, d.captureChanged(gen))

	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		d.device.Release(s)
		return ErrClosed
	}
	d.session = s
	d.snap = s.Snapshot()
	d.emitAndUnlock()
	if err != nil {
		d.log.Warn().Err(err).Msg("dialog capture failed")
	}
	return err
}

func (d *Dialog) captureChanged(gen uint64) func(capture.Snapshot) {
	return func(snap capture.Snapshot) {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.snap = snap
		d.emitAndUnlock()
	}
}

// Stop ends capture and keeps the transcript for an explicit send.
func (d *Dialog) Stop() error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return ErrClosed
	}
	s := d.session
	d.mu.Unlock()
	if s != nil {
		s.Stop()
	}
	return nil
}

// Send submits the captured transcript as a spoken turn and blocks until
// the turn resolves. Speech in progress is cancelled. A second Send while
// waiting fails with ErrBusy; a response arriving after Close is discarded
// and reported as ErrClosed.
func (d *Dialog) Send(ctx context.Context) (conversation.Outcome, error) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return conversation.Outcome{}, ErrClosed
	}
	if d.awaiting {
		d.mu.Unlock()
		return conversation.Outcome{}, ErrBusy
	}
	if st := d.stateLocked(); st != StateListening && st != StateReadyToSend {
		d.mu.Unlock()
		return conversation.Outcome{}, ErrNotReady
	}
	d.awaiting = true
	gen := d.gen
	s := d.session
	d.mu.Unlock()

	text, err := s.Submit()
	if err != nil {
		d.mu.Lock()
		d.awaiting = false
		if gen == d.gen {
			d.notice = "No speech captured. Please try again."
		}
		d.emitAndUnlock()
		return conversation.Outcome{}, err
	}
	d.speech.Cancel()
	d.mu.Lock()
	d.reply, d.notice = nil, ""
	d.emitAndUnlock()

	out, err := d.conv.Submit(ctx, text, conversation.ModalitySpoken, d.language)

	d.mu.Lock()
	if gen != d.gen || !d.open {
		d.mu.Unlock()
		d.log.Debug().Str("turn", out.User.ID).Msg("response for closed dialog discarded")
		return out, ErrClosed
	}
	d.awaiting = false
	if out.Reply.ID != "" {
		reply := out.Reply
		d.reply = &reply
	}
	d.notice = out.Notice
	d.emitAndUnlock()
	return out, err
}

// SetSpeaking mirrors the speech output state into the view.
func (d *Dialog) SetSpeaking(speaking bool) {
	d.mu.Lock()
	if d.speaking == speaking {
		d.mu.Unlock()
		return
	}
	d.speaking = speaking
	d.emitAndUnlock()
}

// Close hides the overlay and cancels capture and speech unconditionally.
// An in-flight turn still completes in the conversation log.
func (d *Dialog) Close() {
	d.mu.Lock()
	wasOpen := d.open
	d.open = false
	d.gen++
	s := d.session
	d.session = nil
	d.snap = capture.Snapshot{}
	d.awaiting = false
	d.reply, d.notice = nil, ""
	d.mu.Unlock()

	if s != nil {
		d.device.Release(s)
	}
	d.speech.Cancel()
	if wasOpen {
		d.mu.Lock()
		d.emitAndUnlock()
	}
}

// View returns the current view.
func (d *Dialog) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked()
}

func (d *Dialog) stateLocked() State {
	switch {
	case !d.open:
		return StateClosed
	case d.awaiting:
		return StateAwaitingResponse
	case d.snap.State == capture.StateListening:
		return StateListening
	case d.snap.State == capture.StateError:
		return StateError
	case d.snap.Transcript() != "":
		return StateReadyToSend
	default:
		return StateResponded
	}
}

func (d *Dialog) viewLocked() View {
	st := d.stateLocked()
	return View{
		State:      st,
		Transcript: d.snap.Transcript(),
		Reason:     d.snap.Reason,
		Reply:      d.reply,
		Notice:     d.notice,
		Speaking:   d.speaking,
		Controls:   ControlsFor(st, d.snap.Transcript() != ""),
	}
}

// ControlsFor is the enable matrix. Speaking never disables an action:
// Listen and Send cancel it.
func ControlsFor(st State, hasTranscript bool) Controls {
	switch st {
	case StateListening:
		return Controls{Stop: true, Send: hasTranscript, Close: true}
	case StateError:
		return Controls{Listen: true, Close: true}
	case StateReadyToSend:
		return Controls{Listen: true, Send: true, Close: true}
	case StateAwaitingResponse:
		return Controls{Close: true}
	case StateResponded:
		return Controls{Listen: true, Close: true}
	default:
		return Controls{}
	}
}

func (d *Dialog) emitAndUnlock() {
	v := d.viewLocked()
	d.emitMu.Lock()
	d.mu.Unlock()
	defer d.emitMu.Unlock()
	if d.onChange != nil {
		d.onChange(v)
	}
}
