// Package rtc carries the voice dialog over the wire: a websocket transport
// (browser recognition results or raw mic PCM in, PCM frames out) and a
// WebRTC call (Opus both ways).
package rtc

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/capture"
	"github.com/chadiek/medibot/internal/conversation"
	"github.com/chadiek/medibot/internal/dialog"
	"github.com/chadiek/medibot/internal/speech"
	"github.com/chadiek/medibot/internal/transcript"
)

// Message is the JSON envelope exchanged with voice clients, over the
// websocket or the call's "control" data channel.
type Message struct {
	Type string `json:"type"`

	// client to server
	Language    string `json:"language,omitempty"`
	Final       bool   `json:"final,omitempty"`
	Text        string `json:"text,omitempty"`
	Code        string `json:"code,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	Recognition string `json:"recognition,omitempty"`

	// server to client
	View     *dialog.View          `json:"view,omitempty"`
	Turn     *conversation.Turn    `json:"turn,omitempty"`
	Speaking *bool                 `json:"speaking,omitempty"`
	Outcome  *conversation.Outcome `json:"outcome,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Message types beyond the dialog commands.
const (
	MsgView             = "view"
	MsgTurn             = "turn"
	MsgSpeaking         = "speaking"
	MsgOutcome          = "outcome"
	MsgError            = "error"
	MsgSpeech           = "speech"
	MsgResult           = "result"
	MsgRecognitionStart = "recognition-start"
	MsgRecognitionError = "recognition-error"
	MsgRecognitionEnd   = "recognition-end"
	// MsgRecognitionSupport reports whether the browser can run speech
	// recognition; Enabled carries the answer.
	MsgRecognitionSupport = "recognition-support"
	MsgAudioReset         = "audio-reset"
	MsgAudioEnd           = "audio-end"
)

// Recognition modes for a voice session.
const (
	RecognitionClient = "client"
	RecognitionServer = "server"
)

// voiceSession binds one transport to a conversation. It is the
// conversation's attached dialog until closed.
type voiceSession struct {
	state  *conversation.State
	dialog *dialog.Dialog
	sink   speech.Sink
	client *transcript.Client
	send   func(Message)
	log    zerolog.Logger

	unsubscribe func()
	once        sync.Once
}

// startVoice attaches a new voice session. client is non-nil when results
// come from the browser; it must then also be rec.
func startVoice(st *conversation.State, rec capture.Recognizer, client *transcript.Client, sink speech.Sink, language string, send func(Message), log zerolog.Logger) *voiceSession {
	vs := &voiceSession{state: st, sink: sink, client: client, send: send, log: log}
	device := capture.NewDevice(rec, log)
	vs.dialog = dialog.New(device, st.Controller, st.Speaker, language, func(v dialog.View) {
		send(Message{Type: MsgView, View: &v})
	}, log)
	if sink != nil {
		st.Speaker.SetSink(sink)
	}
	vs.unsubscribe = st.Subscribe(func(ev conversation.Event) {
		switch ev.Kind {
		case conversation.EventSpeaking:
			vs.dialog.SetSpeaking(ev.Speaking)
			speaking := ev.Speaking
			send(Message{Type: MsgSpeaking, Speaking: &speaking})
		case conversation.EventTurn:
			send(Message{Type: MsgTurn, Turn: ev.Turn})
		}
	})
	st.AttachDialog(vs)
	return vs
}

// Close detaches the session; it is the conversation.Dialog hook.
func (vs *voiceSession) Close() {
	vs.once.Do(func() {
		vs.unsubscribe()
		vs.dialog.Close()
		if vs.sink != nil {
			vs.state.Speaker.ClearSink(vs.sink)
		}
		vs.state.DetachDialog(vs)
	})
}

// handle applies one client message. Send runs in the background and
// reports its outcome as a message.
func (vs *voiceSession) handle(ctx context.Context, m Message) {
	var err error
	switch m.Type {
	case dialog.CmdSend:
		go func() {
			out, err := vs.dialog.Send(ctx)
			if err != nil {
				vs.send(Message{Type: MsgError, Error: err.Error(), Outcome: outcomeOrNil(out)})
				return
			}
			vs.send(Message{Type: MsgOutcome, Outcome: &out})
		}()
		return
	case dialog.CmdOpen, dialog.CmdListen, dialog.CmdStop, dialog.CmdClose, dialog.CmdStopSpeaking:
		err = vs.dialog.Dispatch(ctx, m.Type)
	case MsgSpeech:
		if m.Enabled != nil {
			vs.state.Speaker.SetEnabled(*m.Enabled)
		}
	case MsgResult:
		vs.push(capture.Event{Kind: capture.EventResult, Final: m.Final, Text: m.Text})
	case MsgRecognitionStart:
		vs.push(capture.Event{Kind: capture.EventStarted})
	case MsgRecognitionError:
		vs.push(capture.Event{Kind: capture.EventError, Code: m.Code})
	case MsgRecognitionEnd:
		if vs.client != nil {
			vs.client.End()
		}
	case MsgRecognitionSupport:
		if vs.client != nil && m.Enabled != nil {
			vs.client.SetSupported(*m.Enabled)
		}
	default:
		// aliases such as "barge-in" or "cancel"
		err = vs.dialog.Dispatch(ctx, m.Type)
	}
	if err != nil {
		vs.log.Debug().Err(err).Str("message", m.Type).Msg("voice command rejected")
		vs.send(Message{Type: MsgError, Error: err.Error()})
	}
}

func (vs *voiceSession) push(ev capture.Event) {
	if vs.client == nil {
		return
	}
	if !vs.client.Push(ev) {
		vs.log.Debug().Int("event", int(ev.Kind)).Msg("recognition event without open capture")
	}
}

func outcomeOrNil(out conversation.Outcome) *conversation.Outcome {
	if out.Reply.ID == "" {
		return nil
	}
	return &out
}
