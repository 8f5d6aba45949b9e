package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/capture"
	"github.com/chadiek/medibot/internal/conversation"
	"github.com/chadiek/medibot/internal/speech"
	"github.com/chadiek/medibot/internal/transcript"
)

const wsWriteTimeout = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	// auth is enforced by the HTTP middleware before the upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	log  zerolog.Logger
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		c.log.Debug().Err(err).Msg("ws write")
	}
}

func (c *wsConn) writeBinary(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		c.log.Debug().Err(err).Msg("ws write audio")
	}
}

// wsSink streams synthesized PCM as binary frames; the client plays them
// and drops its queue on "audio-reset".
type wsSink struct{ c *wsConn }

func (s wsSink) WritePCM(pcm []byte) { s.c.writeBinary(pcm) }
func (s wsSink) FlushTail()          { s.c.writeJSON(Message{Type: MsgAudioEnd}) }
func (s wsSink) Reset()              { s.c.writeJSON(Message{Type: MsgAudioReset}) }

// ServeVoice runs the voice dialog over a websocket until the client goes
// away. Query parameters: language (BCP-47), recognition (client|server)
// and audio=0 to keep synthesized audio off this socket.
func (h *Handler) ServeVoice(w http.ResponseWriter, r *http.Request, st *conversation.State) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	defer func() { _ = conn.Close() }()

	q := r.URL.Query()
	language := q.Get("language")
	if language == "" {
		language = h.cfg.DefaultLanguage
	}
	log := h.log.With().Str("conversation", st.ID).Str("transport", "ws").Logger()
	c := &wsConn{conn: conn, log: log}

	var (
		rec    capture.Recognizer
		client *transcript.Client
		aai    *transcript.AssemblyAI
	)
	if q.Get("recognition") == RecognitionServer {
		aai = transcript.NewAssemblyAI(h.cfg.AssemblyAIKey, log)
		rec = aai
		defer aai.Close()
	} else {
		client = transcript.NewClient(q.Get("supported") != "0")
		rec = client
	}
	var sink speech.Sink
	if q.Get("audio") != "0" {
		sink = wsSink{c: c}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	vs := startVoice(st, rec, client, sink, language, func(m Message) { c.writeJSON(m) }, log)
	defer vs.Close()
	log.Info().Str("language", language).Msg("voice session started")
	c.writeJSON(Message{Type: MsgView, View: ptr(vs.dialog.View())})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Info().Msg("voice session ended")
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if aai != nil {
				aai.Feed(data)
			}
		case websocket.TextMessage:
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				c.writeJSON(Message{Type: MsgError, Error: "invalid message"})
				continue
			}
			vs.handle(ctx, m)
		}
	}
}

func ptr[T any](v T) *T { return &v }
