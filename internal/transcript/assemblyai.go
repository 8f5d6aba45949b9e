// Package transcript provides capture.Recognizer implementations: a
// server-side AssemblyAI streaming client and a recognizer fed by the
// browser's own speech recognition.
package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/capture"
)

const assemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// silenceThreshold is the inactivity window after which a turn the service
// has not closed yet is committed locally.
const silenceThreshold = 700 * time.Millisecond

// continuationExtension is added when the last word suggests the speaker
// is mid-sentence ("and", "because", ...).
const continuationExtension = 1200 * time.Millisecond

// AssemblyAI is a capture.Recognizer backed by AssemblyAI universal
// streaming. Audio is PCM16 little-endian mono at 16 kHz, pushed with Feed
// into whichever stream is currently open.
type AssemblyAI struct {
	apiKey string
	// URL overrides the streaming endpoint (tests).
	URL string
	log zerolog.Logger

	mu     sync.Mutex
	active *assemblyStream
}

func NewAssemblyAI(apiKey string, log zerolog.Logger) *AssemblyAI {
	return &AssemblyAI{apiKey: apiKey, URL: assemblyAIURL, log: log}
}

// Start dials a new streaming session and makes it the Feed target.
func (a *AssemblyAI) Start(ctx context.Context, language string) (capture.Stream, error) {
	if a.apiKey == "" {
		return nil, capture.ErrUnsupportedCapability
	}
	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")
	wsURL := a.URL + "?" + params.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{"Authorization": {a.apiKey}})
	if err != nil {
		if resp != nil {
			a.log.Warn().Int("status", resp.StatusCode).Msg("assemblyai handshake rejected")
		}
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	st := newAssemblyStream(conn, a.log.With().Str("language", language).Logger())
	a.mu.Lock()
	prev := a.active
	a.active = st
	a.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}
	go st.readLoop()
	go st.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = st.Stop()
		case <-st.stopCh:
		}
	}()
	return st, nil
}

// Feed queues mic audio for the open stream. Without one it is dropped.
func (a *AssemblyAI) Feed(pcm []byte) {
	a.mu.Lock()
	st := a.active
	a.mu.Unlock()
	if st != nil {
		st.send(pcm)
	}
}

// Close stops the open stream, if any.
func (a *AssemblyAI) Close() {
	a.mu.Lock()
	st := a.active
	a.active = nil
	a.mu.Unlock()
	if st != nil {
		_ = st.Stop()
	}
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	TurnOrder  int    `json:"turn_order"`
	EndOfTurn  bool   `json:"end_of_turn"`
	Error      string `json:"error"`
	ID         string `json:"id"`
}

type assemblyStream struct {
	conn   *websocket.Conn
	log    zerolog.Logger
	events chan capture.Event
	audio  chan []byte
	stopCh chan struct{}
	once   sync.Once

	writeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	turn       int
	latest     string
	committed  string
	lastUpdate time.Time
	lastVoice  time.Time
	timer      *time.Timer
}

func newAssemblyStream(conn *websocket.Conn, log zerolog.Logger) *assemblyStream {
	now := time.Now()
	return &assemblyStream{
		conn:       conn,
		log:        log,
		events:     make(chan capture.Event, 64),
		audio:      make(chan []byte, 1000),
		stopCh:     make(chan struct{}),
		turn:       -1,
		lastUpdate: now,
		lastVoice:  now,
	}
}

func (s *assemblyStream) Events() <-chan capture.Event { return s.events }

// Stop terminates the session. Safe to call repeatedly.
func (s *assemblyStream) Stop() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		s.writeMu.Lock()
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		err = s.conn.Close()
		s.writeMu.Unlock()
	})
	return err
}

func (s *assemblyStream) send(pcm []byte) {
	s.detectVoiceActivity(pcm)
	select {
	case <-s.stopCh:
	case s.audio <- pcm:
	default:
		s.log.Debug().Msg("assemblyai audio buffer full, dropping packet")
	}
}

func (s *assemblyStream) writeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audio:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.BinaryMessage, pcm)
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug().Err(err).Msg("assemblyai write")
				return
			}
		}
	}
}

func (s *assemblyStream) readLoop() {
	defer s.finish()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.log.Warn().Err(err).Msg("assemblyai read")
				s.emit(capture.Event{Kind: capture.EventError, Code: "network"})
			}
			return
		}
		var msg turnMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug().Err(err).Msg("assemblyai decode")
			continue
		}
		switch msg.Type {
		case "Begin":
			s.log.Debug().Str("session", msg.ID).Msg("assemblyai session began")
			s.emit(capture.Event{Kind: capture.EventStarted})
		case "Turn":
			s.onTurn(msg)
		case "Termination":
			s.commit()
			return
		case "Error":
			s.log.Warn().Str("error", msg.Error).Msg("assemblyai error")
			s.emit(capture.Event{Kind: capture.EventError})
			return
		}
	}
}

// onTurn turns the cumulative per-turn transcript into interim updates and
// one final per turn. Text already committed by the silence timer is
// subtracted so nothing is emitted twice.
func (s *assemblyStream) onTurn(msg turnMessage) {
	s.mu.Lock()
	if msg.TurnOrder != s.turn {
		s.turn = msg.TurnOrder
		s.latest, s.committed = "", ""
	}
	s.latest = msg.Transcript
	s.lastUpdate = time.Now()
	d := delta(s.latest, s.committed)
	if msg.EndOfTurn {
		s.committed = s.latest
		s.stopTimerLocked()
		s.mu.Unlock()
		if d != "" {
			s.emit(capture.Event{Kind: capture.EventResult, Final: true, Text: d + " "})
		}
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(silenceThreshold, s.finalizeDueToSilence)
	} else {
		s.timer.Reset(silenceThreshold)
	}
	s.mu.Unlock()
	if d != "" {
		s.emit(capture.Event{Kind: capture.EventResult, Text: d})
	}
}

func (s *assemblyStream) finalizeDueToSilence() {
	s.mu.Lock()
	threshold := silenceThreshold
	if isContinuationLikely(s.latest) {
		threshold += continuationExtension
	}
	now := time.Now()
	wait := threshold - now.Sub(s.lastUpdate)
	if v := threshold - now.Sub(s.lastVoice); v > wait {
		wait = v
	}
	if wait > 0 && s.timer != nil && !s.closed {
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		s.timer.Reset(wait)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.commit()
}

// commit emits any uncommitted text of the current turn as final.
func (s *assemblyStream) commit() {
	s.mu.Lock()
	d := delta(s.latest, s.committed)
	s.committed = s.latest
	s.mu.Unlock()
	if d != "" {
		s.emit(capture.Event{Kind: capture.EventResult, Final: true, Text: d + " "})
	}
}

func (s *assemblyStream) emit(ev capture.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

func (s *assemblyStream) finish() {
	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	close(s.events)
	s.mu.Unlock()
	_ = s.Stop()
}

func (s *assemblyStream) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// detectVoiceActivity records when the PCM carried voice energy, which keeps
// the silence timer from committing while the user is still talking.
func (s *assemblyStream) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 1
	if len(pcm) > 3200 {
		step = 2
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	const voiceRMS = 250.0
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		s.mu.Lock()
		s.lastVoice = time.Now()
		s.mu.Unlock()
	}
}

func delta(latest, base string) string {
	d := strings.TrimSpace(strings.TrimPrefix(latest, base))
	if d == "" && base != "" {
		if idx := strings.LastIndex(latest, base); idx >= 0 {
			d = strings.TrimSpace(latest[idx+len(base):])
		}
	}
	return d
}

func isContinuationLikely(text string) bool {
	_, ok := continuationWords[lastWord(text)]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
