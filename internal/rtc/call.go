package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/hraban/opus"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/capture"
	"github.com/chadiek/medibot/internal/conversation"
	"github.com/chadiek/medibot/internal/speech"
	"github.com/chadiek/medibot/internal/transcript"
)

// ErrInvalidOffer rejects a malformed SDP offer.
var ErrInvalidOffer = errors.New("rtc: invalid offer")

type Config struct {
	AssemblyAIKey   string
	ICEServersJSON  string
	DefaultLanguage string
}

// Handler serves voice transports for conversations.
type Handler struct {
	cfg Config
	log zerolog.Logger
}

func NewHandler(cfg Config, log zerolog.Logger) *Handler {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en-US"
	}
	return &Handler{cfg: cfg, log: log}
}

// Offer is the SDP offer posted by the browser, plus the dialog language.
type Offer struct {
	Type     string `json:"type"`
	SDP      string `json:"sdp"`
	Language string `json:"language,omitempty"`
}

// SessionDescription keeps webrtc types out of the HTTP layer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// HandleOffer answers a WebRTC voice call for st. Mic audio goes to
// AssemblyAI when configured, otherwise recognition results are expected on
// the "control" data channel. Replies are spoken into the call's audio track.
func (h *Handler) HandleOffer(ctx context.Context, st *conversation.State, offer Offer) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, ErrInvalidOffer
	}
	language := offer.Language
	if language == "" {
		language = h.cfg.DefaultLanguage
	}
	callID, _ := gonanoid.New(10)
	log := h.log.With().Str("conversation", st.ID).Str("call", callID).Logger()

	pc, outTrack, err := h.createPeer()
	if err != nil {
		return SessionDescription{}, err
	}

	var (
		rec    capture.Recognizer
		client *transcript.Client
		aai    *transcript.AssemblyAI
	)
	if h.cfg.AssemblyAIKey != "" {
		aai = transcript.NewAssemblyAI(h.cfg.AssemblyAIKey, log)
		rec = aai
	} else {
		client = transcript.NewClient(true)
		rec = client
	}

	paced, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	var control atomic.Pointer[webrtc.DataChannel]
	send := func(m Message) {
		dc := control.Load()
		if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
			return
		}
		b, err := json.Marshal(m)
		if err != nil {
			return
		}
		if err := dc.SendText(string(b)); err != nil {
			log.Debug().Err(err).Msg("control channel send")
		}
	}
	vs := startVoice(st, rec, client, paced, language, send, log)
	sessCtx, cancelSess := context.WithCancel(context.WithoutCancel(ctx))

	var closed atomic.Bool
	teardown := func() {
		if closed.Swap(true) {
			return
		}
		cancelSess()
		vs.Close()
		if aai != nil {
			aai.Close()
		}
		paced.Close()
		_ = pc.Close()
		log.Info().Msg("call ended")
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			teardown()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		dc.OnOpen(func() {
			control.Store(dc)
			v := vs.dialog.View()
			send(Message{Type: MsgView, View: &v})
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			vs.handle(sessCtx, parseControl(msg.Data))
		})
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Info().Str("codec", remote.Codec().MimeType).Msg("remote audio track")
		dec, err := opus.NewDecoder(16000, 1)
		if err != nil {
			log.Error().Err(err).Msg("opus decoder")
			return
		}
		go h.readMic(remote, dec, aai, st.Speaker, log)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		teardown()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		teardown()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		teardown()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		teardown()
		return SessionDescription{}, errors.New("rtc: no local description")
	}
	log.Info().Str("language", language).Msg("call answered")
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readMic decodes the caller's Opus audio to 16kHz PCM for the recognizer.
// Voice over an active reply stops the reply.
func (h *Handler) readMic(remote *webrtc.TrackRemote, dec *opus.Decoder, aai *transcript.AssemblyAI, speaker *speech.Speaker, log zerolog.Logger) {
	samples := make([]int16, 1920)
	vad := newVoiceDetector()
	chunker := &micChunker{emit: func(b []byte) {
		if aai != nil {
			aai.Feed(b)
		}
	}}
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Msg("rtp read")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			continue
		}
		if vad.speech(samples[:n]) && speaker.State() == speech.StateSpeaking {
			log.Debug().Msg("barge-in: cancelling reply")
			speaker.Cancel()
		}
		chunker.write(samples[:n])
	}
}

func (h *Handler) createPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.cfg.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"medibot-audio", "medibot",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// parseControl accepts a JSON Message or a bare command word.
func parseControl(data []byte) Message {
	var m Message
	if err := json.Unmarshal(data, &m); err == nil && m.Type != "" {
		return m
	}
	return Message{Type: strings.ToLower(strings.TrimSpace(string(data)))}
}
