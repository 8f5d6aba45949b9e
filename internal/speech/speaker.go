package speech

import (
	"context"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Speaker serializes access to one audio output. Starting an utterance
// cancels the one in progress, so at most one is ever active.
type Speaker struct {
	synth    Synthesizer
	onChange func(State)
	log      zerolog.Logger

	mu      sync.Mutex
	sink    Sink
	enabled bool
	state   State
	cancel  context.CancelFunc
	// gen identifies the active utterance; stale goroutines compare against it.
	gen uint64

	// emitMu is taken before mu is released so callbacks observe transitions
	// in the order they happened.
	emitMu sync.Mutex
}

// NewSpeaker returns an enabled, idle speaker. synth may be nil, in which
// case Speak is a silent no-op. onChange must not call back into the Speaker.
func NewSpeaker(synth Synthesizer, onChange func(State), log zerolog.Logger) *Speaker {
	return &Speaker{synth: synth, onChange: onChange, log: log, sink: nopSink{}, enabled: true}
}

// SetSink attaches the audio destination. nil detaches it.
func (s *Speaker) SetSink(sink Sink) {
	if sink == nil {
		sink = nopSink{}
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// ClearSink detaches sink if it is still the attached one.
func (s *Speaker) ClearSink(sink Sink) {
	s.mu.Lock()
	if s.sink == sink {
		s.sink = nopSink{}
	}
	s.mu.Unlock()
}

// Speak starts a new utterance of text in language and returns once it is
// under way. Disabled output, blank text or an empty voice catalog make it a
// no-op.
func (s *Speaker) Speak(ctx context.Context, text, language string) error {
	text = strings.TrimSpace(text)
	if text == "" || s.synth == nil {
		return nil
	}
	voice, ok := SelectVoice(s.synth.Voices(), language)
	if !ok {
		s.log.Debug().Str("language", language).Msg("no voices available")
		return nil
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	var transitions []State
	if s.stopLocked() {
		transitions = append(transitions, StateIdle)
	}
	// Detached from the request context: the utterance outlives the call
	// and ends via Cancel, SetEnabled(false) or a newer Speak.
	uctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.state = StateSpeaking
	sink := s.sink
	transitions = append(transitions, StateSpeaking)
	s.emitAndUnlock(transitions...)

	id, _ := gonanoid.New(10)
	log := s.log.With().Str("utterance", id).Str("voice", voice.ID).Logger()
	go s.run(uctx, gen, text, voice, sink, log)
	return nil
}

func (s *Speaker) run(ctx context.Context, gen uint64, text string, voice Voice, sink Sink, log zerolog.Logger) {
	chunks := chunkReply(text)
	spoken := 0
CHUNKS:
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		pcmCh, errCh := s.synth.StreamPCM48k(ctx, chunk, voice)
		openPCM, openErr := true, true
		for openPCM || openErr {
			select {
			case b, ok := <-pcmCh:
				if !ok {
					openPCM = false
					pcmCh = nil
					continue
				}
				if len(b) > 0 && s.current(gen) {
					sink.WritePCM(b)
				}
			case err, ok := <-errCh:
				errCh = nil
				openErr = false
				if ok && err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Msg("tts stream error")
					}
					break CHUNKS
				}
			case <-ctx.Done():
				break CHUNKS
			}
		}
		spoken++
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if ctx.Err() == nil {
		sink.FlushTail()
	}
	s.cancel()
	s.cancel = nil
	s.state = StateIdle
	s.emitAndUnlock(StateIdle)
	log.Debug().Int("chunks", len(chunks)).Int("spoken", spoken).Msg("utterance finished")
}

func (s *Speaker) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// Cancel stops the utterance in progress, if any, and drops queued audio.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	if s.stopLocked() {
		s.emitAndUnlock(StateIdle)
		return
	}
	s.mu.Unlock()
}

// SetEnabled toggles speech output. Disabling while speaking cancels at once.
func (s *Speaker) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	if !enabled && s.stopLocked() {
		s.emitAndUnlock(StateIdle)
		return
	}
	s.mu.Unlock()
}

// Enabled reports the last SetEnabled value.
func (s *Speaker) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// State reports whether an utterance is active.
func (s *Speaker) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// stopLocked cancels the active utterance and reports whether one was active.
func (s *Speaker) stopLocked() bool {
	if s.state != StateSpeaking {
		return false
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.sink.Reset()
	s.state = StateIdle
	return true
}

// emitAndUnlock releases mu and delivers transitions in order.
func (s *Speaker) emitAndUnlock(transitions ...State) {
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	if s.onChange == nil {
		return
	}
	for _, st := range transitions {
		s.onChange(st)
	}
}
