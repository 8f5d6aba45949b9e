package rtc

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	frameSamples48k = 960 // 20ms at 48kHz
	frameDuration   = 20 * time.Millisecond
	// micChunkBytes is 100ms of PCM16 at 16kHz, the size fed to recognizers.
	micChunkBytes = 3200
)

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// OpusPacedWriter is the speech.Sink of a WebRTC call: it encodes 48kHz PCM
// mono into 20ms Opus frames and writes them to the track in real time.
type OpusPacedWriter struct {
	enc          *opus.Encoder
	track        sampleWriter
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &OpusPacedWriter{
		enc:          enc,
		track:        track,
		frameSamples: frameSamples48k,
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers PCM and enqueues every complete frame.
func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBuf = appendPCM16(w.pcmBuf, pcmBytes)
	for len(w.pcmBuf) >= w.frameSamples {
		w.encodeFrame(w.pcmBuf[:w.frameSamples])
		w.pcmBuf = w.pcmBuf[w.frameSamples:]
	}
	if len(w.pcmBuf) == 0 {
		w.pcmBuf = nil
	}
}

// FlushTail pads the remainder to a full frame and appends ~200ms of silence
// so the last syllable is not clipped.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, w.frameSamples)
		copy(pad, w.pcmBuf)
		w.encodeFrame(pad)
		w.pcmBuf = nil
	}
	silence := make([]int16, w.frameSamples)
	for i := 0; i < 10; i++ {
		w.encodeFrame(silence)
	}
}

func (w *OpusPacedWriter) encodeFrame(frame []int16) {
	buf := make([]byte, 4000)
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n == 0 {
		return
	}
	w.pushFrame(buf[:n])
}

// Reset drops queued frames, used when speech is cancelled.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBuf = nil
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Close stops the pacer.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
			default:
			}
		}
	}
}

// pushFrame blocks until there is room or the writer is closed.
func (w *OpusPacedWriter) pushFrame(pkt []byte) {
	select {
	case <-w.stopCh:
	case w.frames <- pkt:
	}
}

func appendPCM16(dst []int16, pcm []byte) []int16 {
	for i := 0; i+1 < len(pcm); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	return dst
}

// micChunker turns decoded mic samples into fixed-size PCM16LE chunks.
type micChunker struct {
	buf  []byte
	emit func([]byte)
}

func (m *micChunker) write(samples []int16) {
	for _, s := range samples {
		m.buf = binary.LittleEndian.AppendUint16(m.buf, uint16(s))
	}
	for len(m.buf) >= micChunkBytes {
		chunk := make([]byte, micChunkBytes)
		copy(chunk, m.buf[:micChunkBytes])
		m.buf = m.buf[micChunkBytes:]
		m.emit(chunk)
	}
}

// voiceDetector is an energy VAD with majority smoothing over the last few
// frames. It lets a caller talk over the reply to stop it.
type voiceDetector struct {
	threshold float64
	window    []bool
	size      int
}

func newVoiceDetector() *voiceDetector {
	return &voiceDetector{threshold: 300, size: 4}
}

func (v *voiceDetector) speech(samples []int16) bool {
	if len(samples) == 0 {
		return false
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	v.window = append(v.window, math.Sqrt(sum/float64(len(samples))) >= v.threshold)
	if len(v.window) > v.size {
		v.window = v.window[len(v.window)-v.size:]
	}
	voiced := 0
	for _, b := range v.window {
		if b {
			voiced++
		}
	}
	return len(v.window) == v.size && voiced*2 > v.size
}
