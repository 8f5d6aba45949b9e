package dialog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/medibot/internal/capture"
	"github.com/chadiek/medibot/internal/conversation"
	"github.com/chadiek/medibot/internal/llm"
	"github.com/chadiek/medibot/internal/notify"
)

type pushStream struct {
	events chan capture.Event
	once   sync.Once
}

func (p *pushStream) Events() <-chan capture.Event { return p.events }
func (p *pushStream) Stop() error {
	p.once.Do(func() { close(p.events) })
	return nil
}

type fakeRecognizer struct {
	mu      sync.Mutex
	err     error
	current *pushStream
}

func (f *fakeRecognizer) Start(ctx context.Context, language string) (capture.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.current = &pushStream{events: make(chan capture.Event, 16)}
	return f.current, nil
}

func (f *fakeRecognizer) push(ev capture.Event) {
	f.mu.Lock()
	st := f.current
	f.mu.Unlock()
	st.events <- ev
}

type stubBoundary struct {
	triage func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error)
}

func (s stubBoundary) Triage(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
	return s.triage(ctx, req)
}

func (stubBoundary) AnalyzeDocument(context.Context, llm.DocumentRequest) (llm.DocumentResult, error) {
	return llm.DocumentResult{}, errors.New("unused")
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify(context.Context, notify.Emergency) error {
	c.n.Add(1)
	return nil
}

type fakeSpeech struct{ cancels atomic.Int32 }

func (f *fakeSpeech) Cancel() { f.cancels.Add(1) }

type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) record(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, v := range r.views {
		if len(out) == 0 || out[len(out)-1] != v.State {
			out = append(out, v.State)
		}
	}
	return out
}

type harness struct {
	rec      *fakeRecognizer
	conv     *conversation.Controller
	notifier *countingNotifier
	speech   *fakeSpeech
	views    *recorder
	dialog   *Dialog
}

func newHarness(t *testing.T, triage func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error)) *harness {
	t.Helper()
	h := &harness{rec: &fakeRecognizer{}, notifier: &countingNotifier{}, speech: &fakeSpeech{}, views: &recorder{}}
	h.conv = conversation.NewController("conv-test", conversation.Deps{
		Boundary: stubBoundary{triage: triage},
		Notifier: h.notifier,
		Logger:   zerolog.Nop(),
	})
	h.conv.Greet()
	device := capture.NewDevice(h.rec, zerolog.Nop())
	h.dialog = New(device, h.conv, h.speech, "en-US", h.views.record, zerolog.Nop())
	return h
}

func (h *harness) waitTranscript(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.dialog.View().Transcript == want }, time.Second, 5*time.Millisecond)
}

func TestDialog_HeadacheScenario(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
		return llm.TriageResult{PotentialCauses: "Tension headache.", HomeRemedies: "Rest.", ShouldSeeDoctor: false}, nil
	})
	assert.Equal(t, StateClosed, h.dialog.View().State)

	require.NoError(t, h.dialog.Open(context.Background()))
	assert.Equal(t, StateListening, h.dialog.View().State)

	h.rec.push(capture.Event{Kind: capture.EventResult, Final: true, Text: "I have a headache"})
	h.waitTranscript(t, "I have a headache")

	out, err := h.dialog.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "I have a headache", out.User.Text)
	assert.Equal(t, conversation.ModalitySpoken, out.User.Modality)
	assert.Nil(t, out.System)

	v := h.dialog.View()
	assert.Equal(t, StateResponded, v.State)
	require.NotNil(t, v.Reply)
	assert.Equal(t, "Tension headache.", v.Reply.Result.Triage.PotentialCauses)
	assert.Equal(t, Controls{Listen: true, Close: true}, v.Controls)
	assert.Zero(t, h.notifier.n.Load())

	assert.Equal(t, []State{StateListening, StateAwaitingResponse, StateResponded}, h.views.states())
	assert.Equal(t, 3, h.conv.Len(), "greeting, user turn, reply")
}

func TestDialog_BoundaryFailureReplacesPlaceholder(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
		return llm.TriageResult{}, errors.New("upstream 500")
	})
	require.NoError(t, h.dialog.Open(context.Background()))
	h.rec.push(capture.Event{Kind: capture.EventResult, Text: "fever"})
	h.waitTranscript(t, "fever")

	out, err := h.dialog.Send(context.Background())
	assert.ErrorIs(t, err, conversation.ErrBoundaryFailure)
	assert.Equal(t, conversation.ApologyText, out.Reply.Text)

	v := h.dialog.View()
	assert.Equal(t, StateResponded, v.State)
	assert.Equal(t, conversation.FailureNotice, v.Notice)
	assert.Equal(t, 3, h.conv.Len())
	for _, turn := range h.conv.Turns() {
		assert.False(t, turn.Pending)
	}
}

func TestDialog_SecondSendIsBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
		close(entered)
		<-release
		return llm.TriageResult{PotentialCauses: "ok"}, nil
	})
	require.NoError(t, h.dialog.Open(context.Background()))
	h.rec.push(capture.Event{Kind: capture.EventResult, Final: true, Text: "cough"})
	h.waitTranscript(t, "cough")

	done := make(chan error, 1)
	go func() {
		_, err := h.dialog.Send(context.Background())
		done <- err
	}()
	<-entered
	assert.Equal(t, StateAwaitingResponse, h.dialog.View().State)
	_, err := h.dialog.Send(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, h.dialog.Listen(context.Background()), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateResponded, h.dialog.View().State)
}

func TestDialog_ReopenWhileAwaitingIsBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
		close(entered)
		<-release
		return llm.TriageResult{PotentialCauses: "Tension headache."}, nil
	})
	require.NoError(t, h.dialog.Open(context.Background()))
	h.rec.push(capture.Event{Kind: capture.EventResult, Final: true, Text: "I have a headache"})
	h.waitTranscript(t, "I have a headache")

	done := make(chan error, 1)
	go func() {
		_, err := h.dialog.Send(context.Background())
		done <- err
	}()
	<-entered
	assert.ErrorIs(t, h.dialog.Open(context.Background()), ErrBusy)
	assert.ErrorIs(t, h.dialog.Dispatch(context.Background(), CmdOpen), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	v := h.dialog.View()
	assert.Equal(t, StateResponded, v.State)
	require.NotNil(t, v.Reply)
	assert.Equal(t, Controls{Listen: true, Close: true}, v.Controls)

	require.NoError(t, h.dialog.Listen(context.Background()))
	assert.Equal(t, StateListening, h.dialog.View().State)
}

func TestDialog_CloseDiscardsLateResponse(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
		close(entered)
		<-release
		return llm.TriageResult{PotentialCauses: "late"}, nil
	})
	require.NoError(t, h.dialog.Open(context.Background()))
	h.rec.push(capture.Event{Kind: capture.EventResult, Final: true, Text: "rash"})
	h.waitTranscript(t, "rash")

	done := make(chan error, 1)
	go func() {
		_, err := h.dialog.Send(context.Background())
		done <- err
	}()
	<-entered
	cancelsBefore := h.speech.cancels.Load()
	h.dialog.Close()
	assert.Equal(t, StateClosed, h.dialog.View().State)
	assert.Greater(t, h.speech.cancels.Load(), cancelsBefore)

	close(release)
	assert.ErrorIs(t, <-done, ErrClosed)
	v := h.dialog.View()
	assert.Equal(t, StateClosed, v.State)
	assert.Nil(t, v.Reply)
	// the turn itself still completes in the log
	turns := h.conv.Turns()
	assert.Equal(t, "late", turns[len(turns)-1].Result.Triage.PotentialCauses)
}

func TestDialog_StopThenSendAndErrors(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
		return llm.TriageResult{PotentialCauses: "ok"}, nil
	})
	require.NoError(t, h.dialog.Open(context.Background()))
	require.NoError(t, h.dialog.Stop())
	v := h.dialog.View()
	assert.Equal(t, StateResponded, v.State, "nothing captured")
	_, err := h.dialog.Send(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, h.dialog.Listen(context.Background()))
	h.rec.push(capture.Event{Kind: capture.EventResult, Text: "sore throat"})
	h.waitTranscript(t, "sore throat")
	assert.True(t, h.dialog.View().Controls.Send)
	require.NoError(t, h.dialog.Stop())
	v = h.dialog.View()
	assert.Equal(t, StateReadyToSend, v.State)
	assert.Equal(t, Controls{Listen: true, Send: true, Close: true}, v.Controls)
	_, err = h.dialog.Send(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.dialog.Listen(context.Background()))
	_, err = h.dialog.Send(context.Background())
	assert.ErrorIs(t, err, capture.ErrNoSpeechCaptured)
	assert.NotEmpty(t, h.dialog.View().Notice)

	require.NoError(t, h.dialog.Listen(context.Background()))
	h.rec.push(capture.Event{Kind: capture.EventError, Code: capture.CodeNotAllowed})
	require.Eventually(t, func() bool { return h.dialog.View().State == StateError }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Microphone access denied. Enable permissions.", h.dialog.View().Reason)
	_, err = h.dialog.Send(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDialog_OpenWithoutRecognizer(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.err = capture.ErrPermissionDenied
	err := h.dialog.Open(context.Background())
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)
	assert.Equal(t, StateError, h.dialog.View().State)

	h.dialog.Close()
	h.dialog.Close()
	assert.Equal(t, StateClosed, h.dialog.View().State)
	assert.ErrorIs(t, h.dialog.Stop(), ErrClosed)
}

func TestControlsFor(t *testing.T) {
	assert.Equal(t, Controls{}, ControlsFor(StateClosed, true))
	assert.Equal(t, Controls{Stop: true, Close: true}, ControlsFor(StateListening, false))
	assert.Equal(t, Controls{Stop: true, Send: true, Close: true}, ControlsFor(StateListening, true))
	assert.Equal(t, Controls{Close: true}, ControlsFor(StateAwaitingResponse, true))
}

func TestDialog_Dispatch(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req llm.TriageRequest) (llm.TriageResult, error) {
		return llm.TriageResult{PotentialCauses: "ok"}, nil
	})
	ctx := context.Background()
	require.NoError(t, h.dialog.Dispatch(ctx, "open"))
	assert.Equal(t, StateListening, h.dialog.View().State)
	before := h.speech.cancels.Load()
	require.NoError(t, h.dialog.Dispatch(ctx, "Stop-Speaking"))
	assert.Equal(t, before+1, h.speech.cancels.Load())
	require.NoError(t, h.dialog.Dispatch(ctx, "stop"))
	assert.ErrorIs(t, h.dialog.Dispatch(ctx, "send"), ErrNotReady)
	require.NoError(t, h.dialog.Dispatch(ctx, "close"))
	assert.Equal(t, StateClosed, h.dialog.View().State)
	assert.Error(t, h.dialog.Dispatch(ctx, "dance"))
}

func TestState_TextRoundTrip(t *testing.T) {
	for st := StateClosed; st <= StateResponded; st++ {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, st, got)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("sleeping")))
}
