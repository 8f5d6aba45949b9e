package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	mu    sync.Mutex
	ids   []string
	turns [][]Turn
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, id string, turns []Turn) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
	a.turns = append(a.turns, turns)
	return a.err
}

type fakeDialog struct{ closed int }

func (d *fakeDialog) Close() { d.closed++ }

func TestRegistry_Lifecycle(t *testing.T) {
	arch := &fakeArchiver{}
	r := NewRegistry(RegistryConfig{Boundary: &fakeBoundary{}, Archiver: arch, Logger: zerolog.Nop()})

	st := r.Create()
	require.NotEmpty(t, st.ID)
	turns := st.Controller.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, Greeting, turns[0].Text)

	got, err := r.Get(st.ID)
	require.NoError(t, err)
	assert.Same(t, st, got)

	var events []Event
	unsub := st.Subscribe(func(ev Event) { events = append(events, ev) })
	_, err = st.Controller.Submit(context.Background(), "sore throat", ModalityTyped, "en-US")
	require.NoError(t, err)
	// user, placeholder, resolution
	require.Len(t, events, 3)
	assert.Equal(t, EventTurn, events[0].Kind)
	assert.True(t, events[1].Turn.Pending)
	assert.False(t, events[2].Turn.Pending)
	unsub()

	first, second := &fakeDialog{}, &fakeDialog{}
	st.AttachDialog(first)
	st.AttachDialog(second)
	assert.Equal(t, 1, first.closed)

	require.NoError(t, r.Close(context.Background(), st.ID))
	assert.Equal(t, 1, second.closed)
	require.Len(t, arch.ids, 1)
	assert.Equal(t, st.ID, arch.ids[0])
	assert.Len(t, arch.turns[0], 3)

	_, err = r.Get(st.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Close(context.Background(), st.ID), ErrNotFound)
	assert.Len(t, events, 3, "unsubscribed")
}

func TestRegistry_ArchiveErrorAndCloseAll(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("bucket missing")}
	r := NewRegistry(RegistryConfig{Boundary: &fakeBoundary{}, Archiver: arch, Logger: zerolog.Nop()})
	a := r.Create()
	r.Create()
	assert.Error(t, r.Close(context.Background(), a.ID))
	assert.Equal(t, 1, r.Len())

	r.CloseAll(context.Background())
	assert.Zero(t, r.Len())
	assert.Len(t, arch.ids, 2)
}

func TestState_DetachDialogOnlyActive(t *testing.T) {
	st := &State{}
	a, b := &fakeDialog{}, &fakeDialog{}
	st.AttachDialog(a)
	st.AttachDialog(b)
	st.DetachDialog(a)
	st.AttachDialog(a)
	assert.Equal(t, 1, b.closed, "b was still active")
}
