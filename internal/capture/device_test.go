package capture

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holder(d *Device) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func TestDevice_OpenClosesPreviousSession(t *testing.T) {
	rec := &fakeRecognizer{}
	d := NewDevice(rec, zerolog.Nop())

	first, err := d.Open(context.Background(), "en-US", nil)
	require.NoError(t, err)
	first.Update(true, "hello")

	second, err := d.Open(context.Background(), "en-US", nil)
	require.NoError(t, err)
	assert.Same(t, second, holder(d))

	assert.Equal(t, StateIdle, first.Snapshot().State)
	assert.Empty(t, first.Snapshot().Final)
	assert.Equal(t, 1, rec.streams[0].stops)
	assert.Equal(t, StateListening, second.Snapshot().State)
}

func TestDevice_ReleaseAndUnsupported(t *testing.T) {
	d := NewDevice(nil, zerolog.Nop())
	s, err := d.Open(context.Background(), "en-US", nil)
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
	require.NotNil(t, s)
	d.Release(s)
	assert.Nil(t, holder(d))
}
