package transcript

import (
	"context"
	"sync"

	"github.com/chadiek/medibot/internal/capture"
)

// Client is a capture.Recognizer for browsers that run speech recognition
// themselves and relay the results over the voice websocket.
type Client struct {
	mu        sync.Mutex
	supported bool
	active    *clientStream
}

// NewClient returns a recognizer; supported reports whether the browser
// advertised a speech recognition API.
func NewClient(supported bool) *Client {
	return &Client{supported: supported}
}

// SetSupported updates the advertised capability; it applies to the next Start.
func (c *Client) SetSupported(supported bool) {
	c.mu.Lock()
	c.supported = supported
	c.mu.Unlock()
}

func (c *Client) Start(ctx context.Context, language string) (capture.Stream, error) {
	c.mu.Lock()
	if !c.supported {
		c.mu.Unlock()
		return nil, capture.ErrUnsupportedCapability
	}
	prev := c.active
	st := &clientStream{events: make(chan capture.Event, 64), done: make(chan struct{})}
	c.active = st
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = st.Stop()
		case <-st.done:
		}
	}()
	return st, nil
}

// Push delivers a browser recognition event to the open stream. It reports
// false when no stream is open.
func (c *Client) Push(ev capture.Event) bool {
	c.mu.Lock()
	st := c.active
	c.mu.Unlock()
	if st == nil {
		return false
	}
	return st.push(ev)
}

// End closes the open stream as the browser's recognition "end" event does.
func (c *Client) End() {
	c.mu.Lock()
	st := c.active
	c.active = nil
	c.mu.Unlock()
	if st != nil {
		_ = st.Stop()
	}
}

type clientStream struct {
	mu     sync.Mutex
	closed bool
	events chan capture.Event
	done   chan struct{}
}

func (s *clientStream) Events() <-chan capture.Event { return s.events }

func (s *clientStream) push(ev capture.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		// the session loop drains promptly; a full buffer means it is gone
		return false
	}
}

func (s *clientStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
		close(s.events)
	}
	return nil
}
