package conversation

import (
	"errors"
	"sync"
)

var (
	ErrTurnNotFound = errors.New("conversation: turn not found")
	ErrTurnResolved = errors.New("conversation: turn already resolved")
)

// Log is the ordered conversation log. Pending placeholders are replaced by
// id exactly once.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
	index map[string]int
}

func NewLog() *Log {
	return &Log{index: make(map[string]int)}
}

// Append adds t at the end of the log.
func (l *Log) Append(t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index[t.ID] = len(l.turns)
	l.turns = append(l.turns, t)
}

// Resolve replaces the pending turn id in place with t, keeping its id
// and position.
func (l *Log) Resolve(id string, t Turn) (Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return Turn{}, ErrTurnNotFound
	}
	if !l.turns[i].Pending {
		return Turn{}, ErrTurnResolved
	}
	t.ID = id
	t.Pending = false
	l.turns[i] = t
	return t, nil
}

// Get returns the turn with id.
func (l *Log) Get(id string) (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Turn{}, false
	}
	return l.turns[i], true
}

// Turns returns a copy of the log.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Turn(nil), l.turns...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
