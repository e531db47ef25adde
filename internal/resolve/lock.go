package resolve

import "sync"

// tokenLocks serializes actions per token. Different tokens never contend;
// entries are reference counted and dropped when the last holder releases.
type tokenLocks struct {
	mu      sync.Mutex
	entries map[string]*tokenLock
}

type tokenLock struct {
	mu   sync.Mutex
	refs int
}

func newTokenLocks() *tokenLocks {
	return &tokenLocks{entries: make(map[string]*tokenLock)}
}

// acquire blocks until the token's lock is held and returns the release
// function.
func (l *tokenLocks) acquire(token string) func() {
	l.mu.Lock()
	e, ok := l.entries[token]
	if !ok {
		e = &tokenLock{}
		l.entries[token] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, token)
		}
		l.mu.Unlock()
	}
}
