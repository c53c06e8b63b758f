package dungeon

import "sync"

// sessionLocks serializes operations on one session within the process.
// Entries are dropped when a session ends; a waiter still holding the old
// mutex re-reads the session and finds it ended.
type sessionLocks struct {
	m sync.Map
}

func (l *sessionLocks) get(sessionID string) *sync.Mutex {
	v, _ := l.m.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (l *sessionLocks) forget(sessionID string) {
	l.m.Delete(sessionID)
}
