// Package presence tracks which live connection, if any, currently
// represents each user.
package presence

import (
	"sort"
	"sync"

	"pigeon/internal/models"

	"github.com/samber/lo"
)

// Session is the directory's view of one live transport connection.
// Implementations must be comparable (pointer types) since entries are
// matched by reference equality.
type Session interface {
	// Push enqueues msg for delivery without blocking.
	Push(msg models.ServerMessage) error
	// Evict tells the session it is no longer reachable through the
	// directory. It must be idempotent and must not block.
	Evict(reason models.EvictReason)
}

// Directory maps a user id to at most one Session. The last registration
// for a user wins; the session it replaces is evicted.
//
// Directory is safe for concurrent use.
type Directory struct {
	mu     sync.RWMutex
	byUser map[string]Session
	byConn map[Session]string
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{
		byUser: make(map[string]Session),
		byConn: make(map[Session]string),
	}
}

// Register binds userID to s. A session previously bound to userID is
// dropped from the directory and evicted with EvictReasonSuperseded.
func (d *Directory) Register(userID string, s Session) {
	d.mu.Lock()
	prev, hadPrev := d.byUser[userID]
	if hadPrev && prev == s {
		d.mu.Unlock()
		return
	}
	if hadPrev {
		delete(d.byConn, prev)
	}
	// A session identifies once; if it was bound to another user, drop that slot.
	if oldUser, ok := d.byConn[s]; ok && oldUser != userID {
		delete(d.byUser, oldUser)
	}
	d.byUser[userID] = s
	d.byConn[s] = userID
	d.mu.Unlock()

	// Evict outside the lock so a session reacting to the signal can call
	// back into the directory.
	if hadPrev {
		prev.Evict(models.EvictReasonSuperseded)
	}
}

// Lookup returns the session bound to userID.
func (d *Directory) Lookup(userID string) (Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byUser[userID]
	return s, ok
}

// Unregister removes the entry whose session equals s. Stale sessions that
// were already superseded match nothing and leave the directory untouched.
func (d *Directory) Unregister(s Session) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	userID, ok := d.byConn[s]
	if !ok {
		return "", false
	}
	delete(d.byConn, s)
	if d.byUser[userID] == s {
		delete(d.byUser, userID)
	}
	return userID, true
}

// Evict removes userID from the directory and evicts its session.
func (d *Directory) Evict(userID string, reason models.EvictReason) bool {
	d.mu.Lock()
	s, ok := d.byUser[userID]
	if ok {
		delete(d.byUser, userID)
		delete(d.byConn, s)
	}
	d.mu.Unlock()

	if ok {
		s.Evict(reason)
	}
	return ok
}

// Online returns the ids of all registered users in ascending order.
func (d *Directory) Online() []string {
	d.mu.RLock()
	ids := lo.Keys(d.byUser)
	d.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser)
}
