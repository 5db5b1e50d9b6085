package presence

import (
	"fmt"
	"sync"
	"testing"

	"pigeon/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	name string

	mu      sync.Mutex
	evicted []models.EvictReason
}

func newFakeSession(name string) *fakeSession {
	return &fakeSession{name: name}
}

func (f *fakeSession) Push(models.ServerMessage) error { return nil }

func (f *fakeSession) Evict(reason models.EvictReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, reason)
}

func (f *fakeSession) evictions() []models.EvictReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.EvictReason(nil), f.evicted...)
}

func TestDirectory_RegisterLookup(t *testing.T) {
	d := New()
	s := newFakeSession("a")

	_, ok := d.Lookup("u1")
	require.False(t, ok)

	d.Register("u1", s)

	got, ok := d.Lookup("u1")
	require.True(t, ok)
	require.Same(t, s, got)
	require.Equal(t, 1, d.Len())
}

func TestDirectory_SecondRegistrationWins(t *testing.T) {
	d := New()
	ref1 := newFakeSession("ref1")
	ref2 := newFakeSession("ref2")

	d.Register("u1", ref1)
	d.Register("u1", ref2)

	got, ok := d.Lookup("u1")
	require.True(t, ok)
	require.Same(t, ref2, got)

	// The superseded session is told so, the new one is not.
	require.Equal(t, []models.EvictReason{models.EvictReasonSuperseded}, ref1.evictions())
	require.Empty(t, ref2.evictions())

	// Stale disconnect must not evict the live entry.
	_, removed := d.Unregister(ref1)
	require.False(t, removed)

	got, ok = d.Lookup("u1")
	require.True(t, ok)
	require.Same(t, ref2, got)
}

func TestDirectory_RegisterSameSessionTwice(t *testing.T) {
	d := New()
	s := newFakeSession("a")

	d.Register("u1", s)
	d.Register("u1", s)

	require.Empty(t, s.evictions())
	got, ok := d.Lookup("u1")
	require.True(t, ok)
	require.Same(t, s, got)
}

func TestDirectory_UnregisterRemovesOnlyMatchingEntry(t *testing.T) {
	d := New()
	a := newFakeSession("a")
	b := newFakeSession("b")
	stranger := newFakeSession("stranger")

	d.Register("u1", a)
	d.Register("u2", b)

	_, removed := d.Unregister(stranger)
	require.False(t, removed)
	require.Equal(t, 2, d.Len())

	userID, removed := d.Unregister(a)
	require.True(t, removed)
	require.Equal(t, "u1", userID)

	_, ok := d.Lookup("u1")
	require.False(t, ok)
	got, ok := d.Lookup("u2")
	require.True(t, ok)
	require.Same(t, b, got)

	// Second unregister of the same session is a no-op.
	_, removed = d.Unregister(a)
	require.False(t, removed)
	require.Equal(t, 1, d.Len())
}

func TestDirectory_ReconnectBeforeOldClose(t *testing.T) {
	d := New()
	old := newFakeSession("old")
	fresh := newFakeSession("fresh")

	d.Register("u1", old)
	d.Unregister(old)
	d.Register("u1", fresh)

	// Closing the old connection again afterwards changes nothing.
	d.Unregister(old)

	got, ok := d.Lookup("u1")
	require.True(t, ok)
	require.Same(t, fresh, got)
	require.Empty(t, old.evictions())
}

func TestDirectory_SessionRebindsToAnotherUser(t *testing.T) {
	d := New()
	s := newFakeSession("a")

	d.Register("u1", s)
	d.Register("u2", s)

	_, ok := d.Lookup("u1")
	require.False(t, ok)
	got, ok := d.Lookup("u2")
	require.True(t, ok)
	require.Same(t, s, got)
	require.Equal(t, 1, d.Len())
}

func TestDirectory_Evict(t *testing.T) {
	d := New()
	s := newFakeSession("a")
	d.Register("u1", s)

	require.True(t, d.Evict("u1", models.EvictReasonKicked))
	require.Equal(t, []models.EvictReason{models.EvictReasonKicked}, s.evictions())

	_, ok := d.Lookup("u1")
	require.False(t, ok)
	require.False(t, d.Evict("u1", models.EvictReasonKicked))

	// The evicted session's own disconnect is now a no-op.
	_, removed := d.Unregister(s)
	require.False(t, removed)
}

func TestDirectory_Online(t *testing.T) {
	d := New()
	d.Register("u2", newFakeSession("b"))
	d.Register("u1", newFakeSession("a"))
	require.Equal(t, []string{"u1", "u2"}, d.Online())
}

func TestDirectory_ConcurrentRegisterUnregister(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		s := newFakeSession(fmt.Sprintf("s%d", i))
		userID := fmt.Sprintf("u%d", i%5)
		wg.Go(func() {
			d.Register(userID, s)
			_, _ = d.Lookup(userID)
			d.Unregister(s)
		})
	}
	wg.Wait()

	require.Equal(t, 0, d.Len())
}
