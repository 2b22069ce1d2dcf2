package presence

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/ephemera/internal/models"
)

type fakePeer struct {
	id  string
	mu  sync.Mutex
	got []*models.Envelope
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(env *models.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, env)
}

func (p *fakePeer) presence(t *testing.T) [][]string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]string
	for _, env := range p.got {
		if env.Event != models.EventPresenceUpdate {
			continue
		}
		var data models.PresenceData
		require.NoError(t, env.ParseData(&data))
		out = append(out, data.Users)
	}
	return out
}

func newRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestJoinBroadcastsToEveryone(t *testing.T) {
	r := newRegistry()
	alice := &fakePeer{id: "c1"}
	bob := &fakePeer{id: "c2"}

	require.True(t, r.Join(alice, "alice"))
	require.True(t, r.Join(bob, "bob"))

	assert.Equal(t, [][]string{{"alice"}, {"alice", "bob"}}, alice.presence(t))
	assert.Equal(t, [][]string{{"alice", "bob"}}, bob.presence(t))
	assert.Equal(t, []string{"alice", "bob"}, r.Snapshot())
}

func TestJoinBlankNameIsNoop(t *testing.T) {
	r := newRegistry()
	alice := &fakePeer{id: "c1"}
	require.True(t, r.Join(alice, "alice"))

	blank := &fakePeer{id: "c2"}
	assert.False(t, r.Join(blank, "   "))
	assert.False(t, r.Join(blank, ""))
	assert.False(t, r.Join(blank, "\t\n"))

	assert.Equal(t, 1, r.Len())
	assert.Len(t, alice.presence(t), 1)
	assert.Empty(t, blank.presence(t))
}

func TestLeaveUnknownIsNoop(t *testing.T) {
	r := newRegistry()
	alice := &fakePeer{id: "c1"}
	r.Join(alice, "alice")

	assert.False(t, r.Leave("nope"))
	assert.Len(t, alice.presence(t), 1)
}

func TestLeaveBroadcastsToRemaining(t *testing.T) {
	r := newRegistry()
	alice := &fakePeer{id: "c1"}
	bob := &fakePeer{id: "c2"}
	r.Join(alice, "alice")
	r.Join(bob, "bob")

	require.True(t, r.Leave("c2"))
	updates := alice.presence(t)
	assert.Equal(t, []string{"alice"}, updates[len(updates)-1])
	assert.Len(t, bob.presence(t), 1)

	_, ok := r.Resolve("bob")
	assert.False(t, ok)
}

func TestResolveLastRegisteredWins(t *testing.T) {
	r := newRegistry()
	first := &fakePeer{id: "c1"}
	second := &fakePeer{id: "c2"}
	r.Join(first, "sam")
	r.Join(second, "sam")

	p, ok := r.Resolve("sam")
	require.True(t, ok)
	assert.Equal(t, "c2", p.ID())

	r.Leave("c2")
	p, ok = r.Resolve("sam")
	require.True(t, ok)
	assert.Equal(t, "c1", p.ID())
}

func TestRejoinOverwritesName(t *testing.T) {
	r := newRegistry()
	p := &fakePeer{id: "c1"}
	r.Join(p, "alice")
	r.Join(p, "alicia")

	assert.Equal(t, []string{"alicia"}, r.Snapshot())
	_, name, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, "alicia", name)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "bob", NormalizeName("  bob\n"))
	assert.Equal(t, "bob", NormalizeName("b\x00ob"))
	assert.Len(t, NormalizeName(string(make([]byte, 200))+"x"), 1)
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &fakePeer{id: string(rune('A' + i))}
			r.Join(p, "user")
			if i%2 == 0 {
				r.Leave(p.ID())
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
}
