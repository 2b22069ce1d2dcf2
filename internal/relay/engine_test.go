package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/ephemera/internal/models"
	"github.com/eldtechnologies/ephemera/internal/presence"
	"github.com/eldtechnologies/ephemera/internal/safety"
	"github.com/eldtechnologies/ephemera/internal/store"
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

func (p *fakePeer) events(name string) []*models.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Envelope
	for _, env := range p.got {
		if env.Event == name {
			out = append(out, env)
		}
	}
	return out
}

func (p *fakePeer) delivered(t *testing.T) []models.DeliverData {
	t.Helper()
	var out []models.DeliverData
	for _, env := range p.events(models.EventDeliver) {
		var d models.DeliverData
		require.NoError(t, env.ParseData(&d))
		out = append(out, d)
	}
	return out
}

func (p *fakePeer) deleted(t *testing.T) []models.DeletedData {
	t.Helper()
	var out []models.DeletedData
	for _, env := range p.events(models.EventDeleted) {
		var d models.DeletedData
		require.NoError(t, env.ParseData(&d))
		out = append(out, d)
	}
	return out
}

type stubScanner struct {
	result *models.ScanResult
	during func()
	calls  int
}

func (s *stubScanner) Name() string  { return "stub" }
func (s *stubScanner) Enabled() bool { return true }

func (s *stubScanner) ScanFile(context.Context, string, []byte) (*models.ScanResult, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	return s.result, nil
}

func (s *stubScanner) CheckURL(context.Context, string) (*models.ScanResult, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	return s.result, nil
}

func newEngine(t *testing.T, ttl time.Duration, scanner safety.Scanner) *Engine {
	t.Helper()
	e := NewEngine(Options{
		TTL:           ttl,
		SweepInterval: time.Hour,
		Pipeline: safety.NewPipeline(safety.Options{
			Scanner: scanner,
			Cache:   store.NewMemoryCache(8),
			Logger:  zerolog.Nop(),
		}),
		Logger: zerolog.Nop(),
	})
	t.Cleanup(e.Close)
	return e
}

func joinPair(t *testing.T, e *Engine) (*fakePeer, *fakePeer) {
	t.Helper()
	alice := &fakePeer{id: "conn-alice"}
	bob := &fakePeer{id: "conn-bob"}
	require.True(t, e.Join(alice, "alice"))
	require.True(t, e.Join(bob, "bob"))
	return alice, bob
}

func TestSendTextDeliversAndExpires(t *testing.T) {
	ttl := 100 * time.Millisecond
	e := newEngine(t, ttl, nil)
	alice, bob := joinPair(t, e)

	start := time.Now()
	out := e.Send(context.Background(), alice, &models.Draft{To: "bob", Kind: models.KindText, Content: "hello"})
	require.Equal(t, OutcomeDelivered, out)

	bobGot := bob.delivered(t)
	require.Len(t, bobGot, 1)
	assert.Equal(t, "alice", bobGot[0].From)
	assert.Equal(t, "hello", bobGot[0].Content)
	assert.False(t, bobGot[0].IsOwn)

	aliceGot := alice.delivered(t)
	require.Len(t, aliceGot, 1)
	assert.True(t, aliceGot[0].IsOwn)
	assert.Equal(t, bobGot[0].ID, aliceGot[0].ID)
	assert.Equal(t, 1, e.StoredCount())

	require.Eventually(t, func() bool {
		return len(alice.deleted(t)) == 1 && len(bob.deleted(t)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), ttl)
	assert.Equal(t, bobGot[0].ID, bob.deleted(t)[0].ID)
	assert.Equal(t, bobGot[0].ID, alice.deleted(t)[0].ID)
	assert.Equal(t, 0, e.StoredCount())
}

func TestSendBlockedFileIsAsymmetricAndNeverExpires(t *testing.T) {
	e := newEngine(t, 50*time.Millisecond, nil)
	alice, bob := joinPair(t, e)

	content := base64.StdEncoding.EncodeToString([]byte("MZ-binary"))
	out := e.Send(context.Background(), alice, &models.Draft{To: "bob", Kind: models.KindFile, Filename: "keygen.exe", Content: content})
	require.Equal(t, OutcomeBlocked, out)

	bobGot := bob.delivered(t)
	require.Len(t, bobGot, 1)
	assert.True(t, bobGot[0].IsSystem)
	assert.True(t, bobGot[0].IsBlocked)
	assert.NotContains(t, bobGot[0].Content, content)
	assert.Empty(t, bobGot[0].Filename)
	assert.ElementsMatch(t, []string{"keygen", ".exe"}, bobGot[0].ThreatTokens)

	aliceGot := alice.delivered(t)
	require.Len(t, aliceGot, 1)
	assert.True(t, aliceGot[0].WasBlocked)
	assert.True(t, aliceGot[0].IsOwn)
	assert.Equal(t, content, aliceGot[0].Content)
	assert.Equal(t, "keygen.exe", aliceGot[0].Filename)
	assert.ElementsMatch(t, []string{"keygen", ".exe"}, aliceGot[0].ThreatTokens)

	assert.Equal(t, 0, e.StoredCount())
	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, alice.deleted(t))
	assert.Empty(t, bob.deleted(t))
}

func TestSendToUnknownRecipient(t *testing.T) {
	e := newEngine(t, time.Minute, nil)
	alice, bob := joinPair(t, e)
	presenceBefore := len(alice.events(models.EventPresenceUpdate))

	out := e.Send(context.Background(), alice, &models.Draft{To: "carol", Kind: models.KindText, Content: "hi"})
	require.Equal(t, OutcomeUnavailable, out)

	got := alice.delivered(t)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsSystem)
	assert.Equal(t, models.SystemSender, got[0].From)
	assert.Contains(t, got[0].Content, "carol")
	assert.Empty(t, bob.delivered(t))
	assert.Equal(t, 0, e.StoredCount())
	assert.Equal(t, presenceBefore, len(alice.events(models.EventPresenceUpdate)))
}

func TestSendFromUnregisteredIsDropped(t *testing.T) {
	e := newEngine(t, time.Minute, nil)
	_, bob := joinPair(t, e)
	stranger := &fakePeer{id: "conn-x"}

	out := e.Send(context.Background(), stranger, &models.Draft{To: "bob", Content: "hi"})
	assert.Equal(t, OutcomeDropped, out)
	assert.Empty(t, stranger.got)
	assert.Empty(t, bob.delivered(t))
}

func TestSendInvalidDraftIgnored(t *testing.T) {
	e := newEngine(t, time.Minute, nil)
	alice, bob := joinPair(t, e)

	assert.Equal(t, OutcomeInvalid, e.Send(context.Background(), alice, &models.Draft{To: "bob"}))
	assert.Equal(t, OutcomeInvalid, e.Send(context.Background(), alice, &models.Draft{Content: "x"}))
	assert.Empty(t, alice.delivered(t))
	assert.Empty(t, bob.delivered(t))
}

func TestRecipientVanishesDuringScan(t *testing.T) {
	scanner := &stubScanner{result: &models.ScanResult{Harmless: 10}}
	e := newEngine(t, time.Minute, scanner)
	alice, bob := joinPair(t, e)
	scanner.during = func() { e.Leave(bob) }

	out := e.Send(context.Background(), alice, &models.Draft{To: "bob", Kind: models.KindLink, Content: "https://example.com"})
	require.Equal(t, OutcomeUnavailable, out)

	got := alice.delivered(t)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsSystem)
	assert.Empty(t, bob.delivered(t))
	assert.Equal(t, 0, e.StoredCount())
}

func TestDeletionReachesSenderAfterRecipientLeft(t *testing.T) {
	e := newEngine(t, 60*time.Millisecond, nil)
	alice, bob := joinPair(t, e)

	require.Equal(t, OutcomeDelivered, e.Send(context.Background(), alice, &models.Draft{To: "bob", Content: "bye"}))
	e.Leave(bob)

	require.Eventually(t, func() bool { return len(alice.deleted(t)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, bob.deleted(t))
}

func TestRemoteScanPassedNotice(t *testing.T) {
	scanner := &stubScanner{result: &models.ScanResult{Harmless: 60}}
	e := newEngine(t, time.Minute, scanner)
	alice, bob := joinPair(t, e)

	content := base64.StdEncoding.EncodeToString([]byte("%PDF-1.7"))
	out := e.Send(context.Background(), alice, &models.Draft{To: "bob", Kind: models.KindPDF, Filename: "report.pdf", Content: content})
	require.Equal(t, OutcomeDelivered, out)

	bobGot := bob.delivered(t)
	require.Len(t, bobGot, 2)
	assert.Equal(t, content, bobGot[0].Content)
	assert.True(t, bobGot[1].IsSystem)
	assert.Contains(t, bobGot[1].Content, "report.pdf")
	assert.Len(t, alice.delivered(t), 2)
	assert.Equal(t, 1, e.StoredCount(), "scan notice is not stored")
}

func TestCachedVerdictSendsNoScanNotice(t *testing.T) {
	scanner := &stubScanner{result: &models.ScanResult{Harmless: 60}}
	e := newEngine(t, time.Minute, scanner)
	alice, bob := joinPair(t, e)

	content := base64.StdEncoding.EncodeToString([]byte("%PDF-1.7"))
	draft := func() *models.Draft {
		return &models.Draft{To: "bob", Kind: models.KindPDF, Filename: "report.pdf", Content: content}
	}
	require.Equal(t, OutcomeDelivered, e.Send(context.Background(), alice, draft()))
	require.Equal(t, OutcomeDelivered, e.Send(context.Background(), alice, draft()))

	assert.Equal(t, 1, scanner.calls)
	got := bob.delivered(t)
	require.Len(t, got, 3, "message, notice, message")
	assert.False(t, got[2].IsSystem)
	assert.Len(t, alice.delivered(t), 3)
}

func TestRemoteScanNoNoticeForText(t *testing.T) {
	scanner := &stubScanner{result: &models.ScanResult{Harmless: 60}}
	e := newEngine(t, time.Minute, scanner)
	alice, bob := joinPair(t, e)

	require.Equal(t, OutcomeDelivered, e.Send(context.Background(), alice, &models.Draft{To: "bob", Kind: models.KindLink, Content: "https://example.com"}))
	assert.Len(t, bob.delivered(t), 1)
}

func TestRemoteMaliciousLinkBlocked(t *testing.T) {
	scanner := &stubScanner{result: &models.ScanResult{Malicious: 2}}
	e := newEngine(t, 50*time.Millisecond, scanner)
	alice, bob := joinPair(t, e)

	require.Equal(t, OutcomeBlocked, e.Send(context.Background(), alice, &models.Draft{To: "bob", Kind: models.KindLink, Content: "https://evil.example"}))
	got := bob.delivered(t)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsBlocked)
	assert.NotContains(t, got[0].Content, "evil.example")
	assert.Contains(t, got[0].BlockReason, "2 security engines")

	own := alice.delivered(t)
	require.Len(t, own, 1)
	assert.True(t, own[0].WasBlocked)
	assert.True(t, own[0].IsOwn)
	assert.Equal(t, "https://evil.example", own[0].Content)
	assert.Empty(t, own[0].ThreatTokens)
	assert.Contains(t, own[0].BlockReason, "2 security engines")

	assert.Equal(t, 0, e.StoredCount())
	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, alice.deleted(t))
	assert.Empty(t, bob.deleted(t))
}

func TestRelayProgress(t *testing.T) {
	e := newEngine(t, time.Minute, nil)
	alice, bob := joinPair(t, e)

	ok := e.RelayProgress(alice, &models.UploadProgress{To: "bob", Filename: "a.zip", BytesUploaded: 5, TotalBytes: 10})
	require.True(t, ok)
	envs := bob.events(models.EventUploadProgress)
	require.Len(t, envs, 1)
	var p models.UploadProgress
	require.NoError(t, envs[0].ParseData(&p))
	assert.Equal(t, "alice", p.From)
	assert.InDelta(t, 50.0, p.Percent, 0.001)

	assert.False(t, e.RelayProgress(alice, &models.UploadProgress{To: "nobody", Filename: "a.zip"}))
	assert.False(t, e.RelayProgress(&fakePeer{id: "x"}, &models.UploadProgress{To: "bob", Filename: "a.zip"}))
	assert.Equal(t, 0, e.StoredCount())
}

func envelope(t *testing.T, event string, data interface{}) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(event, data)
	require.NoError(t, err)
	return env
}

func TestDispatchTable(t *testing.T) {
	e := newEngine(t, time.Minute, nil)
	ctx := context.Background()
	alice := &fakePeer{id: "a"}
	bob := &fakePeer{id: "b"}

	e.Dispatch(ctx, alice, envelope(t, models.EventJoin, models.JoinData{Username: "alice"}))
	e.Dispatch(ctx, bob, envelope(t, models.EventJoin, models.JoinData{Username: "bob"}))
	assert.Equal(t, []string{"alice", "bob"}, e.Users())

	e.Dispatch(ctx, alice, envelope(t, models.EventSend, models.Draft{To: "bob", Kind: models.KindText, Content: "yo"}))
	assert.Len(t, bob.delivered(t), 1)

	// malformed and unknown events are ignored
	e.Dispatch(ctx, alice, &models.Envelope{Event: models.EventSend, Data: json.RawMessage(`{"to":`)})
	e.Dispatch(ctx, alice, &models.Envelope{Event: models.EventJoin})
	e.Dispatch(ctx, alice, &models.Envelope{Event: "teleport", Data: json.RawMessage(`{}`)})
	assert.Len(t, bob.delivered(t), 1)

	e.Dispatch(ctx, alice, &models.Envelope{Event: models.EventPing})
	assert.Len(t, alice.events(models.EventPong), 1)
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	e := newEngine(t, time.Minute, nil)
	e.Register("boom", func(context.Context, presence.Peer, *models.Envelope) { panic("kaboom") })

	assert.NotPanics(t, func() {
		e.Dispatch(context.Background(), &fakePeer{id: "a"}, &models.Envelope{Event: "boom"})
	})
}

func TestStats(t *testing.T) {
	e := newEngine(t, time.Minute, nil)
	alice, _ := joinPair(t, e)

	e.Send(context.Background(), alice, &models.Draft{To: "bob", Content: "hi"})
	e.Send(context.Background(), alice, &models.Draft{To: "bob", Content: "get the crack here"})
	e.Send(context.Background(), alice, &models.Draft{To: "zed", Content: "hi"})

	s := e.Stats()
	assert.Equal(t, 2, s.Users)
	assert.Equal(t, 1, s.Stored)
	assert.Equal(t, int64(1), s.Delivered)
	assert.Equal(t, int64(1), s.Blocked)
	assert.Equal(t, int64(1), s.Unavailable)
}
