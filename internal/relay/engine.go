// Package relay routes drafts between registered connections, applying the
// safety pipeline and handing safe messages to the lifecycle store.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/ephemera/internal/crypto"
	"github.com/eldtechnologies/ephemera/internal/lifecycle"
	"github.com/eldtechnologies/ephemera/internal/metrics"
	"github.com/eldtechnologies/ephemera/internal/models"
	"github.com/eldtechnologies/ephemera/internal/presence"
	"github.com/eldtechnologies/ephemera/internal/safety"
)

// Outcome is the result of a send request.
type Outcome string

const (
	OutcomeDelivered   Outcome = "delivered"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeDropped     Outcome = "dropped" // sender never joined
	OutcomeInvalid     Outcome = "invalid" // missing recipient or content
)

// Options configures an Engine.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Pipeline      *safety.Pipeline
	Logger        zerolog.Logger
}

// Engine is the delivery router. It owns the presence registry and the
// lifecycle store; neither is reachable except through it.
type Engine struct {
	presence *presence.Registry
	messages *lifecycle.Store
	pipeline *safety.Pipeline
	handlers map[string]HandlerFunc
	stats    counters
	started  time.Time
	logger   zerolog.Logger
}

// NewEngine wires a registry, a lifecycle store and the pipeline together.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger.With().Str("component", "relay").Logger()
	if opts.Pipeline == nil {
		opts.Pipeline = safety.NewPipeline(safety.Options{Logger: opts.Logger})
	}

	e := &Engine{
		presence: presence.NewRegistry(opts.Logger),
		pipeline: opts.Pipeline,
		started:  time.Now(),
		logger:   logger,
	}
	e.messages = lifecycle.New(lifecycle.Options{
		TTL:           opts.TTL,
		SweepInterval: opts.SweepInterval,
		Notify:        e.announceDeletion,
		Logger:        opts.Logger,
	})
	e.handlers = e.defaultHandlers()
	return e
}

// Run drives the lifecycle sweeper until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.messages.Run(ctx)
}

// Close stops pending expiry timers.
func (e *Engine) Close() {
	e.messages.Close()
}

// TTL returns the message lifetime.
func (e *Engine) TTL() time.Duration { return e.messages.TTL() }

// SweepInterval returns the backstop sweep period.
func (e *Engine) SweepInterval() time.Duration { return e.messages.SweepInterval() }

// Uptime returns how long the engine has been running.
func (e *Engine) Uptime() time.Duration { return time.Since(e.started) }

// Pipeline returns the safety pipeline.
func (e *Engine) Pipeline() *safety.Pipeline { return e.pipeline }

// Users returns the registered display names.
func (e *Engine) Users() []string { return e.presence.Snapshot() }

// UserCount returns the number of registered connections.
func (e *Engine) UserCount() int { return e.presence.Len() }

// StoredCount returns the number of messages awaiting expiry.
func (e *Engine) StoredCount() int { return e.messages.Len() }

// Join registers peer under name.
func (e *Engine) Join(peer presence.Peer, name string) bool {
	return e.presence.Join(peer, name)
}

// Leave unregisters peer. Messages it took part in still expire normally.
func (e *Engine) Leave(peer presence.Peer) bool {
	return e.presence.Leave(peer.ID())
}

// Send delivers a draft from sender to the named recipient.
func (e *Engine) Send(ctx context.Context, sender presence.Peer, d *models.Draft) Outcome {
	outcome := e.send(ctx, sender, d)
	metrics.SendOutcomes.WithLabelValues(string(outcome)).Inc()
	e.stats.record(outcome)
	return outcome
}

func (e *Engine) send(ctx context.Context, sender presence.Peer, d *models.Draft) Outcome {
	_, from, ok := e.presence.Lookup(sender.ID())
	if !ok {
		e.logger.Debug().Str("conn", sender.ID()).Msg("send from unregistered connection dropped")
		return OutcomeDropped
	}

	d.To = presence.NormalizeName(d.To)
	if d.To == "" || d.Content == "" {
		return OutcomeInvalid
	}
	if d.Kind == "" {
		d.Kind = models.KindText
	}
	if !d.Kind.Valid() {
		d.Kind = models.KindFile
	}

	recipient, ok := e.presence.Resolve(d.To)
	if !ok {
		e.sendUnavailable(sender, d.To)
		return OutcomeUnavailable
	}

	// Scanning can take seconds; no registry or store lock is held here.
	assessment := e.pipeline.Evaluate(ctx, d)

	// The recipient may have disconnected while the scan was running.
	if _, _, still := e.presence.Lookup(recipient.ID()); !still {
		e.sendUnavailable(sender, d.To)
		return OutcomeUnavailable
	}

	msg := &models.Message{
		ID:        crypto.NewMessageID(),
		From:      from,
		To:        d.To,
		FromConn:  sender.ID(),
		ToConn:    recipient.ID(),
		Kind:      d.Kind,
		Content:   d.Content,
		Filename:  d.Filename,
		MimeType:  d.MimeType,
		SizeBytes: d.SizeBytes,
		CreatedAt: time.Now(),
	}

	log := e.logger.With().
		Str("id", msg.ID).
		Str("from", msg.From).
		Str("to", msg.To).
		Str("kind", string(msg.Kind)).
		Logger()

	if assessment.Blocked {
		e.emitBlocked(sender, recipient, msg, assessment)
		log.Warn().Strs("threats", assessment.Threats).Bool("remote", assessment.RemoteScanned).Msg("message blocked for receiver")
		return OutcomeBlocked
	}

	e.messages.Store(msg)
	e.emit(recipient, models.EventDeliver, models.DeliverFromMessage(msg, false))
	e.emit(sender, models.EventDeliver, models.DeliverFromMessage(msg, true))

	// Only a scan that ran now earns the notice; cached verdicts stay quiet.
	if assessment.RemoteScanned && !assessment.Cached && !msg.Kind.IsTextual() {
		notice := e.systemMessage(msg.To, fmt.Sprintf("🛡️ %s %q passed the security scan", msg.Kind.Label(), msg.Filename))
		e.emit(recipient, models.EventDeliver, notice)
		e.emit(sender, models.EventDeliver, notice)
	}

	log.Info().Msg("message delivered")
	return OutcomeDelivered
}

// emitBlocked sends the receiver a placeholder and the sender their own
// content marked as blocked. Nothing is stored.
func (e *Engine) emitBlocked(sender, recipient presence.Peer, msg *models.Message, a models.Assessment) {
	reason := "matched the security policy"
	if len(a.Threats) == 0 && a.Remote != nil {
		reason = fmt.Sprintf("flagged by %d security engines", a.Remote.Malicious+a.Remote.Suspicious)
	}

	placeholder := models.DeliverData{
		ID:           msg.ID,
		From:         models.SystemSender,
		To:           msg.To,
		Kind:         models.KindText,
		Content:      fmt.Sprintf("🚫 A %s from %s was blocked: %s", msg.Kind.Label(), msg.From, reason),
		CreatedAt:    msg.CreatedAt.UnixMilli(),
		IsSystem:     true,
		IsBlocked:    true,
		ThreatTokens: a.Threats,
		BlockReason:  reason,
	}
	e.emit(recipient, models.EventDeliver, placeholder)

	own := models.DeliverFromMessage(msg, true)
	own.WasBlocked = true
	own.ThreatTokens = a.Threats
	own.BlockReason = reason
	e.emit(sender, models.EventDeliver, own)
}

func (e *Engine) sendUnavailable(sender presence.Peer, to string) {
	e.emit(sender, models.EventDeliver, e.systemMessage(to, fmt.Sprintf("User %s is not available", to)))
}

// systemMessage builds a server-authored notice about the conversation with peerName.
func (e *Engine) systemMessage(peerName, text string) models.DeliverData {
	return models.DeliverData{
		ID:        crypto.NewMessageID(),
		From:      models.SystemSender,
		To:        peerName,
		Kind:      models.KindText,
		Content:   text,
		CreatedAt: time.Now().UnixMilli(),
		IsSystem:  true,
	}
}

// RelayProgress forwards upload progress to the recipient. Best effort.
func (e *Engine) RelayProgress(sender presence.Peer, p *models.UploadProgress) bool {
	_, from, ok := e.presence.Lookup(sender.ID())
	if !ok || p.Filename == "" {
		return false
	}
	recipient, ok := e.presence.Resolve(p.To)
	if !ok {
		return false
	}

	p.From = from
	p.Normalize()
	e.emit(recipient, models.EventUploadProgress, p)
	metrics.ProgressRelayed.Inc()
	return true
}

// announceDeletion tells both parties of an expired message. The sender's
// connection is notified even if the recipient has gone.
func (e *Engine) announceDeletion(msg *models.Message, at time.Time) {
	notice := models.DeletedData{ID: msg.ID, Timestamp: at.UnixMilli()}
	handles := []string{msg.FromConn}
	if msg.ToConn != msg.FromConn {
		handles = append(handles, msg.ToConn)
	}
	for _, handle := range handles {
		if peer, _, ok := e.presence.Lookup(handle); ok {
			e.emit(peer, models.EventDeleted, notice)
		}
	}
}

func (e *Engine) emit(peer presence.Peer, event string, data interface{}) {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		e.logger.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	peer.Send(env)
}
