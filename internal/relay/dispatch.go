package relay

import (
	"context"

	"github.com/eldtechnologies/ephemera/internal/metrics"
	"github.com/eldtechnologies/ephemera/internal/models"
	"github.com/eldtechnologies/ephemera/internal/presence"
)

// HandlerFunc handles one inbound event from a connection.
type HandlerFunc func(ctx context.Context, peer presence.Peer, env *models.Envelope)

// Register adds or replaces the handler for an event name. It must be
// called before connections are served.
func (e *Engine) Register(event string, fn HandlerFunc) {
	e.handlers[event] = fn
}

// Dispatch routes one inbound event. Connections call it synchronously, in
// arrival order. A panicking handler is logged and the event dropped.
func (e *Engine) Dispatch(ctx context.Context, peer presence.Peer, env *models.Envelope) {
	fn, ok := e.handlers[env.Event]
	if !ok {
		metrics.DroppedEvents.WithLabelValues("unknown_event").Inc()
		e.logger.Debug().Str("conn", peer.ID()).Str("event", env.Event).Msg("unknown event ignored")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.DroppedEvents.WithLabelValues("handler_panic").Inc()
			e.logger.Error().Interface("panic", r).Str("conn", peer.ID()).Str("event", env.Event).Msg("event handler panicked")
		}
	}()
	fn(ctx, peer, env)
}

func (e *Engine) defaultHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		models.EventJoin:           e.handleJoin,
		models.EventSend:           e.handleSend,
		models.EventUploadProgress: e.handleProgress,
		models.EventPing:           e.handlePing,
	}
}

func (e *Engine) handleJoin(_ context.Context, peer presence.Peer, env *models.Envelope) {
	var data models.JoinData
	if err := env.ParseData(&data); err != nil {
		e.malformed(peer, env, err)
		return
	}
	e.Join(peer, data.Username)
}

func (e *Engine) handleSend(ctx context.Context, peer presence.Peer, env *models.Envelope) {
	var draft models.Draft
	if err := env.ParseData(&draft); err != nil {
		e.malformed(peer, env, err)
		return
	}
	e.Send(ctx, peer, &draft)
}

func (e *Engine) handleProgress(_ context.Context, peer presence.Peer, env *models.Envelope) {
	var p models.UploadProgress
	if err := env.ParseData(&p); err != nil {
		e.malformed(peer, env, err)
		return
	}
	e.RelayProgress(peer, &p)
}

func (e *Engine) handlePing(_ context.Context, peer presence.Peer, _ *models.Envelope) {
	e.emit(peer, models.EventPong, nil)
}

func (e *Engine) malformed(peer presence.Peer, env *models.Envelope, err error) {
	metrics.DroppedEvents.WithLabelValues("malformed").Inc()
	e.logger.Debug().Err(err).Str("conn", peer.ID()).Str("event", env.Event).Msg("malformed payload ignored")
}
