package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/observability"
)

// PushDispatcher tries the recipient's websocket first and falls back to
// the push provider.
type PushDispatcher struct {
	WS       *WSRegistry
	Fallback collab.Notifier
	Logger   *zap.Logger
}

func NewPushDispatcher(ws *WSRegistry, fallback collab.Notifier, logger *zap.Logger) *PushDispatcher {
	return &PushDispatcher{WS: ws, Fallback: fallback, Logger: logger}
}

func (p *PushDispatcher) Notify(ctx context.Context, recipient string, msg collab.Message) error {
	err := ErrNoSession
	if p.WS != nil {
		err = p.WS.Notify(ctx, recipient, msg)
		observability.NotificationsTotal.WithLabelValues("ws", observability.Outcome(err)).Inc()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) {
			p.Logger.Warn("ws send failed, falling back to push", zap.String("recipient", recipient), zap.Error(err))
		}
	}
	if p.Fallback == nil {
		return err
	}
	err = p.Fallback.Notify(ctx, recipient, msg)
	observability.NotificationsTotal.WithLabelValues("push", observability.Outcome(err)).Inc()
	return err
}
