package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homerobot/config"
	"homerobot/log"
	"homerobot/models"
	"homerobot/services"
	"homerobot/transport"
)

// peerID returns the configured peer id, or role plus a random suffix.
func peerID(role string) string {
	if cfg.Transport.PeerID != "" {
		return cfg.Transport.PeerID
	}
	return role + "-" + uuid.NewString()[:8]
}

// openChannel connects the configured transport. The robot offers and the
// controller answers when WebRTC is used.
func openChannel(ctx context.Context, id string, role transport.PeerRole) (transport.Channel, error) {
	t := cfg.Transport
	switch t.Kind {
	case "websocket":
		return transport.DialWebSocket(ctx, transport.WebSocketConfig{
			RelayURL:       t.RelayURL,
			Room:           t.Room,
			PeerID:         id,
			ReconnectDelay: t.ReconnectDelay,
			SendTimeout:    t.SendTimeout,
		})
	case "webrtc":
		return transport.NewPeerChannel(ctx, transport.PeerConfig{
			RelayURL:   t.RelayURL,
			Room:       t.Room,
			PeerID:     id,
			ICEServers: t.ICEServers,
			Role:       role,
		})
	case "nats":
		return transport.NewNatsChannel(ctx, transport.NatsConfig{
			URL:        t.NatsURL,
			Room:       t.Room,
			PeerID:     id,
			AckTimeout: t.SendTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

func sessionOptions(extra ...services.SessionOption) []services.SessionOption {
	s := cfg.Session
	return append([]services.SessionOption{
		services.WithBroadcastInterval(config.Interval(s.BroadcastRate)),
		services.WithWaypointSpacing(s.WaypointSpacing),
		services.WithSyncGateOptions(services.WithFreshness(s.SyncFreshness)),
		services.WithMarkerView(markerLog{log.Named("markers")}, s.MarkerRetention),
	}, extra...)
}

// markerLog stands in for an AR view on headless devices.
type markerLog struct {
	l *zap.Logger
}

func (m markerLog) Show(w models.Waypoint) any {
	m.l.Info("marker placed", zap.Int("marker_id", w.MarkerID), zap.Any("position", w.Position))
	return w.MarkerID
}

func (m markerLog) MarkComplete(handle any) {
	m.l.Info("marker reached", zap.Any("marker_id", handle))
}

func (m markerLog) Remove(handle any) {
	m.l.Debug("marker removed", zap.Any("marker_id", handle))
}
