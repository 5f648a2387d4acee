// Package publisher pushes tracking snapshots to NATS so other services can
// follow a live trip without polling the HTTP API.
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"rnvlive/internal/domain"
)

type NATSPublisher struct {
	nc            *nats.Conn
	subjectPrefix string
	logger        *slog.Logger
}

func NewNATSPublisher(url, subjectPrefix string, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "nats_publisher")
	nc, err := nats.Connect(url,
		nats.Name("rnvlive"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSPublisher{nc: nc, subjectPrefix: subjectPrefix, logger: logger}, nil
}

// PublishSnapshot sends snap on "<prefix>.trip.<tripId>". Publish failures
// are logged, not returned; the tracking loop must not be coupled to broker
// health.
func (p *NATSPublisher) PublishSnapshot(snap domain.TrackingSnapshot) {
	subject := fmt.Sprintf("%s.trip.%s", p.subjectPrefix, subjectToken(snap.TripID))
	b, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("marshaling snapshot failed", "trip_id", snap.TripID, "error", err)
		return
	}
	if err := p.nc.Publish(subject, b); err != nil {
		p.logger.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
