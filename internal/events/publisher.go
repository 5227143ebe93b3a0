// Package events publishes booking lifecycle notifications to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects published by the services and the sweep.
const (
	SubjectBookingCreated       = "booking.created"
	SubjectBookingStatusChanged = "booking.status_changed"
	SubjectBookingPaid          = "booking.paid"
	SubjectBookingSettled       = "booking.settled"
	SubjectReviewCreated        = "review.created"
	SubjectSweepCompleted       = "sweep.completed"
)

// Publisher sends an event payload, encoded as JSON, to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
	Close()
}

type natsPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNatsPublisher connects to the NATS server at url.
func NewNatsPublisher(url, appName string, log *zap.Logger) (Publisher, error) {
	log = log.Named("nats")
	opts := []nats.Option{
		nats.Name(appName + " publisher"),
		nats.Timeout(10 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return &natsPublisher{conn: conn, logger: log}, nil
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug("Published event", zap.String("subject", subject))
	return nil
}

func (p *natsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", zap.Error(err))
		p.conn.Close()
	}
}

type noopPublisher struct{}

// NewNoopPublisher returns a Publisher that discards every event. Used when NATS_URL is unset.
func NewNoopPublisher() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (noopPublisher) Close()                                             {}
