// Package ingest feeds events published on NATS into a vectorguard Engine.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oarkflow/vectorguard"
)

// Evaluator is the part of the engine the subscriber needs.
type Evaluator interface {
	Evaluate(ctx context.Context, ev vectorguard.Event) vectorguard.Verdict
}

// Subscriber consumes JSON events from a queue group. Messages published with a reply
// subject receive the verdict as the response.
type Subscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	eval   Evaluator
	cfg    vectorguard.NATSConfig
	logger vectorguard.Logger

	received atomic.Int64
	rejected atomic.Int64
}

// Connect dials the NATS server with reconnects enabled.
func Connect(url string, logger vectorguard.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = vectorguard.NopLogger{}
	}
	nc, err := nats.Connect(url,
		nats.Name("vectorguard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", map[string]any{"error": err})
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", map[string]any{"url": c.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

func NewSubscriber(nc *nats.Conn, eval Evaluator, cfg vectorguard.NATSConfig, logger vectorguard.Logger) *Subscriber {
	if logger == nil {
		logger = vectorguard.NopLogger{}
	}
	return &Subscriber{nc: nc, eval: eval, cfg: cfg, logger: logger}
}

// Start subscribes to the configured subject.
func (s *Subscriber) Start() error {
	sub, err := s.nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.handleMsg)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	s.sub = sub
	s.logger.Info("nats ingest started", map[string]any{
		"subject": s.cfg.Subject,
		"queue":   s.cfg.Queue,
	})
	return nil
}

// Stop drains the subscription so in-flight messages are processed.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

// Stats returns the number of messages received and rejected as malformed.
func (s *Subscriber) Stats() (received, rejected int64) {
	return s.received.Load(), s.rejected.Load()
}

func (s *Subscriber) handleMsg(msg *nats.Msg) {
	out, err := s.Handle(context.Background(), msg.Data)
	if err != nil {
		s.logger.Warn("rejecting nats event", map[string]any{"subject": msg.Subject, "error": err})
		out, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(out); err != nil {
		s.logger.Error("failed to reply with verdict", map[string]any{"reply": msg.Reply, "error": err})
	}
}

// Handle decodes one event, evaluates it and returns the encoded verdict.
func (s *Subscriber) Handle(ctx context.Context, data []byte) ([]byte, error) {
	s.received.Add(1)
	var ev vectorguard.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.rejected.Add(1)
		return nil, fmt.Errorf("decode event: %w", err)
	}
	v := s.eval.Evaluate(ctx, ev)
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode verdict: %w", err)
	}
	return out, nil
}
