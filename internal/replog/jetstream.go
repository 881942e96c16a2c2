// Package replog provides the replication log: an append-only, at-least-once
// publish/subscribe channel shared by all regions, backed by NATS JetStream.
package replog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/devrev/propstream/internal/config"
	apperrors "github.com/devrev/propstream/internal/errors"
	"github.com/devrev/propstream/internal/model"
)

// Publisher is the write-side contract of the replication log.
type Publisher interface {
	Publish(ctx context.Context, event model.ReplicationEvent) error
}

// Subscriber is the read-side contract: deliver every retained message from
// the earliest offset, one at a time, calling handler for each decoded event.
type Subscriber interface {
	Subscribe(handler func(event model.ReplicationEvent)) error
}

var durableSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// JetStreamLog is a NATS JetStream-backed replication log. The stream retains
// every published write so a newly joined region backfills full history.
type JetStreamLog struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	stream  string
	subject string
	durable string
	sub     *nats.Subscription
	logger  *zap.Logger
}

// Ensure JetStreamLog implements both sides of the log contract.
var (
	_ Publisher  = (*JetStreamLog)(nil)
	_ Subscriber = (*JetStreamLog)(nil)
)

// Connect dials the NATS server and ensures the shared stream exists. The
// initial connect is retried with backoff; once established, the client
// reconnects indefinitely on its own.
func Connect(cfg config.NatsConfig, region string, logger *zap.Logger) (*JetStreamLog, error) {
	opts := []nats.Option{
		nats.Name("propstream-" + region),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	}

	var conn *nats.Conn
	retrier := retry.NewRetrier(5, 100*time.Millisecond, cfg.ReconnectWait)
	err := retrier.Run(func() error {
		var connErr error
		conn, connErr = nats.Connect(cfg.URL, opts...)
		return connErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to replication log: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	log := &JetStreamLog{
		conn:    conn,
		js:      js,
		stream:  cfg.Stream,
		subject: cfg.Subject,
		durable: durableName(region),
		logger:  logger,
	}

	if err := log.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	return log, nil
}

// ensureStream creates the shared stream if it does not exist yet. Another
// region may create it concurrently, so the name-in-use error is benign.
func (l *JetStreamLog) ensureStream() error {
	_, err := l.js.StreamInfo(l.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", l.stream, err)
	}

	_, err = l.js.AddStream(&nats.StreamConfig{
		Name:      l.stream,
		Subjects:  []string{l.subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream %s: %w", l.stream, err)
	}

	l.logger.Info("Replication log stream created",
		zap.String("stream", l.stream),
		zap.String("subject", l.subject))

	return nil
}

// Publish appends one accepted write to the shared log.
func (l *JetStreamLog) Publish(ctx context.Context, event model.ReplicationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode replication event: %w", err)
	}

	if _, err := l.js.Publish(l.subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPublishFailure, err)
	}

	return nil
}

// Subscribe starts a durable consumer from the earliest retained offset.
// Messages are acknowledged after handler returns, so delivery is
// at-least-once; handler must tolerate duplicates. Malformed payloads are
// logged and acknowledged so they are never redelivered.
func (l *JetStreamLog) Subscribe(handler func(event model.ReplicationEvent)) error {
	sub, err := l.js.Subscribe(l.subject, func(msg *nats.Msg) {
		var event model.ReplicationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			l.logger.Error("Dropping malformed replication message", zap.Error(err))
			_ = msg.Ack()
			return
		}

		handler(event)
		if err := msg.Ack(); err != nil {
			l.logger.Warn("Failed to ack replication message", zap.Error(err))
		}
	},
		nats.Durable(l.durable),
		nats.DeliverAll(),
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to replication log: %w", err)
	}

	l.sub = sub
	return nil
}

// IsConnected reports whether the NATS connection is currently up.
func (l *JetStreamLog) IsConnected() bool {
	return l.conn != nil && l.conn.IsConnected()
}

// Close drains the subscription and releases the connection. Close is idempotent.
func (l *JetStreamLog) Close() {
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
		l.sub = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// durableName derives a consumer name valid for JetStream from the region id.
func durableName(region string) string {
	return "propstream-applier-" + durableSanitizer.ReplaceAllString(region, "-")
}
