// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chainwright/chainwright/internal/logger"
	"github.com/chainwright/chainwright/internal/port/messagequeue"
)

const (
	streamName = "PIPELINE"

	headerRequestID  = "Request-Id"
	headerRetryCount = "Retry-Count"

	// maxRetries is the number of handler attempts before a message
	// moves to its .dlq subject.
	maxRetries = 3

	dlqSuffix = ".dlq"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string, log *slog.Logger) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{messagequeue.SubjectWildcard},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js, logger: log}, nil
}

// Publish sends a message to the given subject, carrying the request ID
// from ctx as a header when present.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if rid := logger.RequestID(ctx); rid != "" {
		msg.Header.Set(headerRequestID, rid)
	}

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Messages failing schema validation go straight to the DLQ; handler
// failures are retried up to maxRetries times before doing the same.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx := context.Background()
		if rid := msg.Headers().Get(headerRequestID); rid != "" {
			msgCtx = logger.WithRequestID(msgCtx, rid)
		}

		if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
			q.logger.Error("message failed validation", "subject", msg.Subject(), "error", err)
			q.moveToDLQ(msgCtx, msg)
			return
		}

		if err := handler(msgCtx, msg.Subject(), msg.Data()); err != nil {
			q.logger.Error("message handler failed", "subject", msg.Subject(), "error", err)
			q.retryOrDLQ(msgCtx, msg)
			return
		}

		if ackErr := msg.Ack(); ackErr != nil {
			q.logger.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// retryOrDLQ republishes the message with an incremented retry count, or
// moves it to the DLQ once the count is exhausted.
func (q *Queue) retryOrDLQ(ctx context.Context, msg jetstream.Msg) {
	count := retryCount(msg.Headers())
	if count >= maxRetries {
		q.moveToDLQ(ctx, msg)
		return
	}

	out := &nats.Msg{
		Subject: msg.Subject(),
		Data:    msg.Data(),
		Header:  nats.Header{},
	}
	if rid := msg.Headers().Get(headerRequestID); rid != "" {
		out.Header.Set(headerRequestID, rid)
	}
	out.Header.Set(headerRetryCount, strconv.Itoa(count+1))

	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		q.logger.Error("nats retry republish failed", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			q.logger.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		q.logger.Error("nats ack failed after retry republish", "error", err)
	}
}

// moveToDLQ republishes the message under its .dlq subject and acks the
// original so it is not redelivered.
func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg) {
	out := &nats.Msg{
		Subject: msg.Subject() + dlqSuffix,
		Data:    msg.Data(),
		Header:  nats.Header{},
	}
	if rid := msg.Headers().Get(headerRequestID); rid != "" {
		out.Header.Set(headerRequestID, rid)
	}

	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		q.logger.Error("nats DLQ publish failed", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			q.logger.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		q.logger.Error("nats ack failed after DLQ publish", "error", err)
	}
}

// retryCount reads the Retry-Count header, defaulting to zero.
func retryCount(h nats.Header) int {
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

// KeyValue returns (creating if needed) a JetStream KV bucket with the
// given per-entry TTL. Used for idempotency replay and the L2 cache.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is currently up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
