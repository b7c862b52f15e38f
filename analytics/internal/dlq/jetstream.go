package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/common/logging"
	"github.com/numberoneson/nos-analytics/common/messaging/nats"
)

// JetStreamQueue publishes failed events to the ANALYTICS_DLQ stream so
// every collector instance shares one queue.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	stream  jetstream.Stream
	logger  *logging.Logger
	written atomic.Uint64
}

// NewJetStreamQueue ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	logger.InfoContext(ctx, "dlq stream ready", "stream", nats.DLQStream.Name)

	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

// Subject returns the publish subject for reason.
func Subject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return "analytics.dlq." + reason
}

func (q *JetStreamQueue) Write(ctx context.Context, e *models.Event, err error, reason string) error {
	if q == nil {
		return nil
	}

	data, marshalErr := json.Marshal(newFailedEvent(uuid.NewString(), e, err, reason, time.Now().UTC()))
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}
	if _, pubErr := q.js.PublishSync(ctx, Subject(reason), data); pubErr != nil {
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	q.written.Add(1)
	metrics.DLQWrites.WithLabelValues(reason).Inc()
	return nil
}

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 100

// scan delivers up to limit entries from the start of the stream together
// with their stream sequence. visit returns false to stop early.
func (q *JetStreamQueue) scan(ctx context.Context, limit int, visit func(f FailedEvent, seq uint64) bool) error {
	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: nats.DLQStream.Subjects,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create scan consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	done := false
	for msg := range msgs.Messages() {
		if done {
			continue
		}
		meta, err := msg.Metadata()
		if err != nil {
			q.logger.WarnContext(ctx, "dlq message without metadata", logging.Error(err))
			continue
		}
		var f FailedEvent
		if err := json.Unmarshal(msg.Data(), &f); err != nil {
			q.logger.WarnContext(ctx, "failed to parse dlq message", logging.Error(err))
			continue
		}
		done = !visit(f, meta.Sequence.Stream)
	}
	if msgs.Error() != nil {
		q.logger.WarnContext(ctx, "dlq fetch completed with error", logging.Error(msgs.Error()))
	}
	return nil
}

// List reads up to limit entries from the start of the stream.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var events []FailedEvent
	err := q.scan(ctx, limit, func(f FailedEvent, _ uint64) bool {
		events = append(events, f)
		return true
	})
	return events, err
}

// Delete removes the message carrying the given entry ID.
func (q *JetStreamQueue) Delete(ctx context.Context, id string) error {
	if q == nil {
		return ErrDisabled
	}
	if id == "" {
		return ErrNotFound
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("dlq stream info: %w", err)
	}
	if info.State.Msgs == 0 {
		return ErrNotFound
	}

	var seq uint64
	err = q.scan(ctx, int(info.State.Msgs), func(f FailedEvent, s uint64) bool {
		if f.ID == id {
			seq = s
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if seq == 0 {
		return ErrNotFound
	}
	if err := q.stream.DeleteMsg(ctx, seq); err != nil {
		return fmt.Errorf("delete dlq message: %w", err)
	}
	return nil
}

// Purge removes every message from the stream and returns how many there
// were just before.
func (q *JetStreamQueue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, ErrDisabled
	}
	pending := 0
	if info, err := q.stream.Info(ctx); err == nil {
		pending = int(info.State.Msgs)
	}
	if err := q.stream.Purge(ctx); err != nil {
		return 0, fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "dlq purged", "deleted", pending)
	return pending, nil
}

func (q *JetStreamQueue) Stats(ctx context.Context) Stats {
	if q == nil {
		return Stats{Backend: "jetstream"}
	}
	s := Stats{Enabled: true, Backend: "jetstream", Written: q.written.Load()}
	info, err := q.stream.Info(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Pending = int(info.State.Msgs)
	return s
}
