package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamClient is a NATS connection with a JetStream context.
type JetStreamClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// StreamConfig defines a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// DLQStream captures events whose storage write failed. Retention matches the
// longest data horizon so an operator can replay within it.
var DLQStream = StreamConfig{
	Name:      "ANALYTICS_DLQ",
	Subjects:  []string{"analytics.dlq.>"},
	MaxAge:    7 * 24 * time.Hour,
	MaxBytes:  512 * 1024 * 1024,
	MaxMsgs:   1_000_000,
	Retention: jetstream.LimitsPolicy,
	Storage:   jetstream.FileStorage,
}

// NewJetStreamClient connects and creates a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{conn: conn, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// PublishSync publishes a message and waits for the stream acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}

// Healthy reports whether the underlying connection is up.
func (c *JetStreamClient) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// Close drains nothing; DLQ publishes are synchronous.
func (c *JetStreamClient) Close() {
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
}
