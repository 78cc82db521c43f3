package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/config"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/metrics"
)

// NATSClient publishes swap lifecycle events to JetStream
type NATSClient struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	streamName    string
	subjectPrefix string
}

// NewNATSClient connects to the NATS server and ensures the swap stream exists
func NewNATSClient(url, streamName, subjectPrefix string) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if config.AppConfig != nil && config.AppConfig.NATS.Timeout > 0 {
		connectTimeout = time.Duration(config.AppConfig.NATS.Timeout) * time.Second
	}

	maxReconnects := -1
	if config.AppConfig != nil && config.AppConfig.NATS.MaxReconnects != 0 {
		maxReconnects = config.AppConfig.NATS.MaxReconnects
	}

	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &NATSClient{
		conn:          conn,
		js:            js,
		streamName:    streamName,
		subjectPrefix: subjectPrefix,
	}

	if err := client.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	metrics.NATSConnectionStatus.Set(1)
	log.Printf("✅ NATS connected, stream %s ready", streamName)
	return client, nil
}

// ensureStream creates the swap event stream when it does not exist yet
func (c *NATSClient) ensureStream() error {
	_, err := c.js.StreamInfo(c.streamName)
	if err == nil {
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name: c.streamName,
		Subjects: []string{
			c.subjectPrefix + ".orders.*",
			c.subjectPrefix + ".escrows.*",
			c.subjectPrefix + ".fills.*",
		},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}

	if _, err := c.js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.streamName, err)
	}

	log.Printf("✅ Created JetStream stream %s", c.streamName)
	return nil
}

// Publish marshals payload and publishes it under prefix.topic
func (c *NATSClient) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}

	subject := fmt.Sprintf("%s.%s", c.subjectPrefix, topic)
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for a subject under the stream.
// Plain NATS subscription is tried first, JetStream as fallback.
func (c *NATSClient) Subscribe(subject string, handler nats.MsgHandler) error {
	if _, err := c.conn.Subscribe(subject, handler); err == nil {
		return nil
	}
	if _, err := c.js.Subscribe(subject, handler); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return nil
}

// Close closes the NATS connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// GetConnection returns the raw NATS connection
func (c *NATSClient) GetConnection() *nats.Conn {
	return c.conn
}
