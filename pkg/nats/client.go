package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Client wraps a NATS connection for publishing routing events
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	config *Config
}

// Config holds NATS configuration
type Config struct {
	URL      string        `mapstructure:"url"`
	ClientID string        `mapstructure:"client_id"`
	Stream   *StreamConfig `mapstructure:"stream"`
}

// StreamConfig enables JetStream persistence for published subjects
type StreamConfig struct {
	Name     string        `mapstructure:"name"`
	Subjects []string      `mapstructure:"subjects"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	MaxMsgs  int64         `mapstructure:"max_msgs"`
}

// NewClient connects to NATS. When a stream is configured it is created or
// updated and publishes go through JetStream.
func NewClient(config *Config, logger *logrus.Entry) (*Client, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("component", "nats-client")

	opts := []nats.Option{
		nats.Name(config.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Errorf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Errorf("NATS error: %v", err)
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client := &Client{
		conn:   conn,
		logger: logger,
		config: config,
	}

	if config.Stream != nil {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js
		if err := client.ensureStream(*config.Stream); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize stream: %w", err)
		}
	}

	return client, nil
}

func (c *Client) ensureStream(sc StreamConfig) error {
	subjects := sc.Subjects
	if len(subjects) == 0 {
		subjects = []string{Root + ".>"}
	}
	cfg := &nats.StreamConfig{
		Name:      sc.Name,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		MaxAge:    sc.MaxAge,
		MaxMsgs:   sc.MaxMsgs,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := c.js.StreamInfo(sc.Name); err == nil {
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", sc.Name, err)
		}
		c.logger.Infof("Updated stream: %s", sc.Name)
		return nil
	}
	if _, err := c.js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
	}
	c.logger.Infof("Created stream: %s", sc.Name)
	return nil
}

// Publish marshals data as JSON and publishes it on subject
func (c *Client) Publish(subject string, data interface{}) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if c.js != nil {
		_, err = c.js.Publish(subject, msg)
	} else {
		err = c.conn.Publish(subject, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.logger.Debugf("Published to %s", subject)
	return nil
}

// MessageHandler processes incoming messages
type MessageHandler func(subject string, data []byte) error

// RequestHandler answers a request. Its result, or its error, is sent back
// when the message carries a reply subject.
type RequestHandler func(subject string, data []byte) (interface{}, error)

// Reply is the body sent back to requesters
type Reply struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Subscription represents an active subscription
type Subscription struct {
	sub     *nats.Subscription
	subject string
}

// NewSubscription wraps sub. A nil sub makes Unsubscribe a no-op.
func NewSubscription(subject string, sub *nats.Subscription) *Subscription {
	return &Subscription{sub: sub, subject: subject}
}

// Subject returns the subscribed subject
func (s *Subscription) Subject() string {
	return s.subject
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Subscribe registers a core NATS subscription
func (c *Client) Subscribe(subject string, handler MessageHandler) (*Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(msg.Subject, msg.Data); err != nil {
			c.logger.Errorf("Handler error for %s: %v", msg.Subject, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.logger.Infof("Subscribed to %s", subject)
	return NewSubscription(subject, sub), nil
}

// SubscribeRequests registers a request/reply subscription in a queue group,
// so several service instances share the load
func (c *Client) SubscribeRequests(subject, queue string, handler RequestHandler) (*Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		result, err := handler(msg.Subject, msg.Data)
		if err != nil {
			c.logger.Warnf("Request on %s failed: %v", msg.Subject, err)
		}
		if msg.Reply == "" {
			return
		}
		reply := Reply{Result: result}
		if err != nil {
			reply.Error = err.Error()
		}
		data, mErr := json.Marshal(reply)
		if mErr != nil {
			c.logger.Errorf("Failed to marshal reply for %s: %v", msg.Subject, mErr)
			return
		}
		if rErr := msg.Respond(data); rErr != nil {
			c.logger.Errorf("Failed to reply on %s: %v", msg.Subject, rErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.logger.Infof("Serving requests on %s (queue %s)", subject, queue)
	return NewSubscription(subject, sub), nil
}

// Connected reports whether the connection is up
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
