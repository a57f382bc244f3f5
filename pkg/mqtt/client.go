// Package mqtt publishes game events and ledger updates to an MQTT broker
// and ingests player position fixes published by companion apps.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

// Config holds MQTT configuration.
type Config struct {
	Broker      string `yaml:"broker" json:"broker"`
	Port        int    `yaml:"port" json:"port"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         int    `yaml:"qos" json:"qos"`
	Retain      bool   `yaml:"retain" json:"retain"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns default MQTT configuration.
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "stashd",
		TopicPrefix: "stashhunt",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// PositionHandler receives position fixes ingested from the broker.
type PositionHandler func(userID string, fix *pkg.Fix)

// Client wraps the paho MQTT client with the game's topic layout:
//
//	{prefix}/events/{user}    outbound game events
//	{prefix}/ledger/{user}    outbound ledger snapshots (retained)
//	{prefix}/health           outbound daemon health
//	{prefix}/position/{user}  inbound position fixes
type Client struct {
	mu        sync.Mutex
	client    MQTT.Client
	logger    *logx.Logger
	config    *Config
	connected bool

	positionHandler PositionHandler
}

// NewClient creates an MQTT client. Call Connect before publishing.
func NewClient(config *Config, logger *logx.Logger) *Client {
	return &Client{
		logger: logger,
		config: config,
	}
}

// SetPositionHandler registers the callback for inbound position fixes.
// Must be called before Connect.
func (c *Client) SetPositionHandler(h PositionHandler) {
	c.positionHandler = h
}

// Connect establishes the broker connection and subscribes to the position
// ingest topic. A disabled client connects to nothing and publishes nothing.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", map[string]interface{}{
		"broker": c.config.Broker,
		"port":   c.config.Port,
	})

	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.connected {
		c.client.Disconnect(250)
		c.connected = false
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("MQTT connection established")

	// Re-subscribe on every (re)connect so ingest survives broker restarts.
	topic := fmt.Sprintf("%s/position/+", c.config.TopicPrefix)
	token := client.Subscribe(topic, byte(c.config.QoS), c.onPositionMessage)
	if token.Wait() && token.Error() != nil {
		c.logger.Error("MQTT position subscribe failed", map[string]interface{}{
			"topic": topic,
			"error": token.Error().Error(),
		})
	}
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Error("MQTT connection lost", map[string]interface{}{
		"error": err.Error(),
	})
}

// onPositionMessage decodes an inbound fix. The user id is the last topic
// segment.
func (c *Client) onPositionMessage(client MQTT.Client, msg MQTT.Message) {
	if c.positionHandler == nil {
		return
	}

	parts := strings.Split(msg.Topic(), "/")
	userID := parts[len(parts)-1]

	var fix pkg.Fix
	if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
		c.logger.Warn("Discarding malformed position message", map[string]interface{}{
			"topic": msg.Topic(),
			"error": err.Error(),
		})
		return
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	c.positionHandler(userID, &fix)
}

// PublishEvent publishes a game event to the user's event topic.
func (c *Client) PublishEvent(event pkg.Event) error {
	if !c.config.Enabled || !c.IsConnected() {
		return nil
	}

	topic := fmt.Sprintf("%s/events/%s", c.config.TopicPrefix, event.UserID)
	return c.publishJSON(topic, event, false)
}

// PublishLedger publishes a ledger snapshot, retained so late subscribers
// see the current balance immediately.
func (c *Client) PublishLedger(snap *pkg.LedgerSnapshot) error {
	if !c.config.Enabled || !c.IsConnected() {
		return nil
	}

	topic := fmt.Sprintf("%s/ledger/%s", c.config.TopicPrefix, snap.UserID)
	return c.publishJSON(topic, snap, true)
}

// PublishHealth publishes daemon health information.
func (c *Client) PublishHealth(health map[string]interface{}) error {
	if !c.config.Enabled || !c.IsConnected() {
		return nil
	}

	topic := fmt.Sprintf("%s/health", c.config.TopicPrefix)

	payload := map[string]interface{}{
		"timestamp": time.Now(),
		"health":    health,
	}
	return c.publishJSON(topic, payload, false)
}

// publishJSON publishes a JSON payload to an MQTT topic.
func (c *Client) publishJSON(topic string, payload interface{}, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := c.client.Publish(topic, byte(c.config.QoS), retain || c.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.Debug("MQTT message published", map[string]interface{}{
		"topic": topic,
		"size":  len(data),
	})

	return nil
}

// IsConnected returns whether the MQTT client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}
