// Package brokertest provides an in-memory MQTT client for tests.
package brokertest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is a completed token.
type Token struct {
	err  error
	done chan struct{}
}

// NewToken returns a token that is already done with err.
func NewToken(err error) *Token {
	d := make(chan struct{})
	close(d)
	return &Token{err: err, done: d}
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Done() <-chan struct{}          { return t.done }
func (t *Token) Error() error                   { return t.err }

// Message is a minimal inbound message.
type Message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *Message) Topic() string   { return m.topic }
func (m *Message) Payload() []byte { return m.payload }

// Published records one Publish call.
type Published struct {
	Topic    string
	Retained bool
	Payload  []byte
}

// Client is a fake mqtt.Client. Methods not overridden here panic through
// the nil embedded interface.
type Client struct {
	mqtt.Client

	ConnectErr   error
	SubscribeErr map[string]error
	// OnConnect runs after Connect and Restore succeed.
	OnConnect mqtt.OnConnectHandler

	mu           sync.Mutex
	connected    bool
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	published    []Published
}

// NewClient returns a disconnected fake.
func NewClient() *Client {
	return &Client{handlers: map[string]mqtt.MessageHandler{}, SubscribeErr: map[string]error{}}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	if c.ConnectErr != nil {
		err := c.ConnectErr
		c.mu.Unlock()
		return NewToken(err)
	}
	c.connected = true
	onConnect := c.OnConnect
	c.mu.Unlock()
	if onConnect != nil {
		onConnect(c)
	}
	return NewToken(nil)
}

// Drop loses the connection the way a broker restart does: the session and
// all its subscriptions are gone.
func (c *Client) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.handlers = map[string]mqtt.MessageHandler{}
}

// Restore reconnects after Drop and runs OnConnect.
func (c *Client) Restore() {
	c.mu.Lock()
	c.connected = true
	onConnect := c.OnConnect
	c.mu.Unlock()
	if onConnect != nil {
		onConnect(c)
	}
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.SubscribeErr[topic]; err != nil {
		return NewToken(err)
	}
	c.handlers[topic] = cb
	return NewToken(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
		c.unsubscribed = append(c.unsubscribed, t)
	}
	return NewToken(nil)
}

func (c *Client) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.mu.Lock()
	c.published = append(c.published, Published{Topic: topic, Retained: retained, Payload: b})
	handler := c.handlers[topic]
	c.mu.Unlock()

	if handler != nil {
		handler(c, &Message{topic: topic, payload: b})
	}
	return NewToken(nil)
}

// Deliver hands payload to the handler subscribed on topic. It reports
// whether a handler was registered.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(c, &Message{topic: topic, payload: payload})
	return true
}

// Subscribed reports whether a handler is registered for topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Unsubscribed lists topics passed to Unsubscribe.
func (c *Client) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

// Published returns a copy of all publishes so far.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}
