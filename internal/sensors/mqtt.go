// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/balance_recorder/internal/motion"
)

const (
	unsubscribeTimeout = 2 * time.Second
	connectTimeout     = 5 * time.Second
)

type route struct {
	g       *guard
	topic   string
	handler mqtt.MessageHandler
}

// MQTTSource receives device motion and orientation events as JSON on two
// MQTT topics.
type MQTTSource struct {
	client           mqtt.Client
	motionTopic      string
	orientationTopic string
	now              func() time.Time

	mu     sync.Mutex
	routes []route
}

// NewMQTTSource uses an already configured client; it connects on demand.
// Register OnConnect with the client so subscriptions survive a reconnect.
func NewMQTTSource(client mqtt.Client, motionTopic, orientationTopic string) *MQTTSource {
	return &MQTTSource{
		client:           client,
		motionTopic:      motionTopic,
		orientationTopic: orientationTopic,
		now:              time.Now,
	}
}

func (s *MQTTSource) connect(ctx context.Context) error {
	if s.client == nil {
		return errors.New("no MQTT client")
	}
	if s.client.IsConnectionOpen() {
		return nil
	}
	token := s.client.Connect()
	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("connect timed out")
	}
	if err := token.Error(); err != nil {
		return err
	}
	if !s.client.IsConnectionOpen() {
		return errors.New("connection not open")
	}
	return nil
}

// OnConnect restores the subscriptions of every live Subscribe after the
// client (re)connects. It matches mqtt.OnConnectHandler.
func (s *MQTTSource) OnConnect(c mqtt.Client) {
	s.mu.Lock()
	routes := append([]route(nil), s.routes...)
	s.mu.Unlock()

	for _, r := range routes {
		if !r.g.active() {
			continue
		}
		token := c.Subscribe(r.topic, 0, r.handler)
		if !token.WaitTimeout(connectTimeout) {
			log.Printf("sensors: mqtt resubscribe %s timed out", r.topic)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("sensors: mqtt resubscribe %s: %v", r.topic, err)
			continue
		}
		log.Printf("sensors: resubscribed to %s", r.topic)
	}
}

// CheckAvailability reports every kind available when the broker is
// reachable.
func (s *MQTTSource) CheckAvailability(ctx context.Context) motion.Flags {
	if err := s.connect(ctx); err != nil {
		log.Printf("sensors: mqtt availability check failed: %v", err)
		return motion.AllFlags(false)
	}
	return motion.AllFlags(true)
}

// RequestPermission treats a successful broker connection as one combined
// grant for all kinds.
func (s *MQTTSource) RequestPermission(ctx context.Context) motion.Flags {
	err := s.connect(ctx)
	if err != nil {
		log.Printf("sensors: mqtt permission denied: %v", err)
	}
	return motion.AllFlags(err == nil)
}

// Subscribe subscribes to both topics. A topic that cannot be subscribed is
// logged and skipped.
func (s *MQTTSource) Subscribe(cb Callback) (Subscription, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	if s.client == nil {
		return nil, errors.New("sensors: no MQTT client")
	}

	var topics []string
	var g *guard
	g = newGuard(cb, func() {
		s.dropRoutes(g)
		if len(topics) == 0 {
			return
		}
		token := s.client.Unsubscribe(topics...)
		if !token.WaitTimeout(unsubscribeTimeout) {
			log.Printf("sensors: mqtt unsubscribe %v timed out", topics)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("sensors: mqtt unsubscribe %v: %v", topics, err)
		}
	})

	if err := s.connect(context.Background()); err != nil {
		log.Printf("sensors: mqtt connect failed, no readings will arrive: %v", err)
		return g, nil
	}

	for _, sub := range []struct {
		topic string
		ch    motion.Channel
	}{
		{s.motionTopic, motion.ChannelMotion},
		{s.orientationTopic, motion.ChannelOrientation},
	} {
		if sub.topic == "" {
			continue
		}
		h := s.handler(g, sub.ch)
		token := s.client.Subscribe(sub.topic, 0, h)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("sensors: mqtt subscribe %s: %v", sub.topic, err)
			continue
		}
		topics = append(topics, sub.topic)
		s.mu.Lock()
		s.routes = append(s.routes, route{g: g, topic: sub.topic, handler: h})
		s.mu.Unlock()
		log.Printf("sensors: subscribed to %s", sub.topic)
	}
	return g, nil
}

func (s *MQTTSource) dropRoutes(g *guard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.routes[:0]
	for _, r := range s.routes {
		if r.g != g {
			kept = append(kept, r)
		}
	}
	s.routes = kept
}

func (s *MQTTSource) handler(g *guard, ch motion.Channel) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if !g.active() {
			return
		}
		ups, err := motion.Decode(ch, msg.Payload())
		if err != nil {
			log.Printf("sensors: %s payload on %s dropped: %v", ch, msg.Topic(), err)
			return
		}
		g.deliver(ups, s.now().UnixMilli())
	}
}
