// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/balance_recorder/internal/broker"
	"github.com/relabs-tech/balance_recorder/internal/config"
	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/sensors"
)

// Publisher forwards every reading of a source to the motion and
// orientation topics.
type Publisher struct {
	client           mqtt.Client
	motionTopic      string
	orientationTopic string

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher publishes on the two inbound topics of the recorder.
func NewPublisher(client mqtt.Client, motionTopic, orientationTopic string) *Publisher {
	return &Publisher{client: client, motionTopic: motionTopic, orientationTopic: orientationTopic}
}

// Handle is a sensors.Callback.
func (p *Publisher) Handle(kind motion.Kind, r motion.Reading, _ int64) {
	payloads, err := motion.Encode([]motion.Update{{Kind: kind, Reading: r}})
	if err != nil {
		log.Printf("producer: %v", err)
		p.failed.Add(1)
		return
	}
	for ch, payload := range payloads {
		topic := p.motionTopic
		if ch == motion.ChannelOrientation {
			topic = p.orientationTopic
		}
		if err := broker.Publish(p.client, topic, false, payload); err != nil {
			log.Printf("producer: %v", err)
			p.failed.Add(1)
			continue
		}
		p.published.Add(1)
	}
}

// Counts returns published and failed message totals.
func (p *Publisher) Counts() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// runProducer subscribes src to the publisher until ctx ends, logging
// throughput every logEvery.
func runProducer(ctx context.Context, src sensors.Source, pub *Publisher, logEvery time.Duration) error {
	perm := src.RequestPermission(ctx)
	if !perm.Accelerometer && !perm.Gyroscope && !perm.Magnetometer {
		return errors.New("producer: sensor access denied")
	}

	sub, err := src.Subscribe(pub.Handle)
	if err != nil {
		return fmt.Errorf("producer: subscribe: %w", err)
	}
	defer sub.Cancel()

	ticker := time.NewTicker(logEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n, failed := pub.Counts()
			log.Printf("producer: shutting down after %d messages (%d failed)", n, failed)
			return nil
		case <-ticker.C:
			n, failed := pub.Counts()
			log.Printf("producer: %d messages published, %d failed", n, failed)
		}
	}
}

func connectProducer(cfg *config.Config) (mqtt.Client, *Publisher, error) {
	client, err := broker.Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return nil, nil, err
	}
	log.Println("connected to MQTT, starting publish loop")
	return client, NewPublisher(client, cfg.TopicMotion, cfg.TopicOrientation), nil
}

// RunIMUProducer streams the local MPU9250 to MQTT.
func RunIMUProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}
	ctx, stop := signalContext()
	defer stop()

	src := sensors.NewIMUSource(imuConfig(cfg))
	if !src.CheckAvailability(ctx).All() {
		return errors.New("producer: IMU not available")
	}

	client, pub, err := connectProducer(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	return runProducer(ctx, src, pub, 10*time.Second)
}

// RunMockProducer streams synthetic motion to MQTT. sway and tremor are
// amplitudes in m/s².
func RunMockProducer(interval time.Duration, sway, tremor float64) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}
	ctx, stop := signalContext()
	defer stop()

	src := sensors.NewMockSource(interval)
	src.Sway = sway
	src.Tremor = tremor

	client, pub, err := connectProducer(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	log.Printf("producer: mock source every %s (sway %.2f, tremor %.2f)", src.Interval, sway, tremor)
	return runProducer(ctx, src, pub, 10*time.Second)
}
