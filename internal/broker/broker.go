// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package broker holds the MQTT plumbing shared by the producers and the
// recorder.
package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	publishTimeout = 2 * time.Second

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout = 5 * time.Second
)

// NewClient builds a client that reconnects after a lost connection; it does
// not connect. The first connection is not retried, so a Connect token
// completes with an error when the broker is down. onConnect handlers run
// after every successful (re)connect; paho starts a clean session each time,
// so subscribers use them to restore their subscriptions.
func NewClient(brokerURL, clientID string, onConnect ...mqtt.OnConnectHandler) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(ConnectTimeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection to %s lost: %v", brokerURL, err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Printf("mqtt: connected to %s as %s", brokerURL, clientID)
			for _, h := range onConnect {
				h(c)
			}
		})
	return mqtt.NewClient(opts)
}

// Connect creates a client and waits for the first connection. On failure
// the client is disconnected and discarded.
func Connect(brokerURL, clientID string) (mqtt.Client, error) {
	client := NewClient(brokerURL, clientID)
	token := client.Connect()
	if !token.WaitTimeout(2 * ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("MQTT connect to %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("MQTT connect to %s: %w", brokerURL, err)
	}
	return client, nil
}

// PublishJSON marshals v and publishes it at QoS 0.
func PublishJSON(client mqtt.Client, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", topic, err)
	}
	return Publish(client, topic, retained, payload)
}

// Publish sends a raw payload at QoS 0 and waits for the token.
func Publish(client mqtt.Client, topic string, retained bool, payload []byte) error {
	token := client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish (%s): timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish (%s): %w", topic, err)
	}
	return nil
}
